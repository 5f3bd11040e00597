//go:build linux || darwin

package shmem

import "golang.org/x/sys/unix"

func mapAnonymous(size int) ([]byte, func([]byte) error, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, nil, err
	}
	return data, unix.Munmap, nil
}
