//go:build !linux

package logging

// pipeBuf is the POSIX minimum PIPE_BUF (_POSIX_PIPE_BUF).
const pipeBuf = 512
