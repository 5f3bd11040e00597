package kernel

import (
	"encoding/hex"
	"fmt"
	"slices"
	"sort"

	"github.com/zeebo/blake3"
)

// MaxPayload is the largest payload a Job accepts.
const MaxPayload = 1 << 20

// Func is a host kernel. It must not retain payload.
type Func func(payload []byte) ([]byte, error)

var kernels = map[string]Func{
	"echo":   echo,
	"blake3": blake3Hex,
}

// Lookup returns the kernel registered under name.
func Lookup(name string) (Func, error) {
	k, ok := kernels[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownKernel)
	}
	return k, nil
}

// Names returns the registered kernel names, sorted.
func Names() []string {
	names := make([]string, 0, len(kernels))
	for n := range kernels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func echo(payload []byte) ([]byte, error) {
	return slices.Clone(payload), nil
}

// blake3Hex returns the hex-encoded 256-bit BLAKE3 digest of payload.
func blake3Hex(payload []byte) ([]byte, error) {
	sum := blake3.Sum256(payload)
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum[:])
	return out, nil
}
