package shmem

import (
	"errors"
	"fmt"

	"github.com/nerrad567/offload-core/internal/accel"
)

// Logger defines the logging interface used while pinning.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Segment is a shared memory mapping.
type Segment struct {
	data   []byte
	unmap  func([]byte) error
	closed bool
}

// Map creates an anonymous shared mapping of size bytes.
func Map(size int64) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("segment of %d bytes: %w", size, ErrInvalidSize)
	}
	data, unmap, err := mapAnonymous(int(size))
	if err != nil {
		return nil, fmt.Errorf("mapping %d bytes: %w", size, err)
	}
	return &Segment{data: data, unmap: unmap}, nil
}

// FromBytes wraps caller-owned memory as a segment. Unmap is a no-op.
func FromBytes(b []byte) *Segment {
	return &Segment{data: b, unmap: func([]byte) error { return nil }}
}

// Len returns the segment size in bytes.
func (s *Segment) Len() int { return len(s.data) }

// Bytes returns the mapped memory.
func (s *Segment) Bytes() []byte { return s.data }

// Zone is a contiguous slice of the segment.
type Zone struct {
	Index  int
	Offset int64
	Data   []byte
}

// Len returns the zone length in bytes.
func (z Zone) Len() int { return len(z.Data) }

// Zones cuts the segment into zones of at most zoneLen bytes.
// The last zone holds the remainder.
func (s *Segment) Zones(zoneLen int64) ([]Zone, error) {
	if s.closed {
		return nil, ErrUnmapped
	}
	if zoneLen <= 0 {
		return nil, fmt.Errorf("zone length %d: %w", zoneLen, ErrInvalidSize)
	}

	size := int64(len(s.data))
	zones := make([]Zone, 0, (size+zoneLen-1)/zoneLen)
	for off := int64(0); off < size; off += zoneLen {
		end := min(off+zoneLen, size)
		zones = append(zones, Zone{
			Index:  len(zones),
			Offset: off,
			Data:   s.data[off:end:end],
		})
	}
	return zones, nil
}

// Unmap releases the mapping. Safe to call more than once.
func (s *Segment) Unmap() error {
	if s.closed {
		return nil
	}
	s.closed = true
	data := s.data
	s.data = nil
	return s.unmap(data)
}

// PinFunc registers a memory range with the device context and returns an
// opaque handle for it.
type PinFunc func(region []byte) (accel.Buffer, error)

// PinAll pins every zone in order. On the first failure it releases the
// buffers already pinned and returns an error wrapping ErrPinFailed.
func PinAll(zones []Zone, pin PinFunc, logger Logger) ([]accel.Buffer, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	bufs := make([]accel.Buffer, 0, len(zones))
	for _, z := range zones {
		buf, err := pin(z.Data)
		if err != nil {
			logger.Error("zone pin failed", "zone", z.Index, "offset", z.Offset, "error", err)
			if rerr := ReleaseAll(bufs); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return nil, fmt.Errorf("%w: zone %d: %w", ErrPinFailed, z.Index, err)
		}
		logger.Info("zone pinned",
			"zone", z.Index,
			"start", fmt.Sprintf("%#x", z.Offset),
			"end", fmt.Sprintf("%#x", z.Offset+int64(z.Len())),
			"size_mb", z.Len()>>20)
		bufs = append(bufs, buf)
	}
	return bufs, nil
}

// ReleaseAll releases every buffer in reverse pin order.
func ReleaseAll(bufs []accel.Buffer) error {
	var errs []error
	for i := len(bufs) - 1; i >= 0; i-- {
		if err := bufs[i].Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
