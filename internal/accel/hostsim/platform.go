package hostsim

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/nerrad567/offload-core/internal/accel"
)

// PlatformName is the name reported by Platform.Name.
const PlatformName = "hostsim"

// Default sizing for the implicit device used when none are configured.
const (
	defaultGlobalMem = 1 << 30
	defaultMaxAlloc  = 256 << 20
)

// Faults injects driver failures. Nil fields mean no fault.
type Faults struct {
	Devices error
	Context error

	// Queue maps a device ID to the error CreateQueue returns for it.
	Queue map[string]error

	Pin error
}

// Option configures a Platform.
type Option func(*Platform)

// WithFaults injects driver failures.
func WithFaults(f Faults) Option {
	return func(p *Platform) { p.faults = f }
}

// Platform is the simulated driver platform.
type Platform struct {
	devices []accel.DeviceInfo
	faults  Faults
}

// New creates a platform exposing the given devices.
func New(devices []accel.DeviceInfo, opts ...Option) *Platform {
	p := &Platform{devices: append([]accel.DeviceInfo(nil), devices...)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultDevices returns a single CPU device sized from the host.
func DefaultDevices() []accel.DeviceInfo {
	return []accel.DeviceInfo{{
		ID:             "hostsim-0",
		Name:           "Host CPU",
		Vendor:         runtime.GOARCH,
		Kind:           accel.KindCPU,
		ComputeUnits:   runtime.NumCPU(),
		GlobalMemBytes: defaultGlobalMem,
		MaxAllocBytes:  defaultMaxAlloc,
	}}
}

// Name implements accel.Platform.
func (p *Platform) Name() string { return PlatformName }

// Devices implements accel.Platform.
func (p *Platform) Devices(ctx context.Context) ([]accel.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.faults.Devices != nil {
		return nil, p.faults.Devices
	}
	return append([]accel.DeviceInfo(nil), p.devices...), nil
}

// CreateContext implements accel.Platform.
func (p *Platform) CreateContext(ctx context.Context, devices []accel.DeviceInfo) (accel.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.faults.Context != nil {
		return nil, p.faults.Context
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("creating context: %w", accel.ErrUnknownDevice)
	}

	c := &Context{
		devices:  make(map[string]accel.DeviceInfo, len(devices)),
		faults:   p.faults,
		maxAlloc: devices[0].MaxAllocBytes,
	}
	for _, d := range devices {
		c.devices[d.ID] = d
		if d.MaxAllocBytes < c.maxAlloc {
			c.maxAlloc = d.MaxAllocBytes
		}
	}
	return c, nil
}

// Context is a simulated device context.
type Context struct {
	mu       sync.Mutex
	devices  map[string]accel.DeviceInfo
	faults   Faults
	maxAlloc int64
	queues   []*Queue
	pinned   int
	released bool
}

// CreateQueue implements accel.Context.
func (c *Context) CreateQueue(device accel.DeviceInfo, props accel.QueueProperties) (accel.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil, accel.ErrReleased
	}
	if _, ok := c.devices[device.ID]; !ok {
		return nil, fmt.Errorf("device %q: %w", device.ID, accel.ErrUnknownDevice)
	}
	if err := c.faults.Queue[device.ID]; err != nil {
		return nil, err
	}

	executors := 1
	if props.OutOfOrder && device.ComputeUnits > 1 {
		executors = device.ComputeUnits
	}
	q := newQueue(executors, props.Profiling)
	c.queues = append(c.queues, q)
	return q, nil
}

// PinHostBuffer implements accel.Context.
func (c *Context) PinHostBuffer(region []byte) (accel.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil, accel.ErrReleased
	}
	if c.faults.Pin != nil {
		return nil, c.faults.Pin
	}
	if int64(len(region)) > c.maxAlloc {
		return nil, fmt.Errorf("%d bytes > %d: %w", len(region), c.maxAlloc, accel.ErrBufferTooLarge)
	}
	c.pinned++
	return &buffer{ctx: c, size: len(region)}, nil
}

// Pinned returns the number of currently pinned buffers.
func (c *Context) Pinned() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinned
}

// Release implements accel.Context. Queues still open are released too.
func (c *Context) Release() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil
	}
	c.released = true
	queues := c.queues
	c.queues = nil
	c.mu.Unlock()

	for _, q := range queues {
		_ = q.Release() //nolint:errcheck // queue release never fails
	}
	return nil
}

type buffer struct {
	ctx  *Context
	size int
	once sync.Once
}

func (b *buffer) Len() int { return b.size }

func (b *buffer) Release() error {
	b.once.Do(func() {
		b.ctx.mu.Lock()
		b.ctx.pinned--
		b.ctx.mu.Unlock()
	})
	return nil
}
