package hostsim

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/offload-core/internal/accel"
)

func testDevices() []accel.DeviceInfo {
	return []accel.DeviceInfo{
		{ID: "d0", Name: "sim0", Kind: accel.KindCPU, ComputeUnits: 4, GlobalMemBytes: 1 << 20, MaxAllocBytes: 4096},
		{ID: "d1", Name: "sim1", Kind: accel.KindGPU, ComputeUnits: 2, GlobalMemBytes: 1 << 20, MaxAllocBytes: 1024},
	}
}

func newContext(t *testing.T, opts ...Option) (*Platform, accel.Context) {
	t.Helper()
	p := New(testDevices(), opts...)
	devs, err := p.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	c, err := p.CreateContext(context.Background(), devs)
	if err != nil {
		t.Fatalf("CreateContext() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Release() })
	return p, c
}

func TestQueue_InOrderRunsSerially(t *testing.T) {
	_, c := newContext(t)
	q, err := c.CreateQueue(testDevices()[0], accel.QueueProperties{})
	if err != nil {
		t.Fatalf("CreateQueue() error = %v", err)
	}

	var mu sync.Mutex
	var order []int
	for i := range 20 {
		if _, err := q.Enqueue(func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Finish(ctx); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestQueue_OutOfOrderRunsConcurrently(t *testing.T) {
	_, c := newContext(t)
	q, err := c.CreateQueue(testDevices()[0], accel.QueueProperties{OutOfOrder: true})
	if err != nil {
		t.Fatalf("CreateQueue() error = %v", err)
	}

	var running, peak atomic.Int32
	release := make(chan struct{})
	for range 4 {
		_, _ = q.Enqueue(func() error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		})
	}

	deadline := time.Now().Add(2 * time.Second)
	for peak.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	if got := peak.Load(); got != 4 {
		t.Errorf("peak concurrency = %d, want 4", got)
	}
}

func TestEvent_ReportsWorkError(t *testing.T) {
	_, c := newContext(t)
	q, _ := c.CreateQueue(testDevices()[0], accel.QueueProperties{Profiling: true})

	boom := errors.New("boom")
	ev, err := q.Enqueue(func() error { return boom })
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := ev.Wait(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Wait() error = %v, want %v", err, boom)
	}
	p := ev.Profile()
	if p.Queued.IsZero() || p.Start.IsZero() || p.End.IsZero() {
		t.Errorf("Profile() = %+v, want all timestamps set", p)
	}
}

func TestEvent_RecoversPanic(t *testing.T) {
	_, c := newContext(t)
	q, _ := c.CreateQueue(testDevices()[0], accel.QueueProperties{})

	ev, _ := q.Enqueue(func() error { panic("kaboom") })
	if err := ev.Wait(context.Background()); err == nil {
		t.Error("Wait() error = nil, want panic error")
	}

	// The executor must survive the panic.
	ev, _ = q.Enqueue(func() error { return nil })
	if err := ev.Wait(context.Background()); err != nil {
		t.Errorf("Wait() after panic error = %v", err)
	}
}

func TestQueue_EnqueueAfterRelease(t *testing.T) {
	_, c := newContext(t)
	q, _ := c.CreateQueue(testDevices()[0], accel.QueueProperties{})
	if err := q.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := q.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	if _, err := q.Enqueue(func() error { return nil }); !errors.Is(err, accel.ErrReleased) {
		t.Errorf("Enqueue() error = %v, want ErrReleased", err)
	}
}

func TestContext_PinHostBuffer(t *testing.T) {
	_, c := newContext(t)
	hc := c.(*Context)

	// Limit is the smallest device max allocation (1024).
	if _, err := c.PinHostBuffer(make([]byte, 2048)); !errors.Is(err, accel.ErrBufferTooLarge) {
		t.Errorf("PinHostBuffer(2048) error = %v, want ErrBufferTooLarge", err)
	}

	buf, err := c.PinHostBuffer(make([]byte, 1024))
	if err != nil {
		t.Fatalf("PinHostBuffer(1024) error = %v", err)
	}
	if buf.Len() != 1024 {
		t.Errorf("Len() = %d, want 1024", buf.Len())
	}
	if hc.Pinned() != 1 {
		t.Errorf("Pinned() = %d, want 1", hc.Pinned())
	}
	_ = buf.Release()
	_ = buf.Release()
	if hc.Pinned() != 0 {
		t.Errorf("Pinned() after release = %d, want 0", hc.Pinned())
	}
}

func TestFaults(t *testing.T) {
	injected := errors.New("injected")

	t.Run("queue", func(t *testing.T) {
		_, c := newContext(t, WithFaults(Faults{Queue: map[string]error{"d1": injected}}))
		if _, err := c.CreateQueue(testDevices()[0], accel.QueueProperties{}); err != nil {
			t.Errorf("CreateQueue(d0) error = %v", err)
		}
		if _, err := c.CreateQueue(testDevices()[1], accel.QueueProperties{}); !errors.Is(err, injected) {
			t.Errorf("CreateQueue(d1) error = %v, want injected", err)
		}
	})

	t.Run("context", func(t *testing.T) {
		p := New(testDevices(), WithFaults(Faults{Context: injected}))
		if _, err := p.CreateContext(context.Background(), testDevices()); !errors.Is(err, injected) {
			t.Errorf("CreateContext() error = %v, want injected", err)
		}
	})

	t.Run("devices", func(t *testing.T) {
		p := New(testDevices(), WithFaults(Faults{Devices: injected}))
		if _, err := p.Devices(context.Background()); !errors.Is(err, injected) {
			t.Errorf("Devices() error = %v, want injected", err)
		}
	})
}
