package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/offload-core/internal/accel"
	"github.com/nerrad567/offload-core/internal/accel/hostsim"
	"github.com/nerrad567/offload-core/internal/device"
	"github.com/nerrad567/offload-core/internal/events"
	"github.com/nerrad567/offload-core/internal/message"
	"github.com/nerrad567/offload-core/internal/msgqueue"
	"github.com/nerrad567/offload-core/internal/worker"
)

const waitTimeout = 5 * time.Second

type testMessage struct {
	id      string
	block   chan struct{}
	started chan struct{}

	processed atomic.Int32
	failed    atomic.Int32
	device    atomic.Int32
	failErr   atomic.Value

	done     chan struct{}
	doneOnce sync.Once
}

func newTestMessage(id string) *testMessage {
	return &testMessage{id: id, done: make(chan struct{}), started: make(chan struct{})}
}

func (m *testMessage) ID() string { return m.id }

func (m *testMessage) Process(_ context.Context, target message.Target) error {
	m.device.Store(int32(target.Device.Index))
	close(m.started)
	if m.block != nil {
		<-m.block
	}
	m.processed.Add(1)
	m.doneOnce.Do(func() { close(m.done) })
	return nil
}

func (m *testMessage) Fail(err error) {
	m.failed.Add(1)
	m.failErr.Store(err)
	m.doneOnce.Do(func() { close(m.done) })
}

func (m *testMessage) wait(t *testing.T) {
	t.Helper()
	select {
	case <-m.done:
	case <-time.After(waitTimeout):
		t.Fatalf("message %s not handled", m.id)
	}
}

func testDevices(n int) []accel.DeviceInfo {
	devs := make([]accel.DeviceInfo, n)
	for i := range devs {
		devs[i] = accel.DeviceInfo{
			ID:             fmt.Sprintf("sim-%d", i),
			Name:           fmt.Sprintf("Sim %d", i),
			Kind:           accel.KindAccelerator,
			ComputeUnits:   2,
			GlobalMemBytes: 1 << 20,
			MaxAllocBytes:  256 << 10,
		}
	}
	return devs
}

// recorder collects events.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Kind == events.KindLifecycle {
			out = append(out, ev.State)
		}
	}
	return out
}

func (r *recorder) count(k events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

func runAsync(s *Server) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()
	return errCh
}

func waitReady(t *testing.T, s *Server) {
	t.Helper()
	select {
	case <-s.Ready():
	case <-s.Done():
		t.Fatal("server stopped before becoming ready")
	case <-time.After(waitTimeout):
		t.Fatal("server not ready")
	}
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestServer_DispatchAndStop(t *testing.T) {
	rec := &recorder{}
	s := New(Config{NumWorkers: 2}, hostsim.New(testDevices(4)), WithEvents(rec))

	if s.State() != StateInit {
		t.Fatalf("State() = %s, want init", s.State())
	}

	// Queued before any worker exists.
	msgs := make([]*testMessage, 10)
	for i := range msgs {
		msgs[i] = newTestMessage(fmt.Sprintf("m%d", i))
		if err := s.Enqueue(msgs[i]); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}

	errCh := runAsync(s)
	waitReady(t, s)

	if s.State() != StateRunning {
		t.Errorf("State() = %s, want running", s.State())
	}

	perDevice := make(map[int32]int)
	for _, m := range msgs {
		m.wait(t)
		if m.processed.Load() != 1 || m.failed.Load() != 0 {
			t.Errorf("%s processed=%d failed=%d, want 1/0", m.id, m.processed.Load(), m.failed.Load())
		}
		perDevice[m.device.Load()]++
	}
	// Round robin over 4 devices: 10 messages land 3,3,2,2.
	for dev := int32(0); dev < 4; dev++ {
		if got := perDevice[dev]; got < 2 || got > 3 {
			t.Errorf("device %d got %d messages, want 2 or 3", dev, got)
		}
	}

	st := s.Stats()
	if st.Workers != 2 || st.Devices != 4 {
		t.Errorf("Stats() workers=%d devices=%d, want 2/4", st.Workers, st.Devices)
	}
	if len(s.Devices()) != 4 {
		t.Errorf("Devices() len = %d, want 4", len(s.Devices()))
	}

	s.RequestStop("test")
	if err := waitRun(t, errCh); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", s.State())
	}

	want := []string{"init", "running", "draining", "stopped"}
	got := rec.states()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("lifecycle states = %v, want %v", got, want)
	}
	if n := rec.count(events.KindDispatched); n != 10 {
		t.Errorf("dispatched events = %d, want 10", n)
	}
}

func TestServer_StopFailsQueuedMessages(t *testing.T) {
	rec := &recorder{}
	s := New(Config{NumWorkers: 1}, hostsim.New(testDevices(1)), WithEvents(rec))
	errCh := runAsync(s)
	waitReady(t, s)

	blocker := newTestMessage("blocker")
	blocker.block = make(chan struct{})
	if err := s.Enqueue(blocker); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case <-blocker.started:
	case <-time.After(waitTimeout):
		t.Fatal("blocker never started")
	}

	queued := make([]*testMessage, 5)
	for i := range queued {
		queued[i] = newTestMessage(fmt.Sprintf("q%d", i))
		if err := s.Enqueue(queued[i]); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	s.RequestStop("test")

	// Enqueue after a stop request is refused.
	late := newTestMessage("late")
	if err := s.Enqueue(late); !errors.Is(err, msgqueue.ErrQueueClosed) {
		t.Errorf("Enqueue() after stop error = %v, want ErrQueueClosed", err)
	}

	close(blocker.block)
	if err := waitRun(t, errCh); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if blocker.processed.Load() != 1 {
		t.Error("in-flight message should complete")
	}
	for _, m := range queued {
		if m.processed.Load() != 0 {
			t.Errorf("%s was processed after stop", m.id)
		}
		if m.failed.Load() != 1 {
			t.Errorf("%s failed %d times, want 1", m.id, m.failed.Load())
			continue
		}
		if err, _ := m.failErr.Load().(error); !errors.Is(err, message.ErrShutdownInProgress) {
			t.Errorf("%s failed with %v, want ErrShutdownInProgress", m.id, err)
		}
	}
	if late.failed.Load() != 0 {
		t.Error("rejected message must stay with the caller")
	}
	if n := rec.count(events.KindFailedBack); n != 5 {
		t.Errorf("failed_back events = %d, want 5", n)
	}
	if n := rec.count(events.KindRejected); n != 1 {
		t.Errorf("rejected events = %d, want 1", n)
	}
}

func TestServer_StartupErrors(t *testing.T) {
	boom := errors.New("driver exploded")

	tests := []struct {
		name     string
		cfg      Config
		platform accel.Platform
		want     error
	}{
		{
			name:     "no devices",
			cfg:      Config{NumWorkers: 1},
			platform: hostsim.New(nil),
			want:     device.ErrNoDeviceFound,
		},
		{
			name:     "platform enumeration fails",
			cfg:      Config{NumWorkers: 1},
			platform: hostsim.New(testDevices(1), hostsim.WithFaults(hostsim.Faults{Devices: boom})),
			want:     device.ErrDeviceInit,
		},
		{
			name:     "context creation fails",
			cfg:      Config{NumWorkers: 1},
			platform: hostsim.New(testDevices(2), hostsim.WithFaults(hostsim.Faults{Context: boom})),
			want:     device.ErrDeviceInit,
		},
		{
			name: "queue creation fails",
			cfg:  Config{NumWorkers: 1},
			platform: hostsim.New(testDevices(3), hostsim.WithFaults(hostsim.Faults{
				Queue: map[string]error{"sim-2": boom},
			})),
			want: device.ErrDeviceInit,
		},
		{
			name:     "zone pinning fails",
			cfg:      Config{NumWorkers: 1, SharedMemoryBytes: 1 << 20},
			platform: hostsim.New(testDevices(1), hostsim.WithFaults(hostsim.Faults{Pin: boom})),
			want:     device.ErrDeviceInit,
		},
		{
			name:     "negative worker count",
			cfg:      Config{NumWorkers: -1},
			platform: hostsim.New(testDevices(1)),
			want:     worker.ErrWorkerCountInvalid,
		},
		{
			name:     "host reports no CPUs",
			cfg:      Config{CPUCount: func() int { return 0 }},
			platform: hostsim.New(testDevices(1)),
			want:     worker.ErrWorkerCountInvalid,
		},
		{
			name: "worker fails to start",
			cfg: Config{NumWorkers: 3, WorkerStartHook: func(id int) error {
				if id == 1 {
					return boom
				}
				return nil
			}},
			platform: hostsim.New(testDevices(1)),
			want:     worker.ErrWorkerStartupFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			s := New(tt.cfg, tt.platform, WithEvents(rec))

			queued := newTestMessage("early")
			if err := s.Enqueue(queued); err != nil {
				t.Fatalf("Enqueue() error = %v", err)
			}

			err := s.Run(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Run() error = %v, want %v", err, tt.want)
			}
			if s.State() != StateStopped {
				t.Errorf("State() = %s, want stopped", s.State())
			}
			select {
			case <-s.Ready():
				t.Error("Ready() closed after failed startup")
			default:
			}
			if queued.processed.Load() != 0 || queued.failed.Load() != 1 {
				t.Errorf("queued message processed=%d failed=%d, want 0/1",
					queued.processed.Load(), queued.failed.Load())
			}
			for _, st := range rec.states() {
				if st == string(StateRunning) {
					t.Error("server reported running after failed startup")
				}
			}
		})
	}
}

func TestServer_RequestStopIdempotent(t *testing.T) {
	s := New(Config{NumWorkers: 2}, hostsim.New(testDevices(2)))
	errCh := runAsync(s)
	waitReady(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.RequestStop(fmt.Sprintf("signal %d", i))
		}(i)
	}
	wg.Wait()

	if err := waitRun(t, errCh); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	s.RequestStop("again")
	if s.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", s.State())
	}
}

func TestServer_StopBeforeRun(t *testing.T) {
	rec := &recorder{}
	s := New(Config{NumWorkers: 2}, hostsim.New(testDevices(1)), WithEvents(rec))

	m := newTestMessage("m")
	if err := s.Enqueue(m); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	s.RequestStop("early")

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", s.State())
	}
	if m.processed.Load() != 0 || m.failed.Load() != 1 {
		t.Errorf("message processed=%d failed=%d, want 0/1", m.processed.Load(), m.failed.Load())
	}
	if s.Stats().Workers != 0 {
		t.Error("workers spawned after stop request")
	}
}

func TestServer_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Config{NumWorkers: 1}, hostsim.New(testDevices(1)))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	waitReady(t, s)

	cancel()
	if err := waitRun(t, errCh); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", s.State())
	}
}

func TestServer_SharedMemoryZones(t *testing.T) {
	// 1 MiB over devices allowing 256 KiB allocations gives four zones.
	s := New(Config{NumWorkers: 1, SharedMemoryBytes: 1 << 20}, hostsim.New(testDevices(2)))
	errCh := runAsync(s)
	waitReady(t, s)

	if got := s.Stats().PinnedZones; got != 4 {
		t.Errorf("PinnedZones = %d, want 4", got)
	}

	s.RequestStop("test")
	if err := waitRun(t, errCh); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestServer_RunTwice(t *testing.T) {
	s := New(Config{NumWorkers: 1}, hostsim.New(testDevices(1)))
	s.RequestStop("test")
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRun", err)
	}
}

// cancelDuringInit cancels the run context while devices are being listed
// and only returns once the server has seen the stop.
type cancelDuringInit struct {
	*hostsim.Platform
	cancel context.CancelFunc
	srv    *Server
}

func (p *cancelDuringInit) Devices(ctx context.Context) ([]accel.DeviceInfo, error) {
	p.cancel()
	select {
	case <-p.srv.stopCh:
	case <-time.After(waitTimeout):
		return nil, errors.New("stop not observed")
	}
	return p.Platform.Devices(ctx)
}

func TestServer_ContextCancelledDuringInit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	platform := &cancelDuringInit{Platform: hostsim.New(testDevices(1)), cancel: cancel}
	s := New(Config{NumWorkers: 2}, platform)
	platform.srv = s

	m := newTestMessage("queued-in-init")
	if err := s.Enqueue(m); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", s.State())
	}
	if s.Stats().Workers != 0 {
		t.Error("workers spawned after context cancellation")
	}
	if m.processed.Load() != 0 || m.failed.Load() != 1 {
		t.Fatalf("message processed=%d failed=%d, want 0/1", m.processed.Load(), m.failed.Load())
	}
	if err, _ := m.failErr.Load().(error); !errors.Is(err, message.ErrShutdownInProgress) {
		t.Errorf("Fail error = %v, want ErrShutdownInProgress", err)
	}
}

func TestServer_AlreadyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(Config{NumWorkers: 1}, hostsim.New(testDevices(1)))
	m := newTestMessage("early")
	if err := s.Enqueue(m); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if err, _ := m.failErr.Load().(error); !errors.Is(err, message.ErrShutdownInProgress) {
		t.Errorf("Fail error = %v, want ErrShutdownInProgress", err)
	}
}
