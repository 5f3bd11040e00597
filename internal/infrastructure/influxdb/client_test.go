package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/offload-core/internal/events"
	"github.com/nerrad567/offload-core/internal/infrastructure/config"
	"github.com/nerrad567/offload-core/internal/infrastructure/influxdb"
)

// fakeInflux accepts pings and records line protocol writes.
type fakeInflux struct {
	mu     sync.Mutex
	lines  []string
	status int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
		status := f.status
		f.mu.Unlock()
		if status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"code":"invalid","message":"rejected"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/health":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"influxdb","status":"pass","checks":[]}`))
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func (f *fakeInflux) waitFor(t *testing.T, prefix string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, l := range f.written() {
			if strings.HasPrefix(l, prefix) {
				return l
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no line starting with %q in %v", prefix, f.written())
	return ""
}

func newTestClient(t *testing.T) (*influxdb.Client, *fakeInflux) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := influxdb.Connect(config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "test-token",
		Org:           "offload",
		Bucket:        "metrics",
		BatchSize:     1,
		FlushInterval: 1,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, fake
}

func TestConnect(t *testing.T) {
	client, _ := newTestClient(t)
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := influxdb.Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(config.InfluxDBConfig{Enabled: true, URL: url, Org: "o", Bucket: "b"})
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestEmit_Dispatch(t *testing.T) {
	client, fake := newTestClient(t)

	var sink events.Sink = client
	sink.Emit(events.Event{
		Kind:     events.KindDispatched,
		Time:     time.Now(),
		Worker:   1,
		Device:   2,
		Duration: 1500 * time.Microsecond,
		Error:    "boom",
	})
	client.Flush()

	line := fake.waitFor(t, "dispatch,")
	for _, want := range []string{"kind=dispatched", "device=2", "worker=1", "duration_us=1500i", "failed=true"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestEmit_FailedBackOmitsWorker(t *testing.T) {
	client, fake := newTestClient(t)

	client.Emit(events.Event{
		Kind:   events.KindFailedBack,
		Time:   time.Now(),
		Worker: events.NoWorker,
		Device: -1,
		Error:  "shutdown in progress",
	})
	client.Flush()

	line := fake.waitFor(t, "dispatch,")
	if strings.Contains(line, "worker=") || strings.Contains(line, "device=") {
		t.Errorf("line %q should not carry worker or device tags", line)
	}
}

func TestEmit_Lifecycle(t *testing.T) {
	client, fake := newTestClient(t)

	client.Emit(events.Lifecycle("running"))
	client.Flush()

	line := fake.waitFor(t, "lifecycle,")
	if !strings.Contains(line, "state=running") {
		t.Errorf("line %q missing state tag", line)
	}
}

func TestWriteQueueStats(t *testing.T) {
	client, fake := newTestClient(t)

	client.WriteQueueStats(7, 2, []int64{3, 0})
	client.Flush()

	line := fake.waitFor(t, "queue ")
	if !strings.Contains(line, "depth=7i") || !strings.Contains(line, "waiting=2i") {
		t.Errorf("queue line = %q", line)
	}
	if line := fake.waitFor(t, "device_queue,device=0"); !strings.Contains(line, "outstanding=3i") {
		t.Errorf("device_queue line = %q", line)
	}
}

func TestWritePoint(t *testing.T) {
	client, fake := newTestClient(t)

	client.WritePointWithTime("custom",
		map[string]string{"source": "test"},
		map[string]interface{}{"value": 99.5},
		time.Unix(1700000000, 0),
	)
	client.Flush()

	line := fake.waitFor(t, "custom,")
	if !strings.HasSuffix(line, " 1700000000000000000") {
		t.Errorf("line %q has wrong timestamp", line)
	}
}

func TestWriteErrorsReachCallback(t *testing.T) {
	client, fake := newTestClient(t)
	fake.mu.Lock()
	fake.status = http.StatusBadRequest
	fake.mu.Unlock()

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.WritePoint("custom", nil, map[string]interface{}{"value": 1})
	client.Flush()

	select {
	case err := <-errCh:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
		if client.WriteFailures() == 0 {
			t.Error("WriteFailures() = 0 after a rejected write")
		}
	case <-time.After(5 * time.Second):
		t.Error("write error not delivered")
	}
}

func TestClose(t *testing.T) {
	client, _ := newTestClient(t)

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	// Writes after Close are dropped.
	client.Emit(events.Lifecycle("stopped"))
	client.Flush()
}
