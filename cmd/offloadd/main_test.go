package main

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/nerrad567/offload-core/internal/accel"
	"github.com/nerrad567/offload-core/internal/accel/hostsim"
	"github.com/nerrad567/offload-core/internal/infrastructure/config"
	"github.com/nerrad567/offload-core/internal/infrastructure/database"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("OFFLOAD_CONFIG", "/nonexistent/path/config.yaml")

	sigCh := make(chan os.Signal, 1)
	if err := run(context.Background(), sigCh); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_ValidationError verifies configuration problems stop startup.
func TestRun_ValidationError(t *testing.T) {
	t.Setenv("OFFLOAD_CONFIG", writeConfig(t, `
server:
  num_workers: -1
`))
	if err := run(context.Background(), make(chan os.Signal, 1)); err == nil {
		t.Fatal("run() should fail with negative num_workers")
	}
}

// TestRun_StopsOnSignal runs the daemon with the ledger enabled and stops
// it with SIGHUP.
func TestRun_StopsOnSignal(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "offload.db")
	t.Setenv("OFFLOAD_CONFIG", writeConfig(t, `
server:
  num_workers: 2
  shutdown_timeout: 2
devices:
  platform: hostsim
  simulated:
    - name: sim-a
      kind: cpu
      compute_units: 2
      global_mem_mb: 64
      max_alloc_mb: 1
    - name: sim-b
      kind: gpu
      compute_units: 4
      global_mem_mb: 64
      max_alloc_mb: 2
shared_memory:
  enabled: true
  size_mb: 4
database:
  enabled: true
  path: `+dbPath+`
  wal_mode: true
  busy_timeout: 5
api:
  enabled: false
logging:
  level: error
  format: text
  output: stderr
`))

	sigCh := make(chan os.Signal, 2)
	errCh := make(chan error, 1)
	go func() { errCh <- run(context.Background(), sigCh) }()

	sigCh <- syscall.SIGHUP
	sigCh <- syscall.SIGTERM // second request is ignored

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after signal")
	}

	db, err := database.Open(context.Background(), database.Config{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()

	var stopped int
	err = db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM message_events WHERE kind = 'lifecycle' AND state = 'stopped'`).Scan(&stopped)
	if err != nil {
		t.Fatalf("query error = %v", err)
	}
	if stopped != 1 {
		t.Errorf("stopped lifecycle events = %d, want 1", stopped)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	t.Setenv("OFFLOAD_CONFIG", writeConfig(t, `
server:
  num_workers: 1
shared_memory:
  enabled: false
api:
  enabled: false
logging:
  level: error
  format: text
  output: stderr
`))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, make(chan os.Signal)) }()
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("OFFLOAD_CONFIG", "/etc/offload/custom.yaml")
	if got := getConfigPath(); got != "/etc/offload/custom.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}

	t.Setenv("OFFLOAD_CONFIG", "")
	t.Chdir(t.TempDir())
	if got := getConfigPath(); got != "" {
		t.Errorf("getConfigPath() = %q, want empty without a default file", got)
	}
}

func TestServerConfig(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			NumWorkers:      3,
			PinWorkers:      true,
			QueueCapacity:   50,
			ShutdownTimeout: 7,
		},
		Scheduler:    config.SchedulerConfig{Policy: "least_loaded"},
		Devices:      config.DevicesConfig{Kinds: []string{"gpu"}, OutOfOrder: true},
		SharedMemory: config.SharedMemoryConfig{Enabled: true, SizeMB: 2},
	}

	sc := serverConfig(cfg)
	if sc.NumWorkers != 3 || !sc.PinWorkers || sc.QueueCapacity != 50 {
		t.Errorf("server fields = %+v", sc)
	}
	if sc.SchedulerPolicy != "least_loaded" {
		t.Errorf("SchedulerPolicy = %q", sc.SchedulerPolicy)
	}
	if len(sc.DeviceFilter.Kinds) != 1 || sc.DeviceFilter.Kinds[0] != accel.KindGPU {
		t.Errorf("DeviceFilter = %+v", sc.DeviceFilter)
	}
	if !sc.QueueProperties.OutOfOrder || sc.QueueProperties.Profiling {
		t.Errorf("QueueProperties = %+v", sc.QueueProperties)
	}
	if sc.SharedMemoryBytes != 2<<20 {
		t.Errorf("SharedMemoryBytes = %d, want %d", sc.SharedMemoryBytes, 2<<20)
	}
	if sc.ShutdownTimeout != 7*time.Second {
		t.Errorf("ShutdownTimeout = %v", sc.ShutdownTimeout)
	}

	cfg.SharedMemory.Enabled = false
	if got := serverConfig(cfg).SharedMemoryBytes; got != 0 {
		t.Errorf("SharedMemoryBytes with shm disabled = %d, want 0", got)
	}
}

func TestBuildPlatform(t *testing.T) {
	p, err := buildPlatform(config.DevicesConfig{Platform: "hostsim"})
	if err != nil {
		t.Fatalf("buildPlatform() error = %v", err)
	}
	devs, err := p.Devices(context.Background())
	if err != nil || len(devs) != len(hostsim.DefaultDevices()) {
		t.Errorf("default devices = %d, %v", len(devs), err)
	}

	p, err = buildPlatform(config.DevicesConfig{
		Platform: "hostsim",
		Simulated: []config.SimulatedDeviceConfig{
			{Name: "a", Kind: "cpu", ComputeUnits: 2, GlobalMemMB: 8, MaxAllocMB: 1},
			{Name: "b", Kind: "accelerator", ComputeUnits: 1, GlobalMemMB: 8, MaxAllocMB: 4},
		},
	})
	if err != nil {
		t.Fatalf("buildPlatform() error = %v", err)
	}
	devs, _ = p.Devices(context.Background())
	if len(devs) != 2 {
		t.Fatalf("devices = %d, want 2", len(devs))
	}
	if devs[1].Kind != accel.KindAccelerator || devs[1].MaxAllocBytes != 4<<20 {
		t.Errorf("devices[1] = %+v", devs[1])
	}

	if _, err := buildPlatform(config.DevicesConfig{Platform: "opencl"}); err == nil {
		t.Error("buildPlatform() accepted an unknown platform")
	}
}
