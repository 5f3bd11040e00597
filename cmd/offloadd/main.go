// offloadd is the compute-offload daemon.
//
// It enumerates accelerator devices, runs a pool of dispatch workers over a
// shared message queue, and accepts kernel jobs over HTTP and MQTT. SIGTERM,
// SIGINT and SIGHUP request a graceful stop: workers are joined, queued jobs
// are failed back to their producers, and device resources are released.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/offload-core/internal/accel"
	"github.com/nerrad567/offload-core/internal/accel/hostsim"
	"github.com/nerrad567/offload-core/internal/api"
	"github.com/nerrad567/offload-core/internal/device"
	"github.com/nerrad567/offload-core/internal/events"
	"github.com/nerrad567/offload-core/internal/infrastructure/config"
	"github.com/nerrad567/offload-core/internal/infrastructure/database"
	"github.com/nerrad567/offload-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/offload-core/internal/infrastructure/logging"
	"github.com/nerrad567/offload-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/offload-core/internal/intake"
	"github.com/nerrad567/offload-core/internal/ledger"
	"github.com/nerrad567/offload-core/internal/server"
	"github.com/nerrad567/offload-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when OFFLOAD_CONFIG is unset. A missing
	// default file means built-in defaults.
	defaultConfigPath = "configs/config.yaml"

	// forwarderBuffer is the MQTT event forwarder's queue length.
	forwarderBuffer = 1024

	// closeTimeout bounds flushing the ledger on exit.
	closeTimeout = 5 * time.Second
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	if err := run(context.Background(), sigCh); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the daemon and blocks until the dispatch core has stopped.
// Each signal on sigCh requests a stop; only the first has an effect.
func run(ctx context.Context, sigCh <-chan os.Signal) error {
	log := logging.Default()
	log.Info("starting offloadd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "log_output", cfg.Logging.Output)

	platform, err := buildPlatform(cfg.Devices)
	if err != nil {
		return err
	}

	var sinks events.Fanout

	// Message ledger (optional)
	var (
		db  *database.DB
		led *ledger.Ledger
	)
	if cfg.Database.Enabled {
		db, err = database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		led = ledger.New(db, ledger.Options{Logger: log})
		led.Start()
		defer func() {
			cctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if closeErr := led.Close(cctx); closeErr != nil {
				log.Error("error flushing ledger", "error", closeErr)
			}
			st := led.Stats()
			log.Info("ledger closed", "written", st.Written, "dropped", st.Dropped, "failed", st.Failed)
		}()
		sinks = append(sinks, led)
		log.Info("ledger enabled", "path", cfg.Database.Path)
	}

	// InfluxDB metrics (optional)
	var influx *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influx, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
			log.Info("InfluxDB closed", "write_failures", influx.WriteFailures())
		}()
		influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		sinks = append(sinks, influx)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// MQTT broker (optional)
	var (
		mqttClient *mqtt.Client
		forwarder  *intake.Forwarder
	)
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

		forwarder = intake.NewForwarder(mqttClient, forwarderBuffer, log)
		if err := forwarder.Start(); err != nil {
			return fmt.Errorf("starting event forwarder: %w", err)
		}
		defer forwarder.Close()
		sinks = append(sinks, forwarder)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"prefix", cfg.MQTT.TopicPrefix,
		)
	}

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log)
		sinks = append(sinks, hub)
	}

	srv := server.New(serverConfig(cfg), platform,
		server.WithLogger(log.With("component", "server")),
		server.WithEvents(sinks),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		watchSignals(sigCh, srv, log)
		return nil
	})

	if cfg.API.Enabled {
		apiSrv, err := api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Security:    cfg.Security,
			Logger:      log,
			Dispatcher:  srv,
			Ledger:      led,
			DB:          db,
			MQTT:        mqttClient,
			ExternalHub: hub,
			Version:     version,
		})
		if err == nil {
			err = apiSrv.Start(gctx)
		}
		if err != nil {
			srv.RequestStop("api startup failed")
			_ = g.Wait() //nolint:errcheck // the API error is reported
			return fmt.Errorf("starting API: %w", err)
		}
		defer func() {
			if closeErr := apiSrv.Close(); closeErr != nil {
				log.Error("error closing API", "error", closeErr)
			}
		}()
	}

	if mqttClient != nil {
		in := intake.NewMQTT(mqttClient, srv, log)
		in.SetShareGroup(cfg.MQTT.ShareGroup)
		if err := in.Start(); err != nil {
			srv.RequestStop("mqtt intake failed")
			_ = g.Wait() //nolint:errcheck // the intake error is reported
			return fmt.Errorf("starting MQTT intake: %w", err)
		}
		defer func() {
			if stopErr := in.Stop(); stopErr != nil {
				log.Warn("error stopping MQTT intake", "error", stopErr)
			}
		}()
		log.Info("MQTT intake subscribed", "topic", in.SubmitTopic())
	}

	if influx != nil {
		interval := time.Duration(cfg.InfluxDB.FlushInterval) * time.Second
		g.Go(func() error {
			reportQueueStats(srv, influx, interval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("offloadd stopped")
	return nil
}

// getConfigPath returns the configuration file path: OFFLOAD_CONFIG if set,
// else the default path if it exists, else "" for built-in defaults.
func getConfigPath() string {
	if path := os.Getenv("OFFLOAD_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); errors.Is(err, os.ErrNotExist) {
		return ""
	}
	return defaultConfigPath
}

// watchSignals turns signals into stop requests until the server is done.
func watchSignals(sigCh <-chan os.Signal, srv *server.Server, log *logging.Logger) {
	for {
		select {
		case sig := <-sigCh:
			log.Info("signal received", "signal", sig.String())
			srv.RequestStop("signal " + sig.String())
		case <-srv.Done():
			return
		}
	}
}

// reportQueueStats writes queue depth and per-device load to InfluxDB until
// the server is done.
func reportQueueStats(srv *server.Server, influx *influxdb.Client, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-srv.Done():
			return
		case <-ticker.C:
			st := srv.Stats()
			outstanding := make([]int64, len(st.DeviceQueues))
			for i, q := range st.DeviceQueues {
				outstanding[i] = q.Outstanding
			}
			influx.WriteQueueStats(st.Queue.Depth, st.Queue.Waiting, outstanding)
		}
	}
}

// serverConfig maps file configuration onto the dispatch core.
func serverConfig(cfg *config.Config) server.Config {
	sc := server.Config{
		NumWorkers:      cfg.Server.NumWorkers,
		PinWorkers:      cfg.Server.PinWorkers,
		QueueCapacity:   cfg.Server.QueueCapacity,
		SchedulerPolicy: cfg.Scheduler.Policy,
		QueueProperties: accel.QueueProperties{
			OutOfOrder: cfg.Devices.OutOfOrder,
			Profiling:  cfg.Devices.Profiling,
		},
		ShutdownTimeout: cfg.GetShutdownTimeout(),
	}
	for _, k := range cfg.Devices.Kinds {
		sc.DeviceFilter.Kinds = append(sc.DeviceFilter.Kinds, accel.Kind(k))
	}
	if cfg.SharedMemory.Enabled {
		sc.SharedMemoryBytes = int64(cfg.SharedMemory.SizeMB) << 20
	}
	return sc
}

// buildPlatform creates the device platform. hostsim is the only platform;
// with no simulated devices configured it models the host CPU.
func buildPlatform(cfg config.DevicesConfig) (accel.Platform, error) {
	if cfg.Platform != hostsim.PlatformName {
		return nil, fmt.Errorf("unsupported device platform %q: %w", cfg.Platform, device.ErrDeviceInit)
	}
	if len(cfg.Simulated) == 0 {
		return hostsim.New(hostsim.DefaultDevices()), nil
	}
	infos := make([]accel.DeviceInfo, len(cfg.Simulated))
	for i, d := range cfg.Simulated {
		infos[i] = accel.DeviceInfo{
			ID:             fmt.Sprintf("%s-%d", hostsim.PlatformName, i),
			Name:           d.Name,
			Vendor:         hostsim.PlatformName,
			Kind:           accel.Kind(d.Kind),
			ComputeUnits:   d.ComputeUnits,
			GlobalMemBytes: int64(d.GlobalMemMB) << 20,
			MaxAllocBytes:  int64(d.MaxAllocMB) << 20,
		}
	}
	return hostsim.New(infos), nil
}
