package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the offload daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Devices      DevicesConfig      `yaml:"devices"`
	SharedMemory SharedMemoryConfig `yaml:"shared_memory"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Security     SecurityConfig     `yaml:"security"`
}

// ServerConfig contains dispatch core settings.
type ServerConfig struct {
	Name string `yaml:"name"`

	// NumWorkers is the number of dispatch workers. 0 means one per online CPU.
	NumWorkers int `yaml:"num_workers"`

	// PinWorkers restricts each worker thread to a single CPU.
	PinWorkers bool `yaml:"pin_workers"`

	// QueueCapacity bounds the server message queue. 0 means unbounded.
	QueueCapacity int `yaml:"queue_capacity"`

	// ShutdownTimeout bounds how long draining waits for device queues to
	// finish, in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
}

// SchedulerConfig selects the device scheduling policy.
type SchedulerConfig struct {
	Policy string `yaml:"policy"`
}

// DevicesConfig contains device enumeration and queue settings.
type DevicesConfig struct {
	Platform   string                  `yaml:"platform"`
	Kinds      []string                `yaml:"kinds"`
	OutOfOrder bool                    `yaml:"out_of_order"`
	Profiling  bool                    `yaml:"profiling"`
	Simulated  []SimulatedDeviceConfig `yaml:"simulated"`
}

// SimulatedDeviceConfig describes one device of the hostsim platform.
type SimulatedDeviceConfig struct {
	Name         string `yaml:"name"`
	Kind         string `yaml:"kind"`
	ComputeUnits int    `yaml:"compute_units"`
	GlobalMemMB  int    `yaml:"global_mem_mb"`
	MaxAllocMB   int    `yaml:"max_alloc_mb"`
}

// SharedMemoryConfig contains shared-memory segment settings.
type SharedMemoryConfig struct {
	Enabled bool `yaml:"enabled"`
	SizeMB  int  `yaml:"size_mb"`
}

// DatabaseConfig contains SQLite settings for the message ledger.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`

	// ShareGroup, when set, subscribes to the submit topic as a shared
	// subscription so several daemons split the submissions.
	ShareGroup string `yaml:"share_group"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`

	// Wait caps how long a synchronous submission waits for its result.
	Wait int `yaml:"wait"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// Output is stdout, stderr or pipe. pipe writes framed chunks to stderr.
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer token settings for the submission endpoint.
// An empty secret disables the check.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// Valid values for enumerated settings.
var (
	validPolicies   = []string{"round_robin", "least_loaded"}
	validPlatforms  = []string{"hostsim"}
	validKinds      = []string{"cpu", "gpu", "accelerator"}
	validLogOutputs = []string{"stdout", "stderr", "pipe"}
	validLogFormats = []string{"json", "text"}
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: OFFLOAD_SECTION_KEY
// For example: OFFLOAD_DATABASE_PATH, OFFLOAD_NUM_WORKERS
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:            "offloadd",
			NumWorkers:      0,
			ShutdownTimeout: 10,
		},
		Scheduler: SchedulerConfig{
			Policy: "round_robin",
		},
		Devices: DevicesConfig{
			Platform:   "hostsim",
			OutOfOrder: true,
			Profiling:  true,
		},
		SharedMemory: SharedMemoryConfig{
			Enabled: true,
			SizeMB:  64,
		},
		Database: DatabaseConfig{
			Path:        "./data/offload.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "offload-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix: "offload",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
				Wait:  30,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: OFFLOAD_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Server
	if v := os.Getenv("OFFLOAD_NUM_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OFFLOAD_NUM_WORKERS: %w", err)
		}
		cfg.Server.NumWorkers = n
	}

	// Logging
	if v := os.Getenv("OFFLOAD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Database
	if v := os.Getenv("OFFLOAD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("OFFLOAD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("OFFLOAD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("OFFLOAD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("OFFLOAD_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("OFFLOAD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("OFFLOAD_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Server
	if c.Server.NumWorkers < 0 {
		errs = append(errs, "server.num_workers must be >= 0 (0 means one per CPU)")
	}
	if c.Server.QueueCapacity < 0 {
		errs = append(errs, "server.queue_capacity must be >= 0")
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must be >= 0")
	}

	// Scheduler
	if !slices.Contains(validPolicies, c.Scheduler.Policy) {
		errs = append(errs, fmt.Sprintf("scheduler.policy must be one of %s", strings.Join(validPolicies, ", ")))
	}

	// Devices
	if !slices.Contains(validPlatforms, c.Devices.Platform) {
		errs = append(errs, fmt.Sprintf("devices.platform must be one of %s", strings.Join(validPlatforms, ", ")))
	}
	for _, k := range c.Devices.Kinds {
		if !slices.Contains(validKinds, k) {
			errs = append(errs, fmt.Sprintf("devices.kinds: unknown kind %q", k))
		}
	}
	for i, d := range c.Devices.Simulated {
		if d.Name == "" {
			errs = append(errs, fmt.Sprintf("devices.simulated[%d].name is required", i))
		}
		if !slices.Contains(validKinds, d.Kind) {
			errs = append(errs, fmt.Sprintf("devices.simulated[%d].kind %q is not valid", i, d.Kind))
		}
		if d.MaxAllocMB > d.GlobalMemMB {
			errs = append(errs, fmt.Sprintf("devices.simulated[%d].max_alloc_mb exceeds global_mem_mb", i))
		}
	}

	// Shared memory
	if c.SharedMemory.Enabled && c.SharedMemory.SizeMB <= 0 {
		errs = append(errs, "shared_memory.size_mb must be positive when enabled")
	}

	// Database
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the ledger is enabled")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}
	if g := c.MQTT.ShareGroup; g != "" && strings.ContainsAny(g, "/+#") {
		errs = append(errs, "mqtt.share_group must be a single topic level")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Logging
	if !slices.Contains(validLogOutputs, c.Logging.Output) {
		errs = append(errs, fmt.Sprintf("logging.output must be one of %s", strings.Join(validLogOutputs, ", ")))
	}
	if !slices.Contains(validLogFormats, c.Logging.Format) {
		errs = append(errs, fmt.Sprintf("logging.format must be one of %s", strings.Join(validLogFormats, ", ")))
	}

	// Security: the secret is optional, but a short one is worse than none.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetWaitTimeout returns the synchronous submission cap as a Duration.
func (c *Config) GetWaitTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Wait) * time.Second
}

// GetShutdownTimeout returns the drain timeout as a Duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}
