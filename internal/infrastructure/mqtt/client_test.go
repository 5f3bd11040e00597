package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/offload-core/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
// Broker-backed tests need a broker at 127.0.0.1:1883 and skip otherwise.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "offload-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicPrefix: "offload-test",
	}
}

var (
	brokerOnce sync.Once
	brokerUp   bool
)

func requireBroker(t *testing.T) {
	t.Helper()
	brokerOnce.Do(func() {
		conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
		if err == nil {
			conn.Close()
			brokerUp = true
		}
	})
	if !brokerUp {
		t.Skip("no MQTT broker on 127.0.0.1:1883")
	}
}

func connect(t *testing.T, clientID string) *Client {
	t.Helper()
	requireBroker(t)
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Options
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "offload", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "offload-test" {
		t.Errorf("ClientID = %q, want offload-test", opts.ClientID)
	}
	if opts.Username != "offload" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want offload/secret", opts.Username, opts.Password)
	}
	if !opts.CleanSession || !opts.AutoReconnect {
		t.Error("CleanSession and AutoReconnect should be enabled")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS configured without Broker.TLS")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS 1.2 minimum not configured")
	}
	if opts.Username != "" {
		t.Error("username set without credentials")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := pahomqtt.NewClientOptions()
	configureLWT(opts, NewTopics("offload"), "offload-1")

	if !opts.WillEnabled || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will enabled=%v retained=%v qos=%d, want true/true/1",
			opts.WillEnabled, opts.WillRetained, opts.WillQos)
	}
	if opts.WillTopic != "offload/status" {
		t.Errorf("WillTopic = %q, want offload/status", opts.WillTopic)
	}

	var msg StatusMessage
	if err := json.Unmarshal(opts.WillPayload, &msg); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if msg.Status != "offline" || msg.Reason != "unexpected_disconnect" || msg.ClientID != "offload-1" {
		t.Errorf("will payload = %+v", msg)
	}
}

// =============================================================================
// Topics
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("/offload/")

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"submit", topics.Submit(), "offload/submit"},
		{"result", topics.Result("abc"), "offload/result/abc"},
		{"all results", topics.AllResults(), "offload/result/+"},
		{"event", topics.Event("dispatched"), "offload/events/dispatched"},
		{"all events", topics.AllEvents(), "offload/events/+"},
		{"status", topics.Status(), "offload/status"},
		{"all", topics.All(), "offload/#"},
		{"zero value", Topics{}.Submit(), "offload/submit"},
		{"custom prefix", NewTopics("lab/gpu").Result("x"), "lab/gpu/result/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestValidLevel(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"0b6f3c1e-2d4a-4c4b-9d1e-6a8f0e2b7c11", true},
		{"job-1", true},
		{"", false},
		{"a/b", false},
		{"a+", false},
		{"#", false},
	}
	for _, tt := range tests {
		if got := ValidLevel(tt.in); got != tt.want {
			t.Errorf("ValidLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidFilter(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"offload/submit", true},
		{"offload/result/+", true},
		{"offload/#", true},
		{"#", true},
		{"+/+/status", true},
		{"$share/workers/offload/submit", true},
		{"$share/workers/offload/#", true},
		{"", false},
		{"offload/#/status", false},
		{"offload/res+", false},
		{"offload/a#", false},
		{"$share/workers", false},
		{"$share//offload/submit", false},
		{"$share/workers/", false},
		{"bad\x00topic", false},
	}
	for _, tt := range tests {
		if got := ValidFilter(tt.in); got != tt.want {
			t.Errorf("ValidFilter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSharedSubmit(t *testing.T) {
	topics := NewTopics("/offload/")
	if got := topics.SharedSubmit("g1"); got != "$share/g1/offload/submit" {
		t.Errorf("SharedSubmit() = %q", got)
	}
	if !ValidFilter(topics.SharedSubmit("g1")) {
		t.Error("SharedSubmit() is not a valid filter")
	}
}

// =============================================================================
// Handler wrapping
// =============================================================================

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	c := &Client{}
	logger := &mockLogger{}
	c.SetLogger(logger)

	h := c.wrapHandler(func(string, []byte) error { panic("boom") })
	h(nil, fakeMessage{topic: "offload/submit"})

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.errors) != 1 {
		t.Errorf("logged %d errors, want 1", len(logger.errors))
	}
}

func TestWrapHandler_LogsError(t *testing.T) {
	c := &Client{}
	logger := &mockLogger{}
	c.SetLogger(logger)

	var got []byte
	h := c.wrapHandler(func(_ string, p []byte) error {
		got = p
		return errors.New("bad request")
	})
	h(nil, fakeMessage{topic: "offload/submit", payload: []byte("x")})

	if string(got) != "x" {
		t.Errorf("payload = %q, want x", got)
	}
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1", len(logger.warns))
	}
}

func TestWrapHandler_NoLogger(t *testing.T) {
	c := &Client{}
	h := c.wrapHandler(func(string, []byte) error { panic("boom") })
	h(nil, fakeMessage{topic: "t"}) // must not propagate
}

// =============================================================================
// Disconnected client
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestOperationsValidateBeforeConnecting(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if err := client.Publish("", nil, 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Publish("t", nil, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Publish("t", make([]byte, maxPayloadSize+1), 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(oversize) error = %v, want ErrPublishFailed", err)
	}
	if err := client.Publish("t", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := client.PublishJSON("t", map[string]any{"bad": make(chan int)}); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON(unmarshalable) error = %v, want ErrPublishFailed", err)
	}
	if err := client.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("a/#/b", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(misplaced #) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := client.Subscribe("t", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := client.Unsubscribe("t"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Broker-backed tests
// =============================================================================

func TestConnect(t *testing.T) {
	client := connect(t, "offload-test-connect")
	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestClose(t *testing.T) {
	client := connect(t, "offload-test-close")
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
	if err := client.Publish("t", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeTracking(t *testing.T) {
	client := connect(t, "offload-test-subs")
	handler := func(string, []byte) error { return nil }
	topics := client.Topics()

	for _, topic := range []string{topics.Submit(), topics.AllEvents()} {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if client.SubscriptionCount() != 2 {
		t.Errorf("SubscriptionCount() = %d, want 2", client.SubscriptionCount())
	}

	if err := client.Unsubscribe(topics.Submit()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topics.Submit()) {
		t.Error("HasSubscription() = true after Unsubscribe()")
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	pub := connect(t, "offload-test-pub")
	sub := connect(t, "offload-test-sub")

	topic := sub.Topics().Result("roundtrip")
	received := make(chan map[string]string, 1)

	err := sub.Subscribe(topic, 1, func(_ string, payload []byte) error {
		var m map[string]string
		if err := json.Unmarshal(payload, &m); err != nil {
			return err
		}
		received <- m
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// Give the subscription time to register.
	time.Sleep(100 * time.Millisecond)

	if err := pub.PublishJSON(topic, map[string]string{"status": "ok"}); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case m := <-received:
		if m["status"] != "ok" {
			t.Errorf("received %v, want status ok", m)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for message")
	}
}

// mockLogger implements Logger for testing.
type mockLogger struct {
	errors []string
	warns  []string
	mu     sync.Mutex
}

func (l *mockLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
