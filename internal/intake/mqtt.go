package intake

import (
	"github.com/nerrad567/offload-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/offload-core/internal/kernel"
	"github.com/nerrad567/offload-core/internal/message"
)

// Logger defines the logging interface used by intake.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Broker is the subset of *mqtt.Client intake needs.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishJSON(topic string, v any) error
	Topics() mqtt.Topics
	QoS() byte
}

// Enqueuer accepts messages for dispatch. *server.Server implements it.
type Enqueuer interface {
	Enqueue(msg message.Message) error
}

// MQTT is the MQTT job producer.
type MQTT struct {
	broker Broker
	queue  Enqueuer
	logger Logger
	group  string
}

// NewMQTT creates an MQTT producer. A nil logger discards output.
func NewMQTT(broker Broker, queue Enqueuer, logger Logger) *MQTT {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTT{broker: broker, queue: queue, logger: logger}
}

// SetShareGroup makes Start use a shared subscription, so daemons in the
// same group each receive a share of the submissions. Call before Start.
func (m *MQTT) SetShareGroup(group string) {
	m.group = group
}

// SubmitTopic returns the filter Start subscribes to.
func (m *MQTT) SubmitTopic() string {
	if m.group != "" {
		return m.broker.Topics().SharedSubmit(m.group)
	}
	return m.broker.Topics().Submit()
}

// Start subscribes to the submit topic.
func (m *MQTT) Start() error {
	return m.broker.Subscribe(m.SubmitTopic(), m.broker.QoS(), m.Handle)
}

// Stop unsubscribes from the submit topic. Jobs already enqueued still
// publish their results.
func (m *MQTT) Stop() error {
	return m.broker.Unsubscribe(m.SubmitTopic())
}

// Handle processes one submission. Every request that carries or is given
// an ID gets exactly one result on its result topic.
func (m *MQTT) Handle(_ string, payload []byte) error {
	req, err := ParseRequest(payload)
	if err != nil {
		// No usable ID, so there is no topic to answer on.
		return err
	}

	job, err := req.Job(m.publish)
	if err != nil {
		m.publish(req.Rejected(err))
		return err
	}

	if err := m.queue.Enqueue(job); err != nil {
		m.publish(req.Rejected(err))
		return err
	}

	m.logger.Debug("job enqueued", "id", req.ID, "kernel", req.Kernel)
	return nil
}

func (m *MQTT) publish(res kernel.Result) {
	topic := m.broker.Topics().Result(res.ID)
	if err := m.broker.PublishJSON(topic, res); err != nil {
		m.logger.Warn("publishing job result failed", "id", res.ID, "error", err)
	}
}
