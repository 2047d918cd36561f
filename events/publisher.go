// Package events publishes withdrawal lifecycle events to a message broker.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/marwen-abid/offramp-go/withdraw"
)

// DefaultTopic is the topic lifecycle events are published on.
const DefaultTopic = "offramp.withdrawals"

// Publisher sends withdraw.Event values to a watermill topic as JSON.
type Publisher struct {
	publisher message.Publisher
	topic     string
	logger    logrus.FieldLogger
}

// NewPublisher wraps a watermill publisher. An empty topic means DefaultTopic.
func NewPublisher(publisher message.Publisher, topic string, logger logrus.FieldLogger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Publisher{publisher: publisher, topic: topic, logger: logger}
}

// NewRedisStream creates a watermill publisher writing to redis streams.
func NewRedisStream(client redis.UniversalClient) (message.Publisher, error) {
	return redisstream.NewPublisher(
		redisstream.PublisherConfig{Client: client},
		watermill.NewStdLogger(false, false),
	)
}

// NewInProcess creates an in-memory pub/sub, used when no broker is configured.
func NewInProcess() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
}

// Topic returns the topic events are published on.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish sends one event. Metadata carries the event name and session id.
func (p *Publisher) Publish(ev withdraw.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("event", string(ev.Name))
	msg.Metadata.Set("session_id", ev.SessionID)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Forward publishes every lifecycle event triggered on hooks. Publish failures are
// logged and never interrupt the withdrawal.
func (p *Publisher) Forward(hooks *withdraw.HookRegistry) {
	hooks.OnAny(func(ev withdraw.Event) {
		if err := p.Publish(ev); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"event":      ev.Name,
				"session_id": ev.SessionID,
			}).Warn("failed to publish lifecycle event")
		}
	})
}

// Close closes the underlying publisher.
func (p *Publisher) Close() error {
	return p.publisher.Close()
}
