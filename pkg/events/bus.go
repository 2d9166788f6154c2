package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTopic carries every turn event.
const DefaultTopic = "actuator.turn"

// Bus publishes turn events to observers.
type Bus interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopBus drops every event.
type NopBus struct{}

func (NopBus) Publish(context.Context, Event) error { return nil }
func (NopBus) Close() error                         { return nil }

// WatermillBus publishes JSON envelopes to a watermill Publisher.
type WatermillBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
}

// NewWatermillBus creates a bus on top of an existing publisher.
// subscriber may be nil if Subscribe is never used.
func NewWatermillBus(publisher message.Publisher, subscriber message.Subscriber, topic string) *WatermillBus {
	if topic == "" {
		topic = DefaultTopic
	}
	return &WatermillBus{
		publisher:  publisher,
		subscriber: subscriber,
		topic:      topic,
	}
}

// GoChannelConfig configures an in-process bus.
type GoChannelConfig struct {
	Topic string
	// BlockUntilAck makes Publish wait until every subscriber acked.
	BlockUntilAck       bool
	OutputChannelBuffer int64
	Logger              zerolog.Logger
}

// NewGoChannelBus creates an in-process bus backed by a watermill gochannel pubsub.
func NewGoChannelBus(cfg GoChannelConfig) *WatermillBus {
	if cfg.OutputChannelBuffer == 0 {
		cfg.OutputChannelBuffer = 256
	}
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            cfg.OutputChannelBuffer,
		BlockPublishUntilSubscriberAck: cfg.BlockUntilAck,
	}, NewWatermillLogger(cfg.Logger))
	return NewWatermillBus(pubSub, pubSub, cfg.Topic)
}

// Topic returns the topic events are published on.
func (b *WatermillBus) Topic() string {
	return b.topic
}

// Publish serializes e and publishes it.
func (b *WatermillBus) Publish(ctx context.Context, e Event) error {
	payload, err := Encode(e)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event to JSON")
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	msg.Metadata.Set("event_type", string(e.EventType()))

	if err := b.publisher.Publish(b.topic, msg); err != nil {
		log.Error().Err(err).Str("topic", b.topic).Msg("Failed to publish event")
		return err
	}

	log.Trace().Str("topic", b.topic).Str("event_type", string(e.EventType())).Msg("Published event")
	return nil
}

// Subscribe returns a channel of decoded events. Messages are acked as they
// are decoded. The channel closes when ctx is done or the bus is closed.
func (b *WatermillBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	if b.subscriber == nil {
		return nil, errNoSubscriber
	}
	messages, err := b.subscriber.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range messages {
			_, e, err := Decode(msg.Payload)
			msg.Ack()
			if err != nil {
				log.Warn().Err(err).Str("message_id", msg.UUID).Msg("Failed to decode event")
				continue
			}
			if e == nil {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close closes the publisher, and the subscriber if it is a distinct value.
func (b *WatermillBus) Close() error {
	err := b.publisher.Close()
	if b.subscriber != nil && any(b.subscriber) != any(b.publisher) {
		if serr := b.subscriber.Close(); err == nil {
			err = serr
		}
	}
	return err
}

// PublishBlind publishes e and only logs failures.
func PublishBlind(ctx context.Context, bus Bus, e Event) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, e); err != nil {
		log.Warn().Err(err).Str("event_type", string(e.EventType())).Msg("failed to publish")
	}
}

var (
	_ Bus = (*WatermillBus)(nil)
	_ Bus = NopBus{}
)
