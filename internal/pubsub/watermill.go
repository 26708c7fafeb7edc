// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/streamwarden/internal/config"
)

// TopicEvents is the in-process bus topic carrying every event.
const TopicEvents = "streamwarden.events"

// MetadataEvent holds the event name on every Watermill message.
const MetadataEvent = "event"

// NewBus creates the in-process event bus. Publishing never blocks on slow
// subscribers.
func NewBus(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		BlockPublishUntilSubscriberAck: false,
	}, logger)
}

// WatermillPublisher publishes envelopes to one topic of any Watermill
// publisher.
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewWatermillPublisher publishes to topic through publisher and takes
// ownership of it.
func NewWatermillPublisher(publisher message.Publisher, topic string) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher, topic: topic, now: time.Now}
}

// NewNATSPublisher connects a core NATS publisher (no JetStream) that sends
// every event to cfg.Subject.
func NewNATSPublisher(cfg *config.NATSConfig, logger watermill.LoggerAdapter) (*WatermillPublisher, error) {
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}
	return NewWatermillPublisher(pub, cfg.Subject), nil
}

func (w *WatermillPublisher) Publish(ctx context.Context, event string, payload interface{}) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return fmt.Errorf("publish %s: publisher is closed", event)
	}

	data, err := Encode(event, payload, w.now())
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set(MetadataEvent, event)
	msg.SetContext(ctx)

	if err := w.publisher.Publish(w.topic, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, w.topic, err)
	}
	return nil
}

func (w *WatermillPublisher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.publisher.Close()
}
