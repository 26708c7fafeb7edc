// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package websocket

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/pubsub"
)

// Bridge forwards every event on a Watermill topic to the hub.
type Bridge struct {
	hub        *Hub
	subscriber message.Subscriber
	topic      string
}

// NewBridge subscribes hub to topic on subscriber.
func NewBridge(hub *Hub, subscriber message.Subscriber, topic string) *Bridge {
	return &Bridge{hub: hub, subscriber: subscriber, topic: topic}
}

// Serve consumes until ctx ends or the subscription closes.
func (b *Bridge) Serve(ctx context.Context) error {
	msgs, err := b.subscriber.Subscribe(ctx, b.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("subscription to %s closed", b.topic)
			}
			b.forward(msg)
		}
	}
}

func (b *Bridge) String() string {
	return "websocket-bridge"
}

// forward acks every message: a frame that cannot be decoded will never
// decode, and delivery to browsers is best-effort.
func (b *Bridge) forward(msg *message.Message) {
	defer msg.Ack()

	env, err := pubsub.Decode(msg.Payload)
	if err != nil {
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping undecodable event")
		return
	}
	b.hub.Broadcast(Message{Type: env.Event, Data: env.Data})
}
