// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package pubsub delivers lifecycle and violation events to subscribers.
//
// Every event travels as an Envelope encoded with goccy/go-json. Delivery is
// best-effort: a failed publish is reported to the caller and never retried.
//
// Backends:
//   - WatermillPublisher on a gochannel bus, consumed in-process by the websocket hub
//   - WatermillPublisher on NATS core (NewNATSPublisher) for external consumers
//   - RedisPublisher on a Redis channel
//
// Fanout combines any number of them behind one Publisher.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Publisher delivers one event to its subscribers.
type Publisher interface {
	Publish(ctx context.Context, event string, payload interface{}) error
	Close() error
}

// Envelope is the wire form of every published event.
type Envelope struct {
	Event       string          `json:"event"`
	PublishedAt time.Time       `json:"published_at"`
	Data        json.RawMessage `json:"data"`
}

// Encode wraps payload in an Envelope stamped with now.
func Encode(event string, payload interface{}, now time.Time) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	out, err := json.Marshal(Envelope{Event: event, PublishedAt: now.UTC(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", event, err)
	}
	return out, nil
}

// Decode parses an Envelope.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return nil, errors.New("decode envelope: missing event name")
	}
	return &env, nil
}

// Fanout publishes every event to all of its publishers. A failure on one
// publisher does not stop delivery to the others.
type Fanout []Publisher

// Publish returns the joined errors of the failed publishers.
func (f Fanout) Publish(ctx context.Context, event string, payload interface{}) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher.
func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
