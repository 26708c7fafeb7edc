// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package pubsub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/streamwarden/internal/models"
)

var fixedNow = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func TestEncodeDecode(t *testing.T) {
	payload := models.ActiveSession{
		Session: models.Session{ID: "s1", State: models.StatePlaying},
		User:    models.UserSummary{ID: "u1", Username: "alice"},
	}
	raw, err := Encode(models.EventSessionStarted, payload, fixedNow)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Event != models.EventSessionStarted || !env.PublishedAt.Equal(fixedNow) {
		t.Errorf("unexpected envelope header: %+v", env)
	}

	var got models.ActiveSession
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if got.ID != "s1" || got.User.Username != "alice" {
		t.Errorf("payload mismatch: %+v", got)
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "nope"},
		{"missing event", `{"data":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.raw)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWatermillPublisher_Bus(t *testing.T) {
	bus := NewBus(watermill.NopLogger{})
	pub := NewWatermillPublisher(bus, TopicEvents)
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := bus.Subscribe(ctx, TopicEvents)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := pub.Publish(ctx, models.EventViolationNew, map[string]string{"id": "v1"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-msgs:
		msg.Ack()
		if got := msg.Metadata.Get(MetadataEvent); got != models.EventViolationNew {
			t.Errorf("metadata event = %q", got)
		}
		env, err := Decode(msg.Payload)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if env.Event != models.EventViolationNew || string(env.Data) != `{"id":"v1"}` {
			t.Errorf("unexpected envelope: %s %s", env.Event, env.Data)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func TestWatermillPublisher_Closed(t *testing.T) {
	pub := NewWatermillPublisher(NewBus(watermill.NopLogger{}), TopicEvents)
	if err := pub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := pub.Publish(context.Background(), models.EventSessionStarted, nil); err == nil {
		t.Error("expected error publishing on closed publisher")
	}
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "events")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe confirmation failed: %v", err)
	}

	pub := NewRedisPublisher(client, "events")
	pub.now = func() time.Time { return fixedNow }
	if err := pub.Publish(ctx, models.EventSessionStopped, map[string]int{"n": 1}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}
	env, err := Decode([]byte(msg.Payload))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Event != models.EventSessionStopped || !env.PublishedAt.Equal(fixedNow) {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestRedisPublisher_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	pub := NewRedisPublisher(client, "events")
	if err := pub.Publish(context.Background(), models.EventSessionStarted, nil); err == nil {
		t.Error("expected publish error")
	}
}

type stubPublisher struct {
	err    error
	events []string
	closed bool
}

func (s *stubPublisher) Publish(_ context.Context, event string, _ interface{}) error {
	s.events = append(s.events, event)
	return s.err
}

func (s *stubPublisher) Close() error {
	s.closed = true
	return nil
}

func TestFanout(t *testing.T) {
	failing := &stubPublisher{err: errors.New("broker down")}
	healthy := &stubPublisher{}
	f := Fanout{failing, healthy}

	err := f.Publish(context.Background(), models.EventSessionUpdated, nil)
	if err == nil || !errors.Is(err, failing.err) {
		t.Errorf("expected joined broker error, got %v", err)
	}
	if len(healthy.events) != 1 {
		t.Errorf("healthy publisher must still receive the event, got %v", healthy.events)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !failing.closed || !healthy.closed {
		t.Error("expected all publishers closed")
	}

	if err := (Fanout{}).Publish(context.Background(), "x", nil); err != nil {
		t.Errorf("empty fanout must succeed, got %v", err)
	}
}
