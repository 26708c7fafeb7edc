// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/metrics"
	"github.com/tomtom215/streamwarden/internal/models"
)

// Trust score penalty per severity.
const (
	PenaltyHigh    = 20
	PenaltyWarning = 10
	PenaltyOther   = 5
)

// Penalty returns the trust score deduction for a severity.
func Penalty(s models.Severity) int {
	switch s {
	case models.SeverityHigh:
		return PenaltyHigh
	case models.SeverityWarning:
		return PenaltyWarning
	default:
		return PenaltyOther
	}
}

// ViolationStore persists violations.
type ViolationStore interface {
	// InsertViolationWithPenalty inserts v and lowers the owner's trust
	// score by penalty, floored at zero, in one transaction.
	InsertViolationWithPenalty(ctx context.Context, v *models.Violation, penalty int) error
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event string, payload interface{}) error
}

// Writer records violations.
type Writer struct {
	store     ViolationStore
	publisher Publisher
	now       func() time.Time
	newID     func() string
}

// NewWriter creates a writer. publisher may be nil.
func NewWriter(store ViolationStore, publisher Publisher) *Writer {
	return &Writer{
		store:     store,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
}

// Record persists a violation for a violated result and publishes it. A
// failed transaction records nothing and is not retried.
func (w *Writer) Record(ctx context.Context, rule *models.Rule, user *models.User, session *models.Session, result EvaluationResult) (*models.Violation, error) {
	v := &models.Violation{
		ID:        w.newID(),
		RuleID:    rule.ID,
		UserID:    session.UserID,
		SessionID: session.ID,
		Severity:  result.Severity,
		Data:      result.Data,
		CreatedAt: w.now(),
	}
	if len(v.Data) == 0 {
		v.Data = []byte("{}")
	}

	penalty := Penalty(v.Severity)
	if err := w.store.InsertViolationWithPenalty(ctx, v, penalty); err != nil {
		metrics.ViolationWriteFailures.Inc()
		logging.Error().Err(err).
			Str("rule_id", rule.ID).
			Str("user_id", v.UserID).
			Str("session_id", v.SessionID).
			Msg("Failed to record violation")
		return nil, fmt.Errorf("record violation: %w", err)
	}
	metrics.ViolationsRecorded.WithLabelValues(string(rule.Type), string(v.Severity)).Inc()

	logging.Info().
		Str("rule", rule.Name).
		Str("user_id", v.UserID).
		Str("session_id", v.SessionID).
		Str("severity", string(v.Severity)).
		Int("penalty", penalty).
		Msg("Violation recorded")

	w.publish(ctx, v, rule, user)
	return v, nil
}

func (w *Writer) publish(ctx context.Context, v *models.Violation, rule *models.Rule, user *models.User) {
	if w.publisher == nil {
		return
	}

	current, err := w.store.GetUser(ctx, v.UserID)
	if err != nil {
		logging.Warn().Err(err).Str("user_id", v.UserID).Msg("Failed to reload user after violation")
		current = user
	}

	event := models.ViolationEvent{
		Violation: *v,
		User:      current.Summary(),
		Rule:      rule.Summary(),
	}
	if err := w.publisher.Publish(ctx, models.EventViolationNew, event); err != nil {
		metrics.PublishErrors.WithLabelValues(models.EventViolationNew).Inc()
		logging.Warn().Err(err).Str("violation_id", v.ID).Msg("Failed to publish violation")
		return
	}
	metrics.EventsPublished.WithLabelValues(models.EventViolationNew).Inc()
}
