// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package services

import (
	"context"
	"time"

	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/metrics"
)

// TrustRecoverer raises every user's trust score by amount, capped at the
// maximum. Satisfied by *database.DB.
type TrustRecoverer interface {
	RecoverTrustScores(ctx context.Context, amount int) (int64, error)
}

// TrustRecoveryService periodically restores trust scores lowered by
// violations. A failed run is logged and retried on the next interval; it
// never stops the service.
type TrustRecoveryService struct {
	store    TrustRecoverer
	amount   int
	interval time.Duration
	name     string
}

// NewTrustRecoveryService creates the job. A non-positive interval defaults
// to 24h.
func NewTrustRecoveryService(store TrustRecoverer, amount int, interval time.Duration) *TrustRecoveryService {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &TrustRecoveryService{
		store:    store,
		amount:   amount,
		interval: interval,
		name:     "trust-recovery",
	}
}

// Serve implements suture.Service. With a zero amount the job idles until
// ctx ends.
func (s *TrustRecoveryService) Serve(ctx context.Context) error {
	if s.amount <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single recovery pass.
func (s *TrustRecoveryService) RunOnce(ctx context.Context) {
	n, err := s.store.RecoverTrustScores(ctx, s.amount)
	if err != nil {
		metrics.TrustRecoveryRuns.WithLabelValues("error").Inc()
		logging.Ctx(ctx).Error().Err(err).Msg("Trust score recovery failed")
		return
	}
	metrics.TrustRecoveryRuns.WithLabelValues("success").Inc()
	logging.Ctx(ctx).Info().
		Int("amount", s.amount).
		Int64("users_recovered", n).
		Msg("Trust scores recovered")
}

func (s *TrustRecoveryService) String() string {
	return s.name
}
