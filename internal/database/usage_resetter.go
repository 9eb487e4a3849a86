package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// UsageResetter periodically zeroes usage for users whose billing period has ended.
type UsageResetter struct {
	store    UsageResetStore
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// NewUsageResetter creates a resetter that runs every interval.
func NewUsageResetter(store UsageResetStore, interval time.Duration, log *zap.Logger) *UsageResetter {
	if log == nil {
		log = zap.NewNop()
	}
	return &UsageResetter{
		store:    store,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Start runs the reset loop until ctx is cancelled. One pass runs immediately.
func (u *UsageResetter) Start(ctx context.Context) error {
	if _, err := u.RunOnce(ctx); err != nil {
		u.log.Warn("usage_reset_failed", zap.Error(err))
	}
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := u.RunOnce(ctx); err != nil {
				u.log.Warn("usage_reset_failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single reset pass and returns the number of users reset.
func (u *UsageResetter) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	now := u.now().UTC()
	n, err := u.store.ResetExpiredUsage(ctx, now, NextPeriodStart(now))
	if err != nil {
		return 0, fmt.Errorf("reset expired usage: %w", err)
	}
	if n > 0 {
		u.log.Info("usage_reset", zap.Int64("users", n))
	}
	return n, nil
}
