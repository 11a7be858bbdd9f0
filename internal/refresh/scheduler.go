// Package refresh keeps a network's block store in step with its peer.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/clock"
	"go.uber.org/zap"
)

// ErrRetriesExhausted is returned once RetryPolicy.MaxAttempts consecutive attempts failed.
var ErrRetriesExhausted = errors.New("refresh retries exhausted")

const defaultRetryDelay = 10 * time.Second

// RetryPolicy controls how the scheduler recovers from failures.
type RetryPolicy struct {
	// Delay is the fixed pause before reconnecting.
	Delay time.Duration
	// MaxAttempts bounds consecutive failed attempts; zero retries forever.
	MaxAttempts int
}

// DefaultRetryPolicy retries forever every ten seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Delay: defaultRetryDelay}
}

// Scheduler repeatedly syncs with the peer and notifies the coordinator after every pass.
type Scheduler struct {
	dialer   Dialer
	notifier Notifier
	metrics  Metrics
	policy   RetryPolicy
	sleep    func(context.Context, time.Duration) error
	logger   *zap.Logger
}

// New builds a Scheduler.
func New(dialer Dialer, notifier Notifier, metrics Metrics, policy RetryPolicy, logger *zap.Logger) (*Scheduler, error) {
	if metrics == nil {
		return nil, errors.New("refresh scheduler metrics is required")
	}
	if policy.Delay <= 0 {
		policy.Delay = defaultRetryDelay
	}
	return &Scheduler{
		dialer:   dialer,
		notifier: notifier,
		metrics:  metrics,
		policy:   policy,
		sleep:    clock.SleepWithContext,
		logger:   logger,
	}, nil
}

// Run syncs until ctx is canceled or the retry policy gives up.
func (s *Scheduler) Run(ctx context.Context) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		synced, err := s.run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if synced {
			failures = 0
		}
		failures++

		if s.policy.MaxAttempts > 0 && failures >= s.policy.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, failures, err)
		}
		s.logger.Warn("refresh failed, backing off",
			zap.Error(err),
			zap.Duration("sleep", s.policy.Delay),
			zap.Int("failures", failures),
		)
		if sleepErr := s.sleep(ctx, s.policy.Delay); sleepErr != nil {
			return sleepErr
		}
	}
}

// run performs one connection lifetime. It only returns on failure and
// reports whether at least one pass succeeded.
func (s *Scheduler) run(ctx context.Context) (bool, error) {
	started := time.Now()
	session, err := s.dialer.Dial(ctx)
	s.metrics.ObserveDial(err, started)
	if err != nil {
		return false, fmt.Errorf("dial peer: %w", err)
	}
	defer session.Close()

	synced := false
	for {
		started = time.Now()
		tip, err := session.SyncOnce(ctx)
		s.metrics.ObserveSync(err, tip.Height, started)
		if err != nil {
			return synced, fmt.Errorf("sync: %w", err)
		}
		synced = true

		if err := s.notifier.Notify(); err != nil {
			s.logger.Warn("new tip notification dropped", zap.Error(err))
		}
		s.logger.Debug("synced with peer", zap.Uint64("height", tip.Height), zap.Stringer("hash", tip.Hash))

		if _, err := session.WaitForNewTip(ctx, tip); err != nil {
			return synced, fmt.Errorf("wait for new tip: %w", err)
		}
	}
}
