package chainstate

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Event tells the coordinator that the stored head may have moved.
type Event int

const (
	// NewTip signals a completed sync pass. It carries no payload; the head is re-read from storage.
	NewTip Event = iota + 1
)

func (e Event) String() string {
	switch e {
	case NewTip:
		return "new_tip"
	default:
		return "unknown"
	}
}

// DefaultQueueSize is the number of events buffered before Notify starts coalescing.
const DefaultQueueSize = 16

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithQueueSize sets the event buffer size. Values below one are raised to one.
func WithQueueSize(n int) CoordinatorOption {
	return func(c *Coordinator) {
		c.queueSize = max(n, 1)
	}
}

// WithResyncOnDivergence controls whether a diverged chain triggers a full rebuild.
func WithResyncOnDivergence(enabled bool) CoordinatorOption {
	return func(c *Coordinator) {
		c.resync = enabled
	}
}

// Coordinator is the single consumer of a network's events and the only
// caller of its cache's Update, so updates never overlap.
type Coordinator struct {
	updater   Updater
	logger    *zap.Logger
	resync    bool
	queueSize int

	mu     sync.RWMutex
	closed bool
	events chan Event
}

// NewCoordinator builds a Coordinator driving updater.
func NewCoordinator(updater Updater, logger *zap.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		updater:   updater,
		logger:    logger,
		resync:    true,
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = make(chan Event, c.queueSize)
	return c
}

// Notify queues a NewTip event without blocking. When the queue is full the
// event is dropped: a queued event already makes the coordinator re-read the head.
func (c *Coordinator) Notify() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrCoordinatorClosed
	}
	select {
	case c.events <- NewTip:
	default:
		c.logger.Debug("event queue full, notification coalesced")
	}
	return nil
}

// Close stops accepting events. Run drains queued events and returns.
// Close is safe to call more than once.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}

// Run consumes events until the coordinator is closed or ctx is canceled.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-c.events:
			if !ok {
				c.logger.Info("event channel closed, coordinator stopped")
				return nil
			}
			c.handle(ctx, ev)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ev Event) {
	if ev != NewTip {
		c.logger.Warn("ignoring unknown event", zap.Stringer("event", ev))
		return
	}

	err := c.updater.Update(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
	case errors.Is(err, ErrChainVerification):
		c.logger.Warn("chain state update rejected, keeping current state", zap.Error(err))
	case errors.Is(err, ErrDivergedChain):
		c.logger.Error("stored chain diverged from cached state", zap.Error(err), zap.Bool("resync", c.resync))
		if c.resync {
			c.rebuild(ctx)
		}
	default:
		c.logger.Error("chain state update failed", zap.Error(err))
	}
}

func (c *Coordinator) rebuild(ctx context.Context) {
	if err := c.updater.Rebuild(ctx); err != nil {
		if ctx.Err() == nil {
			c.logger.Error("chain state rebuild failed", zap.Error(err))
		}
		return
	}
	c.logger.Info("chain state rebuilt after divergence")
}
