// Package service runs the background tasks of every configured network.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/chainstate"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/metrics"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/peer"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/pkg/btcd/rpcclient"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/refresh"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// SignalFunc opens an optional new-block signal for a network. A nil
// channel means the peer is only polled.
type SignalFunc func(ctx context.Context, network *registry.Network) (<-chan struct{}, error)

// ConnectFunc opens a node client for a network.
type ConnectFunc func(network *registry.Network) (peer.RPCClient, error)

// Options configures ExplorerService.
type Options struct {
	// Sync starts a refresh scheduler per network; without it stored blocks are served as is.
	Sync               bool
	Retry              refresh.RetryPolicy
	ResyncOnDivergence bool
	QueueSize          int
	Signal             SignalFunc
	Connect            ConnectFunc
	Health             HealthReporter
}

// ExplorerService supervises the coordinator and scheduler of every network.
type ExplorerService struct {
	networks []*registry.Network
	opts     Options
	logger   *zap.Logger
}

// NewExplorerService builds the service for networks.
func NewExplorerService(networks []*registry.Network, opts Options, logger *zap.Logger) *ExplorerService {
	if opts.Connect == nil {
		opts.Connect = ConnectRPC
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = chainstate.DefaultQueueSize
	}
	return &ExplorerService{
		networks: networks,
		opts:     opts,
		logger:   logger,
	}
}

// ConnectRPC dials the node configured for network and instruments the client.
func ConnectRPC(network *registry.Network) (peer.RPCClient, error) {
	rpc := network.Config.RPC
	client, err := rpcclient.Dial(rpc.URL, rpc.User, rpc.Password)
	if err != nil {
		return nil, err
	}
	return rpcclient.NewObservedClient(client, metrics.NewRPCClient(network.Name)), nil
}

// Run blocks until ctx is canceled or every network's tasks have stopped.
// A failing network never stops the others.
func (s *ExplorerService) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range s.networks {
		logger := s.logger.With(zap.String("network", n.Name))
		s.setStatus(n.Name, healthpb.HealthCheckResponse_SERVING)
		if !s.opts.Sync {
			logger.Info("sync disabled, serving stored blocks")
			continue
		}

		coordinator := chainstate.NewCoordinator(n.Cache, logger.Named("coordinator"),
			chainstate.WithQueueSize(s.opts.QueueSize),
			chainstate.WithResyncOnDivergence(s.opts.ResyncOnDivergence),
		)
		g.Go(func() error {
			return coordinator.Run(ctx)
		})
		g.Go(func() error {
			defer coordinator.Close()
			return s.sync(ctx, n, coordinator, logger)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *ExplorerService) sync(ctx context.Context, n *registry.Network, notifier refresh.Notifier, logger *zap.Logger) error {
	scheduler, err := s.scheduler(ctx, n, notifier, logger)
	if err != nil {
		logger.Error("failed to start refresh scheduler", zap.Error(err))
		s.setStatus(n.Name, healthpb.HealthCheckResponse_NOT_SERVING)
		return nil
	}

	err = scheduler.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logger.Error("refresh scheduler stopped", zap.Error(err))
	s.setStatus(n.Name, healthpb.HealthCheckResponse_NOT_SERVING)
	return nil
}

func (s *ExplorerService) scheduler(ctx context.Context, n *registry.Network, notifier refresh.Notifier, logger *zap.Logger) (*refresh.Scheduler, error) {
	var signal <-chan struct{}
	if s.opts.Signal != nil {
		ch, err := s.opts.Signal(ctx, n)
		if err != nil {
			logger.Warn("new block signal unavailable, polling only", zap.Error(err))
		} else {
			signal = ch
		}
	}

	cfg := n.Config.Sync
	dialer := peer.NewDialer(
		func() (peer.RPCClient, error) { return s.opts.Connect(n) },
		n.Store,
		n.Params,
		peer.Options{
			BatchSize:       cfg.BatchSize,
			Workers:         cfg.Workers,
			RPS:             cfg.RPS,
			MaxReorgDepth:   cfg.MaxReorgDepth,
			TipPollInterval: cfg.TipPollInterval,
			Signal:          signal,
		},
		logger.Named("peer"),
	)
	dial := refresh.DialFunc(func(ctx context.Context) (refresh.Session, error) {
		session, err := dialer.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return session, nil
	})

	scheduler, err := refresh.New(dial, notifier, metrics.NewRefreshScheduler(n.Name), s.opts.Retry, logger.Named("refresh"))
	if err != nil {
		return nil, fmt.Errorf("new refresh scheduler: %w", err)
	}
	return scheduler, nil
}

func (s *ExplorerService) setStatus(network string, status healthpb.HealthCheckResponse_ServingStatus) {
	if s.opts.Health != nil {
		s.opts.Health.SetServingStatus(network, status)
	}
}
