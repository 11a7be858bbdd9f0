// Package peer synchronizes a local block store with a remote node over JSON-RPC.
package peer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/clock"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

var (
	// ErrWrongChain is returned when the peer's genesis block differs from the network's.
	ErrWrongChain = errors.New("peer is on a different chain")
	// ErrReorgTooDeep is returned when no common ancestor is found within MaxReorgDepth blocks.
	ErrReorgTooDeep = errors.New("reorganization deeper than allowed")
)

const (
	defaultBatchSize       = 50
	defaultWorkers         = 8
	defaultRPS             = 100
	defaultMaxReorgDepth   = 100
	defaultTipPollInterval = 5 * time.Second
)

// Options tunes synchronization.
type Options struct {
	BatchSize int
	Workers   int
	// RPS caps node requests per second. Zero selects the default and a
	// negative value disables the limit.
	RPS             int
	MaxReorgDepth   uint64
	TipPollInterval time.Duration
	// Signal wakes WaitForNewTip before the poll interval elapses.
	Signal <-chan struct{}
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.RPS == 0 {
		o.RPS = defaultRPS
	}
	if o.MaxReorgDepth == 0 {
		o.MaxReorgDepth = defaultMaxReorgDepth
	}
	if o.TipPollInterval <= 0 {
		o.TipPollInterval = defaultTipPollInterval
	}
	return o
}

// ConnectFunc opens a client to the node.
type ConnectFunc func() (RPCClient, error)

// Dialer opens sessions against one node for one store.
type Dialer struct {
	connect ConnectFunc
	store   Store
	params  *chaincfg.Params
	opts    Options
	limiter ratelimit.Limiter
	logger  *zap.Logger
}

// NewDialer builds a Dialer. Sessions share one request limiter.
func NewDialer(connect ConnectFunc, store Store, params *chaincfg.Params, opts Options, logger *zap.Logger) *Dialer {
	opts = opts.withDefaults()
	limiter := ratelimit.NewUnlimited()
	if opts.RPS > 0 {
		limiter = ratelimit.New(opts.RPS)
	}
	return &Dialer{
		connect: connect,
		store:   store,
		params:  params,
		opts:    opts,
		limiter: limiter,
		logger:  logger,
	}
}

// Dial connects to the node and checks that it serves the expected chain.
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := d.connect()
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	genesis, err := client.GetBlockHash(0)
	if err != nil {
		client.Shutdown()
		return nil, fmt.Errorf("get genesis hash: %w", err)
	}
	if *genesis != *d.params.GenesisHash {
		client.Shutdown()
		return nil, fmt.Errorf("%w: genesis %s, want %s (%s)", ErrWrongChain, genesis, d.params.GenesisHash, d.params.Name)
	}

	return &Session{
		client:  client,
		store:   d.store,
		params:  d.params,
		opts:    d.opts,
		limiter: d.limiter,
		wait:    clock.Wait,
		logger:  d.logger,
	}, nil
}
