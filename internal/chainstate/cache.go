// Package chainstate keeps a validated chain-state snapshot per network and
// advances it incrementally as storage grows.
package chainstate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/chain"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/ledger"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/storage"
	"go.uber.org/zap"
)

// Cache serves the latest ledger state of one network.
type Cache struct {
	storage Storage
	ledger  Ledger
	metrics CacheMetrics
	logger  *zap.Logger

	// mu serializes Initialize, Update and Rebuild; readers never take it.
	mu       sync.Mutex
	snapshot Register[ledger.State]
	updates  atomic.Uint64
}

// New builds an empty Cache. Call Initialize to load the stored chain.
func New(storage Storage, ledger Ledger, metrics CacheMetrics, logger *zap.Logger) (*Cache, error) {
	if metrics == nil {
		return nil, errors.New("chain state cache metrics is required")
	}
	return &Cache{
		storage: storage,
		ledger:  ledger,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Initialize restores the state at the stored head from genesis.
// It returns ErrNoHead when storage is empty; the cache then stays empty
// until the first Update finds a head.
func (c *Cache) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuild(ctx)
}

// Rebuild discards the cached state and restores it from genesis.
func (c *Cache) Rebuild(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuild(ctx)
}

// Read returns the latest published state, nil while the chain is empty.
// The returned state never changes.
func (c *Cache) Read() *ledger.State {
	return c.snapshot.Current()
}

// Load returns the latest state together with its version.
func (c *Cache) Load() (*ledger.State, uint64) {
	return c.snapshot.Load()
}

// Version returns how many states have been published.
func (c *Cache) Version() uint64 {
	return c.snapshot.Version()
}

// Updates returns the number of Update calls that found a new head.
func (c *Cache) Updates() uint64 {
	return c.updates.Load()
}

// Update advances the cached state to the stored head by verifying every
// block between them. It is a no-op when the head is already cached. On
// failure the published state is left as it was.
func (c *Cache) Update(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	head, err := c.storage.Head()
	if errors.Is(err, storage.ErrNoSuchTag) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read head: %w", ErrStorage, err)
	}

	current := c.snapshot.Current()
	if current == nil {
		return c.restore(ctx, head)
	}
	if head == current.LastBlock {
		return nil
	}
	c.updates.Add(1)

	started := time.Now()
	blocks, err := c.walk(ctx, head, current)
	var next *ledger.State
	if err == nil {
		next, err = c.extend(current, blocks)
	}
	c.metrics.ObserveUpdate(err, len(blocks), started)
	if err != nil {
		return err
	}

	c.publish(next)
	c.logger.Debug("chain state advanced",
		zap.Uint64("from_height", current.Height),
		zap.Uint64("height", next.Height),
		zap.Stringer("hash", next.LastBlock),
		zap.Int("blocks", len(blocks)),
	)
	return nil
}

func (c *Cache) rebuild(ctx context.Context) error {
	head, err := c.storage.Head()
	if errors.Is(err, storage.ErrNoSuchTag) {
		return ErrNoHead
	}
	if err != nil {
		return fmt.Errorf("%w: read head: %w", ErrStorage, err)
	}
	return c.restore(ctx, head)
}

func (c *Cache) restore(ctx context.Context, head chainhash.Hash) error {
	started := time.Now()
	state, err := c.ledger.Restore(ctx, c.storage, head)
	c.metrics.ObserveRebuild(err, started)
	if err != nil {
		return fmt.Errorf("restore chain state at %s: %w", head, err)
	}

	c.publish(state)
	c.logger.Info("chain state restored",
		zap.Uint64("height", state.Height),
		zap.Stringer("hash", state.LastBlock),
		zap.Int("utxos", state.UTXOCount()),
		zap.Duration("took", time.Since(started)),
	)
	return nil
}

// walk collects the blocks from head back to the cached block, oldest first.
func (c *Cache) walk(ctx context.Context, head chainhash.Hash, current *ledger.State) ([]*chain.Block, error) {
	var blocks []*chain.Block
	for cur := head; cur != current.LastBlock; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blk, err := c.storage.ReadBlock(cur)
		if errors.Is(err, storage.ErrHashNotFound) {
			return nil, fmt.Errorf("%w: block %s missing before reaching %s", ErrDivergedChain, cur, current.LastBlock)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read block %s: %w", ErrStorage, cur, err)
		}
		if blk.Height <= current.Height {
			return nil, fmt.Errorf("%w: reached height %d at %s without meeting %s",
				ErrDivergedChain, blk.Height, cur, current.LastBlock)
		}
		blocks = append(blocks, blk)
		cur = blk.PrevHash()
	}
	slices.Reverse(blocks)
	return blocks, nil
}

func (c *Cache) extend(state *ledger.State, blocks []*chain.Block) (*ledger.State, error) {
	next, err := c.ledger.Extend(state, blocks)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChainVerification, err)
	}
	return next, nil
}

func (c *Cache) publish(state *ledger.State) {
	c.snapshot.Publish(state)
	c.metrics.SetSnapshotHeight(state.Height)
}
