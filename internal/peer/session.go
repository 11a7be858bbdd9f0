package peer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/chain"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/storage"
	"github.com/goodnatureofminers/blockinsight7000-bridge/pkg/safe"
	"github.com/goodnatureofminers/blockinsight7000-bridge/pkg/workerpool"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// Session is one connection to the node.
type Session struct {
	client  RPCClient
	store   Store
	params  *chaincfg.Params
	opts    Options
	limiter ratelimit.Limiter
	wait    func(ctx context.Context, d time.Duration, signal <-chan struct{}) error
	logger  *zap.Logger
}

// SyncOnce appends every block up to the node's current tip and returns the stored tip.
// A stored branch the node abandoned is rewound first.
func (s *Session) SyncOnce(ctx context.Context) (chain.Tip, error) {
	local, err := s.ensureGenesis(ctx)
	if err != nil {
		return chain.Tip{}, err
	}

	count, err := s.client.GetBlockCount()
	if err != nil {
		return local, fmt.Errorf("get block count: %w", err)
	}
	target, err := safe.Uint64(count)
	if err != nil {
		return local, fmt.Errorf("block count: %w", err)
	}

	local, err = s.reconcile(ctx, local, target)
	if err != nil {
		return local, err
	}

	for local.Height < target {
		end := min(local.Height+uint64(s.opts.BatchSize), target)
		heights := make([]uint64, 0, end-local.Height)
		for h := local.Height + 1; h <= end; h++ {
			heights = append(heights, h)
		}

		blocks, err := workerpool.Map(ctx, s.opts.Workers, heights, s.fetch)
		if err != nil {
			return local, err
		}
		for _, blk := range blocks {
			if blk.PrevHash() != local.Hash {
				return local, fmt.Errorf("peer chain changed during sync at height %d", blk.Height)
			}
			if err := s.store.AppendBlock(blk); err != nil {
				return local, fmt.Errorf("append block %d: %w", blk.Height, err)
			}
			local = blk.Tip()
		}
		s.logger.Debug("stored blocks",
			zap.Uint64("from", heights[0]),
			zap.Uint64("to", local.Height),
			zap.Uint64("target", target),
		)
	}
	return local, nil
}

// WaitForNewTip blocks until the node reports a tip other than since that is not behind it.
func (s *Session) WaitForNewTip(ctx context.Context, since chain.Tip) (chain.Tip, error) {
	for {
		tip, err := s.peerTip()
		if err != nil {
			return chain.Tip{}, err
		}
		if tip.Hash != since.Hash && tip.Height >= since.Height {
			return tip, nil
		}
		if err := s.wait(ctx, s.opts.TipPollInterval, s.opts.Signal); err != nil {
			return chain.Tip{}, err
		}
	}
}

// Close shuts the client down.
func (s *Session) Close() {
	s.client.Shutdown()
}

func (s *Session) ensureGenesis(ctx context.Context) (chain.Tip, error) {
	tip, err := s.store.HeadTip()
	if err == nil {
		return tip, nil
	}
	if !errors.Is(err, storage.ErrNoSuchTag) {
		return chain.Tip{}, fmt.Errorf("read head: %w", err)
	}

	genesis, err := s.fetch(ctx, 0)
	if err != nil {
		return chain.Tip{}, err
	}
	if genesis.Hash() != *s.params.GenesisHash {
		return chain.Tip{}, fmt.Errorf("%w: genesis %s", ErrWrongChain, genesis.Hash())
	}
	if err := s.store.AppendBlock(genesis); err != nil {
		return chain.Tip{}, fmt.Errorf("append genesis: %w", err)
	}
	s.logger.Info("stored genesis block", zap.Stringer("hash", genesis.Hash()))
	return genesis.Tip(), nil
}

// reconcile rewinds the store to the last block it shares with the node.
func (s *Session) reconcile(ctx context.Context, local chain.Tip, peerHeight uint64) (chain.Tip, error) {
	height := min(local.Height, peerHeight)
	for depth := uint64(0); ; depth++ {
		if err := ctx.Err(); err != nil {
			return local, err
		}
		ours, err := s.store.BlockByHeight(height)
		if err != nil {
			return local, fmt.Errorf("read stored block %d: %w", height, err)
		}
		theirs, err := s.blockHash(height)
		if err != nil {
			return local, err
		}

		if *theirs == ours.Hash() {
			if depth == 0 {
				return local, nil
			}
			if err := s.store.Rewind(ours.Hash()); err != nil {
				return local, fmt.Errorf("rewind to %d: %w", height, err)
			}
			s.logger.Warn("peer reorganized, rewound stored chain",
				zap.Uint64("from", local.Height),
				zap.Uint64("to", height),
				zap.Stringer("ancestor", ours.Hash()),
			)
			return ours.Tip(), nil
		}

		if height == 0 {
			return local, fmt.Errorf("%w: genesis %s", ErrWrongChain, theirs)
		}
		if depth >= s.opts.MaxReorgDepth {
			return local, fmt.Errorf("%w: no common block within %d blocks of %d", ErrReorgTooDeep, s.opts.MaxReorgDepth, local.Height)
		}
		height--
	}
}

func (s *Session) fetch(ctx context.Context, height uint64) (*chain.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, err := s.blockHash(height)
	if err != nil {
		return nil, err
	}

	s.limiter.Take()
	msg, err := s.client.GetBlock(hash)
	if err != nil {
		return nil, fmt.Errorf("get block %d (%s): %w", height, hash, err)
	}
	if got := msg.BlockHash(); got != *hash {
		return nil, fmt.Errorf("get block %d: node returned %s for %s", height, got, hash)
	}
	return chain.NewBlock(height, msg), nil
}

func (s *Session) blockHash(height uint64) (*chainhash.Hash, error) {
	h, err := safe.Int64(height)
	if err != nil {
		return nil, err
	}
	s.limiter.Take()
	hash, err := s.client.GetBlockHash(h)
	if err != nil {
		return nil, fmt.Errorf("get block hash %d: %w", height, err)
	}
	return hash, nil
}

func (s *Session) peerTip() (chain.Tip, error) {
	hash, err := s.client.GetBestBlockHash()
	if err != nil {
		return chain.Tip{}, fmt.Errorf("get best block hash: %w", err)
	}
	count, err := s.client.GetBlockCount()
	if err != nil {
		return chain.Tip{}, fmt.Errorf("get block count: %w", err)
	}
	height, err := safe.Uint64(count)
	if err != nil {
		return chain.Tip{}, err
	}
	return chain.Tip{Hash: *hash, Height: height}, nil
}
