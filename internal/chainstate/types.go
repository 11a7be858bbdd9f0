package chainstate

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/chain"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/ledger"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	Storage interface {
		Head() (chainhash.Hash, error)
		ReadBlock(hash chainhash.Hash) (*chain.Block, error)
	}
	Ledger interface {
		Restore(ctx context.Context, src ledger.BlockSource, head chainhash.Hash) (*ledger.State, error)
		Extend(state *ledger.State, blocks []*chain.Block) (*ledger.State, error)
	}
	CacheMetrics interface {
		ObserveUpdate(err error, blocks int, started time.Time)
		ObserveRebuild(err error, started time.Time)
		SetSnapshotHeight(height uint64)
	}
	Updater interface {
		Update(ctx context.Context) error
		Rebuild(ctx context.Context) error
	}
)
