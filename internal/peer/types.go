package peer

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/chain"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	RPCClient interface {
		GetBestBlockHash() (*chainhash.Hash, error)
		GetBlockCount() (int64, error)
		GetBlockHash(blockHeight int64) (*chainhash.Hash, error)
		GetBlock(blockHash *chainhash.Hash) (*wire.MsgBlock, error)
		Shutdown()
	}
	Store interface {
		HeadTip() (chain.Tip, error)
		BlockByHeight(height uint64) (*chain.Block, error)
		AppendBlock(blk *chain.Block) error
		Rewind(hash chainhash.Hash) error
	}
)
