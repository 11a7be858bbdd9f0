// Package ledger derives the UTXO state of a chain by verifying blocks against it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/chain"
	"github.com/goodnatureofminers/blockinsight7000-bridge/pkg/safe"
)

var (
	// ErrVerification is returned when a block breaks a ledger rule.
	ErrVerification = errors.New("block verification failed")
	// ErrUnknownAncestor is returned when a chain does not lead back to the genesis block.
	ErrUnknownAncestor = errors.New("chain does not reach genesis")
)

var cloneState = (*State).clone

// BlockSource reads stored blocks by hash.
type BlockSource interface {
	ReadBlock(hash chainhash.Hash) (*chain.Block, error)
}

// Ledger applies blocks of one network.
type Ledger struct {
	params *chaincfg.Params
}

// New creates a Ledger for the given chain parameters.
func New(params *chaincfg.Params) *Ledger {
	return &Ledger{params: params}
}

// Params returns the chain parameters of the ledger.
func (l *Ledger) Params() *chaincfg.Params {
	return l.params
}

// Genesis returns the state right after the genesis block.
// The genesis coinbase is not spendable and stays out of the UTXO set.
func (l *Ledger) Genesis() *State {
	genesis := l.params.GenesisBlock
	return &State{
		LastBlock: *l.params.GenesisHash,
		Timestamp: genesis.Header.Timestamp.UTC(),
		TxCount:   uint64(len(genesis.Transactions)),
		utxos:     make(map[wire.OutPoint]Output),
	}
}

// Restore rebuilds the state at head by replaying the chain from genesis.
func (l *Ledger) Restore(ctx context.Context, src BlockSource, head chainhash.Hash) (*State, error) {
	var path []chainhash.Hash
	for cur := head; cur != *l.params.GenesisHash; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blk, err := src.ReadBlock(cur)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrUnknownAncestor, cur, err)
		}
		if blk.Height == 0 {
			return nil, fmt.Errorf("%w: foreign genesis %s", ErrUnknownAncestor, cur)
		}
		path = append(path, cur)
		cur = blk.PrevHash()
	}
	slices.Reverse(path)

	state := l.Genesis()
	for _, hash := range path {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blk, err := src.ReadBlock(hash)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hash, err)
		}
		if err := l.apply(state, blk); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// VerifyAndExtend checks blk against state and returns the state after it.
// state itself is left untouched.
func (l *Ledger) VerifyAndExtend(state *State, blk *chain.Block) (*State, error) {
	return l.Extend(state, []*chain.Block{blk})
}

// Extend applies blocks, oldest first, to a single copy of state and returns
// that copy. state itself is left untouched, also when a block fails.
func (l *Ledger) Extend(state *State, blocks []*chain.Block) (*State, error) {
	if state == nil {
		return nil, errors.New("extend: nil state")
	}
	next := cloneState(state)
	for _, blk := range blocks {
		if err := l.apply(next, blk); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func (l *Ledger) apply(state *State, blk *chain.Block) error {
	hash := blk.Hash()
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: block %s at height %d: %s", ErrVerification, hash, blk.Height, fmt.Sprintf(format, args...))
	}

	if blk.PrevHash() != state.LastBlock {
		return fail("parent %s, want %s", blk.PrevHash(), state.LastBlock)
	}
	if blk.Height != state.Height+1 {
		return fail("expected height %d", state.Height+1)
	}
	txs := blk.MsgBlock.Transactions
	if len(txs) == 0 {
		return fail("no transactions")
	}
	if !blockchain.IsCoinBaseTx(txs[0]) {
		return fail("first transaction is not a coinbase")
	}

	wrapped := make([]*btcutil.Tx, len(txs))
	for i, tx := range txs {
		if i > 0 && blockchain.IsCoinBaseTx(tx) {
			return fail("transaction %d is a second coinbase", i)
		}
		wrapped[i] = btcutil.NewTx(tx)
		if err := blockchain.CheckTransactionSanity(wrapped[i]); err != nil {
			return fail("transaction %s: %v", wrapped[i].Hash(), err)
		}
	}
	if root := blockchain.CalcMerkleRoot(wrapped, false); root != blk.MsgBlock.Header.MerkleRoot {
		return fail("merkle root %s, header has %s", root, blk.MsgBlock.Header.MerkleRoot)
	}

	var fees int64
	for _, tx := range wrapped[1:] {
		var in int64
		for _, txIn := range tx.MsgTx().TxIn {
			prev, ok := state.utxos[txIn.PreviousOutPoint]
			if !ok {
				return fail("transaction %s spends missing output %s", tx.Hash(), txIn.PreviousOutPoint)
			}
			if prev.Coinbase && blk.Height-prev.Height < uint64(l.params.CoinbaseMaturity) {
				return fail("transaction %s spends immature coinbase %s", tx.Hash(), txIn.PreviousOutPoint)
			}
			in += prev.Value
			state.Supply -= prev.Value
			delete(state.utxos, txIn.PreviousOutPoint)
		}
		out := addOutputs(state, tx, blk.Height, false)
		if in < out {
			return fail("transaction %s spends %d with %d in", tx.Hash(), out, in)
		}
		fees += in - out
	}

	height, err := safe.Int32(blk.Height)
	if err != nil {
		return fail("%v", err)
	}
	subsidy := blockchain.CalcBlockSubsidy(height, l.params)
	if claimed := addOutputs(state, wrapped[0], blk.Height, true); claimed > subsidy+fees {
		return fail("coinbase claims %d, allowed %d", claimed, subsidy+fees)
	}

	state.LastBlock = hash
	state.Height = blk.Height
	state.Timestamp = blk.Timestamp()
	state.TxCount += uint64(len(txs))
	return nil
}

func addOutputs(state *State, tx *btcutil.Tx, height uint64, coinbase bool) int64 {
	var total int64
	for i, txOut := range tx.MsgTx().TxOut {
		total += txOut.Value
		if txscript.IsUnspendable(txOut.PkScript) {
			continue
		}
		op := wire.OutPoint{Hash: *tx.Hash(), Index: uint32(i)}
		// A duplicate txid replaces the earlier output.
		if old, ok := state.utxos[op]; ok {
			state.Supply -= old.Value
		}
		state.utxos[op] = Output{Value: txOut.Value, PkScript: txOut.PkScript, Height: height, Coinbase: coinbase}
		state.Supply += txOut.Value
	}
	return total
}
