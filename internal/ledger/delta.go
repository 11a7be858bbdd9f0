package ledger

import (
	"errors"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/chain"
)

// ErrDetachedRange is returned when a run of blocks does not link a base block
// to the last block of a state.
var ErrDetachedRange = errors.New("blocks do not lead to the state")

// Delta is the UTXO set change between a base block and a State.
type Delta struct {
	// Created holds outputs added after the base block that are still unspent.
	Created []UTXO
	// Spent holds outpoints created at or below the base block and spent after it.
	Spent   []wire.OutPoint
	Blocks  int
	TxCount uint64
}

// CreatedValue sums the values of the created outputs.
func (d Delta) CreatedValue() int64 {
	var total int64
	for _, u := range d.Created {
		total += u.Value
	}
	return total
}

// Changes reports how blocks, the chain from the child of base up to
// state.LastBlock, changed the UTXO set. Outputs both created and spent
// within blocks appear in neither list.
func Changes(state *State, base chainhash.Hash, blocks []*chain.Block) (Delta, error) {
	if state == nil {
		return Delta{}, errors.New("changes: nil state")
	}

	prev := base
	for _, blk := range blocks {
		if blk.PrevHash() != prev {
			return Delta{}, fmt.Errorf("%w: block %s at height %d does not follow %s",
				ErrDetachedRange, blk.Hash(), blk.Height, prev)
		}
		prev = blk.Hash()
	}
	if prev != state.LastBlock {
		return Delta{}, fmt.Errorf("%w: range ends at %s, state is at %s", ErrDetachedRange, prev, state.LastBlock)
	}

	delta := Delta{Blocks: len(blocks)}
	created := make(map[chainhash.Hash]struct{})
	for _, blk := range blocks {
		delta.TxCount += uint64(len(blk.MsgBlock.Transactions))
		for _, tx := range blk.MsgBlock.Transactions {
			if !blockchain.IsCoinBaseTx(tx) {
				for _, in := range tx.TxIn {
					if _, ok := created[in.PreviousOutPoint.Hash]; ok {
						continue
					}
					delta.Spent = append(delta.Spent, in.PreviousOutPoint)
				}
			}

			txid := tx.TxHash()
			created[txid] = struct{}{}
			for i := range tx.TxOut {
				op := wire.OutPoint{Hash: txid, Index: uint32(i)}
				// Height tells apart an earlier output replaced by a duplicate txid.
				if out, ok := state.UTXO(op); ok && out.Height == blk.Height {
					delta.Created = append(delta.Created, UTXO{OutPoint: op, Output: out})
				}
			}
		}
	}

	slices.SortFunc(delta.Created, func(a, b UTXO) int { return compareOutPoints(a.OutPoint, b.OutPoint) })
	slices.SortFunc(delta.Spent, compareOutPoints)
	return delta, nil
}
