package ledger

import (
	"bytes"
	"cmp"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Output is an unspent transaction output.
type Output struct {
	Value    int64
	PkScript []byte
	Height   uint64
	Coinbase bool
}

// UTXO pairs an unspent output with the outpoint that references it.
type UTXO struct {
	OutPoint wire.OutPoint
	Output
}

// State is the ledger state after applying every block up to LastBlock.
// A State is never modified once returned; advancing produces a new State.
type State struct {
	LastBlock chainhash.Hash
	Height    uint64
	Timestamp time.Time
	// Supply is the sum of all unspent output values in satoshi.
	Supply  int64
	TxCount uint64

	utxos map[wire.OutPoint]Output

	sortOnce sync.Once
	sorted   []wire.OutPoint
}

// UTXO looks up an unspent output.
func (s *State) UTXO(op wire.OutPoint) (Output, bool) {
	out, ok := s.utxos[op]
	return out, ok
}

// UTXOCount returns the size of the unspent output set.
func (s *State) UTXOCount() int {
	return len(s.utxos)
}

// UTXOs returns up to limit unspent outputs ordered by outpoint, skipping the first offset.
func (s *State) UTXOs(offset, limit int) []UTXO {
	s.sortOnce.Do(func() {
		s.sorted = slices.SortedFunc(maps.Keys(s.utxos), compareOutPoints)
	})
	if offset < 0 || offset >= len(s.sorted) || limit <= 0 {
		return nil
	}
	end := min(offset+limit, len(s.sorted))

	out := make([]UTXO, 0, end-offset)
	for _, op := range s.sorted[offset:end] {
		out = append(out, UTXO{OutPoint: op, Output: s.utxos[op]})
	}
	return out
}

func (s *State) clone() *State {
	return &State{
		LastBlock: s.LastBlock,
		Height:    s.Height,
		Timestamp: s.Timestamp,
		Supply:    s.Supply,
		TxCount:   s.TxCount,
		utxos:     maps.Clone(s.utxos),
	}
}

func compareOutPoints(a, b wire.OutPoint) int {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c
	}
	return cmp.Compare(a.Index, b.Index)
}
