// Package chaintest builds small regtest chains for tests.
package chaintest

import (
	"encoding/binary"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/chain"
)

// Params are the chain parameters every helper builds against.
var Params = &chaincfg.RegressionNetParams

// PayScript is a P2PKH script paying to a fixed key hash.
var PayScript = mustPayScript()

// Genesis returns the regtest genesis block.
func Genesis() *chain.Block {
	return chain.NewBlock(0, Params.GenesisBlock)
}

// Child builds a valid block on top of parent containing a coinbase followed by txs.
// Siblings built with different tags have different hashes.
func Child(parent *chain.Block, tag byte, txs ...*wire.MsgTx) *chain.Block {
	height := parent.Height + 1
	coinbase := Coinbase(height, blockchain.CalcBlockSubsidy(int32(height), Params), tag)
	all := append([]*wire.MsgTx{coinbase}, txs...)

	header := wire.BlockHeader{
		Version:    4,
		PrevBlock:  parent.Hash(),
		MerkleRoot: MerkleRoot(all),
		Timestamp:  parent.Timestamp().Add(10 * time.Minute),
		Bits:       Params.PowLimitBits,
	}
	msg := wire.NewMsgBlock(&header)
	for _, tx := range all {
		_ = msg.AddTransaction(tx)
	}
	return chain.NewBlock(height, msg)
}

// Extend builds n consecutive empty blocks on top of parent.
func Extend(parent *chain.Block, n int, tag byte) []*chain.Block {
	blocks := make([]*chain.Block, 0, n)
	for i := 0; i < n; i++ {
		parent = Child(parent, tag)
		blocks = append(blocks, parent)
	}
	return blocks
}

// Coinbase builds a coinbase transaction paying value to PayScript.
func Coinbase(height uint64, value int64, tag byte) *wire.MsgTx {
	script := make([]byte, 9)
	binary.LittleEndian.PutUint64(script, height)
	script[8] = tag

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), script, nil))
	tx.AddTxOut(wire.NewTxOut(value, PayScript))
	return tx
}

// Spend builds a transaction spending output index of prev into a single output of value.
func Spend(prev *wire.MsgTx, index uint32, value int64) *wire.MsgTx {
	prevHash := prev.TxHash()
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, index), nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, PayScript))
	return tx
}

// MerkleRoot computes the header merkle root of txs.
func MerkleRoot(txs []*wire.MsgTx) chainhash.Hash {
	wrapped := make([]*btcutil.Tx, len(txs))
	for i, tx := range txs {
		wrapped[i] = btcutil.NewTx(tx)
	}
	return blockchain.CalcMerkleRoot(wrapped, false)
}

// Rehash recomputes the merkle root of blk after its transactions were modified.
func Rehash(blk *chain.Block) *chain.Block {
	blk.MsgBlock.Header.MerkleRoot = MerkleRoot(blk.MsgBlock.Transactions)
	return blk
}

func mustPayScript() []byte {
	keyHash := make([]byte, 20)
	for i := range keyHash {
		keyHash[i] = byte(i + 1)
	}
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(keyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		panic("build pay script: " + err.Error())
	}
	return script
}
