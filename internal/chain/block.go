// Package chain defines the block model shared by storage, ledger and peer components.
package chain

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const heightSize = 8

// Block is a wire block together with its height on the chain it was fetched from.
// Blocks are immutable once stored.
type Block struct {
	Height   uint64
	MsgBlock *wire.MsgBlock
}

// Tip identifies the most recent block of a chain.
type Tip struct {
	Hash   chainhash.Hash
	Height uint64
}

// NewBlock wraps msg at the given height.
func NewBlock(height uint64, msg *wire.MsgBlock) *Block {
	return &Block{Height: height, MsgBlock: msg}
}

// Hash returns the header hash identifying the block.
func (b *Block) Hash() chainhash.Hash {
	return b.MsgBlock.BlockHash()
}

// PrevHash returns the hash of the parent header.
func (b *Block) PrevHash() chainhash.Hash {
	return b.MsgBlock.Header.PrevBlock
}

// Timestamp returns the header time.
func (b *Block) Timestamp() time.Time {
	return b.MsgBlock.Header.Timestamp.UTC()
}

// Tip returns the block as a chain tip.
func (b *Block) Tip() Tip {
	return Tip{Hash: b.Hash(), Height: b.Height}
}

// Encode serializes the block as big-endian height followed by the wire encoding.
func (b *Block) Encode() ([]byte, error) {
	if b.MsgBlock == nil {
		return nil, errors.New("encode block: nil wire block")
	}
	var buf bytes.Buffer
	buf.Grow(heightSize + b.MsgBlock.SerializeSize())

	var height [heightSize]byte
	binary.BigEndian.PutUint64(height[:], b.Height)
	buf.Write(height[:])

	if err := b.MsgBlock.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("encode block %d: %w", b.Height, err)
	}
	return buf.Bytes(), nil
}

// DecodeBlock parses data produced by Encode.
func DecodeBlock(data []byte) (*Block, error) {
	if len(data) < heightSize {
		return nil, fmt.Errorf("decode block: got %d bytes", len(data))
	}
	height := binary.BigEndian.Uint64(data[:heightSize])

	var msg wire.MsgBlock
	if err := msg.Deserialize(bytes.NewReader(data[heightSize:])); err != nil {
		return nil, fmt.Errorf("decode block %d: %w", height, err)
	}
	return NewBlock(height, &msg), nil
}
