package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/chain"
)

var (
	// ErrNoSuchTag is returned when the head pointer has not been written yet.
	ErrNoSuchTag = errors.New("no such tag")
	// ErrHashNotFound is returned when no block is stored under a hash.
	ErrHashNotFound = errors.New("block hash not found")
	// ErrHeightNotFound is returned when no active-chain block exists at a height.
	ErrHeightNotFound = errors.New("block height not found")
	// ErrTxNotFound is returned when a transaction is not part of the active chain.
	ErrTxNotFound = errors.New("transaction not found")
	// ErrOrphanBlock is returned when an appended block does not extend the head.
	ErrOrphanBlock = errors.New("block does not extend the head")

	errStop = errors.New("stop iteration")
)

var (
	prefixBlock  = []byte("b/") // b/<hash(32)> -> height(8) | wire block
	prefixHeight = []byte("h/") // h/<height(8)> -> hash(32)
	prefixTx     = []byte("x/") // x/<txid(32)> -> height(8) | block hash(32) | index(4)
	keyHead      = []byte("t/HEAD")
)

const (
	tipSize        = chainhash.HashSize + 8
	txLocationSize = 8 + chainhash.HashSize + 4
)

// TxLocation points at a transaction inside an active-chain block.
type TxLocation struct {
	BlockHash chainhash.Hash
	Height    uint64
	Index     uint32
}

// Store is the append-only block store of one network. Every method holds the
// store lock for the duration of that call only.
type Store struct {
	mu sync.RWMutex
	db DB
}

// NewStore creates a block store backed by db.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// AppendBlock stores blk, indexes it and moves the head to it in one batch.
// blk must be the child of the current head, or the genesis block of an empty store.
func (s *Store) AppendBlock(blk *chain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.headTip()
	switch {
	case errors.Is(err, ErrNoSuchTag):
		if blk.Height != 0 {
			return fmt.Errorf("%w: height %d appended to empty store", ErrOrphanBlock, blk.Height)
		}
	case err != nil:
		return err
	default:
		if blk.PrevHash() != head.Hash || blk.Height != head.Height+1 {
			return fmt.Errorf("%w: block %s at height %d, head %s at height %d",
				ErrOrphanBlock, blk.Hash(), blk.Height, head.Hash, head.Height)
		}
	}

	hash := blk.Hash()
	// A block rewound away and appended again is still stored under its hash.
	stored, err := s.db.Has(blockKey(hash))
	if err != nil {
		return fmt.Errorf("block has: %w", err)
	}

	batch := s.db.NewBatch()
	if !stored {
		data, err := blk.Encode()
		if err != nil {
			return err
		}
		if err := batch.Put(blockKey(hash), data); err != nil {
			return fmt.Errorf("block put: %w", err)
		}
	}
	if err := batch.Put(heightKey(blk.Height), hash[:]); err != nil {
		return fmt.Errorf("height index put: %w", err)
	}
	for i, tx := range blk.MsgBlock.Transactions {
		txid := tx.TxHash()
		if err := batch.Put(txKey(txid), encodeTxLocation(TxLocation{BlockHash: hash, Height: blk.Height, Index: uint32(i)})); err != nil {
			return fmt.Errorf("tx index put %s: %w", txid, err)
		}
	}
	if err := batch.Put(keyHead, encodeTip(blk.Tip())); err != nil {
		return fmt.Errorf("head put: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("append block %s: %w", hash, err)
	}
	return nil
}

// ReadBlock retrieves a block by header hash.
func (s *Store) ReadBlock(hash chainhash.Hash) (*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readBlock(hash)
}

// Head returns the hash the head pointer refers to.
func (s *Store) Head() (chainhash.Hash, error) {
	tip, err := s.HeadTip()
	if err != nil {
		return chainhash.Hash{}, err
	}
	return tip.Hash, nil
}

// HeadTip returns the hash and height of the head block.
func (s *Store) HeadTip() (chain.Tip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headTip()
}

// HeadBlock returns the block the head pointer refers to.
func (s *Store) HeadBlock() (*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tip, err := s.headTip()
	if err != nil {
		return nil, err
	}
	return s.readBlock(tip.Hash)
}

// BlockByHeight returns the active-chain block at height.
func (s *Store) BlockByHeight(height uint64) (*chain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockByHeight(height)
}

// HashAtHeight returns the hash of the active-chain block at height.
func (s *Store) HashAtHeight(height uint64) (chainhash.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hashAtHeight(height)
}

// Blocks lists up to limit active-chain blocks starting at height from.
func (s *Store) Blocks(from uint64, limit int) ([]*chain.Block, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hashes := make([]chainhash.Hash, 0, limit)
	err := s.db.ForEach(prefixHeight, heightKey(from), func(_, value []byte) error {
		if len(value) != chainhash.HashSize {
			return fmt.Errorf("corrupt height index: got %d bytes, want %d", len(value), chainhash.HashSize)
		}
		var hash chainhash.Hash
		copy(hash[:], value)
		hashes = append(hashes, hash)
		if len(hashes) == limit {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, fmt.Errorf("height index scan: %w", err)
	}

	blocks := make([]*chain.Block, 0, len(hashes))
	for _, hash := range hashes {
		blk, err := s.readBlock(hash)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, blk)
	}
	return blocks, nil
}

// TxLocation returns where an active-chain transaction is stored.
func (s *Store) TxLocation(txid chainhash.Hash) (TxLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.db.Get(txKey(txid))
	if errors.Is(err, ErrNotFound) {
		return TxLocation{}, fmt.Errorf("%w: %s", ErrTxNotFound, txid)
	}
	if err != nil {
		return TxLocation{}, fmt.Errorf("tx index get: %w", err)
	}
	loc, err := decodeTxLocation(data)
	if err != nil {
		return TxLocation{}, err
	}

	// Entries of blocks rewound away stay behind; only trust the active chain.
	active, err := s.hashAtHeight(loc.Height)
	if errors.Is(err, ErrHeightNotFound) || (err == nil && active != loc.BlockHash) {
		return TxLocation{}, fmt.Errorf("%w: %s", ErrTxNotFound, txid)
	}
	if err != nil {
		return TxLocation{}, err
	}
	return loc, nil
}

// Rewind moves the head back to hash, an ancestor on the active chain.
// Blocks above it stay stored but leave the height index.
func (s *Store) Rewind(hash chainhash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blk, err := s.readBlock(hash)
	if err != nil {
		return err
	}
	active, err := s.hashAtHeight(blk.Height)
	if err != nil {
		return err
	}
	if active != hash {
		return fmt.Errorf("rewind to %s: block is not on the active chain", hash)
	}

	batch := s.db.NewBatch()
	err = s.db.ForEach(prefixHeight, heightKey(blk.Height+1), func(key, _ []byte) error {
		return batch.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("height index delete: %w", err)
	}
	if err := batch.Put(keyHead, encodeTip(blk.Tip())); err != nil {
		return fmt.Errorf("head put: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("rewind to %s: %w", hash, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) headTip() (chain.Tip, error) {
	data, err := s.db.Get(keyHead)
	if errors.Is(err, ErrNotFound) {
		return chain.Tip{}, ErrNoSuchTag
	}
	if err != nil {
		return chain.Tip{}, fmt.Errorf("head get: %w", err)
	}
	if len(data) != tipSize {
		return chain.Tip{}, fmt.Errorf("corrupt head: got %d bytes, want %d", len(data), tipSize)
	}
	var tip chain.Tip
	copy(tip.Hash[:], data[:chainhash.HashSize])
	tip.Height = binary.BigEndian.Uint64(data[chainhash.HashSize:])
	return tip, nil
}

func (s *Store) readBlock(hash chainhash.Hash) (*chain.Block, error) {
	data, err := s.db.Get(blockKey(hash))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrHashNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("block get: %w", err)
	}
	return chain.DecodeBlock(data)
}

func (s *Store) hashAtHeight(height uint64) (chainhash.Hash, error) {
	data, err := s.db.Get(heightKey(height))
	if errors.Is(err, ErrNotFound) {
		return chainhash.Hash{}, fmt.Errorf("%w: %d", ErrHeightNotFound, height)
	}
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("height index get: %w", err)
	}
	if len(data) != chainhash.HashSize {
		return chainhash.Hash{}, fmt.Errorf("corrupt height index: got %d bytes, want %d", len(data), chainhash.HashSize)
	}
	var hash chainhash.Hash
	copy(hash[:], data)
	return hash, nil
}

func (s *Store) blockByHeight(height uint64) (*chain.Block, error) {
	hash, err := s.hashAtHeight(height)
	if err != nil {
		return nil, err
	}
	return s.readBlock(hash)
}

func encodeTip(tip chain.Tip) []byte {
	out := make([]byte, tipSize)
	copy(out, tip.Hash[:])
	binary.BigEndian.PutUint64(out[chainhash.HashSize:], tip.Height)
	return out
}

func encodeTxLocation(loc TxLocation) []byte {
	out := make([]byte, txLocationSize)
	binary.BigEndian.PutUint64(out[:8], loc.Height)
	copy(out[8:8+chainhash.HashSize], loc.BlockHash[:])
	binary.BigEndian.PutUint32(out[8+chainhash.HashSize:], loc.Index)
	return out
}

func decodeTxLocation(data []byte) (TxLocation, error) {
	if len(data) != txLocationSize {
		return TxLocation{}, fmt.Errorf("corrupt tx index: got %d bytes, want %d", len(data), txLocationSize)
	}
	var loc TxLocation
	loc.Height = binary.BigEndian.Uint64(data[:8])
	copy(loc.BlockHash[:], data[8:8+chainhash.HashSize])
	loc.Index = binary.BigEndian.Uint32(data[8+chainhash.HashSize:])
	return loc, nil
}

func blockKey(hash chainhash.Hash) []byte {
	key := make([]byte, len(prefixBlock)+chainhash.HashSize)
	copy(key, prefixBlock)
	copy(key[len(prefixBlock):], hash[:])
	return key
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], height)
	return key
}

func txKey(txid chainhash.Hash) []byte {
	key := make([]byte, len(prefixTx)+chainhash.HashSize)
	copy(key, prefixTx)
	copy(key[len(prefixTx):], txid[:])
	return key
}
