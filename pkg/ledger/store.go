package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Store provides Pebble-based persistence for accounts and contract state.
// All writes go through a BatchWrite committed once per transaction, so a
// crash never leaves a half-applied transaction on disk.
type Store struct {
	db *pebble.DB
}

// NewStore opens a Pebble database at the given path.
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(32 << 20),
		MemTableSize: 16 << 20,
		MaxOpenFiles: 500,
	}
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadAccounts loads every persisted account.
func (s *Store) LoadAccounts() ([]*Account, error) {
	prefix := []byte(prefixAccount)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("account iterator: %w", err)
	}
	defer iter.Close()

	var accounts []*Account
	for iter.First(); iter.Valid(); iter.Next() {
		var acc Account
		if err := json.Unmarshal(iter.Value(), &acc); err != nil {
			return nil, fmt.Errorf("decode account at %q: %w", iter.Key(), err)
		}
		if acc.Tokens == nil {
			acc.Tokens = make(map[string]*uint256.Int)
		}
		accounts = append(accounts, &acc)
	}
	return accounts, nil
}

// LoadContractState returns the persisted state blob for a contract address,
// or nil if none exists.
func (s *Store) LoadContractState(addr common.Address) ([]byte, error) {
	data, closer, err := s.db.Get(contractKey(addr))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contract state: %w", err)
	}
	defer closer.Close()

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// BatchWrite accumulates account and contract-state writes for one atomic
// commit.
type BatchWrite struct {
	batch *pebble.Batch
}

// NewBatch creates a new batch writer.
func (s *Store) NewBatch() *BatchWrite {
	return &BatchWrite{batch: s.db.NewBatch()}
}

// SetAccount adds an account record to the batch.
func (bw *BatchWrite) SetAccount(acc *Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", acc.Address.Hex(), err)
	}
	return bw.batch.Set(accountKey(acc.Address), data, nil)
}

// SetContractState adds a contract state blob to the batch.
func (bw *BatchWrite) SetContractState(addr common.Address, blob []byte) error {
	return bw.batch.Set(contractKey(addr), blob, nil)
}

// Commit writes the batch atomically and synced.
func (bw *BatchWrite) Commit() error {
	return bw.batch.Commit(pebble.Sync)
}

// Close discards the batch without committing.
func (bw *BatchWrite) Close() error {
	return bw.batch.Close()
}
