package memorystore

import (
	"context"
	"sync"

	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
)

// Store is an in-process ledger.WorldState. Operations are serialized and a
// transaction's writes are applied only when its callback succeeds.
type Store struct {
	mu    sync.Mutex
	state map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{state: make(map[string][]byte)}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ledger.StateTx) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	transaction := &txStore{committed: store.state, pending: make(map[string][]byte)}
	if err := fn(ctx, transaction); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for key, value := range transaction.pending {
		store.state[key] = value
	}
	return nil
}

// Snapshot returns a copy of every committed key.
func (store *Store) Snapshot() map[string][]byte {
	store.mu.Lock()
	defer store.mu.Unlock()
	out := make(map[string][]byte, len(store.state))
	for key, value := range store.state {
		out[key] = append([]byte(nil), value...)
	}
	return out
}

type txStore struct {
	committed map[string][]byte
	pending   map[string][]byte
}

func (store *txStore) GetState(_ context.Context, key string) ([]byte, error) {
	if value, ok := store.pending[key]; ok {
		return append([]byte{}, value...), nil
	}
	value, ok := store.committed[key]
	if !ok {
		return nil, nil
	}
	return append([]byte{}, value...), nil
}

func (store *txStore) PutState(_ context.Context, key string, value []byte) error {
	store.pending[key] = append([]byte{}, value...)
	return nil
}
