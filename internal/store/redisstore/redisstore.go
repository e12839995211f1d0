package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces world-state keys inside a shared Redis database.
	DefaultKeyPrefix = "coins:"

	errorOperationStore     = "store"
	errorSubjectState       = "state"
	errorSubjectTransaction = "transaction"
	errorCodeWatch          = "watch"
	errorCodeGet            = "get"
	errorCodeCommit         = "commit"
	errorCodeConflict       = "conflict"
)

// Store implements ledger.WorldState on Redis. Every key an operation reads is
// WATCHed and the buffered writes are applied in one MULTI/EXEC, so a concurrent
// change to any read key aborts the operation with ledger.ErrStateConflict.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

// New returns a Store on client, namespacing keys with keyPrefix.
func New(client redis.UniversalClient, keyPrefix string) *Store {
	return &Store{client: client, keyPrefix: keyPrefix}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ledger.StateTx) error) error {
	var callbackErr error
	err := store.client.Watch(ctx, func(redisTx *redis.Tx) error {
		transactionStore := &txStore{redisTx: redisTx, keyPrefix: store.keyPrefix, pending: make(map[string][]byte)}
		if callbackErr = fn(ctx, transactionStore); callbackErr != nil {
			return callbackErr
		}
		if len(transactionStore.order) == 0 {
			return nil
		}
		_, err := redisTx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range transactionStore.order {
				pipe.Set(ctx, store.keyPrefix+key, transactionStore.pending[key], 0)
			}
			return nil
		})
		return err
	})
	switch {
	case err == nil:
		return nil
	case callbackErr != nil && errors.Is(err, callbackErr):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return wrapStoreError(errorSubjectTransaction, errorCodeConflict, fmt.Errorf("%w: %v", ledger.ErrStateConflict, err))
	default:
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
}

type txStore struct {
	redisTx   *redis.Tx
	keyPrefix string
	pending   map[string][]byte
	order     []string
}

func (store *txStore) GetState(ctx context.Context, key string) ([]byte, error) {
	if value, ok := store.pending[key]; ok {
		return value, nil
	}
	storageKey := store.keyPrefix + key
	if err := store.redisTx.Watch(ctx, storageKey).Err(); err != nil {
		return nil, wrapStoreError(errorSubjectState, errorCodeWatch, err)
	}
	value, err := store.redisTx.Get(ctx, storageKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectState, errorCodeGet, err)
	}
	return value, nil
}

func (store *txStore) PutState(_ context.Context, key string, value []byte) error {
	if _, ok := store.pending[key]; !ok {
		store.order = append(store.order, key)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	store.pending[key] = stored
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}
