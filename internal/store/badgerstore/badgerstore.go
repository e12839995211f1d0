package badgerstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

const (
	errorOperationStore     = "store"
	errorSubjectDatabase    = "database"
	errorSubjectState       = "state"
	errorSubjectTransaction = "transaction"
	errorCodeOpen           = "open"
	errorCodeClose          = "close"
	errorCodeGet            = "get"
	errorCodePut            = "put"
	errorCodeCommit         = "commit"
	errorCodeConflict       = "conflict"
)

// Store implements ledger.WorldState on BadgerDB. Each operation runs in one
// read-write Badger transaction, which Badger commits with serializable snapshot isolation.
type Store struct {
	db *badgerdb.DB
}

// Open opens (or creates) a Badger database in dir. An empty dir opens an in-memory database.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	options := badgerdb.DefaultOptions(dir)
	if dir == "" {
		options = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	options.Logger = newBadgerLogger(logger)
	options.NumCompactors = 2
	options.BlockCacheSize = 32 << 20
	options.IndexCacheSize = 16 << 20
	db, err := badgerdb.Open(options)
	if err != nil {
		return nil, wrapStoreError(errorSubjectDatabase, errorCodeOpen, err)
	}
	return &Store{db: db}, nil
}

// New wraps an already opened Badger database.
func New(db *badgerdb.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying database.
func (store *Store) Close() error {
	if err := store.db.Close(); err != nil {
		return wrapStoreError(errorSubjectDatabase, errorCodeClose, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ledger.StateTx) error) error {
	txn := store.db.NewTransaction(true)
	defer txn.Discard()
	if err := fn(ctx, &txStore{txn: txn}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		if errors.Is(err, badgerdb.ErrConflict) {
			return wrapStoreError(errorSubjectTransaction, errorCodeConflict, fmt.Errorf("%w: %v", ledger.ErrStateConflict, err))
		}
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

type txStore struct {
	txn *badgerdb.Txn
}

func (store *txStore) GetState(_ context.Context, key string) ([]byte, error) {
	item, err := store.txn.Get([]byte(key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(errorSubjectState, errorCodeGet, err)
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, wrapStoreError(errorSubjectState, errorCodeGet, err)
	}
	if value == nil {
		return []byte{}, nil
	}
	return value, nil
}

func (store *txStore) PutState(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	if err := store.txn.Set([]byte(key), stored); err != nil {
		return wrapStoreError(errorSubjectState, errorCodePut, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

// badgerLogger routes Badger's internal logging into zap.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func newBadgerLogger(logger *zap.Logger) badgerdb.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return badgerLogger{sugar: logger.Named("badger").Sugar()}
}

func (logger badgerLogger) Errorf(format string, args ...interface{}) {
	logger.sugar.Errorf(format, args...)
}

func (logger badgerLogger) Warningf(format string, args ...interface{}) {
	logger.sugar.Warnf(format, args...)
}

func (logger badgerLogger) Infof(format string, args ...interface{}) {
	logger.sugar.Debugf(format, args...)
}

func (logger badgerLogger) Debugf(format string, args ...interface{}) {
	logger.sugar.Debugf(format, args...)
}
