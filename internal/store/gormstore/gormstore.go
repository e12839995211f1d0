package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	dialectPostgres            = "postgres"
	pgSerializationFailureCode = "40001"
	pgDeadlockDetectedCode     = "40P01"
	sqliteBusyCode             = 5
	sqliteLockedCode           = 6
	errorOperationStore        = "store"
	errorSubjectSchema         = "schema"
	errorSubjectState          = "state"
	errorSubjectTransaction    = "transaction"
	errorCodeMigrate           = "migrate"
	errorCodeGet               = "get"
	errorCodePut               = "put"
	errorCodeCommit            = "commit"
	errorCodeConflict          = "conflict"
)

// Store implements ledger.WorldState using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the world_state table when missing.
func (store *Store) Migrate(ctx context.Context) error {
	if err := store.db.WithContext(ctx).AutoMigrate(&StateEntry{}); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

// WithTx executes fn within a database transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ledger.StateTx) error) error {
	var callbackErr error
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		callbackErr = fn(ctx, &txStore{db: transaction})
		return callbackErr
	})
	if err == nil || errors.Is(err, callbackErr) {
		return err
	}
	if isConflict(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeConflict, fmt.Errorf("%w: %v", ledger.ErrStateConflict, err))
	}
	return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
}

type txStore struct {
	db *gorm.DB
}

func (store *txStore) GetState(ctx context.Context, key string) ([]byte, error) {
	query := store.db.WithContext(ctx)
	if query.Dialector.Name() == dialectPostgres {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var entry StateEntry
	err := query.Where("key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapTxError(errorCodeGet, err)
	}
	if entry.Value == nil {
		return []byte{}, nil
	}
	return entry.Value, nil
}

func (store *txStore) PutState(ctx context.Context, key string, value []byte) error {
	entry := StateEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	if entry.Value == nil {
		entry.Value = []byte{}
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&entry).Error
	if err != nil {
		return wrapTxError(errorCodePut, err)
	}
	return nil
}

func wrapTxError(code string, err error) error {
	if isConflict(err) {
		return wrapStoreError(errorSubjectState, code, fmt.Errorf("%w: %v", ledger.ErrStateConflict, err))
	}
	return wrapStoreError(errorSubjectState, code, err)
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode || pgErr.Code == pgDeadlockDetectedCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xFF
		return code == sqliteBusyCode || code == sqliteLockedCode
	}
	return false
}
