package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSerializationFailureCode = "40001"
	pgDeadlockDetectedCode     = "40P01"
	errorOperationStore        = "store"
	errorSubjectSchema         = "schema"
	errorSubjectState          = "state"
	errorSubjectTransaction    = "transaction"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
	errorCodeConflict          = "conflict"
	errorCodeCreate            = "create"
	errorCodeGet               = "get"
	errorCodePut               = "put"

	sqlCreateStateTable = `
		create table if not exists world_state (
			key text primary key,
			value bytea not null,
			updated_at timestamptz not null default now()
		)
	`

	sqlSelectState = `
		select value from world_state where key = $1 for update
	`

	sqlUpsertState = `
		insert into world_state(key, value, updated_at) values($1, $2, now())
		on conflict (key) do update set value = excluded.value, updated_at = excluded.updated_at
	`
)

// Store implements ledger.WorldState using a pgx connection pool.
// Transactions run serializable; conflicting operations fail with ledger.ErrStateConflict.
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements ledger.StateTx for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the world_state table when missing.
func (store *Store) EnsureSchema(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, sqlCreateStateTable); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ledger.StateTx) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isConflict(err) {
			return wrapStoreError(errorSubjectTransaction, errorCodeConflict, fmt.Errorf("%w: %v", ledger.ErrStateConflict, err))
		}
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *TxStore) GetState(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := store.tx.QueryRow(ctx, sqlSelectState, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStateError(errorCodeGet, err)
	}
	if value == nil {
		return []byte{}, nil
	}
	return value, nil
}

func (store *TxStore) PutState(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := store.tx.Exec(ctx, sqlUpsertState, key, value); err != nil {
		return wrapStateError(errorCodePut, err)
	}
	return nil
}

func wrapStateError(code string, err error) error {
	if isConflict(err) {
		return wrapStoreError(errorSubjectState, code, fmt.Errorf("%w: %v", ledger.ErrStateConflict, err))
	}
	return wrapStoreError(errorSubjectState, code, err)
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode || pgErr.Code == pgDeadlockDetectedCode
	}
	return false
}
