package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

const (
	minterIDValue    = "sj_coin"
	currencyValue    = "coins"
	senderIDValue    = "sender"
	receiverIDValue  = "receiver"
	projectIDValue   = "project-1"
	defaultNowValue  = int64(13600)
	stubIDPrefix     = "tx-"
	mismatchTemplate = "expected %v, got %v"
)

// stubWorldState keeps committed keys in a map and applies a transaction's writes only on success.
type stubWorldState struct {
	mutex     sync.Mutex
	committed map[string][]byte
	getError  error
	putError  error
	puts      []string
}

func newStubWorldState(test *testing.T) *stubWorldState {
	test.Helper()
	return &stubWorldState{committed: make(map[string][]byte)}
}

func (state *stubWorldState) WithTx(ctx context.Context, fn func(ctx context.Context, tx StateTx) error) error {
	state.mutex.Lock()
	defer state.mutex.Unlock()
	tx := &stubStateTx{state: state, pending: make(map[string][]byte)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for key, value := range tx.pending {
		state.committed[key] = value
	}
	return nil
}

func (state *stubWorldState) snapshot() map[string]string {
	state.mutex.Lock()
	defer state.mutex.Unlock()
	out := make(map[string]string, len(state.committed))
	for key, value := range state.committed {
		out[key] = string(value)
	}
	return out
}

type stubStateTx struct {
	state   *stubWorldState
	pending map[string][]byte
}

func (tx *stubStateTx) GetState(_ context.Context, key string) ([]byte, error) {
	if tx.state.getError != nil {
		return nil, tx.state.getError
	}
	if value, ok := tx.pending[key]; ok {
		return value, nil
	}
	return tx.state.committed[key], nil
}

func (tx *stubStateTx) PutState(_ context.Context, key string, value []byte) error {
	if tx.state.putError != nil {
		return tx.state.putError
	}
	tx.state.puts = append(tx.state.puts, key)
	tx.pending[key] = append([]byte(nil), value...)
	return nil
}

// stubIdentity returns a fixed caller or a fixed error.
type stubIdentity struct {
	mutex  sync.Mutex
	caller string
	err    error
}

func (identity *stubIdentity) CallerID(context.Context) (string, error) {
	identity.mutex.Lock()
	defer identity.mutex.Unlock()
	if identity.err != nil {
		return "", identity.err
	}
	return identity.caller, nil
}

func (identity *stubIdentity) set(caller string) {
	identity.mutex.Lock()
	defer identity.mutex.Unlock()
	identity.caller = caller
}

type stubClock struct {
	mutex sync.Mutex
	now   int64
}

func (clock *stubClock) Now() int64 {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.now
}

func (clock *stubClock) set(now int64) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.now = now
}

type sequentialIDs struct {
	mutex sync.Mutex
	next  int
}

func (ids *sequentialIDs) NextID() string {
	ids.mutex.Lock()
	defer ids.mutex.Unlock()
	ids.next++
	return fmt.Sprintf("%s%d", stubIDPrefix, ids.next)
}

type serviceFixture struct {
	state    *stubWorldState
	identity *stubIdentity
	clock    *stubClock
	service  *Service
}

func newServiceFixture(test *testing.T, options ...ServiceOption) *serviceFixture {
	test.Helper()
	fixture := &serviceFixture{
		state:    newStubWorldState(test),
		identity: &stubIdentity{caller: minterIDValue},
		clock:    &stubClock{now: defaultNowValue},
	}
	ids := &sequentialIDs{}
	service, err := NewService(fixture.state, fixture.identity, fixture.clock.Now, ids.NextID, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	fixture.service = service
	return fixture
}

func newInitializedFixture(test *testing.T, options ...ServiceOption) *serviceFixture {
	test.Helper()
	fixture := newServiceFixture(test, options...)
	if _, err := fixture.service.InitLedger(context.Background(), minterIDValue, currencyValue); err != nil {
		test.Fatalf("init ledger: %v", err)
	}
	return fixture
}

// seedBalances writes permanent balances directly into the committed balances table.
func (fixture *serviceFixture) seedBalances(test *testing.T, balances map[AccountKey]int64) {
	test.Helper()
	raw, err := encodeBalances(balanceTable(balances))
	if err != nil {
		test.Fatalf("encode balances: %v", err)
	}
	fixture.state.committed[balancesKey] = raw
}

func (fixture *serviceFixture) seedExpirable(test *testing.T, transactions map[AccountKey][]ExpirableTransaction) {
	test.Helper()
	raw, err := encodeExpirable(expirableTable(transactions))
	if err != nil {
		test.Fatalf("encode expirable transactions: %v", err)
	}
	fixture.state.committed[expirableTransactionsKey] = raw
}

func (fixture *serviceFixture) mustBalances(test *testing.T) balanceTable {
	test.Helper()
	table, err := decodeBalances(fixture.state.committed[balancesKey])
	if err != nil {
		test.Fatalf("decode balances: %v", err)
	}
	return table
}

func (fixture *serviceFixture) mustExpirable(test *testing.T) expirableTable {
	test.Helper()
	table, err := decodeExpirable(fixture.state.committed[expirableTransactionsKey])
	if err != nil {
		test.Fatalf("decode expirable transactions: %v", err)
	}
	return table
}

// runBook executes fn against a Book inside one committed transaction.
func runBook(test *testing.T, state *stubWorldState, fn func(ctx context.Context, book *Book) error) error {
	test.Helper()
	return state.WithTx(context.Background(), func(ctx context.Context, tx StateTx) error {
		return fn(ctx, NewBook(tx))
	})
}
