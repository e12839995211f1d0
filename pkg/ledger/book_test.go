package ledger

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestDecreaseConsumesExpirableBeforePermanent(test *testing.T) {
	test.Parallel()
	account := UserAccount("decrease-user")
	fixture := newServiceFixture(test)
	fixture.seedBalances(test, map[AccountKey]int64{account: 178})
	fixture.seedExpirable(test, map[AccountKey][]ExpirableTransaction{account: {{ID: "1", Amount: 88, CreatedAt: 13500}}})

	err := runBook(test, fixture.state, func(ctx context.Context, book *Book) error {
		return book.Decrease(ctx, account, 10, 13600)
	})
	if err != nil {
		test.Fatalf("decrease: %v", err)
	}
	if got := fixture.mustBalances(test)[account]; got != 178 {
		test.Fatalf("expected permanent balance 178, got %d", got)
	}
	want := []ExpirableTransaction{{ID: "1", Amount: 78, CreatedAt: 13500}}
	if got := fixture.mustExpirable(test)[account]; !reflect.DeepEqual(got, want) {
		test.Fatalf(mismatchTemplate, want, got)
	}
}

func TestDecreaseDropsExpiredEntriesAndUsesPermanent(test *testing.T) {
	test.Parallel()
	account := UserAccount("expired-user")
	fixture := newServiceFixture(test)
	fixture.seedBalances(test, map[AccountKey]int64{account: 178})
	fixture.seedExpirable(test, map[AccountKey][]ExpirableTransaction{account: {{ID: "1", Amount: 88, CreatedAt: 13500}}})

	err := runBook(test, fixture.state, func(ctx context.Context, book *Book) error {
		return book.Decrease(ctx, account, 100, 20000)
	})
	if err != nil {
		test.Fatalf("decrease: %v", err)
	}
	if got := fixture.mustBalances(test)[account]; got != 78 {
		test.Fatalf("expected permanent balance 78, got %d", got)
	}
	if _, ok := fixture.mustExpirable(test)[account]; ok {
		test.Fatalf("expected expired list removed")
	}
}

func TestDecreaseSpansEntriesOldestFirst(test *testing.T) {
	test.Parallel()
	account := UserAccount("spanning-user")
	fixture := newServiceFixture(test)
	fixture.seedBalances(test, map[AccountKey]int64{account: 50})
	fixture.seedExpirable(test, map[AccountKey][]ExpirableTransaction{account: {
		{ID: "old", Amount: 5, CreatedAt: 1000},
		{ID: "a", Amount: 20, CreatedAt: 13000},
		{ID: "b", Amount: 30, CreatedAt: 13100},
		{ID: "c", Amount: 40, CreatedAt: 13200},
	}})

	testCases := []struct {
		name          string
		amount        int64
		wantPermanent int64
		wantEntries   []ExpirableTransaction
	}{
		{
			name:          "partial second entry",
			amount:        35,
			wantPermanent: 50,
			wantEntries:   []ExpirableTransaction{{ID: "b", Amount: 15, CreatedAt: 13100}, {ID: "c", Amount: 40, CreatedAt: 13200}},
		},
		{
			name:          "exact entries",
			amount:        50,
			wantPermanent: 50,
			wantEntries:   []ExpirableTransaction{{ID: "c", Amount: 40, CreatedAt: 13200}},
		},
		{
			name:          "all expirable and some permanent",
			amount:        100,
			wantPermanent: 40,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			local := newServiceFixture(test)
			local.state.committed = map[string][]byte{
				balancesKey:              fixture.state.committed[balancesKey],
				expirableTransactionsKey: fixture.state.committed[expirableTransactionsKey],
			}
			err := runBook(test, local.state, func(ctx context.Context, book *Book) error {
				return book.Decrease(ctx, account, testCase.amount, 13600)
			})
			if err != nil {
				test.Fatalf("decrease: %v", err)
			}
			if got := local.mustBalances(test)[account]; got != testCase.wantPermanent {
				test.Fatalf("expected permanent %d, got %d", testCase.wantPermanent, got)
			}
			got := local.mustExpirable(test)[account]
			if len(testCase.wantEntries) == 0 {
				if got != nil {
					test.Fatalf("expected list removed, got %+v", got)
				}
				return
			}
			if !reflect.DeepEqual(got, testCase.wantEntries) {
				test.Fatalf(mismatchTemplate, testCase.wantEntries, got)
			}
		})
	}
}

func TestDecreaseInsufficientFundsLeavesStateUnchanged(test *testing.T) {
	test.Parallel()
	account := UserAccount("poor-user")
	fixture := newServiceFixture(test)
	fixture.seedBalances(test, map[AccountKey]int64{account: 60})
	fixture.seedExpirable(test, map[AccountKey][]ExpirableTransaction{account: {{ID: "1", Amount: 40, CreatedAt: 13500}}})
	before := fixture.state.snapshot()

	err := runBook(test, fixture.state, func(ctx context.Context, book *Book) error {
		return book.Decrease(ctx, account, 101, 13600)
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		test.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if after := fixture.state.snapshot(); !reflect.DeepEqual(before, after) {
		test.Fatalf("expected state unchanged, before %v after %v", before, after)
	}
}

func TestDecreaseNonPositiveIsNoop(test *testing.T) {
	test.Parallel()
	account := UserAccount("noop-user")
	fixture := newServiceFixture(test)
	fixture.seedBalances(test, map[AccountKey]int64{account: 5})

	for _, amount := range []int64{0, -3} {
		err := runBook(test, fixture.state, func(ctx context.Context, book *Book) error {
			return book.Decrease(ctx, account, amount, 13600)
		})
		if err != nil {
			test.Fatalf("decrease %d: %v", amount, err)
		}
	}
	if len(fixture.state.puts) != 0 {
		test.Fatalf("expected no writes, got %v", fixture.state.puts)
	}
}

func TestPruneExpiredIsIdempotent(test *testing.T) {
	test.Parallel()
	account := UserAccount("prune-user")
	fixture := newServiceFixture(test)
	fixture.seedExpirable(test, map[AccountKey][]ExpirableTransaction{account: {
		{ID: "old", Amount: 5, CreatedAt: 9000},
		{ID: "live", Amount: 7, CreatedAt: 13000},
	}})

	prune := func() {
		err := runBook(test, fixture.state, func(ctx context.Context, book *Book) error {
			return book.PruneExpired(ctx, account, 13600)
		})
		if err != nil {
			test.Fatalf("prune: %v", err)
		}
	}
	prune()
	once := fixture.state.snapshot()
	writesAfterFirst := len(fixture.state.puts)
	prune()
	if twice := fixture.state.snapshot(); !reflect.DeepEqual(once, twice) {
		test.Fatalf("expected idempotent prune, got %v then %v", once, twice)
	}
	if len(fixture.state.puts) != writesAfterFirst {
		test.Fatalf("expected second prune to skip writing, puts %v", fixture.state.puts)
	}
	want := []ExpirableTransaction{{ID: "live", Amount: 7, CreatedAt: 13000}}
	if got := fixture.mustExpirable(test)[account]; !reflect.DeepEqual(got, want) {
		test.Fatalf(mismatchTemplate, want, got)
	}
}

func TestPruneExpiredRemovesEmptiedList(test *testing.T) {
	test.Parallel()
	account := UserAccount("prune-all")
	fixture := newServiceFixture(test)
	fixture.seedExpirable(test, map[AccountKey][]ExpirableTransaction{account: {{ID: "old", Amount: 5, CreatedAt: 100}}})

	err := runBook(test, fixture.state, func(ctx context.Context, book *Book) error {
		return book.PruneExpired(ctx, account, 13600)
	})
	if err != nil {
		test.Fatalf("prune: %v", err)
	}
	if _, ok := fixture.mustExpirable(test)[account]; ok {
		test.Fatalf("expected emptied list removed")
	}
}

func TestBalanceIgnoresExpiredEntriesWithoutPruning(test *testing.T) {
	test.Parallel()
	account := UserAccount("balance-user")
	fixture := newServiceFixture(test)
	fixture.seedBalances(test, map[AccountKey]int64{account: 10})
	fixture.seedExpirable(test, map[AccountKey][]ExpirableTransaction{account: {
		{ID: "edge", Amount: 100, CreatedAt: 10000},
		{ID: "live", Amount: 7, CreatedAt: 10001},
	}})

	var balance UserBalance
	err := runBook(test, fixture.state, func(ctx context.Context, book *Book) error {
		var err error
		balance, err = book.Balance(ctx, account, "balance-user", 13600)
		return err
	})
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.Balance != 17 || balance.UserID != "balance-user" {
		test.Fatalf("unexpected balance %+v", balance)
	}
	if len(fixture.state.puts) != 0 {
		test.Fatalf("expected read-only balance, got writes %v", fixture.state.puts)
	}
}

func TestBookReadsItsOwnWrites(test *testing.T) {
	test.Parallel()
	account := UserAccount("overlay-user")
	fixture := newServiceFixture(test)

	err := runBook(test, fixture.state, func(ctx context.Context, book *Book) error {
		if err := book.Credit(ctx, account, 30); err != nil {
			return err
		}
		if err := book.CreditExpirable(ctx, account, "e1", 12, 13600); err != nil {
			return err
		}
		balance, err := book.Balance(ctx, account, "overlay-user", 13600)
		if err != nil {
			return err
		}
		if balance.Balance != 42 {
			test.Errorf("expected 42 inside the operation, got %d", balance.Balance)
		}
		return book.Debit(ctx, account, 30)
	})
	if err != nil {
		test.Fatalf("operation: %v", err)
	}
	if got := fixture.mustBalances(test)[account]; got != 0 {
		test.Fatalf("expected permanent 0, got %d", got)
	}
}

func TestCreditAndDebitValidation(test *testing.T) {
	test.Parallel()
	account := UserAccount("validation-user")
	fixture := newServiceFixture(test)
	fixture.seedBalances(test, map[AccountKey]int64{account: 5})

	testCases := []struct {
		name    string
		run     func(ctx context.Context, book *Book) error
		wantErr error
	}{
		{name: "credit zero", run: func(ctx context.Context, book *Book) error { return book.Credit(ctx, account, 0) }, wantErr: ErrInvalidAmount},
		{name: "expirable negative", run: func(ctx context.Context, book *Book) error {
			return book.CreditExpirable(ctx, account, "x", -1, 1)
		}, wantErr: ErrInvalidAmount},
		{name: "debit below zero", run: func(ctx context.Context, book *Book) error { return book.Debit(ctx, account, 6) }, wantErr: ErrInsufficientFunds},
	}
	for _, testCase := range testCases {
		err := runBook(test, fixture.state, testCase.run)
		if !errors.Is(err, testCase.wantErr) {
			test.Fatalf("%s: "+mismatchTemplate, testCase.name, testCase.wantErr, err)
		}
	}
	if got := fixture.mustBalances(test)[account]; got != 5 {
		test.Fatalf("expected balance untouched, got %d", got)
	}
}

func TestAccountsUnionIsSorted(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	fixture.seedBalances(test, map[AccountKey]int64{UserAccount("b"): 1, ProjectAccount("p"): 2})
	fixture.seedExpirable(test, map[AccountKey][]ExpirableTransaction{UserAccount("a"): {{ID: "1", Amount: 1, CreatedAt: 1}}, UserAccount("b"): {{ID: "2", Amount: 1, CreatedAt: 1}}})

	var accounts []AccountKey
	err := runBook(test, fixture.state, func(ctx context.Context, book *Book) error {
		var err error
		accounts, err = book.Accounts(ctx)
		return err
	})
	if err != nil {
		test.Fatalf("accounts: %v", err)
	}
	want := []AccountKey{ProjectAccount("p"), UserAccount("a"), UserAccount("b")}
	if !reflect.DeepEqual(accounts, want) {
		test.Fatalf(mismatchTemplate, want, accounts)
	}
}
