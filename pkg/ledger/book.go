package ledger

import (
	"context"
	"fmt"
	"sort"
)

// Book is the balance ledger of one operation: the permanent balance table and the
// expirable transaction table, both read and written whole through the state view.
type Book struct {
	state StateTx
}

// NewBook binds a Book to a world-state transaction behind a fresh read-your-writes overlay.
func NewBook(tx StateTx) *Book {
	if view, ok := tx.(*stateView); ok {
		return &Book{state: view}
	}
	return &Book{state: newStateView(tx)}
}

// Balance returns the permanent balance plus every unexpired expirable credit of account.
func (book *Book) Balance(ctx context.Context, account AccountKey, displayID string, now int64) (UserBalance, error) {
	permanent, err := book.PermanentBalance(ctx, account)
	if err != nil {
		return UserBalance{}, err
	}
	transactions, err := book.ExpirableTransactions(ctx, account)
	if err != nil {
		return UserBalance{}, err
	}
	total := permanent
	for _, transaction := range transactions {
		if transaction.Expired(now) {
			continue
		}
		total, err = addAmounts(total, transaction.Amount)
		if err != nil {
			return UserBalance{}, err
		}
	}
	return UserBalance{UserID: displayID, Balance: total}, nil
}

// PermanentBalance returns the non-expiring balance of account; absent means zero.
func (book *Book) PermanentBalance(ctx context.Context, account AccountKey) (int64, error) {
	table, err := book.balances(ctx)
	if err != nil {
		return 0, err
	}
	return table[account], nil
}

// ExpirableTransactions returns the stored expirable entries of account in insertion order,
// expired ones included.
func (book *Book) ExpirableTransactions(ctx context.Context, account AccountKey) ([]ExpirableTransaction, error) {
	table, err := book.expirable(ctx)
	if err != nil {
		return nil, err
	}
	return table[account], nil
}

// Credit adds amount to the permanent balance of account.
func (book *Book) Credit(ctx context.Context, account AccountKey, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: credit of %d", ErrInvalidAmount, amount)
	}
	table, err := book.balances(ctx)
	if err != nil {
		return err
	}
	updated, err := addAmounts(table[account], amount)
	if err != nil {
		return err
	}
	table[account] = updated
	return book.saveBalances(ctx, table)
}

// Debit subtracts amount from the permanent balance of account, failing when the result would be negative.
func (book *Book) Debit(ctx context.Context, account AccountKey, amount int64) error {
	table, err := book.balances(ctx)
	if err != nil {
		return err
	}
	rest, err := subtractAmounts(table[account], amount)
	if err != nil {
		return err
	}
	if rest < 0 {
		return fmt.Errorf("%w: permanent balance of %s is %d, needed %d", ErrInsufficientFunds, account.DisplayID(), table[account], amount)
	}
	table[account] = rest
	return book.saveBalances(ctx, table)
}

// CreditExpirable appends an expirable credit to the list of account.
func (book *Book) CreditExpirable(ctx context.Context, account AccountKey, id string, amount int64, createdAt int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: expirable credit of %d", ErrInvalidAmount, amount)
	}
	table, err := book.expirable(ctx)
	if err != nil {
		return err
	}
	table[account] = append(table[account], ExpirableTransaction{ID: id, Amount: amount, CreatedAt: createdAt})
	return book.saveExpirable(ctx, table)
}

// PruneExpired drops every expired entry of account and writes only when something was removed.
func (book *Book) PruneExpired(ctx context.Context, account AccountKey, now int64) error {
	table, err := book.expirable(ctx)
	if err != nil {
		return err
	}
	transactions, ok := table[account]
	if !ok {
		return nil
	}
	kept := make([]ExpirableTransaction, 0, len(transactions))
	for _, transaction := range transactions {
		if !transaction.Expired(now) {
			kept = append(kept, transaction)
		}
	}
	if len(kept) == len(transactions) && len(kept) > 0 {
		return nil
	}
	if len(kept) == 0 {
		delete(table, account)
	} else {
		table[account] = kept
	}
	return book.saveExpirable(ctx, table)
}

// Decrease spends amount from account, oldest unexpired expirable credit first and the
// permanent balance last. Sufficiency is checked before anything is written; a
// non-positive amount is a no-op.
func (book *Book) Decrease(ctx context.Context, account AccountKey, amount int64, now int64) error {
	current, err := book.Balance(ctx, account, account.DisplayID(), now)
	if err != nil {
		return err
	}
	if current.Balance < amount {
		return fmt.Errorf("%w: balance of %s is %d, needed %d", ErrInsufficientFunds, account.DisplayID(), current.Balance, amount)
	}
	if amount <= 0 {
		return nil
	}

	table, err := book.expirable(ctx)
	if err != nil {
		return err
	}
	remaining := amount
	if transactions, ok := table[account]; ok {
		kept := make([]ExpirableTransaction, 0, len(transactions))
		for index, transaction := range transactions {
			if remaining == 0 {
				kept = append(kept, transactions[index:]...)
				break
			}
			switch {
			case transaction.Expired(now):
			case transaction.Amount <= remaining:
				remaining -= transaction.Amount
			default:
				transaction.Amount -= remaining
				remaining = 0
				kept = append(kept, transaction)
			}
		}
		if len(kept) == 0 {
			delete(table, account)
		} else {
			table[account] = kept
		}
		if err := book.saveExpirable(ctx, table); err != nil {
			return err
		}
	}

	if remaining > 0 {
		return book.Debit(ctx, account, remaining)
	}
	return nil
}

// Accounts returns every account present in either table, sorted by key.
func (book *Book) Accounts(ctx context.Context) ([]AccountKey, error) {
	balances, err := book.balances(ctx)
	if err != nil {
		return nil, err
	}
	expirable, err := book.expirable(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[AccountKey]struct{}, len(balances)+len(expirable))
	for account := range balances {
		seen[account] = struct{}{}
	}
	for account := range expirable {
		seen[account] = struct{}{}
	}
	accounts := make([]AccountKey, 0, len(seen))
	for account := range seen {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(left, right int) bool { return accounts[left] < accounts[right] })
	return accounts, nil
}

func (book *Book) balances(ctx context.Context) (balanceTable, error) {
	raw, err := book.state.GetState(ctx, balancesKey)
	if err != nil {
		return nil, err
	}
	return decodeBalances(raw)
}

func (book *Book) saveBalances(ctx context.Context, table balanceTable) error {
	raw, err := encodeBalances(table)
	if err != nil {
		return err
	}
	return book.state.PutState(ctx, balancesKey, raw)
}

func (book *Book) expirable(ctx context.Context) (expirableTable, error) {
	raw, err := book.state.GetState(ctx, expirableTransactionsKey)
	if err != nil {
		return nil, err
	}
	return decodeExpirable(raw)
}

func (book *Book) saveExpirable(ctx context.Context, table expirableTable) error {
	raw, err := encodeExpirable(table)
	if err != nil {
		return err
	}
	return book.state.PutState(ctx, expirableTransactionsKey, raw)
}
