package ledger

import (
	"context"
	"fmt"
)

// BalanceOf returns the balance of one account. It prunes nothing.
func (service *Service) BalanceOf(ctx context.Context, accountType string, entityID string) (UserBalance, error) {
	var result UserBalance
	operationError := service.state.WithTx(ctx, func(ctx context.Context, tx StateTx) error {
		if err := ValidateAccount(accountType, entityID); err != nil {
			return err
		}
		scope, err := service.openScope(ctx, tx)
		if err != nil {
			return err
		}
		account := AccountKeyFor(accountType, entityID)
		result, err = scope.book.Balance(ctx, account, account.DisplayID(), scope.now)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationBalanceOf,
		Account:   accountType + entityID,
		Error:     operationError,
	})
	return result, operationError
}

// BatchBalanceOf returns the balances of user accounts in request order.
func (service *Service) BatchBalanceOf(ctx context.Context, userIDs []string) ([]UserBalance, error) {
	var results []UserBalance
	operationError := service.state.WithTx(ctx, func(ctx context.Context, tx StateTx) error {
		for index, userID := range userIDs {
			if err := ValidateAccount(AccountTypeUser, userID); err != nil {
				return fmt.Errorf("id %d: %w", index, err)
			}
		}
		scope, err := service.openScope(ctx, tx)
		if err != nil {
			return err
		}
		results = make([]UserBalance, 0, len(userIDs))
		for _, userID := range userIDs {
			balance, err := scope.book.Balance(ctx, UserAccount(userID), userID, scope.now)
			if err != nil {
				return err
			}
			results = append(results, balance)
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationBatchBalanceOf,
		Amount:    int64(len(userIDs)),
		Error:     operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	return results, nil
}

// AllBalances returns the balance of every account known to either table, ordered by account key.
func (service *Service) AllBalances(ctx context.Context) ([]UserBalance, error) {
	var results []UserBalance
	operationError := service.state.WithTx(ctx, func(ctx context.Context, tx StateTx) error {
		scope, err := service.openScope(ctx, tx)
		if err != nil {
			return err
		}
		accounts, err := scope.book.Accounts(ctx)
		if err != nil {
			return err
		}
		results = make([]UserBalance, 0, len(accounts))
		for _, account := range accounts {
			balance, err := scope.book.Balance(ctx, account, account.DisplayID(), scope.now)
			if err != nil {
				return err
			}
			results = append(results, balance)
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationAllBalances,
		Error:     operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	return results, nil
}

// Currency returns the currency name stored at initialization.
func (service *Service) Currency(ctx context.Context) (string, error) {
	var currency string
	operationError := service.state.WithTx(ctx, func(ctx context.Context, tx StateTx) error {
		raw, err := tx.GetState(ctx, currencyKey)
		if err != nil {
			return err
		}
		if raw == nil {
			return ErrNotInitialized
		}
		currency = string(raw)
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCurrency,
		Error:     operationError,
	})
	return currency, operationError
}
