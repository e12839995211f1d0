package ledger

import (
	"context"
	"fmt"
)

// Service runs ledger operations, each inside one world-state transaction.
type Service struct {
	state    WorldState
	identity IdentityResolver
	nowFn    func() int64
	nextIDFn func() string
	logger   OperationLogger
}

// NewService wires a Service.
func NewService(state WorldState, identity IdentityResolver, now func() int64, nextID func() string, options ...ServiceOption) (*Service, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: world state dependency is nil", ErrInvalidServiceConfig)
	}
	if identity == nil {
		return nil, fmt.Errorf("%w: identity dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if nextID == nil {
		return nil, fmt.Errorf("%w: id generator dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{state: state, identity: identity, nowFn: now, nextIDFn: nextID}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// operationScope is the per-operation view: a fresh overlay, its Book, and the operation's clock reading.
type operationScope struct {
	view *stateView
	book *Book
	now  int64
}

func (service *Service) openScope(ctx context.Context, tx StateTx) (*operationScope, error) {
	view := newStateView(tx)
	currency, err := view.GetState(ctx, currencyKey)
	if err != nil {
		return nil, err
	}
	if currency == nil {
		return nil, ErrNotInitialized
	}
	return &operationScope{view: view, book: NewBook(view), now: service.nowFn()}, nil
}

func (scope *operationScope) minter(ctx context.Context) (string, error) {
	raw, err := scope.view.GetState(ctx, minterKey)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (service *Service) callerID(ctx context.Context) (string, error) {
	callerID, err := service.identity.CallerID(ctx)
	if err != nil {
		return "", err
	}
	if err := ValidateAccount(AccountTypeUser, callerID); err != nil {
		return "", fmt.Errorf("%w: caller id: %v", ErrIdentity, err)
	}
	return callerID, nil
}

// InitLedger stores the currency name and minter and creates the empty balance tables when absent.
// Calling it again overwrites the currency name and minter.
func (service *Service) InitLedger(ctx context.Context, minterID string, currencyName string) (string, error) {
	var caller string
	operationError := service.state.WithTx(ctx, func(ctx context.Context, tx StateTx) error {
		if currencyName == "" {
			return fmt.Errorf("%w: currency name is required", ErrMalformedRequest)
		}
		if err := ValidateAccount(AccountTypeUser, minterID); err != nil {
			return fmt.Errorf("minter: %w", err)
		}
		resolved, err := service.callerID(ctx)
		if err != nil {
			return err
		}
		caller = resolved
		view := newStateView(tx)
		if err := view.PutState(ctx, currencyKey, []byte(currencyName)); err != nil {
			return err
		}
		if err := view.PutState(ctx, minterKey, []byte(minterID)); err != nil {
			return err
		}
		for _, key := range []string{balancesKey, expirableTransactionsKey} {
			existing, err := view.GetState(ctx, key)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			if err := view.PutState(ctx, key, []byte("{}")); err != nil {
				return err
			}
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationInitLedger,
		Caller:    caller,
		Account:   minterID,
		Error:     operationError,
	})
	if operationError != nil {
		return "", operationError
	}
	return currencyName, nil
}

// Mint credits the minter's own account.
func (service *Service) Mint(ctx context.Context, amount int64) (UserBalance, error) {
	var (
		caller string
		result UserBalance
	)
	operationError := service.state.WithTx(ctx, func(ctx context.Context, tx StateTx) error {
		scope, err := service.openScope(ctx, tx)
		if err != nil {
			return err
		}
		caller, err = service.callerID(ctx)
		if err != nil {
			return err
		}
		minter, err := scope.minter(ctx)
		if err != nil {
			return err
		}
		if caller != minter {
			return fmt.Errorf("%w: only the minter can mint", ErrPermissionDenied)
		}
		if amount < 1 {
			return fmt.Errorf("%w: mint amount must be positive, got %d", ErrInvalidAmount, amount)
		}
		account := UserAccount(caller)
		if err := scope.book.Credit(ctx, account, amount); err != nil {
			return err
		}
		result, err = scope.book.Balance(ctx, account, caller, scope.now)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationMint,
		Caller:    caller,
		Account:   caller,
		Amount:    amount,
		Error:     operationError,
	})
	return result, operationError
}

// Transfer moves amount from the caller's user account to the receiver account.
func (service *Service) Transfer(ctx context.Context, receiverType string, receiverID string, amount int64, expirable bool) (UserBalance, error) {
	var (
		caller string
		result UserBalance
	)
	operationError := service.state.WithTx(ctx, func(ctx context.Context, tx StateTx) error {
		if err := validateTransfer(receiverType, receiverID, amount); err != nil {
			return err
		}
		scope, err := service.openScope(ctx, tx)
		if err != nil {
			return err
		}
		caller, err = service.callerID(ctx)
		if err != nil {
			return err
		}
		result, err = service.move(ctx, scope, UserAccount(caller), caller, AccountKeyFor(receiverType, receiverID), amount, expirable)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationTransfer,
		Caller:    caller,
		Account:   receiverType + receiverID,
		Amount:    amount,
		Error:     operationError,
	})
	return result, operationError
}

// TransferFrom moves amount between two explicit accounts. The caller is not checked
// against the source account.
func (service *Service) TransferFrom(ctx context.Context, fromType string, fromID string, toType string, toID string, amount int64, expirable bool) (UserBalance, error) {
	var result UserBalance
	operationError := service.state.WithTx(ctx, func(ctx context.Context, tx StateTx) error {
		if err := ValidateAccount(fromType, fromID); err != nil {
			return fmt.Errorf("sender: %w", err)
		}
		if err := validateTransfer(toType, toID, amount); err != nil {
			return err
		}
		scope, err := service.openScope(ctx, tx)
		if err != nil {
			return err
		}
		sender := AccountKeyFor(fromType, fromID)
		result, err = service.move(ctx, scope, sender, sender.DisplayID(), AccountKeyFor(toType, toID), amount, expirable)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationTransferFrom,
		Account:   fromType + fromID,
		Amount:    amount,
		Error:     operationError,
	})
	return result, operationError
}

func (service *Service) move(ctx context.Context, scope *operationScope, sender AccountKey, senderDisplayID string, receiver AccountKey, amount int64, expirable bool) (UserBalance, error) {
	if err := scope.book.PruneExpired(ctx, sender, scope.now); err != nil {
		return UserBalance{}, err
	}
	if err := scope.book.PruneExpired(ctx, receiver, scope.now); err != nil {
		return UserBalance{}, err
	}
	if err := scope.book.Decrease(ctx, sender, amount, scope.now); err != nil {
		return UserBalance{}, err
	}
	if err := service.creditReceiver(ctx, scope, receiver, amount, expirable); err != nil {
		return UserBalance{}, err
	}
	return scope.book.Balance(ctx, sender, senderDisplayID, scope.now)
}

func (service *Service) creditReceiver(ctx context.Context, scope *operationScope, receiver AccountKey, amount int64, expirable bool) error {
	if expirable {
		return scope.book.CreditExpirable(ctx, receiver, service.nextIDFn(), amount, scope.now)
	}
	return scope.book.Credit(ctx, receiver, amount)
}

// BatchTransfer decreases the caller once by the sum of all requests and then credits each receiver's user account.
func (service *Service) BatchTransfer(ctx context.Context, requests []TransferRequest, expirable bool) (UserBalance, error) {
	var (
		caller string
		total  int64
		result UserBalance
	)
	operationError := service.state.WithTx(ctx, func(ctx context.Context, tx StateTx) error {
		if err := validateRequests(requests); err != nil {
			return err
		}
		sum, err := sumRequests(requests)
		if err != nil {
			return err
		}
		total = sum
		scope, err := service.openScope(ctx, tx)
		if err != nil {
			return err
		}
		caller, err = service.callerID(ctx)
		if err != nil {
			return err
		}
		sender := UserAccount(caller)
		if err := scope.book.PruneExpired(ctx, sender, scope.now); err != nil {
			return err
		}
		if err := scope.book.Decrease(ctx, sender, total, scope.now); err != nil {
			return err
		}
		for _, request := range requests {
			receiver := UserAccount(request.UserID)
			if err := scope.book.PruneExpired(ctx, receiver, scope.now); err != nil {
				return err
			}
			if err := service.creditReceiver(ctx, scope, receiver, request.Amount, expirable); err != nil {
				return err
			}
		}
		result, err = scope.book.Balance(ctx, sender, caller, scope.now)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationBatchTransfer,
		Caller:    caller,
		Account:   caller,
		Amount:    total,
		Error:     operationError,
	})
	return result, operationError
}

// Refund moves amount from a project's permanent balance to a user's permanent balance. Minter only.
func (service *Service) Refund(ctx context.Context, projectID string, receiverID string, amount int64) (UserBalance, error) {
	var (
		caller string
		result UserBalance
	)
	operationError := service.state.WithTx(ctx, func(ctx context.Context, tx StateTx) error {
		if err := ValidateAccount(AccountTypeProject, projectID); err != nil {
			return fmt.Errorf("project: %w", err)
		}
		if err := ValidateAccount(AccountTypeUser, receiverID); err != nil {
			return fmt.Errorf("receiver: %w", err)
		}
		if amount < 1 {
			return fmt.Errorf("%w: refund amount must be positive, got %d", ErrInvalidAmount, amount)
		}
		scope, err := service.openScope(ctx, tx)
		if err != nil {
			return err
		}
		caller, err = service.callerID(ctx)
		if err != nil {
			return err
		}
		minter, err := scope.minter(ctx)
		if err != nil {
			return err
		}
		if caller != minter {
			return fmt.Errorf("%w: only the minter can refund", ErrPermissionDenied)
		}
		project := ProjectAccount(projectID)
		if err := scope.book.Debit(ctx, project, amount); err != nil {
			return err
		}
		if err := scope.book.Credit(ctx, UserAccount(receiverID), amount); err != nil {
			return err
		}
		result, err = scope.book.Balance(ctx, project, project.DisplayID(), scope.now)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRefund,
		Caller:    caller,
		Account:   AccountTypeProject + projectID,
		Amount:    amount,
		Error:     operationError,
	})
	return result, operationError
}

// BatchRefund returns a project's whole balance to the listed users. The requested
// amounts must add up to the project's current balance exactly. A caller equal to
// the minter is rejected.
func (service *Service) BatchRefund(ctx context.Context, projectID string, requests []TransferRequest) (UserBalance, error) {
	var (
		caller string
		total  int64
		result UserBalance
	)
	operationError := service.state.WithTx(ctx, func(ctx context.Context, tx StateTx) error {
		if err := ValidateAccount(AccountTypeProject, projectID); err != nil {
			return fmt.Errorf("project: %w", err)
		}
		if err := validateRequests(requests); err != nil {
			return err
		}
		sum, err := sumRequests(requests)
		if err != nil {
			return err
		}
		total = sum
		scope, err := service.openScope(ctx, tx)
		if err != nil {
			return err
		}
		caller, err = service.callerID(ctx)
		if err != nil {
			return err
		}
		minter, err := scope.minter(ctx)
		if err != nil {
			return err
		}
		// TODO: confirm with the ledger owners whether this guard should match Refund's (caller must be the minter).
		if caller == minter {
			return fmt.Errorf("%w: the minter cannot batch refund", ErrPermissionDenied)
		}
		project := ProjectAccount(projectID)
		current, err := scope.book.Balance(ctx, project, project.DisplayID(), scope.now)
		if err != nil {
			return err
		}
		if current.Balance != total {
			return fmt.Errorf("%w: all coins must be refunded, project holds %d, requested %d", ErrInvalidAmount, current.Balance, total)
		}
		if err := scope.book.Debit(ctx, project, total); err != nil {
			return err
		}
		for _, request := range requests {
			if err := scope.book.Credit(ctx, UserAccount(request.UserID), request.Amount); err != nil {
				return err
			}
		}
		result, err = scope.book.Balance(ctx, project, project.DisplayID(), scope.now)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationBatchRefund,
		Caller:    caller,
		Account:   AccountTypeProject + projectID,
		Amount:    total,
		Error:     operationError,
	})
	return result, operationError
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func validateTransfer(receiverType string, receiverID string, amount int64) error {
	if err := ValidateAccount(receiverType, receiverID); err != nil {
		return fmt.Errorf("receiver: %w", err)
	}
	if amount < 1 {
		return fmt.Errorf("%w: transfer amount must be positive, got %d", ErrInvalidAmount, amount)
	}
	return nil
}

func validateRequests(requests []TransferRequest) error {
	if len(requests) == 0 {
		return fmt.Errorf("%w: empty request list", ErrMalformedRequest)
	}
	for index, request := range requests {
		if err := ValidateAccount(AccountTypeUser, request.UserID); err != nil {
			return fmt.Errorf("request %d: %w", index, err)
		}
		if request.Amount < 1 {
			return fmt.Errorf("%w: request %d amount must be positive, got %d", ErrInvalidAmount, index, request.Amount)
		}
	}
	return nil
}
