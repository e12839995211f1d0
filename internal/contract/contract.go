// Package contract exposes the ledger as named functions with string arguments,
// the calling convention used by the RPC and HTTP surfaces.
package contract

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
	jsoniter "github.com/json-iterator/go"
)

// Function names accepted by Dispatcher.
const (
	FunctionInitLedger     = "InitLedger"
	FunctionMint           = "Mint"
	FunctionTransfer       = "Transfer"
	FunctionTransferFrom   = "TransferFrom"
	FunctionBatchTransfer  = "BatchTransfer"
	FunctionRefund         = "Refund"
	FunctionBatchRefund    = "BatchRefund"
	FunctionBalanceOf      = "BalanceOf"
	FunctionBatchBalanceOf = "BatchBalanceOf"
	FunctionAllBalances    = "AllBalances"
	FunctionCurrency       = "Currency"
)

var payloadCodec = jsoniter.Config{
	EscapeHTML:            false,
	SortMapKeys:           true,
	DisallowUnknownFields: true,
	UseNumber:             true,
}.Froze()

// Ledger is the operation set the dispatcher drives. *ledger.Service implements it.
type Ledger interface {
	InitLedger(ctx context.Context, minterID string, currencyName string) (string, error)
	Mint(ctx context.Context, amount int64) (ledger.UserBalance, error)
	Transfer(ctx context.Context, receiverType string, receiverID string, amount int64, expirable bool) (ledger.UserBalance, error)
	TransferFrom(ctx context.Context, fromType string, fromID string, toType string, toID string, amount int64, expirable bool) (ledger.UserBalance, error)
	BatchTransfer(ctx context.Context, requests []ledger.TransferRequest, expirable bool) (ledger.UserBalance, error)
	Refund(ctx context.Context, projectID string, receiverID string, amount int64) (ledger.UserBalance, error)
	BatchRefund(ctx context.Context, projectID string, requests []ledger.TransferRequest) (ledger.UserBalance, error)
	BalanceOf(ctx context.Context, accountType string, entityID string) (ledger.UserBalance, error)
	BatchBalanceOf(ctx context.Context, userIDs []string) ([]ledger.UserBalance, error)
	AllBalances(ctx context.Context) ([]ledger.UserBalance, error)
	Currency(ctx context.Context) (string, error)
}

type handler struct {
	arity    int
	readOnly bool
	call     func(ctx context.Context, target Ledger, args []string) (any, error)
}

// Dispatcher routes function calls to a Ledger.
type Dispatcher struct {
	ledger   Ledger
	handlers map[string]handler
}

// NewDispatcher returns a Dispatcher over target.
func NewDispatcher(target Ledger) *Dispatcher {
	return &Dispatcher{ledger: target, handlers: handlers()}
}

// Functions lists every function name the dispatcher accepts, sorted.
func (dispatcher *Dispatcher) Functions() []string {
	names := make([]string, 0, len(dispatcher.handlers))
	for name := range dispatcher.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs any function, state-changing or not.
func (dispatcher *Dispatcher) Invoke(ctx context.Context, function string, args []string) (any, error) {
	return dispatcher.dispatch(ctx, function, args, false)
}

// Query runs read-only functions only.
func (dispatcher *Dispatcher) Query(ctx context.Context, function string, args []string) (any, error) {
	return dispatcher.dispatch(ctx, function, args, true)
}

// Marshal encodes a dispatcher result the way clients receive it.
func Marshal(result any) ([]byte, error) {
	return payloadCodec.Marshal(result)
}

func (dispatcher *Dispatcher) dispatch(ctx context.Context, function string, args []string, readOnly bool) (any, error) {
	entry, ok := dispatcher.handlers[function]
	if !ok {
		return nil, fmt.Errorf("%w: unknown function %q", ledger.ErrMalformedRequest, function)
	}
	if readOnly && !entry.readOnly {
		return nil, fmt.Errorf("%w: %s changes state and cannot be queried", ledger.ErrMalformedRequest, function)
	}
	if len(args) != entry.arity {
		return nil, fmt.Errorf("%w: incorrect number of arguments. Expected %d, was %d", ledger.ErrMalformedRequest, entry.arity, len(args))
	}
	return entry.call(ctx, dispatcher.ledger, args)
}

func handlers() map[string]handler {
	return map[string]handler{
		FunctionInitLedger: {arity: 2, call: func(ctx context.Context, target Ledger, args []string) (any, error) {
			return target.InitLedger(ctx, args[0], args[1])
		}},
		FunctionMint: {arity: 1, call: func(ctx context.Context, target Ledger, args []string) (any, error) {
			amount, err := parseAmount(args[0])
			if err != nil {
				return nil, err
			}
			return target.Mint(ctx, amount)
		}},
		FunctionTransfer: {arity: 4, call: func(ctx context.Context, target Ledger, args []string) (any, error) {
			amount, err := parseAmount(args[2])
			if err != nil {
				return nil, err
			}
			expirable, err := parseFlag(args[3])
			if err != nil {
				return nil, err
			}
			return target.Transfer(ctx, args[0], args[1], amount, expirable)
		}},
		FunctionTransferFrom: {arity: 6, call: func(ctx context.Context, target Ledger, args []string) (any, error) {
			amount, err := parseAmount(args[4])
			if err != nil {
				return nil, err
			}
			expirable, err := parseFlag(args[5])
			if err != nil {
				return nil, err
			}
			return target.TransferFrom(ctx, args[0], args[1], args[2], args[3], amount, expirable)
		}},
		FunctionBatchTransfer: {arity: 1, call: func(ctx context.Context, target Ledger, args []string) (any, error) {
			requests, expirable, err := ParseBatchTransfer(args[0])
			if err != nil {
				return nil, err
			}
			return target.BatchTransfer(ctx, requests, expirable)
		}},
		FunctionRefund: {arity: 3, call: func(ctx context.Context, target Ledger, args []string) (any, error) {
			amount, err := parseAmount(args[2])
			if err != nil {
				return nil, err
			}
			return target.Refund(ctx, args[0], args[1], amount)
		}},
		FunctionBatchRefund: {arity: 2, call: func(ctx context.Context, target Ledger, args []string) (any, error) {
			requests, err := ParseTransferRequests(args[1])
			if err != nil {
				return nil, err
			}
			return target.BatchRefund(ctx, args[0], requests)
		}},
		FunctionBalanceOf: {arity: 2, readOnly: true, call: func(ctx context.Context, target Ledger, args []string) (any, error) {
			return target.BalanceOf(ctx, args[0], args[1])
		}},
		FunctionBatchBalanceOf: {arity: 1, readOnly: true, call: func(ctx context.Context, target Ledger, args []string) (any, error) {
			ids, err := ParseIDs(args[0])
			if err != nil {
				return nil, err
			}
			return target.BatchBalanceOf(ctx, ids)
		}},
		FunctionAllBalances: {arity: 0, readOnly: true, call: func(ctx context.Context, target Ledger, _ []string) (any, error) {
			return target.AllBalances(ctx)
		}},
		FunctionCurrency: {arity: 0, readOnly: true, call: func(ctx context.Context, target Ledger, _ []string) (any, error) {
			return target.Currency(ctx)
		}},
	}
}

func parseAmount(raw string) (int64, error) {
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q is not a 64-bit integer", ledger.ErrInvalidAmount, raw)
	}
	return amount, nil
}

func parseFlag(raw string) (bool, error) {
	flag, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: expirable flag %q is not a boolean", ledger.ErrMalformedRequest, raw)
	}
	return flag, nil
}
