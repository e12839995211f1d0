// Package identity resolves who is calling a ledger operation.
package identity

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
)

type callerContextKey struct{}

// WithCaller returns a context carrying the authenticated caller id.
func WithCaller(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerContextKey{}, callerID)
}

// CallerFromContext returns the caller id stored by WithCaller.
func CallerFromContext(ctx context.Context) (string, bool) {
	callerID, ok := ctx.Value(callerContextKey{}).(string)
	if !ok || callerID == "" {
		return "", false
	}
	return callerID, true
}

// ContextResolver implements ledger.IdentityResolver over WithCaller contexts.
type ContextResolver struct{}

// CallerID returns the caller stored on ctx or ledger.ErrIdentity.
func (ContextResolver) CallerID(ctx context.Context) (string, error) {
	callerID, ok := CallerFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("%w: no authenticated caller", ledger.ErrIdentity)
	}
	return callerID, nil
}
