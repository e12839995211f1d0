package ledger

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Account types understood by the ledger.
const (
	AccountTypeUser    = "user_"
	AccountTypeProject = "project_"
)

// AccountKey is the canonical composite identifier of an account in the balance tables.
type AccountKey string

// AccountKeyFor derives the composite key for an account type and entity id.
// The encoding is "\x00" + type + "\x00" + id + "\x00", injective for identifiers without U+0000.
func AccountKeyFor(accountType string, entityID string) AccountKey {
	var builder strings.Builder
	builder.Grow(len(accountType) + len(entityID) + 3*len(compositeKeySeparator))
	builder.WriteString(compositeKeySeparator)
	builder.WriteString(accountType)
	builder.WriteString(compositeKeySeparator)
	builder.WriteString(entityID)
	builder.WriteString(compositeKeySeparator)
	return AccountKey(builder.String())
}

// ValidateAccount rejects account parts that would make AccountKeyFor ambiguous or
// produce invalid UTF-8 in the serialized tables: empty values, U+0000 and invalid UTF-8.
func ValidateAccount(accountType string, entityID string) error {
	if err := validateAccountPart("account type", accountType); err != nil {
		return err
	}
	return validateAccountPart("account id", entityID)
}

func validateAccountPart(name string, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrMalformedRequest, name)
	}
	if strings.Contains(value, compositeKeySeparator) {
		return fmt.Errorf("%w: %s contains U+0000", ErrMalformedRequest, name)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrMalformedRequest, name)
	}
	return nil
}

// UserAccount is shorthand for AccountKeyFor(AccountTypeUser, userID).
func UserAccount(userID string) AccountKey {
	return AccountKeyFor(AccountTypeUser, userID)
}

// ProjectAccount is shorthand for AccountKeyFor(AccountTypeProject, projectID).
func ProjectAccount(projectID string) AccountKey {
	return AccountKeyFor(AccountTypeProject, projectID)
}

// ParseAccountKey splits a composite key into its account type and entity id.
func ParseAccountKey(key AccountKey) (string, string, bool) {
	raw := string(key)
	if !strings.HasPrefix(raw, compositeKeySeparator) || !strings.HasSuffix(raw, compositeKeySeparator) || len(raw) < 3 {
		return "", "", false
	}
	parts := strings.Split(raw[1:len(raw)-1], compositeKeySeparator)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// DisplayID is the identifier shown to clients: the bare id for user accounts,
// type and id concatenated for every other account type.
func (key AccountKey) DisplayID() string {
	accountType, entityID, ok := ParseAccountKey(key)
	if !ok {
		return string(key)
	}
	if accountType == AccountTypeUser {
		return entityID
	}
	return accountType + entityID
}

// String returns the raw composite key.
func (key AccountKey) String() string {
	return string(key)
}

// UserBalance is the computed balance view of one account. It is never stored.
type UserBalance struct {
	UserID  string `json:"userId"`
	Balance int64  `json:"balance"`
}

// ExpirableTransaction is a timestamped credit counted only inside the expiration window.
type ExpirableTransaction struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	CreatedAt int64  `json:"createdAt"`
}

// Expired reports whether the entry falls outside the expiration window at now.
func (transaction ExpirableTransaction) Expired(now int64) bool {
	return transaction.CreatedAt <= now-ExpirationPeriod
}

// TransferRequest is one element of a batch transfer or batch refund payload.
type TransferRequest struct {
	UserID string `json:"userId"`
	Amount int64  `json:"amount"`
}

// WorldState is the key-value store the ledger runs on. Writes made inside fn
// commit only when fn returns nil.
type WorldState interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx StateTx) error) error
}

// StateTx is the read/write view of one world-state transaction.
// GetState returns nil without error for absent keys.
type StateTx interface {
	GetState(ctx context.Context, key string) ([]byte, error)
	PutState(ctx context.Context, key string, value []byte) error
}

// IdentityResolver resolves the authenticated caller of the current operation.
type IdentityResolver interface {
	CallerID(ctx context.Context) (string, error)
}
