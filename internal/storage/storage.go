// Package storage defines the persistence interfaces for accounts and
// per-account inboxes. The flat-file implementation lives in
// storage/filestore; a Redis-backed alternative lives in
// storage/redisstore.
package storage

import (
	"context"
	"errors"

	"github.com/postwire/postwire/internal/protocol"
)

// Common errors
var (
	// ErrInboxNotFound is returned when an account has no inbox.
	ErrInboxNotFound = errors.New("inbox not found")
)

// Account is one registered identity. The email string is the identity,
// compared case-insensitively by the registry.
type Account struct {
	Email string `json:"email"`
}

// AccountStore persists the account registry.
type AccountStore interface {
	// LoadAccounts reads every registered account. A store that has
	// never been written to returns an empty slice, not an error.
	LoadAccounts(ctx context.Context) ([]Account, error)

	// AppendAccount durably adds one account. The caller is responsible
	// for duplicate checking.
	AppendAccount(ctx context.Context, acct Account) error
}

// MailboxStore persists per-account inboxes: ordered collections of
// delivered mail, append-only except for forward-induced receiver-list
// rewrites. Implementations serialize every read-modify-write against
// one inbox, so concurrent appends or rewrites on the same account
// never interleave.
type MailboxStore interface {
	// EnsureInbox creates an empty inbox for the account if none exists.
	EnsureInbox(ctx context.Context, email string) error

	// HasInbox reports whether the account has an inbox.
	HasInbox(ctx context.Context, email string) (bool, error)

	// AppendMail appends one mail to the account's inbox, creating the
	// inbox if needed. Appending the same mail twice stores two entries.
	AppendMail(ctx context.Context, email string, mail protocol.Mail) error

	// ListMail returns every stored mail in delivery order. A missing
	// inbox yields ErrInboxNotFound.
	ListMail(ctx context.Context, email string) ([]protocol.Mail, error)

	// UpdateReceivers finds the stored mail structurally equal to match
	// (multiset receiver equality) and rewrites its receiver list in
	// place. It reports whether a matching mail was found.
	UpdateReceivers(ctx context.Context, email string, match protocol.Mail, receivers []string) (bool, error)
}
