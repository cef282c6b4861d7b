// Package registry holds the set of registered account identities. It
// is the single source of truth for "is this address real".
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/postwire/postwire/internal/logging"
	"github.com/postwire/postwire/internal/storage"
	"github.com/postwire/postwire/internal/validation"
)

// ErrAlreadyRegistered is returned when the email, in any case variant,
// is already an account.
var ErrAlreadyRegistered = errors.New("email already registered")

// Registry is the in-memory account set backed by an AccountStore.
// All access runs under one lock; membership reads taken by other
// components observe a consistent snapshot.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]storage.Account // normalized email -> stored account

	store     storage.AccountStore
	mailboxes storage.MailboxStore
	logger    *logging.Logger
}

// New creates an empty registry over the given stores.
func New(store storage.AccountStore, mailboxes storage.MailboxStore, logger *logging.Logger) *Registry {
	return &Registry{
		accounts:  make(map[string]storage.Account),
		store:     store,
		mailboxes: mailboxes,
		logger:    logger.Registry(),
	}
}

// Load eagerly reads every persisted account. An empty or absent store
// yields an empty registry, not an error.
func (r *Registry) Load(ctx context.Context) error {
	accounts, err := r.store.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = make(map[string]storage.Account, len(accounts))
	for _, acct := range accounts {
		r.accounts[validation.NormalizeEmail(acct.Email)] = acct
	}
	r.logger.Info("account registry loaded", "accounts", len(accounts))
	return nil
}

// IsRegistered reports whether the email, compared case-insensitively,
// is a registered account.
func (r *Registry) IsRegistered(email string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.accounts[validation.NormalizeEmail(email)]
	return ok
}

// Count returns the number of registered accounts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// Register creates a new account: the registry file gains the entry and
// the account gets an empty inbox. Both writes must succeed for the
// registration to be reported as successful; the in-memory set is only
// updated once they have.
func (r *Registry) Register(ctx context.Context, email string) error {
	key := validation.NormalizeEmail(email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[key]; ok {
		return ErrAlreadyRegistered
	}

	acct := storage.Account{Email: email}
	if err := r.store.AppendAccount(ctx, acct); err != nil {
		return fmt.Errorf("persist account: %w", err)
	}
	if err := r.mailboxes.EnsureInbox(ctx, email); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}

	r.accounts[key] = acct
	r.logger.Info("account registered", "account", email)
	return nil
}
