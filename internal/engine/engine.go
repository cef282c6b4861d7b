// Package engine implements mail delivery and forwarding over the
// mailbox store, with best-effort live notification of connected
// recipients. The durable record is always the mailbox append; the
// push is an optimization so a connected recipient need not poll.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/postwire/postwire/internal/logging"
	"github.com/postwire/postwire/internal/metrics"
	"github.com/postwire/postwire/internal/protocol"
	"github.com/postwire/postwire/internal/storage"
)

// Common errors
var (
	// ErrMailNotFound is returned by Forward when the mail to forward is
	// not present in the requester's inbox.
	ErrMailNotFound = errors.New("mail not found in inbox")
	// ErrInvalidRecipient is returned when a forward target is not a
	// registered account.
	ErrInvalidRecipient = errors.New("recipient not registered")
)

// Accounts answers registration membership queries.
type Accounts interface {
	IsRegistered(email string) bool
}

// Notifier pushes an envelope to every live session logged in as one of
// the given accounts. It returns the number of sessions reached.
type Notifier interface {
	NotifyAccounts(msg protocol.Message, emails []string) int
}

// Engine composes the mailbox store, the account registry and the live
// session notifier into the deliver and forward operations.
type Engine struct {
	accounts  Accounts
	mailboxes storage.MailboxStore
	notifier  Notifier
	logger    *logging.Logger
}

// New creates an engine. The notifier is attached separately via
// SetNotifier because the server core that implements it is constructed
// after the engine.
func New(accounts Accounts, mailboxes storage.MailboxStore, logger *logging.Logger) *Engine {
	return &Engine{
		accounts:  accounts,
		mailboxes: mailboxes,
		logger:    logger.Engine(),
	}
}

// SetNotifier attaches the live session notifier. Until one is
// attached, deliver and forward skip the push and only write mailboxes.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Deliver appends the mail to every receiver's inbox and pushes it to
// any live session logged in as a receiver. Every call appends; deliver
// never deduplicates across calls. A failed append for one receiver
// does not stop delivery to the rest; the joined errors are returned.
func (e *Engine) Deliver(ctx context.Context, mail protocol.Mail) error {
	var errs []error
	delivered := make([]string, 0, len(mail.Receivers))

	for _, receiver := range mail.Receivers {
		if err := e.mailboxes.AppendMail(ctx, receiver, mail); err != nil {
			e.logger.ErrorContext(ctx, "mailbox append failed", err, "receiver", receiver)
			metrics.RecordError("engine", "io")
			errs = append(errs, fmt.Errorf("deliver to %s: %w", receiver, err))
			continue
		}
		metrics.MailsDelivered.Inc()
		delivered = append(delivered, receiver)
	}

	if e.notifier != nil && len(delivered) > 0 {
		reached := e.notifier.NotifyAccounts(protocol.Message{Type: protocol.TypeSendMail, Data: mail}, delivered)
		metrics.LivePushes.Add(float64(reached))
	}

	e.logger.InfoContext(ctx, "mail delivered",
		"sender", mail.SenderEmail,
		"receivers", len(mail.Receivers),
		"appended", len(delivered))
	return errors.Join(errs...)
}

// Inbox returns every stored mail for the account in delivery order. A
// registered account whose inbox file has gone missing is treated as
// having an empty inbox rather than failing the read.
func (e *Engine) Inbox(ctx context.Context, email string) ([]protocol.Mail, error) {
	mails, err := e.mailboxes.ListMail(ctx, email)
	if errors.Is(err, storage.ErrInboxNotFound) {
		return nil, nil
	}
	if err != nil {
		metrics.RecordError("engine", "io")
		return nil, fmt.Errorf("read inbox %s: %w", email, err)
	}
	return mails, nil
}

// Forward extends an existing mail's receiver set. The mail must be
// present in the requester's own inbox and every target must be a
// registered account before anything is written. Old receivers' stored
// copies are rewritten in place to the extended receiver list; targets
// not already receivers get a fresh copy appended, and live sessions
// logged in as a target are notified. Write failures after validation
// are not rolled back: the joined errors are returned and any files
// already written stay written.
func (e *Engine) Forward(ctx context.Context, req protocol.ForwardData, requester string) error {
	has, err := e.mailboxes.HasInbox(ctx, requester)
	if err != nil {
		metrics.RecordError("engine", "io")
		return fmt.Errorf("resolve inbox %s: %w", requester, err)
	}
	if !has {
		return fmt.Errorf("%w: %s", storage.ErrInboxNotFound, requester)
	}

	stored, err := e.mailboxes.ListMail(ctx, requester)
	if err != nil {
		metrics.RecordError("engine", "io")
		return fmt.Errorf("read inbox %s: %w", requester, err)
	}

	// The stored copy, not the client-supplied one, is the canonical
	// original: its receiver order drives the rewrite below.
	var original protocol.Mail
	found := false
	for _, m := range stored {
		if m.Equal(req.Mail) {
			original = m
			found = true
			break
		}
	}
	if !found {
		return ErrMailNotFound
	}

	// All-or-nothing target validation: no file is touched if any
	// target is unregistered.
	for _, target := range req.ForwardTo {
		if !e.accounts.IsRegistered(target) {
			return fmt.Errorf("%w: %s", ErrInvalidRecipient, target)
		}
	}

	newReceivers, updatedReceivers := extendReceivers(original.Receivers, req.ForwardTo)

	forwarded := original
	forwarded.Receivers = updatedReceivers

	var errs []error
	for _, receiver := range distinct(original.Receivers) {
		ok, err := e.mailboxes.UpdateReceivers(ctx, receiver, original, updatedReceivers)
		if err != nil {
			e.logger.ErrorContext(ctx, "receiver rewrite failed", err, "receiver", receiver)
			metrics.RecordError("engine", "io")
			errs = append(errs, fmt.Errorf("update %s: %w", receiver, err))
			continue
		}
		if !ok {
			e.logger.WarnContext(ctx, "stored copy missing during forward", "receiver", receiver)
		}
	}

	for _, receiver := range newReceivers {
		if err := e.mailboxes.AppendMail(ctx, receiver, forwarded); err != nil {
			e.logger.ErrorContext(ctx, "forward append failed", err, "receiver", receiver)
			metrics.RecordError("engine", "io")
			errs = append(errs, fmt.Errorf("forward to %s: %w", receiver, err))
		}
	}

	if e.notifier != nil {
		note := protocol.Message{
			Type: protocol.TypeForward,
			Data: protocol.ForwardData{Mail: forwarded, ForwardTo: newReceivers},
		}
		reached := e.notifier.NotifyAccounts(note, req.ForwardTo)
		metrics.LivePushes.Add(float64(reached))
	}

	metrics.MailsForwarded.Inc()
	e.logger.InfoContext(ctx, "mail forwarded",
		"requester", requester,
		"targets", len(req.ForwardTo),
		"new_receivers", len(newReceivers))
	return errors.Join(errs...)
}

// extendReceivers computes the targets that are not already receivers
// (in target order) and the ordered-set union of original receivers and
// targets. Duplicates collapse in the union even though mail identity
// upstream counts them.
func extendReceivers(original, targets []string) (newReceivers, updated []string) {
	seen := make(map[string]bool, len(original)+len(targets))
	updated = make([]string, 0, len(original)+len(targets))
	for _, r := range original {
		if seen[r] {
			continue
		}
		seen[r] = true
		updated = append(updated, r)
	}
	for _, t := range targets {
		if seen[t] {
			continue
		}
		seen[t] = true
		newReceivers = append(newReceivers, t)
		updated = append(updated, t)
	}
	return newReceivers, updated
}

// distinct collapses duplicates preserving first-occurrence order.
func distinct(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
