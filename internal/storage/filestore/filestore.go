// Package filestore implements the storage interfaces on flat JSON
// files: one file holding the account array, one file per inbox named
// by the URL-safe Base64 encoding of the account's email.
package filestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/postwire/postwire/internal/protocol"
	"github.com/postwire/postwire/internal/storage"
)

// Store implements storage.AccountStore and storage.MailboxStore on a
// data directory. Each inbox file is the unit of consistency: every
// read-modify-write on one inbox runs under that inbox's lock.
type Store struct {
	accountsPath string
	inboxDir     string

	accountsMu sync.Mutex

	mu      sync.Mutex
	inboxMu map[string]*sync.Mutex // keyed by encoded inbox name
}

// New creates a flat-file store rooted at the given paths, creating the
// inbox directory if needed.
func New(accountsPath, inboxDir string) (*Store, error) {
	if err := os.MkdirAll(inboxDir, 0750); err != nil {
		return nil, fmt.Errorf("create inbox dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(accountsPath), 0750); err != nil {
		return nil, fmt.Errorf("create accounts dir: %w", err)
	}
	return &Store{
		accountsPath: accountsPath,
		inboxDir:     inboxDir,
		inboxMu:      make(map[string]*sync.Mutex),
	}, nil
}

// storedEnvelope is the on-disk shape of one inbox entry: a full
// SEND_MAIL envelope, identical to the wire frame.
type storedEnvelope struct {
	Type protocol.MessageType `json:"type"`
	Data protocol.Mail        `json:"data"`
}

// encodeInboxName maps an email to its inbox file name. Raw email
// bytes, not the normalized form: the file name is an encoding, the
// registry owns identity comparison.
func encodeInboxName(email string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(email)) + ".json"
}

func (s *Store) inboxPath(email string) string {
	return filepath.Join(s.inboxDir, encodeInboxName(email))
}

// lockInbox returns the mutex serializing access to one inbox file.
func (s *Store) lockInbox(email string) *sync.Mutex {
	name := encodeInboxName(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.inboxMu[name]
	if !ok {
		mu = &sync.Mutex{}
		s.inboxMu[name] = mu
	}
	return mu
}

// writeFileAtomic writes via a temp file and rename so a crash never
// leaves a half-written JSON array behind.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// LoadAccounts reads the account file. A missing file means an empty
// registry, not an error.
func (s *Store) LoadAccounts(ctx context.Context) ([]storage.Account, error) {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	data, err := os.ReadFile(s.accountsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []storage.Account{}, nil
		}
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	var accounts []storage.Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	return accounts, nil
}

// AppendAccount rewrites the account file with the new entry included.
func (s *Store) AppendAccount(ctx context.Context, acct storage.Account) error {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	var accounts []storage.Account
	data, err := os.ReadFile(s.accountsPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &accounts); err != nil {
			return fmt.Errorf("parse accounts file: %w", err)
		}
	case os.IsNotExist(err):
		accounts = []storage.Account{}
	default:
		return fmt.Errorf("read accounts file: %w", err)
	}

	accounts = append(accounts, acct)
	out, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}
	if err := writeFileAtomic(s.accountsPath, out); err != nil {
		return fmt.Errorf("write accounts file: %w", err)
	}
	return nil
}

// EnsureInbox creates an empty inbox file if the account has none.
func (s *Store) EnsureInbox(ctx context.Context, email string) error {
	mu := s.lockInbox(email)
	mu.Lock()
	defer mu.Unlock()

	path := s.inboxPath(email)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat inbox: %w", err)
	}
	if err := writeFileAtomic(path, []byte("[]")); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	return nil
}

// HasInbox reports whether the inbox file exists.
func (s *Store) HasInbox(ctx context.Context, email string) (bool, error) {
	if _, err := os.Stat(s.inboxPath(email)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat inbox: %w", err)
	}
	return true, nil
}

// readInboxLocked loads the whole inbox array. Caller holds the inbox lock.
func (s *Store) readInboxLocked(email string) ([]storedEnvelope, error) {
	data, err := os.ReadFile(s.inboxPath(email))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrInboxNotFound
		}
		return nil, fmt.Errorf("read inbox: %w", err)
	}

	var entries []storedEnvelope
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse inbox: %w", err)
	}
	for i, e := range entries {
		if e.Type != protocol.TypeSendMail {
			return nil, fmt.Errorf("inbox entry %d has type %q, want %q", i, e.Type, protocol.TypeSendMail)
		}
	}
	return entries, nil
}

// writeInboxLocked rewrites the whole inbox array. Caller holds the inbox lock.
func (s *Store) writeInboxLocked(email string, entries []storedEnvelope) error {
	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode inbox: %w", err)
	}
	if err := writeFileAtomic(s.inboxPath(email), out); err != nil {
		return fmt.Errorf("write inbox: %w", err)
	}
	return nil
}

// AppendMail appends one stored envelope to the account's inbox,
// creating the inbox if needed. No deduplication: two deliveries of the
// same mail store two entries.
func (s *Store) AppendMail(ctx context.Context, email string, mail protocol.Mail) error {
	mu := s.lockInbox(email)
	mu.Lock()
	defer mu.Unlock()

	entries, err := s.readInboxLocked(email)
	if err != nil && err != storage.ErrInboxNotFound {
		return err
	}

	entries = append(entries, storedEnvelope{Type: protocol.TypeSendMail, Data: mail})
	return s.writeInboxLocked(email, entries)
}

// ListMail returns every stored mail in delivery order.
func (s *Store) ListMail(ctx context.Context, email string) ([]protocol.Mail, error) {
	mu := s.lockInbox(email)
	mu.Lock()
	defer mu.Unlock()

	entries, err := s.readInboxLocked(email)
	if err != nil {
		return nil, err
	}

	mails := make([]protocol.Mail, 0, len(entries))
	for _, e := range entries {
		mails = append(mails, e.Data)
	}
	return mails, nil
}

// UpdateReceivers rewrites in place the receiver list of the first
// stored mail structurally equal to match. The read-modify-write runs
// entirely under the inbox lock.
func (s *Store) UpdateReceivers(ctx context.Context, email string, match protocol.Mail, receivers []string) (bool, error) {
	mu := s.lockInbox(email)
	mu.Lock()
	defer mu.Unlock()

	entries, err := s.readInboxLocked(email)
	if err != nil {
		if err == storage.ErrInboxNotFound {
			return false, nil
		}
		return false, err
	}

	for i := range entries {
		if entries[i].Data.Equal(match) {
			entries[i].Data.Receivers = append([]string(nil), receivers...)
			if err := s.writeInboxLocked(email, entries); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}
