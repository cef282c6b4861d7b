// Package redisstore implements the storage interfaces on Redis, as the
// drop-in KV alternative to the flat-file backend. Accounts live in a
// list, each inbox in its own list of stored SEND_MAIL envelopes.
package redisstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/postwire/postwire/internal/protocol"
	"github.com/postwire/postwire/internal/storage"
)

// Config configures the Redis store.
type Config struct {
	// RedisURL is the Redis connection URL.
	RedisURL string
	// Prefix is the key prefix for all store keys.
	Prefix string
}

// DefaultConfig returns default store configuration.
func DefaultConfig() Config {
	return Config{
		RedisURL: "redis://localhost:6379/0",
		Prefix:   "postwire",
	}
}

// Store implements storage.AccountStore and storage.MailboxStore on
// Redis. Read-modify-write sequences against one inbox are serialized
// by an in-process lock per inbox key; the server is single-node (no
// cross-process coordination is needed).
type Store struct {
	client *redis.Client
	config Config

	mu      sync.Mutex
	inboxMu map[string]*sync.Mutex
}

// New creates a Redis-backed store and validates the connection.
func New(cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	opts.MaxRetries = 3
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = 1 * time.Second
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:  client,
		config:  cfg,
		inboxMu: make(map[string]*sync.Mutex),
	}, nil
}

// Close releases the Redis connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) accountsKey() string {
	return s.config.Prefix + ":accounts"
}

func (s *Store) inboxSetKey() string {
	return s.config.Prefix + ":inboxes"
}

func (s *Store) inboxKey(email string) string {
	return s.config.Prefix + ":inbox:" + base64.RawURLEncoding.EncodeToString([]byte(email))
}

func (s *Store) lockInbox(email string) *sync.Mutex {
	key := s.inboxKey(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.inboxMu[key]
	if !ok {
		mu = &sync.Mutex{}
		s.inboxMu[key] = mu
	}
	return mu
}

// LoadAccounts reads the whole account list. A missing key means an
// empty registry.
func (s *Store) LoadAccounts(ctx context.Context) ([]storage.Account, error) {
	values, err := s.client.LRange(ctx, s.accountsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	accounts := make([]storage.Account, 0, len(values))
	for _, v := range values {
		var acct storage.Account
		if err := json.Unmarshal([]byte(v), &acct); err != nil {
			return nil, fmt.Errorf("parse account entry: %w", err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// AppendAccount pushes one account onto the registry list.
func (s *Store) AppendAccount(ctx context.Context, acct storage.Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	if err := s.client.RPush(ctx, s.accountsKey(), data).Err(); err != nil {
		return fmt.Errorf("append account: %w", err)
	}
	return nil
}

// EnsureInbox marks the account's inbox as existing. An empty Redis
// list has no key of its own, so existence is tracked in a side set.
func (s *Store) EnsureInbox(ctx context.Context, email string) error {
	if err := s.client.SAdd(ctx, s.inboxSetKey(), s.inboxKey(email)).Err(); err != nil {
		return fmt.Errorf("ensure inbox: %w", err)
	}
	return nil
}

// HasInbox reports whether the account's inbox exists.
func (s *Store) HasInbox(ctx context.Context, email string) (bool, error) {
	has, err := s.client.SIsMember(ctx, s.inboxSetKey(), s.inboxKey(email)).Result()
	if err != nil {
		return false, fmt.Errorf("check inbox: %w", err)
	}
	return has, nil
}

// AppendMail appends one stored envelope to the inbox list.
func (s *Store) AppendMail(ctx context.Context, email string, mail protocol.Mail) error {
	mu := s.lockInbox(email)
	mu.Lock()
	defer mu.Unlock()

	line, err := protocol.Encode(protocol.Message{Type: protocol.TypeSendMail, Data: mail})
	if err != nil {
		return fmt.Errorf("encode stored mail: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.inboxKey(email), line)
	pipe.SAdd(ctx, s.inboxSetKey(), s.inboxKey(email))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append mail: %w", err)
	}
	return nil
}

// ListMail returns every stored mail in delivery order.
func (s *Store) ListMail(ctx context.Context, email string) ([]protocol.Mail, error) {
	mu := s.lockInbox(email)
	mu.Lock()
	defer mu.Unlock()

	return s.listLocked(ctx, email)
}

func (s *Store) listLocked(ctx context.Context, email string) ([]protocol.Mail, error) {
	has, err := s.HasInbox(ctx, email)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, storage.ErrInboxNotFound
	}

	values, err := s.client.LRange(ctx, s.inboxKey(email), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list mail: %w", err)
	}

	mails := make([]protocol.Mail, 0, len(values))
	for i, v := range values {
		msg, err := protocol.Decode(v)
		if err != nil {
			return nil, fmt.Errorf("parse inbox entry %d: %w", i, err)
		}
		mail, ok := msg.Data.(protocol.Mail)
		if !ok || msg.Type != protocol.TypeSendMail {
			return nil, fmt.Errorf("inbox entry %d has type %q, want %q", i, msg.Type, protocol.TypeSendMail)
		}
		mails = append(mails, mail)
	}
	return mails, nil
}

// UpdateReceivers rewrites in place the receiver list of the first
// stored mail structurally equal to match.
func (s *Store) UpdateReceivers(ctx context.Context, email string, match protocol.Mail, receivers []string) (bool, error) {
	mu := s.lockInbox(email)
	mu.Lock()
	defer mu.Unlock()

	mails, err := s.listLocked(ctx, email)
	if err != nil {
		if err == storage.ErrInboxNotFound {
			return false, nil
		}
		return false, err
	}

	for i, mail := range mails {
		if mail.Equal(match) {
			mail.Receivers = append([]string(nil), receivers...)
			line, err := protocol.Encode(protocol.Message{Type: protocol.TypeSendMail, Data: mail})
			if err != nil {
				return false, fmt.Errorf("encode stored mail: %w", err)
			}
			if err := s.client.LSet(ctx, s.inboxKey(email), int64(i), line).Err(); err != nil {
				return false, fmt.Errorf("update mail: %w", err)
			}
			return true, nil
		}
	}
	return false, nil
}
