// Package redis provides a Redis backed core.MessageStore. Each conversation
// is a Redis list of JSON encoded messages under "chat:<user>[:<session>]"
// whose expiry is refreshed on every append.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hupe1980/xagent/core"
	"github.com/hupe1980/xagent/logging"
)

const (
	// DefaultTTL is the conversation expiry refreshed on every append (30 days).
	DefaultTTL = 30 * 24 * time.Hour

	// DefaultKeyPrefix namespaces conversation lists.
	DefaultKeyPrefix = "chat"

	// DefaultMaxMessages bounds each conversation list (0 disables trimming).
	DefaultMaxMessages = 200
)

// Options configures a Store.
type Options struct {
	TTL         time.Duration
	KeyPrefix   string
	MaxMessages int
	Logger      logging.Logger
}

// Store persists conversations in Redis lists.
type Store struct {
	client goredis.UniversalClient
	opts   Options
}

var _ core.MessageStore = (*Store)(nil)

// New wraps an existing go-redis client.
func New(client goredis.UniversalClient, optFns ...func(o *Options)) *Store {
	opts := Options{
		TTL:         DefaultTTL,
		KeyPrefix:   DefaultKeyPrefix,
		MaxMessages: DefaultMaxMessages,
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{client: client, opts: opts}
}

// NewFromURL parses a redis:// or rediss:// URL and connects lazily.
func NewFromURL(url string, optFns ...func(o *Options)) (*Store, error) {
	clientOpts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	return New(goredis.NewClient(clientOpts), optFns...), nil
}

// Key renders the list key of a conversation.
func (s *Store) Key(userID, sessionID string) string {
	if sessionID == "" {
		return fmt.Sprintf("%s:%s", s.opts.KeyPrefix, userID)
	}

	return fmt.Sprintf("%s:%s:%s", s.opts.KeyPrefix, userID, sessionID)
}

// AddMessages appends msgs, refreshes the TTL and trims the list in one
// MULTI/EXEC round trip. A function_call_output left at the head by the trim
// is popped afterwards, so the list never starts with half a tool pair.
func (s *Store) AddMessages(ctx context.Context, userID, sessionID string, msgs ...core.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	values := make([]any, 0, len(msgs))

	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}

		values = append(values, data)
	}

	key := s.Key(userID, sessionID)

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)

		if s.opts.TTL > 0 {
			pipe.Expire(ctx, key, s.opts.TTL)
		}

		if s.opts.MaxMessages > 0 {
			pipe.LTrim(ctx, key, int64(-s.opts.MaxMessages), -1)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append %s: %w", key, err)
	}

	if s.opts.MaxMessages > 0 {
		return s.dropOrphanHead(ctx, key)
	}

	return nil
}

// dropOrphanHead pops function_call_output records whose call was trimmed.
func (s *Store) dropOrphanHead(ctx context.Context, key string) error {
	for {
		raw, err := s.client.LIndex(ctx, key, 0).Result()
		if errors.Is(err, goredis.Nil) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("redis trim %s: %w", key, err)
		}

		if m, ok := s.decode(key, raw); !ok || !m.IsFunctionCallOutput() {
			return nil
		}

		if err := s.client.LPop(ctx, key).Err(); err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("redis trim %s: %w", key, err)
		}
	}
}

// GetMessages returns the last count messages in append order, skipping
// entries that cannot be decoded.
func (s *Store) GetMessages(ctx context.Context, userID, sessionID string, count int) ([]core.Message, error) {
	if count <= 0 {
		return []core.Message{}, nil
	}

	key := s.Key(userID, sessionID)

	raw, err := s.client.LRange(ctx, key, int64(-count), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read %s: %w", key, err)
	}

	out := make([]core.Message, 0, len(raw))

	for _, r := range raw {
		m, ok := s.decode(key, r)
		if !ok {
			continue
		}

		out = append(out, m)
	}

	return out, nil
}

// ClearHistory deletes the conversation list.
func (s *Store) ClearHistory(ctx context.Context, userID, sessionID string) error {
	key := s.Key(userID, sessionID)

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis clear %s: %w", key, err)
	}

	return nil
}

// PopMessage pops from the tail until a user or assistant message is found.
// Tool records and undecodable entries on the way are discarded.
func (s *Store) PopMessage(ctx context.Context, userID, sessionID string) (*core.Message, error) {
	key := s.Key(userID, sessionID)

	for {
		raw, err := s.client.RPop(ctx, key).Result()
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}

		if err != nil {
			return nil, fmt.Errorf("redis pop %s: %w", key, err)
		}

		m, ok := s.decode(key, raw)
		if !ok || m.IsTool() {
			continue
		}

		return &m, nil
	}
}

// TrimHistory keeps only the newest maxLength messages.
func (s *Store) TrimHistory(ctx context.Context, userID, sessionID string, maxLength int) error {
	if maxLength <= 0 {
		return s.ClearHistory(ctx, userID, sessionID)
	}

	return s.client.LTrim(ctx, s.Key(userID, sessionID), int64(-maxLength), -1).Err()
}

// SetExpire overrides the TTL of one conversation.
func (s *Store) SetExpire(ctx context.Context, userID, sessionID string, ttl time.Duration) error {
	return s.client.Expire(ctx, s.Key(userID, sessionID), ttl).Err()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) decode(key, raw string) (core.Message, bool) {
	var m core.Message

	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		s.opts.Logger.Warn("session.redis.malformed", "key", key, "error", err.Error())
		return core.Message{}, false
	}

	if err := m.Validate(); err != nil {
		s.opts.Logger.Warn("session.redis.malformed", "key", key, "error", err.Error())
		return core.Message{}, false
	}

	return m, true
}
