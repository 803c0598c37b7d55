package session

import (
	"context"
	"sync"

	"github.com/hupe1980/xagent/core"
	"github.com/hupe1980/xagent/logging"
)

// DefaultMaxMessages bounds the per conversation buffer of an InMemoryStore.
const DefaultMaxMessages = 100

// Options configures an InMemoryStore.
type Options struct {
	// MaxMessages is the per conversation capacity; the oldest messages are
	// dropped once it is exceeded.
	MaxMessages int

	Logger logging.Logger
}

type key struct {
	userID    string
	sessionID string
}

// InMemoryStore is a volatile MessageStore storing conversations in a process
// local map. It is safe for concurrent access. Every instance is independent;
// there is no package level state shared between stores.
type InMemoryStore struct {
	mu          sync.RWMutex
	messages    map[key][]core.Message
	maxMessages int
	logger      logging.Logger
}

var _ core.MessageStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in‑memory message store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{
		MaxMessages: DefaultMaxMessages,
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}

	return &InMemoryStore{
		messages:    make(map[key][]core.Message),
		maxMessages: opts.MaxMessages,
		logger:      opts.Logger,
	}
}

// AddMessages appends msgs and drops the oldest entries beyond capacity,
// together with any tool output left without its call.
func (s *InMemoryStore) AddMessages(_ context.Context, userID, sessionID string, msgs ...core.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{userID, sessionID}
	buf := append(s.messages[k], core.CloneMessages(msgs)...)

	if over := len(buf) - s.maxMessages; over > 0 {
		// never keep an output whose call was dropped
		for over < len(buf) && buf[over].IsFunctionCallOutput() {
			over++
		}

		buf = append([]core.Message(nil), buf[over:]...)
	}

	s.messages[k] = buf

	return nil
}

// GetMessages returns a copy of the last count messages. Records that fail
// validation are skipped and logged.
func (s *InMemoryStore) GetMessages(_ context.Context, userID, sessionID string, count int) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.messages[key{userID, sessionID}]
	if count <= 0 {
		return []core.Message{}, nil
	}

	if count < len(buf) {
		buf = buf[len(buf)-count:]
	}

	out := make([]core.Message, 0, len(buf))

	for _, m := range buf {
		if err := m.Validate(); err != nil {
			s.logger.Warn("session.message.malformed", "user_id", userID, "session_id", sessionID, "error", err.Error())
			continue
		}

		out = append(out, m)
	}

	return core.CloneMessages(out), nil
}

// ClearHistory drops the conversation.
func (s *InMemoryStore) ClearHistory(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, key{userID, sessionID})

	return nil
}

// PopMessage removes trailing tool messages and the last user or assistant
// message, returning the latter. It returns nil when only tool records (or
// nothing) remain; those tool records are removed as well.
func (s *InMemoryStore) PopMessage(_ context.Context, userID, sessionID string) (*core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{userID, sessionID}
	buf := s.messages[k]

	for len(buf) > 0 {
		last := buf[len(buf)-1]
		buf = buf[:len(buf)-1]

		if last.IsTool() {
			continue
		}

		s.messages[k] = buf
		popped := core.CloneMessages([]core.Message{last})[0]

		return &popped, nil
	}

	delete(s.messages, k)

	return nil, nil
}

// Len returns the number of buffered messages for a conversation.
func (s *InMemoryStore) Len(userID, sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.messages[key{userID, sessionID}])
}
