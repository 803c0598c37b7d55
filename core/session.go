package core

import (
	"context"
	"errors"

	"github.com/hupe1980/xagent/logging"
)

// DefaultMaxHistory bounds how many messages a Session reads in one call.
const DefaultMaxHistory = 100

// ErrNoStore is returned when a Session has no MessageStore attached.
var ErrNoStore = errors.New("session has no message store")

// SessionOptions configures a Session.
type SessionOptions struct {
	// Logger receives session level diagnostics (defaults to NoOp).
	Logger logging.Logger

	// MaxHistory caps the number of messages returned by GetMessages.
	MaxHistory int
}

// Session owns a (user, session) identity and delegates every history
// operation to a MessageStore. It holds no messages itself, so any number of
// Session values may point at the same conversation.
type Session struct {
	userID     string
	sessionID  string
	store      MessageStore
	maxHistory int
	logger     logging.Logger
}

// NewSession binds a conversation identity to a store. The store is always
// supplied by the caller; sessions never share hidden global state.
func NewSession(userID, sessionID string, store MessageStore, optFns ...func(o *SessionOptions)) *Session {
	opts := SessionOptions{
		Logger:     logging.NoOpLogger{},
		MaxHistory: DefaultMaxHistory,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}

	return &Session{
		userID:     userID,
		sessionID:  sessionID,
		store:      store,
		maxHistory: opts.MaxHistory,
		logger:     logging.With(opts.Logger, "user_id", userID, "session_id", sessionID),
	}
}

// UserID returns the owning user identifier.
func (s *Session) UserID() string { return s.userID }

// SessionID returns the conversation identifier (may be empty).
func (s *Session) SessionID() string { return s.sessionID }

// Store returns the backing MessageStore.
func (s *Session) Store() MessageStore { return s.store }

// AddMessages validates and appends msgs in a single store call.
func (s *Session) AddMessages(ctx context.Context, msgs ...Message) error {
	if s.store == nil {
		return ErrNoStore
	}

	if len(msgs) == 0 {
		return nil
	}

	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return err
		}
	}

	if err := s.store.AddMessages(ctx, s.userID, s.sessionID, msgs...); err != nil {
		s.logger.Error("session.add.error", "count", len(msgs), "error", err.Error())
		return err
	}

	s.logger.Debug("session.add", "count", len(msgs))

	return nil
}

// GetMessages returns up to count of the most recent messages. A count of
// zero or less, or above MaxHistory, is clamped to MaxHistory.
func (s *Session) GetMessages(ctx context.Context, count int) ([]Message, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}

	if count <= 0 || count > s.maxHistory {
		count = s.maxHistory
	}

	return s.store.GetMessages(ctx, s.userID, s.sessionID, count)
}

// Clear removes the conversation history.
func (s *Session) Clear(ctx context.Context) error {
	if s.store == nil {
		return ErrNoStore
	}

	s.logger.Info("session.clear")

	return s.store.ClearHistory(ctx, s.userID, s.sessionID)
}

// PopMessage undoes the last conversational message together with any tool
// records that trail it.
func (s *Session) PopMessage(ctx context.Context) (*Message, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}

	return s.store.PopMessage(ctx, s.userID, s.sessionID)
}

// Key renders the session identity for logging.
func (s *Session) Key() string {
	if s.sessionID == "" {
		return s.userID
	}

	return s.userID + ":" + s.sessionID
}
