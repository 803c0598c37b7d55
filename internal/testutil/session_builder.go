package testutil

import (
	"context"

	"github.com/hupe1980/xagent/core"
	"github.com/hupe1980/xagent/session"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	sess, store := NewSessionBuilder("u1").Session("s1").Messages(msgs...).Build()
type SessionBuilder struct {
	userID    string
	sessionID string
	store     core.MessageStore
	msgs      []core.Message
}

// NewSessionBuilder creates a new builder for a session owned by userID.
func NewSessionBuilder(userID string) *SessionBuilder {
	return &SessionBuilder{userID: userID}
}

// Session sets the session id (chainable).
func (b *SessionBuilder) Session(id string) *SessionBuilder { b.sessionID = id; return b }

// Store uses store instead of a fresh in-memory store (chainable).
func (b *SessionBuilder) Store(store core.MessageStore) *SessionBuilder { b.store = store; return b }

// Messages seeds the history (chainable).
func (b *SessionBuilder) Messages(msgs ...core.Message) *SessionBuilder {
	b.msgs = append(b.msgs, msgs...)
	return b
}

// Build returns the session and its backing store. Seeding errors panic
// since they indicate a broken test fixture.
func (b *SessionBuilder) Build() (*core.Session, core.MessageStore) {
	store := b.store
	if store == nil {
		store = session.NewInMemoryStore()
	}

	sess := core.NewSession(b.userID, b.sessionID, store)

	if len(b.msgs) > 0 {
		if err := sess.AddMessages(context.Background(), b.msgs...); err != nil {
			panic(err)
		}
	}

	return sess, store
}
