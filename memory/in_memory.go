package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/hupe1980/xagent/core"
	"github.com/hupe1980/xagent/internal/util"
)

// DefaultLimit is used by Retrieve when limit is not positive.
const DefaultLimit = 5

// ErrNotFound is returned by Delete for unknown memory ids.
var ErrNotFound = errors.New("memory not found")

// ErrEmptyContent is returned by Store for blank content.
var ErrEmptyContent = errors.New("memory content is empty")

// Options configures an InMemoryStore.
type Options struct {
	// Clock stamps CreatedAt (defaults to time.Now).
	Clock func() time.Time
}

type record struct {
	piece  core.MemoryPiece
	tokens map[string]struct{}
}

// InMemoryStore is a process local MemoryStore keyed by user id.
//
// Retrieve ranks memories by token overlap with the query (the share of query
// tokens that occur in the memory); ties are broken by recency. An empty query
// returns the most recent memories. Suitable for tests, demos and single node
// deployments; swap for a vector index for semantic recall.
//
// Concurrency: protected by RWMutex.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[string][]record
	clock func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{Clock: time.Now}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &InMemoryStore{users: make(map[string][]record), clock: opts.Clock}
}

// Store saves content for userID and returns the generated memory id.
func (m *InMemoryStore) Store(_ context.Context, userID, content string, metadata map[string]any) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}

	piece := core.MemoryPiece{
		ID:        util.NewID("mem"),
		Content:   content,
		Metadata:  copyMetadata(metadata),
		CreatedAt: m.clock(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.users[userID] = append(m.users[userID], record{piece: piece, tokens: tokenize(content)})

	return piece.ID, nil
}

// Retrieve returns up to limit memories of userID relevant to query, best first.
func (m *InMemoryStore) Retrieve(_ context.Context, userID, query string, limit int) ([]core.MemoryPiece, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	m.mu.RLock()
	records := m.users[userID]
	candidates := make([]core.MemoryPiece, 0, len(records))
	order := make(map[string]int, len(records))

	queryTokens := tokenize(query)

	for i, r := range records {
		score := 1.0
		if len(queryTokens) > 0 {
			score = overlap(queryTokens, r.tokens)
			if score == 0 {
				continue
			}
		}

		p := r.piece
		p.Score = score
		p.Metadata = copyMetadata(p.Metadata)
		candidates = append(candidates, p)
		order[p.ID] = i
	}
	m.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}

		return order[candidates[i].ID] > order[candidates[j].ID]
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	return candidates, nil
}

// Delete removes a memory of userID by id.
func (m *InMemoryStore) Delete(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.users[userID]
	for i, r := range records {
		if r.piece.ID == id {
			m.users[userID] = append(records[:i:i], records[i+1:]...)
			return nil
		}
	}

	return ErrNotFound
}

// Clear removes every memory of userID.
func (m *InMemoryStore) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.users, userID)

	return nil
}

// Len returns how many memories userID has.
func (m *InMemoryStore) Len(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.users[userID])
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[f] = struct{}{}
	}

	return tokens
}

func overlap(query, doc map[string]struct{}) float64 {
	hits := 0

	for t := range query {
		if _, ok := doc[t]; ok {
			hits++
		}
	}

	return float64(hits) / float64(len(query))
}

func copyMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}

	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}

	return out
}

var _ core.MemoryStore = (*InMemoryStore)(nil)
