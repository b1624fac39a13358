package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

const sessionTitleMax = 30

// SessionRepository is the in-memory ordered view over the sessions
// collection. Mutations land here optimistically; durability comes from an
// explicit Commit (or FlushDirty) against the record store.
type SessionRepository struct {
	store  *RecordStore
	logger *Logger

	mu       sync.Mutex
	sessions []*Session
	dirty    map[string]bool
	tokens   map[string]uint64
}

func NewSessionRepository(store *RecordStore, logger *Logger) *SessionRepository {
	return &SessionRepository{
		store:  store,
		logger: logger,
		dirty:  make(map[string]bool),
		tokens: make(map[string]uint64),
	}
}

// LoadAll fetches every session from the store and replaces the in-memory
// view, sorted by LastModified descending. The sort is stable so ties keep
// their fetch order.
func (r *SessionRepository) LoadAll(ctx context.Context) ([]Session, error) {
	sessions, err := loadAll[Session](ctx, r.store, CollectionSessions)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastModified > sessions[j].LastModified
	})

	r.mu.Lock()
	r.sessions = make([]*Session, len(sessions))
	for i := range sessions {
		sess := sessions[i]
		r.sessions[i] = &sess
	}
	r.mu.Unlock()

	return sessions, nil
}

// List returns a snapshot of the in-memory view in its current order
// (new sessions first).
func (r *SessionRepository) List() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, copySession(sess))
	}
	return out
}

// Get returns a deep copy of the live session state. Callers must re-read via
// Get after any await boundary instead of caching a snapshot.
func (r *SessionRepository) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.find(id)
	if sess == nil {
		return Session{}, false
	}
	return copySession(sess), true
}

// CreateSession allocates a new session titled with a prefix of the first
// message and inserts it into the view immediately. The session is not yet
// durably committed; that happens when its first exchange completes.
func (r *SessionRepository) CreateSession(firstMessage string) Session {
	now := time.Now()
	sess := &Session{
		ID:           newSessionID(now),
		Title:        truncateTitle(firstMessage),
		Category:     "General",
		Messages:     []Message{},
		LastModified: now.UnixMilli(),
	}

	r.mu.Lock()
	r.sessions = append([]*Session{sess}, r.sessions...)
	r.mu.Unlock()

	return copySession(sess)
}

// DeleteSession removes the session from memory and issues the store delete.
// The two steps are not transactional; a failed store delete leaves the
// in-memory view ahead of the store and is logged.
func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	kept := r.sessions[:0]
	for _, sess := range r.sessions {
		if sess.ID != id {
			kept = append(kept, sess)
		}
	}
	r.sessions = kept
	delete(r.dirty, id)
	delete(r.tokens, id)
	r.mu.Unlock()

	if err := r.store.Delete(ctx, CollectionSessions, id); err != nil {
		r.logger.Error("session delete diverged from store", map[string]interface{}{
			"session_id": id,
			"error":      err.Error(),
		})
		return err
	}
	return nil
}

// AppendMessages appends to the session's message sequence as one mutation
// and bumps LastModified. No-op when the session is not in memory.
func (r *SessionRepository) AppendMessages(id string, messages ...Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.find(id)
	if sess == nil {
		return
	}
	sess.Messages = append(sess.Messages, messages...)
	r.touchLocked(sess)
}

// UpdateMessage replaces the text and grounding of one message in place.
// Used by the streaming assembler against the placeholder model message;
// chunk text is cumulative so this replaces rather than appends.
func (r *SessionRepository) UpdateMessage(sessionID, messageID, text string, grounding []GroundingURL) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.find(sessionID)
	if sess == nil {
		return false
	}
	for i := range sess.Messages {
		if sess.Messages[i].ID == messageID {
			sess.Messages[i].Text = text
			sess.Messages[i].GroundingURLs = append([]GroundingURL(nil), grounding...)
			return true
		}
	}
	return false
}

// Commit re-reads the live session by id and issues exactly one store put.
// On failure the session is marked dirty so FlushDirty can retry later.
func (r *SessionRepository) Commit(ctx context.Context, id string) error {
	sess, ok := r.Get(id)
	if !ok {
		return nil
	}
	if err := r.store.Put(ctx, CollectionSessions, sess.ID, sess); err != nil {
		r.mu.Lock()
		r.dirty[id] = true
		r.mu.Unlock()
		return err
	}
	r.mu.Lock()
	delete(r.dirty, id)
	r.mu.Unlock()
	return nil
}

// FlushDirty retries the store write for every session whose last commit
// failed. Returns the first error encountered; remaining ids stay dirty.
func (r *SessionRepository) FlushDirty(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.dirty))
	for id := range r.dirty {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		if err := r.Commit(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// DirtyCount reports how many sessions await a successful commit.
func (r *SessionRepository) DirtyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dirty)
}

// BeginRequest issues a fresh request token for the session, invalidating any
// token held by an earlier in-flight request.
func (r *SessionRepository) BeginRequest(id string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[id]++
	return r.tokens[id]
}

// TokenValid reports whether token is still the current one for the session.
// Chunk handlers check this before writing and discard stale writes.
func (r *SessionRepository) TokenValid(id string, token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[id] == token
}

func (r *SessionRepository) find(id string) *Session {
	for _, sess := range r.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

// touchLocked keeps LastModified monotonically non-decreasing.
func (r *SessionRepository) touchLocked(sess *Session) {
	now := time.Now().UnixMilli()
	if now > sess.LastModified {
		sess.LastModified = now
	} else {
		sess.LastModified++
	}
}

func copySession(sess *Session) Session {
	out := *sess
	out.Messages = make([]Message, len(sess.Messages))
	for i, m := range sess.Messages {
		out.Messages[i] = m
		out.Messages[i].GroundingURLs = append([]GroundingURL(nil), m.GroundingURLs...)
	}
	return out
}

func truncateTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= sessionTitleMax {
		return text
	}
	return string(runes[:sessionTitleMax])
}

func newSessionID(now time.Time) string {
	return fmt.Sprintf("%d", now.UnixNano())
}
