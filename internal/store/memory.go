package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type conversation struct {
	messages      []Message
	lastMessageAt time.Time
	archived      bool
}

// InMemoryStore is an in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*User
	conversations map[ConversationKey]*conversation
	contexts      map[ConversationKey]ActiveContext
	messageIndex  map[string]struct {
		key ConversationKey
		idx int
	}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:         make(map[string]*User),
		conversations: make(map[ConversationKey]*conversation),
		contexts:      make(map[ConversationKey]ActiveContext),
		messageIndex: make(map[string]struct {
			key ConversationKey
			idx int
		}),
	}
}

func (s *InMemoryStore) AppendMessage(_ context.Context, key ConversationKey, senderID, body string, at time.Time) (Message, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[key]
	if !ok {
		conv = &conversation{}
		s.conversations[key] = conv
	}
	msg := Message{
		ID:              uuid.NewString(),
		ConversationKey: key,
		Seq:             int64(len(conv.messages)) + 1,
		SenderID:        senderID,
		Body:            body,
		CreatedAt:       at,
	}
	conv.messages = append(conv.messages, msg)
	conv.lastMessageAt = at
	conv.archived = false
	s.messageIndex[msg.ID] = struct {
		key ConversationKey
		idx int
	}{key, len(conv.messages) - 1}
	return msg, nil
}

func (s *InMemoryStore) RecentMessages(_ context.Context, key ConversationKey, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[key]
	if !ok || len(conv.messages) == 0 {
		return nil, nil
	}
	msgs := conv.messages
	if limit <= 0 || limit > len(msgs) {
		limit = len(msgs)
	}
	out := make([]Message, 0, limit)
	for i := len(msgs) - limit; i < len(msgs); i++ {
		out = append(out, cloneMessage(msgs[i]))
	}
	return out, nil
}

func (s *InMemoryStore) Export(key ConversationKey, batchSize int) *Cursor {
	return newCursor(batchSize, func(_ context.Context, afterSeq int64, limit int) ([]Message, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		conv, ok := s.conversations[key]
		if !ok {
			return nil, nil
		}
		out := make([]Message, 0, limit)
		for _, m := range conv.messages {
			if m.Seq <= afterSeq {
				continue
			}
			out = append(out, cloneMessage(m))
			if len(out) >= limit {
				break
			}
		}
		return out, nil
	})
}

func (s *InMemoryStore) GetOrCreateUser(_ context.Context, userID string) (User, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		u = &User{ID: userID, FirstSeen: now}
		s.users[userID] = u
	}
	u.LastSeen = now
	return *u, nil
}

func (s *InMemoryStore) UpdateUserPreferences(_ context.Context, userID string, prefs Preferences) (User, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		u = &User{ID: userID, FirstSeen: now}
		s.users[userID] = u
	}
	if prefs.Tone != "" {
		u.Preferences.Tone = prefs.Tone
	}
	if prefs.Language != "" {
		u.Preferences.Language = prefs.Language
	}
	u.LastSeen = now
	return *u, nil
}

func (s *InMemoryStore) SaveActiveContext(_ context.Context, ac ActiveContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ac.Entities = append([]string(nil), ac.Entities...)
	s.contexts[ac.ConversationKey] = ac
	return nil
}

func (s *InMemoryStore) LoadActiveContext(_ context.Context, key ConversationKey) (ActiveContext, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ac, ok := s.contexts[key]
	if !ok {
		return ActiveContext{}, false, nil
	}
	ac.Entities = append([]string(nil), ac.Entities...)
	return ac, true, nil
}

func (s *InMemoryStore) SaveAnnotation(_ context.Context, messageID string, a Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.messageIndex[messageID]
	if !ok {
		return ErrNotFound
	}
	conv := s.conversations[loc.key]
	a.Entities = append([]string(nil), a.Entities...)
	conv.messages[loc.idx].Annotation = &a
	return nil
}

func (s *InMemoryStore) ArchiveIdle(_ context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	var archived int64
	for _, conv := range s.conversations {
		if conv.archived || conv.lastMessageAt.After(cutoff) {
			continue
		}
		conv.archived = true
		archived++
	}
	return archived, nil
}

func (s *InMemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		TotalUsers:         int64(len(s.users)),
		TotalConversations: int64(len(s.conversations)),
	}
	for _, conv := range s.conversations {
		st.TotalMessages += int64(len(conv.messages))
		if conv.archived {
			st.ArchivedConversations++
		}
	}
	return st, nil
}

func (s *InMemoryStore) Close() error { return nil }

func cloneMessage(m Message) Message {
	if m.Annotation != nil {
		a := *m.Annotation
		a.Entities = append([]string(nil), a.Entities...)
		m.Annotation = &a
	}
	return m
}
