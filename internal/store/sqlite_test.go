package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteForTest(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "dona.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteAppendAndRecent(t *testing.T) {
	s := newSQLiteForTest(t)
	ctx := context.Background()
	key := NewConversationKey("C1", "T1")

	for i := 1; i <= 3; i++ {
		msg, err := s.AppendMessage(ctx, key, "u1", "hello", time.Now())
		if err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
		if msg.Seq != int64(i) {
			t.Fatalf("Seq = %d, want %d", msg.Seq, i)
		}
	}

	msgs, err := s.RecentMessages(ctx, key, 2)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].Seq != 2 || msgs[1].Seq != 3 {
		t.Fatalf("unexpected recent messages: %+v", msgs)
	}
}

func TestSQLiteAnnotationSurvivesReload(t *testing.T) {
	s := newSQLiteForTest(t)
	ctx := context.Background()
	key := NewConversationKey("C1", "")

	msg, err := s.AppendMessage(ctx, key, "u1", "deploy the bot", time.Now())
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	ann := Annotation{Intent: "command", Sentiment: 0.2, Urgency: "medium", Entities: []string{"bot", "deploy"}}
	if err := s.SaveAnnotation(ctx, msg.ID, ann); err != nil {
		t.Fatalf("SaveAnnotation() error = %v", err)
	}

	msgs, err := s.RecentMessages(ctx, key, 1)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	got := msgs[0].Annotation
	if got == nil {
		t.Fatalf("annotation missing after reload")
	}
	if got.Intent != "command" || got.Urgency != "medium" || len(got.Entities) != 2 {
		t.Fatalf("annotation = %+v, want the saved values", got)
	}

	if err := s.SaveAnnotation(ctx, "missing", ann); err != ErrNotFound {
		t.Fatalf("SaveAnnotation(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteUserPreferences(t *testing.T) {
	s := newSQLiteForTest(t)
	ctx := context.Background()

	if _, err := s.GetOrCreateUser(ctx, "u1"); err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}
	if _, err := s.UpdateUserPreferences(ctx, "u1", Preferences{Tone: "concise"}); err != nil {
		t.Fatalf("UpdateUserPreferences() error = %v", err)
	}
	// Empty fields must not clobber stored values.
	u, err := s.UpdateUserPreferences(ctx, "u1", Preferences{Language: "it"})
	if err != nil {
		t.Fatalf("UpdateUserPreferences() error = %v", err)
	}
	if u.Preferences.Tone != "concise" || u.Preferences.Language != "it" {
		t.Fatalf("preferences = %+v, want concise/it", u.Preferences)
	}
}

func TestSQLiteActiveContextRoundTrip(t *testing.T) {
	s := newSQLiteForTest(t)
	ctx := context.Background()
	key := NewConversationKey("C1", "")

	if _, ok, err := s.LoadActiveContext(ctx, key); err != nil || ok {
		t.Fatalf("LoadActiveContext() = ok=%v err=%v before save", ok, err)
	}

	ac := ActiveContext{
		ConversationKey: key,
		Topic:           "research",
		Entities:        []string{"weather", "paris"},
		SentimentTrend:  0.15,
		UrgencyTrend:    0.5,
		LastTone:        "neutral",
		MessageCount:    4,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := s.SaveActiveContext(ctx, ac); err != nil {
		t.Fatalf("SaveActiveContext() error = %v", err)
	}

	got, ok, err := s.LoadActiveContext(ctx, key)
	if err != nil || !ok {
		t.Fatalf("LoadActiveContext() = ok=%v err=%v", ok, err)
	}
	if got.Topic != "research" || got.MessageCount != 4 || len(got.Entities) != 2 {
		t.Fatalf("unexpected context: %+v", got)
	}
}

func TestSQLiteArchiveAndStats(t *testing.T) {
	s := newSQLiteForTest(t)
	ctx := context.Background()

	if _, err := s.AppendMessage(ctx, NewConversationKey("old", ""), "u1", "x", time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if _, err := s.AppendMessage(ctx, NewConversationKey("fresh", ""), "u1", "y", time.Now()); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	n, err := s.ArchiveIdle(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("ArchiveIdle() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("archived = %d, want 1", n)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.TotalConversations != 2 || st.ArchivedConversations != 1 || st.TotalMessages != 2 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestSQLiteExportCursor(t *testing.T) {
	s := newSQLiteForTest(t)
	ctx := context.Background()
	key := NewConversationKey("C1", "")

	const n = 5
	for i := 0; i < n; i++ {
		if _, err := s.AppendMessage(ctx, key, "u1", "m", time.Now()); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	cur := s.Export(key, 2)
	var seqs []int64
	for cur.Next(ctx) {
		seqs = append(seqs, cur.Message().Seq)
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("cursor error = %v", err)
	}
	if len(seqs) != n {
		t.Fatalf("exported %d, want %d", len(seqs), n)
	}
	for i, seq := range seqs {
		if seq != int64(i)+1 {
			t.Fatalf("seqs[%d] = %d, want %d", i, seq, i+1)
		}
	}
}

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, "")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("empty URL selected %T, want *InMemoryStore", s)
	}

	path := filepath.Join(t.TempDir(), "dona.db")
	s, err = NewStore(ctx, "sqlite://"+path)
	if err != nil {
		t.Fatalf("NewStore(sqlite) error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Fatalf("sqlite URL selected %T, want *SQLiteStore", s)
	}
}
