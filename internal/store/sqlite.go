package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists conversation memory in a local SQLite database. This
// is the single-node deployment backend.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer at a time; a larger pool just trades lock
	// errors for queueing.
	db.SetMaxOpenConns(1)

	if err := initSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			tone TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			first_seen INTEGER NOT NULL,
			last_seen INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			key TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			last_message_at INTEGER NOT NULL,
			archived INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_key TEXT NOT NULL,
			seq INTEGER NOT NULL,
			sender_id TEXT NOT NULL,
			body TEXT NOT NULL,
			intent TEXT NOT NULL DEFAULT '',
			sentiment REAL NOT NULL DEFAULT 0,
			urgency TEXT NOT NULL DEFAULT '',
			entities TEXT NOT NULL DEFAULT '',
			annotated INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			UNIQUE (conversation_key, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_key_seq ON messages (conversation_key, seq);`,
		`CREATE TABLE IF NOT EXISTS active_context (
			conversation_key TEXT PRIMARY KEY,
			topic TEXT NOT NULL DEFAULT '',
			entities TEXT NOT NULL DEFAULT '',
			sentiment_trend REAL NOT NULL DEFAULT 0,
			urgency_trend REAL NOT NULL DEFAULT 0,
			last_tone TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, key ConversationKey, senderID, body string, at time.Time) (Message, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, storageErr("begin append tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (key, created_at, last_message_at, archived)
		 VALUES (?, ?, ?, 0)
		 ON CONFLICT (key) DO UPDATE SET last_message_at=excluded.last_message_at, archived=0`,
		string(key), at.UnixNano(), at.UnixNano(),
	)
	if err != nil {
		return Message{}, storageErr("upsert conversation", err)
	}

	var maxSeq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_key=?`,
		string(key),
	).Scan(&maxSeq); err != nil {
		return Message{}, storageErr("read max seq", err)
	}

	msg := Message{
		ID:              uuid.NewString(),
		ConversationKey: key,
		Seq:             maxSeq + 1,
		SenderID:        senderID,
		Body:            body,
		CreatedAt:       at,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_key, seq, sender_id, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, string(key), msg.Seq, senderID, body, at.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return Message{}, fmt.Errorf("assign seq for %q: %w", key, ErrWriteConflict)
		}
		return Message{}, storageErr("insert message", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, storageErr("commit append tx", err)
	}
	return msg, nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, key ConversationKey, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_key, seq, sender_id, body, intent, sentiment, urgency, entities, annotated, created_at
		   FROM messages WHERE conversation_key=? ORDER BY seq DESC LIMIT ?`,
		string(key), limit,
	)
	if err != nil {
		return nil, storageErr("query recent messages", err)
	}
	defer rows.Close()

	items, err := scanSQLiteMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *SQLiteStore) Export(key ConversationKey, batchSize int) *Cursor {
	return newCursor(batchSize, func(ctx context.Context, afterSeq int64, limit int) ([]Message, error) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, conversation_key, seq, sender_id, body, intent, sentiment, urgency, entities, annotated, created_at
			   FROM messages WHERE conversation_key=? AND seq>? ORDER BY seq ASC LIMIT ?`,
			string(key), afterSeq, limit,
		)
		if err != nil {
			return nil, storageErr("query export batch", err)
		}
		defer rows.Close()
		return scanSQLiteMessages(rows)
	})
}

func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, userID string) (User, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, first_seen, last_seen) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET last_seen=excluded.last_seen`,
		userID, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return User{}, storageErr("upsert user", err)
	}
	return s.loadUser(ctx, userID)
}

func (s *SQLiteStore) UpdateUserPreferences(ctx context.Context, userID string, prefs Preferences) (User, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, tone, language, first_seen, last_seen) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			tone = CASE WHEN excluded.tone <> '' THEN excluded.tone ELSE users.tone END,
			language = CASE WHEN excluded.language <> '' THEN excluded.language ELSE users.language END,
			last_seen = excluded.last_seen`,
		userID, prefs.Tone, prefs.Language, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return User{}, storageErr("update user preferences", err)
	}
	return s.loadUser(ctx, userID)
}

func (s *SQLiteStore) loadUser(ctx context.Context, userID string) (User, error) {
	var (
		u                   User
		firstSeen, lastSeen int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, tone, language, first_seen, last_seen FROM users WHERE id=?`,
		userID,
	).Scan(&u.ID, &u.DisplayName, &u.Preferences.Tone, &u.Preferences.Language, &firstSeen, &lastSeen)
	if err != nil {
		return User{}, storageErr("load user", err)
	}
	u.FirstSeen = time.Unix(0, firstSeen).UTC()
	u.LastSeen = time.Unix(0, lastSeen).UTC()
	return u, nil
}

func (s *SQLiteStore) SaveActiveContext(ctx context.Context, ac ActiveContext) error {
	if ac.UpdatedAt.IsZero() {
		ac.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO active_context (conversation_key, topic, entities, sentiment_trend, urgency_trend, last_tone, message_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (conversation_key) DO UPDATE SET
			topic=excluded.topic,
			entities=excluded.entities,
			sentiment_trend=excluded.sentiment_trend,
			urgency_trend=excluded.urgency_trend,
			last_tone=excluded.last_tone,
			message_count=excluded.message_count,
			updated_at=excluded.updated_at`,
		string(ac.ConversationKey), ac.Topic, joinList(ac.Entities),
		ac.SentimentTrend, ac.UrgencyTrend, ac.LastTone, ac.MessageCount, ac.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return storageErr("upsert active context", err)
	}
	return nil
}

func (s *SQLiteStore) LoadActiveContext(ctx context.Context, key ConversationKey) (ActiveContext, bool, error) {
	var (
		ac        ActiveContext
		entities  string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_key, topic, entities, sentiment_trend, urgency_trend, last_tone, message_count, updated_at
		   FROM active_context WHERE conversation_key=?`,
		string(key),
	).Scan(&ac.ConversationKey, &ac.Topic, &entities, &ac.SentimentTrend, &ac.UrgencyTrend, &ac.LastTone, &ac.MessageCount, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ActiveContext{}, false, nil
		}
		return ActiveContext{}, false, storageErr("load active context", err)
	}
	ac.Entities = splitList(entities)
	ac.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return ac, true, nil
}

func (s *SQLiteStore) SaveAnnotation(ctx context.Context, messageID string, a Annotation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET intent=?, sentiment=?, urgency=?, entities=?, annotated=1 WHERE id=?`,
		a.Intent, a.Sentiment, a.Urgency, joinList(a.Entities), messageID,
	)
	if err != nil {
		return storageErr("save annotation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("save annotation result", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ArchiveIdle(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET archived=1 WHERE archived=0 AND last_message_at < ?`,
		cutoff.UnixNano(),
	)
	if err != nil {
		return 0, storageErr("archive idle conversations", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("archive idle result", err)
	}
	return n, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM conversations WHERE archived=1),
			(SELECT COUNT(*) FROM messages)`,
	).Scan(&st.TotalUsers, &st.TotalConversations, &st.ArchivedConversations, &st.TotalMessages)
	if err != nil {
		return Stats{}, storageErr("query stats", err)
	}
	return st, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSQLiteMessages(rows *sql.Rows) ([]Message, error) {
	items := make([]Message, 0, 16)
	for rows.Next() {
		var (
			m         Message
			intent    string
			sentiment float64
			urgency   string
			entities  string
			annotated int
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationKey, &m.Seq, &m.SenderID, &m.Body,
			&intent, &sentiment, &urgency, &entities, &annotated, &createdAt); err != nil {
			return nil, storageErr("scan message row", err)
		}
		m.CreatedAt = time.Unix(0, createdAt).UTC()
		if annotated != 0 {
			m.Annotation = &Annotation{
				Intent:    intent,
				Sentiment: sentiment,
				Urgency:   urgency,
				Entities:  splitList(entities),
			}
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate message rows", err)
	}
	return items, nil
}
