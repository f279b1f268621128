package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation memory in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			tone TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			key TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			last_message_at TIMESTAMPTZ NOT NULL,
			archived BOOLEAN NOT NULL DEFAULT FALSE
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_key TEXT NOT NULL,
			seq BIGINT NOT NULL,
			sender_id TEXT NOT NULL,
			body TEXT NOT NULL,
			intent TEXT NOT NULL DEFAULT '',
			sentiment DOUBLE PRECISION NOT NULL DEFAULT 0,
			urgency TEXT NOT NULL DEFAULT '',
			entities TEXT NOT NULL DEFAULT '',
			annotated BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (conversation_key, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_key_seq ON messages (conversation_key, seq DESC);`,
		`CREATE TABLE IF NOT EXISTS active_context (
			conversation_key TEXT PRIMARY KEY,
			topic TEXT NOT NULL DEFAULT '',
			entities TEXT NOT NULL DEFAULT '',
			sentiment_trend DOUBLE PRECISION NOT NULL DEFAULT 0,
			urgency_trend DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_tone TEXT NOT NULL DEFAULT '',
			message_count BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, key ConversationKey, senderID, body string, at time.Time) (Message, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, storageErr("begin append tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO conversations (key, created_at, last_message_at, archived)
		 VALUES ($1, $2, $2, FALSE)
		 ON CONFLICT (key) DO UPDATE SET last_message_at=EXCLUDED.last_message_at, archived=FALSE`,
		string(key), at,
	)
	if err != nil {
		return Message{}, storageErr("upsert conversation", err)
	}

	msg := Message{
		ID:              uuid.NewString(),
		ConversationKey: key,
		SenderID:        senderID,
		Body:            body,
		CreatedAt:       at,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_key, seq, sender_id, body, created_at)
		 SELECT $1, $2, COALESCE(MAX(seq), 0)+1, $3, $4, $5 FROM messages WHERE conversation_key=$2
		 RETURNING seq`,
		msg.ID, string(key), senderID, body, at,
	).Scan(&msg.Seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Message{}, fmt.Errorf("assign seq for %q: %w", key, ErrWriteConflict)
		}
		return Message{}, storageErr("insert message", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, storageErr("commit append tx", err)
	}
	return msg, nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, key ConversationKey, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_key, seq, sender_id, body, intent, sentiment, urgency, entities, annotated, created_at
		   FROM messages WHERE conversation_key=$1 ORDER BY seq DESC LIMIT $2`,
		string(key), limit,
	)
	if err != nil {
		return nil, storageErr("query recent messages", err)
	}
	defer rows.Close()

	items, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *PostgresStore) Export(key ConversationKey, batchSize int) *Cursor {
	return newCursor(batchSize, func(ctx context.Context, afterSeq int64, limit int) ([]Message, error) {
		rows, err := s.pool.Query(ctx,
			`SELECT id, conversation_key, seq, sender_id, body, intent, sentiment, urgency, entities, annotated, created_at
			   FROM messages WHERE conversation_key=$1 AND seq>$2 ORDER BY seq ASC LIMIT $3`,
			string(key), afterSeq, limit,
		)
		if err != nil {
			return nil, storageErr("query export batch", err)
		}
		defer rows.Close()
		return scanMessages(rows)
	})
}

func (s *PostgresStore) GetOrCreateUser(ctx context.Context, userID string) (User, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, first_seen, last_seen) VALUES ($1, $2, $2)
		 ON CONFLICT (id) DO UPDATE SET last_seen=EXCLUDED.last_seen
		 RETURNING id, display_name, tone, language, first_seen, last_seen`,
		userID, now,
	)
	return scanUser(row)
}

func (s *PostgresStore) UpdateUserPreferences(ctx context.Context, userID string, prefs Preferences) (User, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, tone, language, first_seen, last_seen) VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (id) DO UPDATE SET
			tone = CASE WHEN EXCLUDED.tone <> '' THEN EXCLUDED.tone ELSE users.tone END,
			language = CASE WHEN EXCLUDED.language <> '' THEN EXCLUDED.language ELSE users.language END,
			last_seen = EXCLUDED.last_seen
		 RETURNING id, display_name, tone, language, first_seen, last_seen`,
		userID, prefs.Tone, prefs.Language, now,
	)
	return scanUser(row)
}

func (s *PostgresStore) SaveActiveContext(ctx context.Context, ac ActiveContext) error {
	if ac.UpdatedAt.IsZero() {
		ac.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO active_context (conversation_key, topic, entities, sentiment_trend, urgency_trend, last_tone, message_count, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (conversation_key) DO UPDATE SET
			topic=EXCLUDED.topic,
			entities=EXCLUDED.entities,
			sentiment_trend=EXCLUDED.sentiment_trend,
			urgency_trend=EXCLUDED.urgency_trend,
			last_tone=EXCLUDED.last_tone,
			message_count=EXCLUDED.message_count,
			updated_at=EXCLUDED.updated_at`,
		string(ac.ConversationKey), ac.Topic, joinList(ac.Entities),
		ac.SentimentTrend, ac.UrgencyTrend, ac.LastTone, ac.MessageCount, ac.UpdatedAt,
	)
	if err != nil {
		return storageErr("upsert active context", err)
	}
	return nil
}

func (s *PostgresStore) LoadActiveContext(ctx context.Context, key ConversationKey) (ActiveContext, bool, error) {
	var (
		ac       ActiveContext
		entities string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT conversation_key, topic, entities, sentiment_trend, urgency_trend, last_tone, message_count, updated_at
		   FROM active_context WHERE conversation_key=$1`,
		string(key),
	).Scan(&ac.ConversationKey, &ac.Topic, &entities, &ac.SentimentTrend, &ac.UrgencyTrend, &ac.LastTone, &ac.MessageCount, &ac.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ActiveContext{}, false, nil
		}
		return ActiveContext{}, false, storageErr("load active context", err)
	}
	ac.Entities = splitList(entities)
	return ac, true, nil
}

func (s *PostgresStore) SaveAnnotation(ctx context.Context, messageID string, a Annotation) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET intent=$2, sentiment=$3, urgency=$4, entities=$5, annotated=TRUE WHERE id=$1`,
		messageID, a.Intent, a.Sentiment, a.Urgency, joinList(a.Entities),
	)
	if err != nil {
		return storageErr("save annotation", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ArchiveIdle(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET archived=TRUE WHERE NOT archived AND last_message_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, storageErr("archive idle conversations", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM conversations WHERE archived),
			(SELECT COUNT(*) FROM messages)`,
	).Scan(&st.TotalUsers, &st.TotalConversations, &st.ArchivedConversations, &st.TotalMessages)
	if err != nil {
		return Stats{}, storageErr("query stats", err)
	}
	return st, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	items := make([]Message, 0, 16)
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, storageErr("scan message row", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate message rows", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessageRow(row rowScanner) (Message, error) {
	var (
		m         Message
		intent    string
		sentiment float64
		urgency   string
		entities  string
		annotated bool
	)
	if err := row.Scan(&m.ID, &m.ConversationKey, &m.Seq, &m.SenderID, &m.Body,
		&intent, &sentiment, &urgency, &entities, &annotated, &m.CreatedAt); err != nil {
		return Message{}, err
	}
	if annotated {
		m.Annotation = &Annotation{
			Intent:    intent,
			Sentiment: sentiment,
			Urgency:   urgency,
			Entities:  splitList(entities),
		}
	}
	return m, nil
}

func scanUser(row rowScanner) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.DisplayName, &u.Preferences.Tone, &u.Preferences.Language, &u.FirstSeen, &u.LastSeen); err != nil {
		return User{}, storageErr("scan user row", err)
	}
	return u, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

func joinList(items []string) string {
	return strings.Join(items, ",")
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}
