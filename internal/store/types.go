package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrStorageUnavailable wraps durable I/O failures. Write-path callers
	// must treat it as fatal for the current turn.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrWriteConflict signals a lost race on sequence assignment. Callers
	// serialize appends per conversation key, so surfacing it indicates a
	// bug in that serialization or a competing writer.
	ErrWriteConflict = errors.New("write conflict")

	ErrNotFound = errors.New("not found")
)

// ConversationKey identifies a channel or channel/thread scope of history.
type ConversationKey string

// NewConversationKey builds the key for a channel and optional thread.
func NewConversationKey(channelID, threadID string) ConversationKey {
	channelID = strings.TrimSpace(channelID)
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return ConversationKey(channelID)
	}
	return ConversationKey(channelID + "/" + threadID)
}

// Preferences holds per-user response preferences.
type Preferences struct {
	Tone     string `json:"tone"`
	Language string `json:"language"`
}

type User struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	Preferences Preferences `json:"preferences"`
	FirstSeen   time.Time   `json:"first_seen"`
	LastSeen    time.Time   `json:"last_seen"`
}

// Annotation carries the derived analysis attached to a message after the
// intelligence pipeline has run. Nil until then.
type Annotation struct {
	Intent    string   `json:"intent"`
	Sentiment float64  `json:"sentiment"`
	Urgency   string   `json:"urgency"`
	Entities  []string `json:"entities"`
}

// Message is one immutable conversational turn. Seq is assigned by the store
// and is strictly increasing and gap-free within a conversation.
type Message struct {
	ID              string          `json:"id"`
	ConversationKey ConversationKey `json:"conversation_key"`
	Seq             int64           `json:"seq"`
	SenderID        string          `json:"sender_id"`
	Body            string          `json:"body"`
	CreatedAt       time.Time       `json:"created_at"`
	Annotation      *Annotation     `json:"annotation,omitempty"`
}

// ActiveContext is the rolling per-conversation summary. It is derived state:
// recomputable from message history, owned and written only by the analysis
// engine, persisted here for restarts.
type ActiveContext struct {
	ConversationKey ConversationKey `json:"conversation_key"`
	Topic           string          `json:"topic"`
	Entities        []string        `json:"entities"`
	SentimentTrend  float64         `json:"sentiment_trend"`
	UrgencyTrend    float64         `json:"urgency_trend"`
	LastTone        string          `json:"last_tone"`
	MessageCount    int64           `json:"message_count"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Stats struct {
	TotalUsers            int64 `json:"total_users"`
	TotalConversations    int64 `json:"total_conversations"`
	ArchivedConversations int64 `json:"archived_conversations"`
	TotalMessages         int64 `json:"total_messages"`
}

// Store persists users, conversations and active-context snapshots.
type Store interface {
	// AppendMessage assigns the next sequence id for the conversation and
	// writes the message. Once it returns without error the write is durable.
	AppendMessage(ctx context.Context, key ConversationKey, senderID, body string, at time.Time) (Message, error)

	// RecentMessages returns up to limit most recent messages, newest last.
	RecentMessages(ctx context.Context, key ConversationKey, limit int) ([]Message, error)

	// Export iterates the full conversation history lazily in seq order.
	// The cursor is restartable via Seek.
	Export(key ConversationKey, batchSize int) *Cursor

	// GetOrCreateUser upserts the user row keyed by id and refreshes
	// last-seen. Concurrent calls for the same id never create duplicates.
	GetOrCreateUser(ctx context.Context, userID string) (User, error)

	UpdateUserPreferences(ctx context.Context, userID string, prefs Preferences) (User, error)

	SaveActiveContext(ctx context.Context, ac ActiveContext) error
	LoadActiveContext(ctx context.Context, key ConversationKey) (ActiveContext, bool, error)

	// SaveAnnotation attaches derived analysis to an already written message.
	SaveAnnotation(ctx context.Context, messageID string, a Annotation) error

	// ArchiveIdle flags conversations with no activity for olderThan as
	// archived and reports how many were flagged. Messages are retained.
	ArchiveIdle(ctx context.Context, olderThan time.Duration) (int64, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}
