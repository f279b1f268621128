package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/antoniostano/dona/internal/cache"
	"github.com/antoniostano/dona/internal/observability"
	"github.com/antoniostano/dona/internal/store"
)

const maxContextEntities = 32

// Inbound is a received message event from the transport collaborator.
type Inbound struct {
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	ThreadID  string    `json:"thread_id"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// Analysis is the full result of one pipeline run: the persisted message,
// the derived annotations, the pruned context window for prompting, and the
// tone recommendation. Degraded lists pipeline stages that fell back to
// defaults.
type Analysis struct {
	Message   store.Message       `json:"message"`
	Intent    Intent              `json:"intent"`
	Sentiment float64             `json:"sentiment"`
	Urgency   Urgency             `json:"urgency"`
	Entities  []string            `json:"entities"`
	Topic     string              `json:"topic"`
	Window    cache.ContextWindow `json:"window"`
	Tone      Tone                `json:"tone"`
	Degraded  []string            `json:"degraded,omitempty"`

	ActiveContext store.ActiveContext `json:"active_context"`
}

type Config struct {
	SmoothingAlpha float64
	ContextBudget  int
	RelevanceTopK  int
	HistoryLimit   int
	StoreTimeout   time.Duration
}

// Engine runs the per-message intelligence pipeline over the durable store
// and session cache.
type Engine struct {
	store    store.Store
	sessions *cache.Sessions
	rules    *RuleTable
	metrics  *observability.Metrics
	cfg      Config
	locks    *keyedMutex
}

func NewEngine(st store.Store, sessions *cache.Sessions, rules *RuleTable, metrics *observability.Metrics, cfg Config) *Engine {
	if rules == nil {
		rules = DefaultRules()
	}
	if cfg.SmoothingAlpha <= 0 || cfg.SmoothingAlpha > 1 {
		cfg.SmoothingAlpha = 0.3
	}
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = 2000
	}
	if cfg.RelevanceTopK <= 0 {
		cfg.RelevanceTopK = 5
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Engine{
		store:    st,
		sessions: sessions,
		rules:    rules,
		metrics:  metrics,
		cfg:      cfg,
		locks:    newKeyedMutex(),
	}
}

// AnalyzeMessage persists the inbound message and runs the pipeline:
// intent, sentiment/urgency, entities, relevance filtering, tone. Messages
// for the same conversation are processed in strict arrival order; unrelated
// conversations proceed in parallel. Only a durable-store write failure
// aborts the turn; every analysis stage degrades to its default instead.
func (e *Engine) AnalyzeMessage(ctx context.Context, in Inbound) (Analysis, error) {
	key := store.NewConversationKey(in.ChannelID, in.ThreadID)
	if key == "" {
		return Analysis{}, fmt.Errorf("inbound message without channel id")
	}

	unlock := e.locks.Lock(string(key))
	defer unlock()

	var degraded []string

	prefs := store.Preferences{}
	sctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	user, err := e.store.GetOrCreateUser(sctx, in.UserID)
	cancel()
	if err != nil {
		degraded = append(degraded, "preferences")
	} else {
		prefs = user.Preferences
	}

	appendStart := time.Now()
	sctx, cancel = context.WithTimeout(ctx, e.cfg.StoreTimeout)
	msg, err := e.store.AppendMessage(sctx, key, in.UserID, in.Text, in.At)
	cancel()
	if err != nil {
		return Analysis{}, fmt.Errorf("append message: %w", err)
	}
	e.metrics.ObserveAppendLatency(time.Since(appendStart))

	e.sessions.TouchSession(in.UserID, in.ChannelID, key)
	e.sessions.RecordMessage("user")
	e.sessions.InvalidateContext(key)

	sctx, cancel = context.WithTimeout(ctx, e.cfg.StoreTimeout)
	prior, havePrior, err := e.store.LoadActiveContext(sctx, key)
	cancel()
	if err != nil {
		havePrior = false
		degraded = append(degraded, "active_context")
	}

	sctx, cancel = context.WithTimeout(ctx, e.cfg.StoreTimeout)
	history, err := e.store.RecentMessages(sctx, key, e.cfg.HistoryLimit)
	cancel()
	if err != nil {
		// Reads degrade to "no history" so the bot stays responsive.
		history = nil
		degraded = append(degraded, "history")
	}

	malformed := strings.TrimSpace(in.Text) == "" || !utf8.ValidString(in.Text)

	intent := IntentUnknown
	sentiment := 0.0
	urgency := UrgencyLow
	var entities []string
	topic := "general"
	if malformed {
		degraded = append(degraded, "intent", "sentiment", "entities")
	} else {
		intent = e.rules.Match(in.Text)
		sentiment = ScoreSentiment(in.Text)
		urgency = ScoreUrgency(in.Text)
		entities = ExtractEntities(in.Text)
		topic = DetectTopic(in.Text)
	}

	merged := e.mergeContext(prior, havePrior, key, msg, topic, entities, sentiment, urgency)

	preferred, _ := ParseTone(prefs.Tone)
	tone := RecommendTone(urgency, merged.SentimentTrend, preferred)
	merged.LastTone = string(tone)

	sctx, cancel = context.WithTimeout(ctx, e.cfg.StoreTimeout)
	if err := e.store.SaveActiveContext(sctx, merged); err != nil {
		degraded = append(degraded, "persist_context")
	}
	cancel()

	sctx, cancel = context.WithTimeout(ctx, e.cfg.StoreTimeout)
	if err := e.store.SaveAnnotation(sctx, msg.ID, store.Annotation{
		Intent:    string(intent),
		Sentiment: sentiment,
		Urgency:   string(urgency),
		Entities:  entities,
	}); err != nil {
		degraded = append(degraded, "annotation")
	}
	cancel()

	window, err := e.sessions.GetOrComputeContext(ctx, key, func(context.Context) (cache.ContextWindow, error) {
		return e.buildWindow(key, history, msg.Seq, entities, merged), nil
	})
	if err != nil {
		// Worst case the caller gets the unfiltered history.
		window = cache.ContextWindow{
			ConversationKey: key,
			Messages:        history,
			ComputedAt:      time.Now().UTC(),
		}
		degraded = append(degraded, "window")
	}

	if e.metrics != nil {
		e.metrics.MessagesTotal.WithLabelValues(string(intent)).Inc()
		e.metrics.WindowMessages.Observe(float64(len(window.Messages)))
		for _, stage := range degraded {
			e.metrics.DegradedStages.WithLabelValues(stage).Inc()
		}
	}

	return Analysis{
		Message:       msg,
		Intent:        intent,
		Sentiment:     sentiment,
		Urgency:       urgency,
		Entities:      entities,
		Topic:         topic,
		Window:        window,
		Tone:          tone,
		Degraded:      degraded,
		ActiveContext: merged,
	}, nil
}

// ContextFor returns the pruned window for a conversation without appending
// a message, for collaborators re-reading context between turns.
func (e *Engine) ContextFor(ctx context.Context, key store.ConversationKey) (cache.ContextWindow, error) {
	return e.sessions.GetOrComputeContext(ctx, key, func(cctx context.Context) (cache.ContextWindow, error) {
		sctx, cancel := context.WithTimeout(cctx, e.cfg.StoreTimeout)
		defer cancel()
		history, err := e.store.RecentMessages(sctx, key, e.cfg.HistoryLimit)
		if err != nil {
			return cache.ContextWindow{}, err
		}
		var (
			ac       store.ActiveContext
			entities []string
		)
		if loaded, ok, err := e.store.LoadActiveContext(sctx, key); err == nil && ok {
			ac = loaded
			entities = loaded.Entities
		}
		currentSeq := int64(-1)
		if len(history) > 0 {
			last := history[len(history)-1]
			currentSeq = last.Seq
			if entities == nil {
				entities = entitiesOf(last)
			}
		}
		return e.buildWindow(key, history, currentSeq, entities, ac), nil
	})
}

func (e *Engine) buildWindow(key store.ConversationKey, history []store.Message, currentSeq int64, entities []string, ac store.ActiveContext) cache.ContextWindow {
	kept, used := PruneHistory(history, currentSeq, entities, e.cfg.RelevanceTopK, e.cfg.ContextBudget)
	return cache.ContextWindow{
		ConversationKey: key,
		Messages:        kept,
		Summary:         buildSummary(ac, len(kept), len(history)),
		BudgetUsed:      used,
		ComputedAt:      time.Now().UTC(),
	}
}

// mergeContext folds the new reading into the prior snapshot via exponential
// smoothing; it never replaces the snapshot wholesale.
func (e *Engine) mergeContext(prior store.ActiveContext, havePrior bool, key store.ConversationKey, msg store.Message, topic string, entities []string, sentiment float64, urgency Urgency) store.ActiveContext {
	ac := prior
	if !havePrior {
		ac = store.ActiveContext{
			ConversationKey: key,
			SentimentTrend:  sentiment,
			UrgencyTrend:    urgencyValue(urgency),
		}
	} else {
		ac.SentimentTrend = smooth(ac.SentimentTrend, sentiment, e.cfg.SmoothingAlpha)
		ac.UrgencyTrend = smooth(ac.UrgencyTrend, urgencyValue(urgency), e.cfg.SmoothingAlpha)
	}
	if topic != "general" || ac.Topic == "" {
		ac.Topic = topic
	}
	ac.Entities = mergeEntities(ac.Entities, entities)
	ac.MessageCount = msg.Seq
	ac.UpdatedAt = msg.CreatedAt
	return ac
}

// mergeEntities unions prior and new entities, newest first, capped so the
// snapshot does not grow without bound.
func mergeEntities(prior, fresh []string) []string {
	seen := make(map[string]struct{}, len(prior)+len(fresh))
	out := make([]string, 0, len(prior)+len(fresh))
	for _, e := range fresh {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	for _, e := range prior {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	if len(out) > maxContextEntities {
		out = out[:maxContextEntities]
	}
	return out
}

func buildSummary(ac store.ActiveContext, kept, total int) string {
	parts := make([]string, 0, 4)
	if ac.Topic != "" {
		parts = append(parts, "topic: "+ac.Topic)
	}
	if len(ac.Entities) > 0 {
		n := len(ac.Entities)
		if n > 3 {
			n = 3
		}
		parts = append(parts, "entities: "+strings.Join(ac.Entities[:n], ", "))
	}
	parts = append(parts, fmt.Sprintf("sentiment trend: %.2f", ac.SentimentTrend))
	parts = append(parts, fmt.Sprintf("retained %d of %d messages", kept, total))
	return strings.Join(parts, "; ")
}
