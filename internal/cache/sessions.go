package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/antoniostano/dona/internal/observability"
	"github.com/antoniostano/dona/internal/store"
)

// SessionState is ephemeral per (user, channel) state. It has no durable
// twin: absence is never an error, callers rehydrate from the store.
type SessionState struct {
	UserID          string                `json:"user_id"`
	ChannelID       string                `json:"channel_id"`
	ConversationKey store.ConversationKey `json:"conversation_key"`
	StartedAt       time.Time             `json:"started_at"`
	LastActivity    time.Time             `json:"last_activity"`
	MessageCount    int64                 `json:"message_count"`
}

// ContextWindow is the precomputed, relevance-pruned history handed to the
// LLM-invocation collaborator.
type ContextWindow struct {
	ConversationKey store.ConversationKey `json:"conversation_key"`
	Messages        []store.Message       `json:"messages"`
	Summary         string                `json:"summary"`
	BudgetUsed      int                   `json:"budget_used"`
	ComputedAt      time.Time             `json:"computed_at"`
}

type RealtimeStats struct {
	Available      bool             `json:"available"`
	ActiveSessions int              `json:"active_sessions"`
	RecentActivity int64            `json:"recent_activity"`
	WindowMinutes  int              `json:"window_minutes"`
	Hits           int64            `json:"hits"`
	Misses         int64            `json:"misses"`
	HitRate        float64          `json:"hit_rate"`
	DegradedCalls  int64            `json:"degraded_calls"`
	Counters       map[string]int64 `json:"counters"`
}

type Config struct {
	SessionTTL        time.Duration
	ContextTTL        time.Duration
	ProbeTimeout      time.Duration
	ReconnectInterval time.Duration
	ActivityMinutes   int
}

// Sessions is the fast-access session layer over a cache backend. When the
// backend is unreachable every operation degrades to pass-through: sessions
// read as absent and context windows are computed directly.
type Sessions struct {
	backend Backend
	cfg     Config
	metrics *observability.Metrics

	group     singleflight.Group
	available atomic.Bool

	// index tracks session expiries so active sessions can be counted;
	// the backend itself does not enumerate keys.
	indexMu sync.Mutex
	index   map[string]time.Time

	activity *minuteWindow

	hits     atomic.Int64
	misses   atomic.Int64
	degraded atomic.Int64

	counterMu sync.Mutex
	counters  map[string]int64
}

func New(backend Backend, cfg Config, metrics *observability.Metrics) *Sessions {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.ContextTTL <= 0 {
		cfg.ContextTTL = 10 * time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 250 * time.Millisecond
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 30 * time.Second
	}
	s := &Sessions{
		backend:  backend,
		cfg:      cfg,
		metrics:  metrics,
		index:    make(map[string]time.Time),
		activity: newMinuteWindow(cfg.ActivityMinutes),
		counters: make(map[string]int64),
	}
	s.probe(context.Background())
	return s
}

// StartProbe runs the availability probe and session index janitor on a
// background interval until ctx is cancelled. Reconnection is never attempted
// inline with message handling.
func (s *Sessions) StartProbe(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconnectInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.probe(ctx)
				s.pruneIndex(time.Now().UTC())
			}
		}
	}()
}

func (s *Sessions) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.backend.Ping(pctx) }()

	var err error
	select {
	case err = <-done:
	case <-pctx.Done():
		// A backend that blocks past the probe deadline counts as down.
		err = pctx.Err()
	}
	s.available.Store(err == nil)
}

func (s *Sessions) Available() bool { return s.available.Load() }

func sessionKey(userID, channelID string) string {
	return "session:" + userID + ":" + channelID
}

func contextKey(key store.ConversationKey) string {
	return "context:" + string(key)
}

// TouchSession resets the inactivity TTL, creating the session if absent.
func (s *Sessions) TouchSession(userID, channelID string, conversation store.ConversationKey) {
	if !s.Available() {
		s.recordDegraded()
		return
	}
	now := time.Now().UTC()
	key := sessionKey(userID, channelID)

	state := SessionState{
		UserID:          userID,
		ChannelID:       channelID,
		ConversationKey: conversation,
		StartedAt:       now,
	}
	if prev, ok := s.backend.Get(key); ok {
		if p, ok := prev.(SessionState); ok {
			state = p
		}
	}
	state.LastActivity = now
	state.MessageCount++
	if conversation != "" {
		state.ConversationKey = conversation
	}

	s.backend.Set(key, state, int64(len(key))+64, s.cfg.SessionTTL)

	s.indexMu.Lock()
	s.index[key] = now.Add(s.cfg.SessionTTL)
	s.indexMu.Unlock()
	s.updateActiveGauge()
}

// GetSession returns the session if present and unexpired. Absence is normal.
func (s *Sessions) GetSession(userID, channelID string) (SessionState, bool) {
	if !s.Available() {
		s.recordDegraded()
		return SessionState{}, false
	}
	v, ok := s.backend.Get(sessionKey(userID, channelID))
	if !ok {
		return SessionState{}, false
	}
	state, ok := v.(SessionState)
	return state, ok
}

// GetOrComputeContext returns the cached window for the conversation, or
// computes, stores and returns it. Concurrent callers for the same key share
// a single computation.
func (s *Sessions) GetOrComputeContext(ctx context.Context, key store.ConversationKey, compute func(context.Context) (ContextWindow, error)) (ContextWindow, error) {
	if !s.Available() {
		s.recordDegraded()
		return compute(ctx)
	}

	ck := contextKey(key)
	if v, ok := s.backend.Get(ck); ok {
		if w, ok := v.(ContextWindow); ok {
			s.hits.Add(1)
			if s.metrics != nil {
				s.metrics.CacheHits.Inc()
			}
			return w, nil
		}
	}
	s.misses.Add(1)
	if s.metrics != nil {
		s.metrics.CacheMisses.Inc()
	}

	v, err, _ := s.group.Do(string(key), func() (any, error) {
		// Another flight may have filled the entry while we waited.
		if v, ok := s.backend.Get(ck); ok {
			if w, ok := v.(ContextWindow); ok {
				return w, nil
			}
		}
		w, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		s.backend.Set(ck, w, windowCost(w), s.cfg.ContextTTL)
		return w, nil
	})
	if err != nil {
		return ContextWindow{}, err
	}
	return v.(ContextWindow), nil
}

// InvalidateContext drops the cached window; called on every append so the
// next read recomputes against fresh history.
func (s *Sessions) InvalidateContext(key store.ConversationKey) {
	if !s.Available() {
		s.recordDegraded()
		return
	}
	s.backend.Del(contextKey(key))
}

// RecordMessage bumps the activity window and the per-category counter.
func (s *Sessions) RecordMessage(category string) {
	s.activity.Record(time.Now().UTC())
	if category == "" {
		return
	}
	s.counterMu.Lock()
	s.counters[category]++
	s.counterMu.Unlock()
}

func (s *Sessions) RealtimeStats() RealtimeStats {
	now := time.Now().UTC()
	s.pruneIndex(now)

	s.indexMu.Lock()
	active := len(s.index)
	s.indexMu.Unlock()

	hits := s.hits.Load()
	misses := s.misses.Load()
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}

	s.counterMu.Lock()
	counters := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		counters[k] = v
	}
	s.counterMu.Unlock()

	return RealtimeStats{
		Available:      s.Available(),
		ActiveSessions: active,
		RecentActivity: s.activity.Total(now),
		WindowMinutes:  s.activity.Minutes(),
		Hits:           hits,
		Misses:         misses,
		HitRate:        rate,
		DegradedCalls:  s.degraded.Load(),
		Counters:       counters,
	}
}

func (s *Sessions) Close() {
	s.backend.Close()
}

func (s *Sessions) pruneIndex(now time.Time) {
	s.indexMu.Lock()
	for k, expiry := range s.index {
		if expiry.Before(now) {
			delete(s.index, k)
		}
	}
	s.indexMu.Unlock()
	s.updateActiveGauge()
}

func (s *Sessions) updateActiveGauge() {
	if s.metrics == nil {
		return
	}
	s.indexMu.Lock()
	n := len(s.index)
	s.indexMu.Unlock()
	s.metrics.ActiveSessions.Set(float64(n))
}

func (s *Sessions) recordDegraded() {
	s.degraded.Add(1)
	if s.metrics != nil {
		s.metrics.CacheDegraded.Inc()
	}
}

func windowCost(w ContextWindow) int64 {
	cost := int64(200) + int64(len(w.Summary))
	for _, m := range w.Messages {
		cost += int64(len(m.Body)) + 64
	}
	return cost
}
