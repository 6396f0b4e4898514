// Package session keeps short-term conversation history per session
// id. History lives in memory with idle-TTL eviction and is mirrored
// to redis when configured, so a restart does not forget mid-flight
// conversations.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultIdleTTL   = 30 * time.Minute
	DefaultMaxTurns  = 50
	DefaultKeyPrefix = "lucia:session:"

	sweepInterval = time.Minute
)

// Turn is one conversation turn.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Context is the per-session conversation state.
type Context struct {
	SessionID     string    `json:"sessionId"`
	Turns         []Turn    `json:"turns"`
	CreatedAt     time.Time `json:"createdAt"`
	LastTouchedAt time.Time `json:"lastTouchedAt"`
	PinnedAgentID string    `json:"pinnedAgentId,omitempty"`
}

// Service manages sessions. All methods are safe for concurrent use;
// Lock serializes turns on a single session.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*Context
	locks    map[string]*sync.Mutex

	idleTTL   time.Duration
	maxTurns  int
	keyPrefix string
	rdb       redis.UniversalClient
	now       func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithIdleTTL sets the idle eviction window.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.idleTTL = ttl
		}
	}
}

// WithMaxTurns bounds history length per session.
func WithMaxTurns(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

// WithRedis mirrors sessions to redis.
func WithRedis(rdb redis.UniversalClient, keyPrefix string) Option {
	return func(s *Service) {
		s.rdb = rdb
		if keyPrefix != "" {
			s.keyPrefix = keyPrefix
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a session service.
func NewService(opts ...Option) *Service {
	s := &Service{
		sessions:  make(map[string]*Context),
		locks:     make(map[string]*sync.Mutex),
		idleTTL:   DefaultIdleTTL,
		maxTurns:  DefaultMaxTurns,
		keyPrefix: DefaultKeyPrefix,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the idle-eviction sweep until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// Lock acquires the per-session lock, serializing concurrent turns on
// the same session in arrival order. The returned func releases it.
func (s *Service) Lock(sessionID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Get returns a copy of the session context, creating it lazily. The
// copy is safe to read without holding the session lock.
func (s *Service) Get(ctx context.Context, sessionID string) *Context {
	s.mu.Lock()
	sc, ok := s.sessions[sessionID]
	s.mu.Unlock()

	if !ok && s.rdb != nil {
		if restored := s.restore(ctx, sessionID); restored != nil {
			s.mu.Lock()
			// Lost race with a concurrent writer, keep theirs.
			if existing, raced := s.sessions[sessionID]; raced {
				sc, ok = existing, true
			} else {
				s.sessions[sessionID] = restored
				sc, ok = restored, true
			}
			s.mu.Unlock()
		}
	}

	if !ok {
		now := s.now()
		sc = &Context{SessionID: sessionID, CreatedAt: now, LastTouchedAt: now}
		s.mu.Lock()
		s.sessions[sessionID] = sc
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sc
	copied.Turns = append([]Turn(nil), sc.Turns...)
	return &copied
}

// AppendTurn records a completed turn and refreshes the TTL.
func (s *Service) AppendTurn(ctx context.Context, sessionID, role, text string) {
	now := s.now()

	s.mu.Lock()
	sc, ok := s.sessions[sessionID]
	if !ok {
		sc = &Context{SessionID: sessionID, CreatedAt: now}
		s.sessions[sessionID] = sc
	}
	sc.Turns = append(sc.Turns, Turn{Role: role, Text: text, Timestamp: now})
	if len(sc.Turns) > s.maxTurns {
		sc.Turns = sc.Turns[len(sc.Turns)-s.maxTurns:]
	}
	sc.LastTouchedAt = now
	snapshot := *sc
	snapshot.Turns = append([]Turn(nil), sc.Turns...)
	s.mu.Unlock()

	s.persist(ctx, &snapshot)
}

// PinAgent marks a session sticky to one agent for routing.
func (s *Service) PinAgent(ctx context.Context, sessionID, agentID string) {
	s.mu.Lock()
	sc, ok := s.sessions[sessionID]
	if !ok {
		now := s.now()
		sc = &Context{SessionID: sessionID, CreatedAt: now, LastTouchedAt: now}
		s.sessions[sessionID] = sc
	}
	sc.PinnedAgentID = agentID
	snapshot := *sc
	snapshot.Turns = append([]Turn(nil), sc.Turns...)
	s.mu.Unlock()

	s.persist(ctx, &snapshot)
}

// Delete drops a session.
func (s *Service) Delete(ctx context.Context, sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	delete(s.locks, sessionID)
	s.mu.Unlock()

	if s.rdb != nil {
		if err := s.rdb.Del(ctx, s.keyPrefix+sessionID).Err(); err != nil {
			slog.Debug("session redis delete failed", "session", sessionID, "error", err)
		}
	}
}

// Count returns the number of live sessions.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) sweep() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sc := range s.sessions {
		if sc.LastTouchedAt.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.locks, id)
		}
	}
}

func (s *Service) persist(ctx context.Context, sc *Context) {
	if s.rdb == nil {
		return
	}

	payload, err := json.Marshal(sc)
	if err != nil {
		slog.Debug("session marshal failed", "session", sc.SessionID, "error", err)
		return
	}
	if err := s.rdb.Set(ctx, s.keyPrefix+sc.SessionID, payload, s.idleTTL).Err(); err != nil {
		slog.Debug("session redis write failed", "session", sc.SessionID, "error", err)
	}
}

func (s *Service) restore(ctx context.Context, sessionID string) *Context {
	payload, err := s.rdb.Get(ctx, s.keyPrefix+sessionID).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("session redis read failed", "session", sessionID, "error", err)
		}
		return nil
	}

	var sc Context
	if err := json.Unmarshal(payload, &sc); err != nil {
		slog.Debug("session unmarshal failed", "session", sessionID, "error", err)
		return nil
	}
	return &sc
}
