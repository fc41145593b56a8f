package agent

import (
	"log/slog"
	"sync"
	"time"
)

// Session is the engagement state of one conversation.
type Session struct {
	Active       bool
	LastActivity time.Time
}

// SessionManager keeps one Session per conversation. Sessions are kept in
// memory only and reset on restart.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
	logger   *slog.Logger
}

func NewSessionManager(now func() time.Time, logger *slog.Logger) *SessionManager {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		now:      now,
		logger:   logger,
	}
}

func (sm *SessionManager) get(conversationID string) *Session {
	s, ok := sm.sessions[conversationID]
	if !ok {
		s = &Session{}
		sm.sessions[conversationID] = s
	}
	return s
}

// Touch records activity. An active session idle for longer than idle is
// deactivated first.
func (sm *SessionManager) Touch(conversationID string, idle time.Duration) Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s := sm.get(conversationID)
	now := sm.now()
	if s.Active && now.Sub(s.LastActivity) > idle {
		s.Active = false
		sm.logger.Debug("session went idle", "conversation", conversationID)
	}
	s.LastActivity = now
	return *s
}

// Activate marks the conversation as engaged.
func (sm *SessionManager) Activate(conversationID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s := sm.get(conversationID)
	s.Active = true
	s.LastActivity = sm.now()
}

// End deactivates the session immediately.
func (sm *SessionManager) End(conversationID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.get(conversationID).Active = false
	sm.logger.Info("session ended", "conversation", conversationID)
}

// Active reports whether the session is engaged and not idle.
func (sm *SessionManager) Active(conversationID string, idle time.Duration) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[conversationID]
	if !ok || !s.Active {
		return false
	}
	return sm.now().Sub(s.LastActivity) <= idle
}

// Get returns a copy of the session state.
func (sm *SessionManager) Get(conversationID string) Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s, ok := sm.sessions[conversationID]; ok {
		return *s
	}
	return Session{}
}
