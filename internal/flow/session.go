// Package flow implements the conversation state machine: per-user wizard
// sessions for profile creation, weekly data entry and reflection forms.
//
// Sessions live in memory only. A crash mid-wizard persists nothing; the
// only store write happens at a wizard's terminal save step.
package flow

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Kind identifies which wizard a session is running.
type Kind string

const (
	KindProfile    Kind = "profile"
	KindWeekly     Kind = "weekly"
	KindReflection Kind = "reflection"
)

// Control keywords recognized at every wizard step.
const (
	ControlCancel = "cancel"
	ControlBack   = "back"
	ControlSkip   = "skip"
)

// Result is the outcome of feeding one user input into a wizard step.
type Result struct {
	// Reply is the text to send back: the next prompt, a reprompt on
	// invalid input, or a final confirmation.
	Reply string
	// Done reports that the wizard reached its terminal step and its
	// collected data is ready to be saved.
	Done bool
	// Cancelled reports that the user abandoned the wizard; nothing is
	// saved.
	Cancelled bool
}

// Wizard is a deterministic step machine: the same session state and input
// always yield the same result. Wizards never touch storage.
type Wizard interface {
	// Prompt returns the prompt for the current step.
	Prompt() string
	// Handle consumes one user input and advances, reprompts, steps back,
	// or terminates.
	Handle(input string) Result
}

// Session is one user's single active wizard.
type Session struct {
	UserID    string
	Kind      Kind
	Wizard    Wizard
	StartedAt time.Time
}

// SessionStore holds the active session per user. At most one wizard is
// active per user at a time; starting a new one replaces the old.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Begin starts a wizard session for a user, replacing any active one.
func (s *SessionStore) Begin(userID string, kind Kind, w Wizard) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &Session{UserID: userID, Kind: kind, Wizard: w, StartedAt: time.Now()}
	s.sessions[userID] = sess
	slog.Debug("Session started", "userID", userID, "kind", kind)
	return sess
}

// Get returns the user's active session, or nil.
func (s *SessionStore) Get(userID string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[userID]
}

// End clears the user's active session.
func (s *SessionStore) End(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	slog.Debug("Session ended", "userID", userID)
}

// normalize lower-cases and trims an input for control-keyword matching.
func normalize(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// isYes reports whether an input is an affirmative answer.
func isYes(input string) bool {
	switch normalize(input) {
	case "yes", "y":
		return true
	}
	return false
}

// isNo reports whether an input is a negative answer.
func isNo(input string) bool {
	switch normalize(input) {
	case "no", "n":
		return true
	}
	return false
}
