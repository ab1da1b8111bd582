// Package session holds per-user conversation and flashcard state.
package session

import (
	"sync"
	"time"

	"github.com/ashureev/lexivoice/internal/domain"
)

// Session is the mutable state owned by one learner: an append-only
// flashcard deck, a cursor into it, and a trimmed conversation history.
//
// Data accessors are safe for concurrent use. BeginTurn serializes whole
// agent turns so two connections for the same user cannot interleave
// tool calls and history updates.
type Session struct {
	UserID string

	turn sync.Mutex

	mu         sync.Mutex
	flashcards []domain.Flashcard
	cursor     int
	history    []domain.Message
	createdAt  time.Time
}

// New creates a session seeded with the default flashcard.
func New(userID string) *Session {
	return &Session{
		UserID:     userID,
		flashcards: []domain.Flashcard{domain.DefaultFlashcard()},
		createdAt:  time.Now(),
	}
}

// FromSnapshot restores a session from its persisted form.
func FromSnapshot(snap *domain.SessionSnapshot) *Session {
	s := New(snap.UserID)
	if len(snap.Flashcards) > 0 {
		s.flashcards = append([]domain.Flashcard(nil), snap.Flashcards...)
	}
	if snap.Cursor >= 0 && snap.Cursor < len(s.flashcards) {
		s.cursor = snap.Cursor
	}
	s.history = append([]domain.Message(nil), snap.Messages...)
	if !snap.CreatedAt.IsZero() {
		s.createdAt = snap.CreatedAt
	}
	return s
}

// BeginTurn blocks until no other turn runs on this session and returns
// the function that ends the turn.
func (s *Session) BeginTurn() (end func()) {
	s.turn.Lock()
	return s.turn.Unlock
}

// Current returns the flashcard under the cursor.
func (s *Session) Current() domain.Flashcard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flashcards[s.cursor]
}

// Add appends a flashcard and returns the new deck size.
func (s *Session) Add(card domain.Flashcard) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flashcards = append(s.flashcards, card)
	return len(s.flashcards)
}

// Advance moves the cursor to the next flashcard, wrapping to the first
// one past the end, and returns the new current card.
func (s *Session) Advance() domain.Flashcard {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor++
	if s.cursor >= len(s.flashcards) {
		s.cursor = 0
	}
	return s.flashcards[s.cursor]
}

// Cursor returns the index of the current flashcard.
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Flashcards returns a copy of the deck.
func (s *Session) Flashcards() []domain.Flashcard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Flashcard(nil), s.flashcards...)
}

// History returns a copy of the conversation history.
func (s *Session) History() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.history...)
}

// SetHistory replaces the history with the most recent limit messages.
func (s *Session) SetHistory(msgs []domain.Message, limit int) {
	trimmed := domain.RecentMessages(msgs, limit)
	s.mu.Lock()
	s.history = trimmed
	s.mu.Unlock()
}

// Snapshot captures the session for persistence.
func (s *Session) Snapshot() *domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &domain.SessionSnapshot{
		UserID:     s.UserID,
		Flashcards: append([]domain.Flashcard(nil), s.flashcards...),
		Cursor:     s.cursor,
		Messages:   append([]domain.Message(nil), s.history...),
		CreatedAt:  s.createdAt,
		UpdatedAt:  time.Now(),
	}
}
