package domain

import (
	"time"
)

// SessionSnapshot is the persisted form of a learner session.
type SessionSnapshot struct {
	UserID     string
	Flashcards []Flashcard
	Cursor     int
	Messages   []Message
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
