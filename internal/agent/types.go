// Package agent implements the flashcard tutor: a tool-calling LLM loop
// over a learner session, consumable as a single answer or as a stream of
// events.
package agent

import (
	"context"
	"iter"

	"github.com/ashureev/lexivoice/internal/domain"
	"github.com/ashureev/lexivoice/internal/session"
)

// Event is one step of an agent turn. It is one of ToolCallEvent,
// TextDeltaEvent or EndEvent.
type Event interface {
	isEvent()
}

// ToolCallEvent reports a tool call that has been executed against the
// session.
type ToolCallEvent struct {
	Tool   Tool
	Call   domain.ToolCall
	Result string
}

// TextDeltaEvent carries an incremental piece of model output.
type TextDeltaEvent struct {
	Delta string
}

// EndEvent terminates a turn. Output is the final model response; Text is
// every text delta of the turn concatenated.
type EndEvent struct {
	TurnID   string
	Output   string
	Text     string
	Requests int
}

func (ToolCallEvent) isEvent()  {}
func (TextDeltaEvent) isEvent() {}
func (EndEvent) isEvent()       {}

// ModelRequest is a single round trip to the LLM.
type ModelRequest struct {
	System   string
	Messages []domain.Message
	Tools    []ToolSpec
}

// ModelChunk is a piece of a streamed model response: either a text delta
// or a fully assembled tool call.
type ModelChunk struct {
	TextDelta string
	ToolCall  *domain.ToolCall
}

// Model streams one model response. The sequence is finite and cannot be
// restarted.
type Model interface {
	Stream(ctx context.Context, req *ModelRequest) iter.Seq2[ModelChunk, error]
}

// SessionSaver persists a session after a completed turn.
type SessionSaver interface {
	Save(ctx context.Context, sess *session.Session) error
}
