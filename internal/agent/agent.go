package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/lexivoice/internal/chunk"
	"github.com/ashureev/lexivoice/internal/domain"
	"github.com/ashureev/lexivoice/internal/session"
)

// SystemPrompt instructs the model to act as a vocabulary tutor.
const SystemPrompt = "You are an English learning assistant. Given a word, phrase, or sentence, " +
	"provide clear explanations, and generate flashcards with word, definition, and example sentence. " +
	"Keep output concise and structured."

const (
	// DefaultRequestLimit caps model requests per turn.
	DefaultRequestLimit = 10
	// DefaultHistoryLimit is the number of messages kept between turns.
	DefaultHistoryLimit = 10
)

// ErrRequestLimitExceeded is returned when a turn needs more model requests
// than allowed.
var ErrRequestLimitExceeded = errors.New("request limit exceeded")

// errNoEnd is returned if the event stream finishes without an EndEvent.
var errNoEnd = errors.New("agent stream ended without a result")

// Config tunes an Agent.
type Config struct {
	SystemPrompt string
	RequestLimit int
	HistoryLimit int
}

// Agent runs tutoring turns against a Model.
type Agent struct {
	model  Model
	cfg    Config
	logger *slog.Logger
	saver  SessionSaver
	convo  ConversationLogger
}

// New creates an agent. Zero config fields take their defaults.
func New(model Model, cfg Config, logger *slog.Logger) *Agent {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = SystemPrompt
	}
	if cfg.RequestLimit <= 0 {
		cfg.RequestLimit = DefaultRequestLimit
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		model:  model,
		cfg:    cfg,
		logger: logger,
		convo:  noopConversationLogger{},
	}
}

// SetSessionSaver persists sessions after each completed turn.
func (a *Agent) SetSessionSaver(s SessionSaver) {
	a.saver = s
}

// SetConversationLogger records transcripts of every turn.
func (a *Agent) SetConversationLogger(l ConversationLogger) {
	if l == nil {
		l = noopConversationLogger{}
	}
	a.convo = l
}

// Run executes one turn and returns the final response text.
func (a *Agent) Run(ctx context.Context, text string, sess *session.Session) (string, error) {
	for ev, err := range a.events(ctx, text, sess, "agent_http") {
		if err != nil {
			return "", err
		}
		if end, ok := ev.(EndEvent); ok {
			return end.Output, nil
		}
	}
	return "", errNoEnd
}

// RunStreaming executes one turn, passing text to onChunk in groups of
// chunkSizeWords words as it is produced. A chunkSizeWords of zero or less
// passes every delta through unchanged. It returns all text produced
// during the turn.
func (a *Agent) RunStreaming(ctx context.Context, text string, sess *session.Session, onChunk chunk.EmitFunc, chunkSizeWords int) (string, error) {
	chunker := chunk.New(chunkSizeWords, onChunk)
	var full strings.Builder

	for ev, err := range a.events(ctx, text, sess, "agent_ws") {
		if err != nil {
			return full.String(), err
		}
		switch ev := ev.(type) {
		case TextDeltaEvent:
			full.WriteString(ev.Delta)
			if err := chunker.Push(ev.Delta); err != nil {
				return full.String(), err
			}
		case ToolCallEvent:
			a.logger.Debug("Tool call streamed", "user_id", sess.UserID, "tool", ev.Tool.Name())
		case EndEvent:
			if err := chunker.Flush(); err != nil {
				return full.String(), err
			}
			return full.String(), nil
		}
	}
	return full.String(), errNoEnd
}

// Events runs one turn and yields its events in order. The final event of a
// successful turn is an EndEvent. Stopping iteration early abandons the turn
// without touching history.
func (a *Agent) Events(ctx context.Context, text string, sess *session.Session) iter.Seq2[Event, error] {
	return a.events(ctx, text, sess, "agent_events")
}

func (a *Agent) events(ctx context.Context, text string, sess *session.Session, channel string) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		end := sess.BeginTurn()
		defer end()

		turnID := uuid.NewString()
		started := time.Now()
		a.logEvent(sess.UserID, turnID, channel, "inbound", "user_message", text, nil)

		msgs := append(sess.History(), domain.Message{Role: domain.RoleUser, Content: text})
		var (
			transcript strings.Builder
			output     string
			requests   int
		)

		for {
			if requests >= a.cfg.RequestLimit {
				err := fmt.Errorf("%w: the next request would exceed the limit of %d", ErrRequestLimitExceeded, a.cfg.RequestLimit)
				a.logTurnError(sess.UserID, turnID, channel, err)
				yield(nil, err)
				return
			}
			requests++

			req := &ModelRequest{
				System:   a.cfg.SystemPrompt,
				Messages: startAtUserTurn(msgs),
				Tools:    Tools(),
			}

			var (
				reply   strings.Builder
				calls   []domain.ToolCall
				results []domain.Message
			)
			for c, err := range a.model.Stream(ctx, req) {
				if err != nil {
					err = fmt.Errorf("model request %d: %w", requests, err)
					a.logTurnError(sess.UserID, turnID, channel, err)
					yield(nil, err)
					return
				}
				if c.TextDelta != "" {
					reply.WriteString(c.TextDelta)
					transcript.WriteString(c.TextDelta)
					if !yield(TextDeltaEvent{Delta: c.TextDelta}, nil) {
						return
					}
				}
				if c.ToolCall == nil {
					continue
				}
				call := *c.ToolCall
				tool, result, err := executeTool(sess, call)
				if err != nil {
					a.logTurnError(sess.UserID, turnID, channel, err)
					yield(nil, err)
					return
				}
				a.logger.Info("Tool executed", "user_id", sess.UserID, "turn_id", turnID, "tool", call.Name)
				a.logEvent(sess.UserID, turnID, channel, "internal", "tool_call", result, map[string]any{
					"tool":      call.Name,
					"arguments": call.Arguments,
				})
				calls = append(calls, call)
				results = append(results, domain.Message{
					Role:       domain.RoleTool,
					Content:    result,
					ToolCallID: call.ID,
					ToolName:   call.Name,
				})
				if !yield(ToolCallEvent{Tool: tool, Call: call, Result: result}, nil) {
					return
				}
			}

			if len(calls) == 0 {
				output = reply.String()
				msgs = append(msgs, domain.Message{Role: domain.RoleAssistant, Content: output})
				break
			}
			msgs = append(msgs, domain.Message{Role: domain.RoleAssistant, Content: reply.String(), ToolCalls: calls})
			msgs = append(msgs, results...)
		}

		sess.SetHistory(msgs, a.cfg.HistoryLimit)
		if a.saver != nil {
			if err := a.saver.Save(ctx, sess); err != nil {
				a.logger.Warn("failed to persist session", "user_id", sess.UserID, "error", err)
			}
		}

		a.logger.Info("Agent turn completed",
			"user_id", sess.UserID,
			"turn_id", turnID,
			"requests", requests,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		a.logEvent(sess.UserID, turnID, channel, "outbound", "assistant_message", transcript.String(), map[string]any{
			"requests": requests,
		})

		yield(EndEvent{
			TurnID:   turnID,
			Output:   output,
			Text:     transcript.String(),
			Requests: requests,
		}, nil)
	}
}

func (a *Agent) logEvent(userID, turnID, channel, direction, eventType, content string, meta map[string]any) {
	a.convo.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     userID,
		TurnID:     turnID,
		Channel:    channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       meta,
	})
}

func (a *Agent) logTurnError(userID, turnID, channel string, err error) {
	a.logger.Error("Agent turn failed", "user_id", userID, "turn_id", turnID, "error", err)
	a.logEvent(userID, turnID, channel, "outbound", "turn_error", err.Error(), nil)
}

// startAtUserTurn drops messages at the head of a trimmed history until the
// first user message. A trimmed window can begin with tool results or
// tool-calling assistant turns whose counterparts were cut away, and
// providers reject both.
func startAtUserTurn(msgs []domain.Message) []domain.Message {
	for i, m := range msgs {
		if m.Role == domain.RoleUser {
			return msgs[i:]
		}
	}
	return msgs[:0]
}
