package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/lexivoice/internal/domain"
	"github.com/ashureev/lexivoice/internal/session"
)

// scriptedModel replays one response per request and records what it was
// asked.
type scriptedModel struct {
	mu        sync.Mutex
	responses [][]ModelChunk
	repeat    []ModelChunk
	err       error
	requests  []*ModelRequest
}

func (m *scriptedModel) Stream(_ context.Context, req *ModelRequest) iter.Seq2[ModelChunk, error] {
	m.mu.Lock()
	cp := *req
	cp.Messages = append([]domain.Message(nil), req.Messages...)
	m.requests = append(m.requests, &cp)
	var resp []ModelChunk
	switch {
	case len(m.responses) > 0:
		resp = m.responses[0]
		m.responses = m.responses[1:]
	default:
		resp = m.repeat
	}
	err := m.err
	m.mu.Unlock()

	return func(yield func(ModelChunk, error) bool) {
		if err != nil {
			yield(ModelChunk{}, err)
			return
		}
		for _, c := range resp {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (m *scriptedModel) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func text(s string) ModelChunk { return ModelChunk{TextDelta: s} }

func call(id, name, args string) ModelChunk {
	return ModelChunk{ToolCall: &domain.ToolCall{ID: id, Name: name, Arguments: args}}
}

type recordingSaver struct {
	mu    sync.Mutex
	saved int
}

func (s *recordingSaver) Save(_ context.Context, _ *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved++
	return nil
}

func TestRunFetchesCurrentFlashcard(t *testing.T) {
	model := &scriptedModel{responses: [][]ModelChunk{
		{call("c1", "fetch_flashcard", "{}")},
		{text("Scrumptious means "), text("tasting extremely good.")},
	}}
	a := New(model, Config{}, nil)
	sess := session.New("u1")

	out, err := a.Run(context.Background(), "What is my current card?", sess)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "Scrumptious means tasting extremely good." {
		t.Fatalf("unexpected output %q", out)
	}

	if model.requestCount() != 2 {
		t.Fatalf("expected 2 model requests, got %d", model.requestCount())
	}
	second := model.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != domain.RoleTool || !strings.Contains(last.Content, `"word":"scrumptious"`) {
		t.Fatalf("expected tool result with current card, got %+v", last)
	}
	if model.requests[0].System != SystemPrompt {
		t.Fatalf("expected default system prompt")
	}
	if len(model.requests[0].Tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(model.requests[0].Tools))
	}

	history := sess.History()
	if len(history) != 4 {
		t.Fatalf("expected 4 history messages, got %d", len(history))
	}
	if history[0].Role != domain.RoleUser || history[3].Role != domain.RoleAssistant {
		t.Fatalf("unexpected history roles: %+v", history)
	}
}

func TestRunAddsFlashcard(t *testing.T) {
	args := `{"word":"ephemeral","definition":"lasting a very short time","example_sentence":"Fame is ephemeral."}`
	model := &scriptedModel{responses: [][]ModelChunk{
		{call("c1", "add_flashcard", args)},
		{text("Added ephemeral.")},
	}}
	a := New(model, Config{}, nil)
	sess := session.New("u1")

	if _, err := a.Run(context.Background(), "Make a card for ephemeral", sess); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	cards := sess.Flashcards()
	if len(cards) != 2 || cards[1].Word != "ephemeral" {
		t.Fatalf("expected appended card, got %+v", cards)
	}
	if sess.Cursor() != 0 {
		t.Fatalf("adding must not move the cursor, got %d", sess.Cursor())
	}
	tool := model.requests[1].Messages[len(model.requests[1].Messages)-1]
	if tool.Content != "Added flashcard: ephemeral" {
		t.Fatalf("unexpected tool result %q", tool.Content)
	}
}

func TestRunRepairsMalformedToolArguments(t *testing.T) {
	args := `{"word":"ephemeral","definition":"short","example_sentence":"Fame is ephemeral."`
	model := &scriptedModel{responses: [][]ModelChunk{
		{call("c1", "add_flashcard", args)},
		{text("ok")},
	}}
	sess := session.New("u1")
	if _, err := New(model, Config{}, nil).Run(context.Background(), "add it", sess); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := len(sess.Flashcards()); got != 2 {
		t.Fatalf("expected 2 cards, got %d", got)
	}
}

func TestRunAdvanceWraps(t *testing.T) {
	model := &scriptedModel{responses: [][]ModelChunk{
		{call("c1", "next_flashcard", "")},
		{text("Still scrumptious.")},
	}}
	sess := session.New("u1")
	if _, err := New(model, Config{}, nil).Run(context.Background(), "next", sess); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sess.Cursor() != 0 {
		t.Fatalf("single-card deck must wrap to 0, got %d", sess.Cursor())
	}
}

func TestRunRequestLimitExceeded(t *testing.T) {
	model := &scriptedModel{repeat: []ModelChunk{call("c", "next_flashcard", "{}")}}
	a := New(model, Config{RequestLimit: 10}, nil)
	sess := session.New("u1")

	_, err := a.Run(context.Background(), "loop forever", sess)
	if !errors.Is(err, ErrRequestLimitExceeded) {
		t.Fatalf("expected ErrRequestLimitExceeded, got %v", err)
	}
	if model.requestCount() != 10 {
		t.Fatalf("expected exactly 10 model requests, got %d", model.requestCount())
	}
	if len(sess.History()) != 0 {
		t.Fatalf("failed turn must not update history")
	}
}

func TestRunUnknownTool(t *testing.T) {
	model := &scriptedModel{responses: [][]ModelChunk{{call("c1", "delete_everything", "{}")}}}
	_, err := New(model, Config{}, nil).Run(context.Background(), "hi", session.New("u1"))
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestRunModelError(t *testing.T) {
	boom := errors.New("upstream unavailable")
	model := &scriptedModel{err: boom}
	_, err := New(model, Config{}, nil).Run(context.Background(), "hi", session.New("u1"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped model error, got %v", err)
	}
}

func TestRunTrimsHistoryAndSaves(t *testing.T) {
	model := &scriptedModel{repeat: []ModelChunk{text("answer")}}
	saver := &recordingSaver{}
	a := New(model, Config{HistoryLimit: 10}, nil)
	a.SetSessionSaver(saver)
	sess := session.New("u1")

	for i := 0; i < 6; i++ {
		if _, err := a.Run(context.Background(), "question", sess); err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
	}
	if got := len(sess.History()); got != 10 {
		t.Fatalf("expected history trimmed to 10, got %d", got)
	}
	if saver.saved != 6 {
		t.Fatalf("expected 6 saves, got %d", saver.saved)
	}
	last := model.requests[len(model.requests)-1]
	if got := len(last.Messages); got != 11 {
		t.Fatalf("expected 10 history + 1 new message in request, got %d", got)
	}
}

func TestRunStreamingRegroupsWords(t *testing.T) {
	model := &scriptedModel{responses: [][]ModelChunk{
		{text("sc"), text("rum"), text("ptious breakfast is "), text("great today")},
	}}
	a := New(model, Config{}, nil)

	var got []string
	full, err := a.RunStreaming(context.Background(), "describe breakfast", session.New("u1"), func(s string) error {
		got = append(got, s)
		return nil
	}, 2)
	if err != nil {
		t.Fatalf("RunStreaming failed: %v", err)
	}
	want := []string{"scrumptious breakfast", "is great", "today"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if full != "scrumptious breakfast is great today" {
		t.Fatalf("unexpected full text %q", full)
	}
}

func TestRunStreamingPassthroughWithoutChunkSize(t *testing.T) {
	model := &scriptedModel{responses: [][]ModelChunk{{text("a b"), text(" c")}}}
	var got []string
	_, err := New(model, Config{}, nil).RunStreaming(context.Background(), "x", session.New("u1"), func(s string) error {
		got = append(got, s)
		return nil
	}, 0)
	if err != nil {
		t.Fatalf("RunStreaming failed: %v", err)
	}
	if len(got) != 2 || got[0] != "a b" || got[1] != " c" {
		t.Fatalf("expected raw deltas, got %q", got)
	}
}

func TestRunStreamingIncludesTextAcrossToolCalls(t *testing.T) {
	model := &scriptedModel{responses: [][]ModelChunk{
		{text("Let me check. "), call("c1", "fetch_flashcard", "{}")},
		{text("It is scrumptious.")},
	}}
	full, err := New(model, Config{}, nil).RunStreaming(context.Background(), "x", session.New("u1"), func(string) error { return nil }, 3)
	if err != nil {
		t.Fatalf("RunStreaming failed: %v", err)
	}
	if full != "Let me check. It is scrumptious." {
		t.Fatalf("unexpected full text %q", full)
	}
}

func TestRunStreamingEmitErrorAbortsTurn(t *testing.T) {
	model := &scriptedModel{responses: [][]ModelChunk{{text("one two three")}}}
	sess := session.New("u1")
	boom := errors.New("synthesis failed")
	_, err := New(model, Config{}, nil).RunStreaming(context.Background(), "x", sess, func(string) error { return boom }, 1)
	if !errors.Is(err, boom) {
		t.Fatalf("expected emit error, got %v", err)
	}
	if len(sess.History()) != 0 {
		t.Fatalf("aborted turn must not update history")
	}
}

func TestEventsEarlyBreakReleasesTurn(t *testing.T) {
	model := &scriptedModel{repeat: []ModelChunk{text("hello "), text("there")}}
	a := New(model, Config{}, nil)
	sess := session.New("u1")

	for ev, err := range a.Events(context.Background(), "hi", sess) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := ev.(TextDeltaEvent); ok {
			break
		}
	}
	if len(sess.History()) != 0 {
		t.Fatalf("abandoned turn must not update history")
	}
	if _, err := a.Run(context.Background(), "again", sess); err != nil {
		t.Fatalf("turn lock not released: %v", err)
	}
}

func TestEventsOrder(t *testing.T) {
	model := &scriptedModel{responses: [][]ModelChunk{
		{call("c1", "fetch_flashcard", "{}")},
		{text("done")},
	}}
	var kinds []string
	for ev, err := range New(model, Config{}, nil).Events(context.Background(), "hi", session.New("u1")) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		switch ev := ev.(type) {
		case ToolCallEvent:
			if ev.Tool != ToolFetchCurrent {
				t.Fatalf("unexpected tool %v", ev.Tool)
			}
			kinds = append(kinds, "tool")
		case TextDeltaEvent:
			kinds = append(kinds, "text")
		case EndEvent:
			if ev.Requests != 2 || ev.TurnID == "" {
				t.Fatalf("unexpected end event %+v", ev)
			}
			kinds = append(kinds, "end")
		}
	}
	if strings.Join(kinds, ",") != "tool,text,end" {
		t.Fatalf("unexpected event order %v", kinds)
	}
}

func TestConcurrentTurnsOnOneSessionSerialize(t *testing.T) {
	model := &scriptedModel{repeat: []ModelChunk{call("c", "add_flashcard", `{"word":"w","definition":"d","example_sentence":"e"}`)}}
	a := New(model, Config{RequestLimit: 1}, nil)
	sess := session.New("u1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Run(context.Background(), "add", sess)
		}()
	}
	wg.Wait()
	if got := len(sess.Flashcards()); got != 9 {
		t.Fatalf("expected 9 cards after 8 serialized adds, got %d", got)
	}
}

func TestStartAtUserTurn(t *testing.T) {
	msgs := []domain.Message{
		{Role: domain.RoleTool, Content: "orphan"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "c", Name: "next_flashcard"}}},
		{Role: domain.RoleTool, Content: "{}", ToolCallID: "c"},
		{Role: domain.RoleAssistant, Content: "hi"},
		{Role: domain.RoleUser, Content: "q"},
		{Role: domain.RoleAssistant, Content: "a"},
	}
	got := startAtUserTurn(msgs)
	if len(got) != 2 || got[0].Role != domain.RoleUser {
		t.Fatalf("unexpected result %+v", got)
	}
	if got := startAtUserTurn(msgs[:4]); len(got) != 0 {
		t.Fatalf("expected empty window without a user message, got %+v", got)
	}
}

// toolHeavyTurn scripts one turn that adds n cards, one tool call per
// request, before answering.
func toolHeavyTurn(n int) [][]ModelChunk {
	var out [][]ModelChunk
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("c%d", i)
		out = append(out, []ModelChunk{call(id, "add_flashcard", fmt.Sprintf(`{"word":"w%d","definition":"d","example_sentence":"e"}`, i))})
	}
	return append(out, []ModelChunk{text("All added.")})
}

func TestRunStreamingTrimsHistoryAfterToolHeavyTurn(t *testing.T) {
	model := &scriptedModel{responses: append(toolHeavyTurn(6), []ModelChunk{text("Sure.")})}
	saver := &recordingSaver{}
	a := New(model, Config{HistoryLimit: 10}, nil)
	a.SetSessionSaver(saver)
	sess := session.New("u1")

	var spoken []string
	if _, err := a.RunStreaming(context.Background(), "add six words", sess, func(s string) error {
		spoken = append(spoken, s)
		return nil
	}, 10); err != nil {
		t.Fatalf("RunStreaming failed: %v", err)
	}
	if strings.Join(spoken, "") != "All added." {
		t.Fatalf("unexpected chunks %q", spoken)
	}

	// 1 user + 6 assistant calls + 6 tool results + 1 answer.
	history := sess.History()
	if len(history) != 10 {
		t.Fatalf("expected history trimmed to 10, got %d", len(history))
	}
	if history[len(history)-1].Content != "All added." {
		t.Fatalf("expected newest message last, got %+v", history[len(history)-1])
	}
	if got := len(sess.Flashcards()); got != 7 {
		t.Fatalf("expected 7 cards, got %d", got)
	}

	if _, err := a.RunStreaming(context.Background(), "thanks", sess, func(string) error { return nil }, 10); err != nil {
		t.Fatalf("second RunStreaming failed: %v", err)
	}
	if got := len(sess.History()); got > 10 {
		t.Fatalf("history exceeds limit: %d", got)
	}
	next := model.requests[len(model.requests)-1].Messages
	if next[0].Role != domain.RoleUser {
		t.Fatalf("request must start with a user message, got %+v", next[0])
	}
	for _, m := range next {
		if m.Role == domain.RoleTool || len(m.ToolCalls) > 0 {
			t.Fatalf("trimmed request kept a tool exchange without its user turn: %+v", m)
		}
	}
	if saver.saved != 2 {
		t.Fatalf("expected 2 saves, got %d", saver.saved)
	}
}
