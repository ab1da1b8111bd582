package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"

	"github.com/ashureev/lexivoice/internal/domain"
	"github.com/ashureev/lexivoice/internal/session"
)

// Tool identifies one of the flashcard tools exposed to the model.
type Tool int

const (
	// ToolFetchCurrent returns the flashcard under the cursor.
	ToolFetchCurrent Tool = iota + 1
	// ToolAddNew appends a flashcard to the deck.
	ToolAddNew
	// ToolAdvance moves the cursor forward, wrapping at the end.
	ToolAdvance
)

var (
	// ErrUnknownTool is returned when the model calls a tool outside the
	// flashcard set.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidToolArguments is returned when tool arguments cannot be
	// decoded or are incomplete.
	ErrInvalidToolArguments = errors.New("invalid tool arguments")
)

// Name returns the tool name presented to the model.
func (t Tool) Name() string {
	switch t {
	case ToolFetchCurrent:
		return "fetch_flashcard"
	case ToolAddNew:
		return "add_flashcard"
	case ToolAdvance:
		return "next_flashcard"
	default:
		return "unknown"
	}
}

// ParseTool resolves a tool name from a model response.
func ParseTool(name string) (Tool, bool) {
	switch name {
	case "fetch_flashcard":
		return ToolFetchCurrent, true
	case "add_flashcard":
		return ToolAddNew, true
	case "next_flashcard":
		return ToolAdvance, true
	default:
		return 0, false
	}
}

// ToolSpec describes a tool to the model.
type ToolSpec struct {
	Tool        Tool
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

type noArgs struct{}

// Tools returns the flashcard tool definitions.
var Tools = sync.OnceValue(func() []ToolSpec {
	return []ToolSpec{
		{
			Tool:        ToolFetchCurrent,
			Name:        ToolFetchCurrent.Name(),
			Description: "Fetch the current flashcard from the session.",
			Parameters:  mustSchema[noArgs](),
		},
		{
			Tool:        ToolAddNew,
			Name:        ToolAddNew.Name(),
			Description: "Add a new flashcard to the session.",
			Parameters:  mustSchema[domain.Flashcard](),
		},
		{
			Tool:        ToolAdvance,
			Name:        ToolAdvance.Name(),
			Description: "Move to the next flashcard.",
			Parameters:  mustSchema[noArgs](),
		},
	}
})

func mustSchema[T any]() *jsonschema.Schema {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		panic(fmt.Sprintf("agent: tool schema: %v", err))
	}
	return s
}

// executeTool runs a tool call against sess and returns the textual result
// sent back to the model.
func executeTool(sess *session.Session, call domain.ToolCall) (Tool, string, error) {
	tool, ok := ParseTool(call.Name)
	if !ok {
		return 0, "", fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}

	switch tool {
	case ToolFetchCurrent:
		return tool, encodeCard(sess.Current()), nil
	case ToolAddNew:
		var card domain.Flashcard
		if err := decodeArguments(call.Arguments, &card); err != nil {
			return tool, "", fmt.Errorf("%w: %s: %v", ErrInvalidToolArguments, call.Name, err)
		}
		if strings.TrimSpace(card.Word) == "" {
			return tool, "", fmt.Errorf("%w: %s: word is required", ErrInvalidToolArguments, call.Name)
		}
		sess.Add(card)
		return tool, "Added flashcard: " + card.Word, nil
	case ToolAdvance:
		return tool, encodeCard(sess.Advance()), nil
	}
	return tool, "", fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
}

// decodeArguments unmarshals model-produced JSON, repairing it when the
// model emitted malformed output.
func decodeArguments(raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	err := json.Unmarshal([]byte(raw), v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	repaired, rerr := jsonrepair.JSONRepair(raw)
	if rerr != nil {
		return fmt.Errorf("repair arguments: %w", err)
	}
	return json.Unmarshal([]byte(repaired), v)
}

func encodeCard(card domain.Flashcard) string {
	b, err := json.Marshal(card)
	if err != nil {
		return card.Word
	}
	return string(b)
}
