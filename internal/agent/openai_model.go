package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"github.com/ashureev/lexivoice/internal/domain"
)

// OpenAIModel streams chat completions from an OpenAI-compatible endpoint.
type OpenAIModel struct {
	Client *openai.Client
	Model  string
}

// Stream implements Model.
func (m *OpenAIModel) Stream(ctx context.Context, req *ModelRequest) iter.Seq2[ModelChunk, error] {
	return func(yield func(ModelChunk, error) bool) {
		params := openai.ChatCompletionNewParams{
			Model:    m.Model,
			Messages: oaiConvMessages(req),
			Tools:    oaiConvTools(req.Tools),
		}
		stream := m.Client.Chat.Completions.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		var (
			running *domain.ToolCall
			index   int64 = -1
		)
		commit := func() bool {
			if running == nil {
				return true
			}
			call := running
			running = nil
			return yield(ModelChunk{ToolCall: call}, nil)
		}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if s := choice.Delta.Content; s != "" {
				if !yield(ModelChunk{TextDelta: s}, nil) {
					return
				}
			}
			for _, t := range choice.Delta.ToolCalls {
				if running == nil || t.Index != index || (t.ID != "" && t.ID != running.ID) {
					if !commit() {
						return
					}
					index = t.Index
					running = &domain.ToolCall{ID: t.ID}
				}
				if t.ID != "" {
					running.ID = t.ID
				}
				running.Name += t.Function.Name
				running.Arguments += t.Function.Arguments
			}
			if choice.FinishReason == "content_filter" {
				yield(ModelChunk{}, fmt.Errorf("response blocked by content filter"))
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(ModelChunk{}, fmt.Errorf("chat completion stream: %w", err))
			return
		}
		commit()
	}
}

func oaiConvMessages(req *ModelRequest) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case domain.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case domain.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			am := &openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				am.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: param.NewOpt(msg.Content),
				}
			}
			for _, tc := range msg.ToolCalls {
				am.ToolCalls = append(am.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: am})
		case domain.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}
	return out
}

func oaiConvTools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: param.NewOpt(spec.Description),
				Parameters:  oaiConvSchema(spec.Parameters),
			},
		})
	}
	return tools
}

func oaiConvSchema(s *jsonschema.Schema) openai.FunctionParameters {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var m openai.FunctionParameters
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
