package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"

	"github.com/ashureev/lexivoice/internal/domain"
)

// GeminiModel streams responses from the Gemini API.
type GeminiModel struct {
	Client *genai.Client
	Model  string
}

// Stream implements Model.
func (m *GeminiModel) Stream(ctx context.Context, req *ModelRequest) iter.Seq2[ModelChunk, error] {
	return func(yield func(ModelChunk, error) bool) {
		cfg, contents := geminiConvRequest(req)
		if len(contents) == 0 {
			yield(ModelChunk{}, fmt.Errorf("no contents"))
			return
		}

		for resp, err := range m.Client.Models.GenerateContentStream(ctx, m.Model, contents, cfg) {
			if err != nil {
				yield(ModelChunk{}, fmt.Errorf("generate content stream: %w", err))
				return
			}
			if len(resp.Candidates) == 0 {
				continue
			}
			cand := resp.Candidates[0]
			if cand.FinishReason == genai.FinishReasonSafety {
				yield(ModelChunk{}, fmt.Errorf("response blocked by safety filter"))
				return
			}
			if cand.Content == nil {
				continue
			}
			for _, p := range cand.Content.Parts {
				switch {
				case p.Thought:
				case p.FunctionCall != nil:
					b, err := json.Marshal(p.FunctionCall.Args)
					if err != nil {
						b = []byte("{}")
					}
					id := p.FunctionCall.ID
					if id == "" {
						id = p.FunctionCall.Name
					}
					call := &domain.ToolCall{ID: id, Name: p.FunctionCall.Name, Arguments: string(b)}
					if !yield(ModelChunk{ToolCall: call}, nil) {
						return
					}
				case p.Text != "":
					if !yield(ModelChunk{TextDelta: p.Text}, nil) {
						return
					}
				}
			}
		}
	}
}

func geminiConvRequest(req *ModelRequest) (*genai.GenerateContentConfig, []*genai.Content) {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(req.System)}}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, spec := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  geminiConvSchema(spec.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	var (
		contents []*genai.Content
		last     *genai.Content
	)
	for _, msg := range req.Messages {
		role, parts := geminiConvMessage(msg)
		if len(parts) == 0 {
			continue
		}
		if last != nil && last.Role == role {
			last.Parts = append(last.Parts, parts...)
			continue
		}
		last = &genai.Content{Role: role, Parts: parts}
		contents = append(contents, last)
	}
	return cfg, contents
}

func geminiConvMessage(msg domain.Message) (string, []*genai.Part) {
	var parts []*genai.Part
	switch msg.Role {
	case domain.RoleUser:
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
		return "user", parts
	case domain.RoleAssistant:
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
				args = map[string]any{"text": tc.Arguments}
			}
			parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
		}
		return "model", parts
	case domain.RoleTool:
		var result map[string]any
		if err := json.Unmarshal([]byte(msg.Content), &result); err != nil {
			result = map[string]any{"result": msg.Content}
		}
		parts = append(parts, genai.NewPartFromFunctionResponse(msg.ToolName, result))
		return "user", parts
	}
	return "user", nil
}

func geminiConvSchema(schema *jsonschema.Schema) *genai.Schema {
	if schema == nil {
		return nil
	}
	if schema.Type == "object" && len(schema.Properties) == 0 {
		return nil
	}

	gs := genai.Schema{
		Format:      schema.Format,
		Description: schema.Description,
		Items:       geminiConvSchema(schema.Items),
		Required:    schema.Required,
	}
	if n := len(schema.Properties); n > 0 {
		gs.Properties = make(map[string]*genai.Schema, n)
		for k, prop := range schema.Properties {
			gs.Properties[k] = geminiConvSchema(prop)
		}
	}
	switch schema.Type {
	case "object":
		gs.Type = genai.TypeObject
	case "array":
		gs.Type = genai.TypeArray
	case "string":
		gs.Type = genai.TypeString
	case "number":
		gs.Type = genai.TypeNumber
	case "integer":
		gs.Type = genai.TypeInteger
	case "boolean":
		gs.Type = genai.TypeBoolean
	}
	return &gs
}
