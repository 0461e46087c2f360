// Package gemini adapts the Google Gemini API to the provider contract,
// using the official generative-ai SDK.
package gemini

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/sweetpotato0/omnillm/errors"
	"github.com/sweetpotato0/omnillm/provider"
)

const Name = "gemini"

// Config holds Gemini adapter configuration.
type Config struct {
	APIKey string
	Model  string
}

// DefaultConfig returns the default Gemini configuration.
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey: apiKey,
		Model:  "gemini-1.5-flash",
	}
}

// Adapter translates requests to the official Gemini SDK.
type Adapter struct {
	config *Config
	client *genai.Client
}

// New creates a Gemini adapter. The SDK dials lazily, so the construction
// context only bounds credential setup.
func New(ctx context.Context, config *Config) (*Adapter, error) {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Model == "" {
		config.Model = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, errors.NewUpstream(Name, fmt.Errorf("create client: %w", err))
	}
	return &Adapter{config: config, client: client}, nil
}

// Close releases the underlying SDK client.
func (a *Adapter) Close() error { return a.client.Close() }

// Identify reports the adapter's static capabilities and rankings.
func (a *Adapter) Identify() provider.Descriptor {
	return provider.Descriptor{
		Name:              Name,
		DefaultModel:      a.config.Model,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
		CostRank:          2,
		LatencyRank:       2,
		QualityRank:       2,
	}
}

// Generate performs one generateContent call. Conversations run through a
// chat session because the SDK keeps history there rather than in the
// request body.
func (a *Adapter) Generate(ctx context.Context, req provider.Request) (*provider.RawResponse, error) {
	model, history, last, err := a.prepare(req)
	if err != nil {
		return nil, err
	}

	session := model.StartChat()
	session.History = history
	resp, err := session.SendMessage(ctx, last...)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return decodeResponse(resp)
}

// Stream performs a streaming generateContent call. Usage metadata rides on
// the last SDK response, so it is attached to the closing chunk only.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) iter.Seq2[*provider.RawChunk, error] {
	return func(yield func(*provider.RawChunk, error) bool) {
		model, history, last, err := a.prepare(req)
		if err != nil {
			yield(nil, err)
			return
		}

		session := model.StartChat()
		session.History = history
		it := session.SendMessageStream(ctx, last...)

		var usage *provider.RawUsage
		for {
			resp, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				yield(nil, mapError(ctx, err))
				return
			}
			if resp.UsageMetadata != nil {
				usage = &provider.RawUsage{
					PromptTokens:     int64(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int64(resp.UsageMetadata.TotalTokenCount),
				}
			}
			text := candidateText(resp)
			if text == "" {
				continue
			}
			if !yield(&provider.RawChunk{Text: text}, nil) {
				return
			}
		}
		yield(&provider.RawChunk{Final: true, Usage: usage}, nil)
	}
}

// prepare builds the generative model and splits the conversation into
// history plus the final turn the chat session sends.
func (a *Adapter) prepare(req provider.Request) (*genai.GenerativeModel, []*genai.Content, []genai.Part, error) {
	name := req.Model
	if name == "" {
		name = a.config.Model
	}
	model := a.client.GenerativeModel(name)
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if decls := toolDeclarations(req.Tools); len(decls) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case provider.RoleSystem:
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(msg.Text)}}
		case provider.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Text)},
			})
		case provider.RoleAssistant:
			parts := make([]genai.Part, 0, 1+len(msg.ToolCalls))
			if msg.Text != "" {
				parts = append(parts, genai.Text(msg.Text))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: tc.Args})
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case provider.RoleTool:
			// Gemini addresses tool results by function name; the engine
			// carries that name in ToolID.
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []genai.Part{genai.FunctionResponse{
					Name:     msg.ToolID,
					Response: map[string]any{"output": msg.Text},
				}},
			})
		}
	}
	if len(contents) == 0 {
		return nil, nil, nil, errors.NewInvalidRequest(Name, "conversation cannot be empty")
	}

	last := contents[len(contents)-1]
	return model, contents[:len(contents)-1], last.Parts, nil
}

func decodeResponse(resp *genai.GenerateContentResponse) (*provider.RawResponse, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.NewUpstream(Name, fmt.Errorf("no candidates returned"))
	}

	out := &provider.RawResponse{}
	if resp.UsageMetadata != nil {
		out.Usage = provider.RawUsage{
			PromptTokens:     int64(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int64(resp.UsageMetadata.TotalTokenCount),
		}
	}

	candidate := resp.Candidates[0]
	out.FinishReason = candidate.FinishReason.String()

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, provider.ToolCall{
				ID:   p.Name,
				Name: p.Name,
				Args: p.Args,
			})
		}
	}
	out.Text = text.String()
	return out, nil
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return text.String()
}

func toolDeclarations(schemas []map[string]any) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(schemas))
	for _, schema := range schemas {
		fn, ok := schema["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		parameters, _ := fn["parameters"].(map[string]any)
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        name,
			Description: desc,
			Parameters:  objectSchema(parameters),
		})
	}
	return decls
}

func objectSchema(parameters map[string]any) *genai.Schema {
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{},
	}
	props, _ := parameters["properties"].(map[string]any)
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		typeName, _ := prop["type"].(string)
		desc, _ := prop["description"].(string)
		schema.Properties[name] = &genai.Schema{
			Type:        schemaType(typeName),
			Description: desc,
		}
	}
	switch required := parameters["required"].(type) {
	case []string:
		schema.Required = required
	case []any:
		for _, item := range required {
			if s, ok := item.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

func schemaType(name string) genai.Type {
	switch name {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// mapError folds SDK failures into the shared error taxonomy.
func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.NewTimeout(Name, err)
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return errors.NewUpstream(Name, err)
	}
	switch apiErr.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.NewAuthentication(Name, err)
	case http.StatusTooManyRequests:
		return errors.NewRateLimited(Name, nil, err)
	case http.StatusBadRequest, http.StatusNotFound:
		return errors.NewInvalidRequest(Name, err.Error())
	default:
		return errors.NewUpstream(Name, err)
	}
}
