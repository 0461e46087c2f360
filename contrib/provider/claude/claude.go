// Package claude adapts the Anthropic messages API to the provider contract.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/sweetpotato0/omnillm/errors"
	"github.com/sweetpotato0/omnillm/provider"
)

const Name = "claude"

// The messages API requires max_tokens; this applies when the caller sets
// none.
const defaultMaxTokens = 4096

// Config holds Claude adapter configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// DefaultConfig returns the default Claude configuration.
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey: apiKey,
		Model:  "claude-3-5-sonnet-20241022",
	}
}

// Adapter translates requests to the official Anthropic SDK.
type Adapter struct {
	config *Config
	client anthropic.Client
}

// New creates a Claude adapter using the official SDK.
func New(config *Config) *Adapter {
	if config.Model == "" {
		config.Model = "claude-3-5-sonnet-20241022"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Adapter{
		config: config,
		client: anthropic.NewClient(options...),
	}
}

// Identify reports the adapter's static capabilities and rankings.
func (a *Adapter) Identify() provider.Descriptor {
	return provider.Descriptor{
		Name:              Name,
		DefaultModel:      a.config.Model,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
		CostRank:          4,
		LatencyRank:       3,
		QualityRank:       1,
	}
}

// Generate performs one messages API call.
func (a *Adapter) Generate(ctx context.Context, req provider.Request) (*provider.RawResponse, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	apiMessage, err := a.client.Messages.New(ctx, *params)
	if err != nil {
		return nil, mapError(ctx, err)
	}

	resp := &provider.RawResponse{
		Model:        string(apiMessage.Model),
		FinishReason: string(apiMessage.StopReason),
		Usage: provider.RawUsage{
			InputTokens:  apiMessage.Usage.InputTokens,
			OutputTokens: apiMessage.Usage.OutputTokens,
		},
	}

	var text strings.Builder
	for _, content := range apiMessage.Content {
		switch content.Type {
		case "text":
			text.WriteString(content.Text)
		case "tool_use":
			var args map[string]any
			if err := json.Unmarshal(content.Input, &args); err != nil {
				return nil, errors.NewUpstream(Name, fmt.Errorf("parse tool input: %w", err))
			}
			resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
				ID:   content.ID,
				Name: content.Name,
				Args: args,
			})
		}
	}
	resp.Text = text.String()
	return resp, nil
}

// Stream performs a streaming messages API call. Input tokens arrive on
// message_start and output tokens on the final message_delta, so usage is
// only attached to the closing chunk.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) iter.Seq2[*provider.RawChunk, error] {
	return func(yield func(*provider.RawChunk, error) bool) {
		params, err := a.buildParams(req)
		if err != nil {
			yield(nil, err)
			return
		}

		stream := a.client.Messages.NewStreaming(ctx, *params)
		defer stream.Close()

		usage := provider.RawUsage{}
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				usage.InputTokens = event.AsMessageStart().Message.Usage.InputTokens
			case "message_delta":
				usage.OutputTokens = event.AsMessageDelta().Usage.OutputTokens
			case "content_block_delta":
				delta := event.AsContentBlockDelta()
				if delta.Delta.Type != "text_delta" || delta.Delta.Text == "" {
					continue
				}
				if !yield(&provider.RawChunk{Text: delta.Delta.Text}, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, mapError(ctx, err))
			return
		}

		final := &provider.RawChunk{Final: true}
		if !usage.Empty() {
			final.Usage = &usage
		}
		yield(final, nil)
	}
}

// buildParams separates system turns from the conversation, as the messages
// API takes system text out of band.
func (a *Adapter) buildParams(req provider.Request) (*anthropic.MessageNewParams, error) {
	var systemPrompts []string
	conversation := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, msg := range req.Messages {
		switch msg.Role {
		case provider.RoleSystem:
			systemPrompts = append(systemPrompts, msg.Text)
		case provider.RoleUser:
			conversation = append(conversation,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
		case provider.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Text))
			}
			for _, tc := range msg.ToolCalls {
				input, err := json.Marshal(tc.Args)
				if err != nil {
					return nil, errors.NewInvalidRequest(Name, "encode tool input: "+err.Error())
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(input), tc.Name))
			}
			conversation = append(conversation, anthropic.NewAssistantMessage(blocks...))
		case provider.RoleTool:
			conversation = append(conversation,
				anthropic.NewUserMessage(anthropic.NewToolResultBlock(msg.ToolID, msg.Text, false)))
		}
	}

	model := req.Model
	if model == "" {
		model = a.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := &anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  conversation,
		MaxTokens: maxTokens,
	}
	if len(systemPrompts) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(systemPrompts, "\n")},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}

	for _, schema := range req.Tools {
		fn, ok := schema["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		parameters, _ := fn["parameters"].(map[string]any)

		toolParam := anthropic.ToolParam{
			Name:        name,
			Description: param.NewOpt(desc),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: parameters["properties"],
				Required:   stringSlice(parameters["required"]),
			},
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return params, nil
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// mapError folds SDK failures into the shared error taxonomy.
func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.NewTimeout(Name, err)
	}
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return errors.NewUpstream(Name, err)
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.NewAuthentication(Name, err)
	case http.StatusTooManyRequests:
		return errors.NewRateLimited(Name, retryAfter(apiErr.Response), err)
	case http.StatusBadRequest, http.StatusNotFound:
		return errors.NewInvalidRequest(Name, err.Error())
	default:
		return errors.NewUpstream(Name, err)
	}
}

func retryAfter(resp *http.Response) *time.Duration {
	if resp == nil {
		return nil
	}
	var n int
	if _, err := fmt.Sscanf(resp.Header.Get("Retry-After"), "%d", &n); err == nil && n > 0 {
		d := time.Duration(n) * time.Second
		return &d
	}
	return nil
}
