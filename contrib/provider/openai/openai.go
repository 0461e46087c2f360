// Package openai adapts the OpenAI chat completions API to the provider
// contract.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/sweetpotato0/omnillm/errors"
	"github.com/sweetpotato0/omnillm/provider"
)

const Name = "openai"

// Config holds OpenAI adapter configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// DefaultConfig returns the default OpenAI configuration.
func DefaultConfig() *Config {
	return &Config{Model: "gpt-4o-mini"}
}

// WithAPIKey sets the api key.
func (cfg *Config) WithAPIKey(apiKey string) *Config {
	cfg.APIKey = apiKey
	return cfg
}

// WithBaseURL sets the base URL.
func (cfg *Config) WithBaseURL(url string) *Config {
	cfg.BaseURL = url
	return cfg
}

// WithModel sets the default model.
func (cfg *Config) WithModel(model string) *Config {
	cfg.Model = model
	return cfg
}

// Adapter translates requests to the official OpenAI SDK. It holds no
// request state and is safe for concurrent use.
type Adapter struct {
	config *Config
	client openai.Client
}

// New creates an OpenAI adapter using the official SDK.
func New(config *Config) *Adapter {
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Adapter{
		config: config,
		client: openai.NewClient(options...),
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
		CostRank:          3,
		LatencyRank:       2,
		QualityRank:       1,
	}
}

// Generate performs one chat completion call.
func (a *Adapter) Generate(ctx context.Context, req provider.Request) (*provider.RawResponse, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	completion, err := a.client.Chat.Completions.New(ctx, *params)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.NewUpstream(Name, fmt.Errorf("no choices returned"))
	}

	choice := completion.Choices[0]
	resp := &provider.RawResponse{
		Text:         choice.Message.Content,
		Model:        completion.Model,
		FinishReason: string(choice.FinishReason),
		Usage: provider.RawUsage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, errors.NewUpstream(Name, fmt.Errorf("parse tool arguments: %w", err))
		}
		resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return resp, nil
}

// Stream performs a streaming chat completion call. Usage arrives only on
// the final chunk, which the SDK sends when stream options request it.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) iter.Seq2[*provider.RawChunk, error] {
	return func(yield func(*provider.RawChunk, error) bool) {
		params, err := a.buildParams(req)
		if err != nil {
			yield(nil, err)
			return
		}
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		}

		stream := a.client.Chat.Completions.NewStreaming(ctx, *params)
		defer stream.Close()

		var usage *provider.RawUsage
		for stream.Next() {
			event := stream.Current()
			if event.Usage.TotalTokens > 0 {
				usage = &provider.RawUsage{
					PromptTokens:     event.Usage.PromptTokens,
					CompletionTokens: event.Usage.CompletionTokens,
					TotalTokens:      event.Usage.TotalTokens,
				}
			}
			if len(event.Choices) == 0 {
				continue
			}
			delta := event.Choices[0].Delta
			if delta.Content == "" {
				continue
			}
			if !yield(&provider.RawChunk{Text: delta.Content}, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, mapError(ctx, err))
			return
		}
		yield(&provider.RawChunk{Final: true, Usage: usage}, nil)
	}
}

func (a *Adapter) buildParams(req provider.Request) (*openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case provider.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Text))
		case provider.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Text))
		case provider.RoleAssistant:
			assistantMsg := openai.AssistantMessage(msg.Text)
			if len(msg.ToolCalls) > 0 && assistantMsg.OfAssistant != nil {
				calls, err := encodeToolCalls(msg.ToolCalls)
				if err != nil {
					return nil, errors.NewInvalidRequest(Name, "encode tool calls: "+err.Error())
				}
				assistantMsg.OfAssistant.ToolCalls = calls
			}
			messages = append(messages, assistantMsg)
		case provider.RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Text, msg.ToolID))
		}
	}

	model := req.Model
	if model == "" {
		model = a.config.Model
	}
	params := &openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(model),
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(req.MaxTokens)
	}

	for _, schema := range req.Tools {
		fn, ok := schema["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		parameters, _ := fn["parameters"].(map[string]any)
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(
			openai.FunctionDefinitionParam{
				Name:        name,
				Description: param.NewOpt(desc),
				Parameters:  openai.FunctionParameters(parameters),
			},
		))
	}
	return params, nil
}

func encodeToolCalls(calls []provider.ToolCall) ([]openai.ChatCompletionMessageToolCallUnionParam, error) {
	encoded := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(calls))
	for _, tc := range calls {
		args := tc.Args
		if args == nil {
			args = make(map[string]any)
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: string(raw),
				},
			},
		})
	}
	return encoded, nil
}

// mapError folds SDK failures into the shared error taxonomy.
func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.NewTimeout(Name, err)
	}
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return errors.NewUpstream(Name, err)
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.NewAuthentication(Name, err)
	case http.StatusTooManyRequests:
		return errors.NewRateLimited(Name, retryAfter(apiErr.Response), err)
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return errors.NewInvalidRequest(Name, err.Error())
	default:
		return errors.NewUpstream(Name, err)
	}
}

func retryAfter(resp *http.Response) *time.Duration {
	if resp == nil {
		return nil
	}
	if secs, err := http.ParseTime(resp.Header.Get("Retry-After")); err == nil {
		d := time.Until(secs)
		if d > 0 {
			return &d
		}
		return nil
	}
	var n int
	if _, err := fmt.Sscanf(resp.Header.Get("Retry-After"), "%d", &n); err == nil && n > 0 {
		d := time.Duration(n) * time.Second
		return &d
	}
	return nil
}
