// Package ollama adapts a local Ollama server to the provider contract.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/sweetpotato0/omnillm/errors"
	"github.com/sweetpotato0/omnillm/provider"
)

const Name = "ollama"

// Config holds Ollama adapter configuration. An empty Host falls back to
// OLLAMA_HOST or the default local address.
type Config struct {
	Host  string
	Model string
}

// DefaultConfig returns the default Ollama configuration.
func DefaultConfig() *Config {
	return &Config{Model: "llama3.2"}
}

// Adapter translates requests to the Ollama chat API.
type Adapter struct {
	config *Config
	client *api.Client
}

// New creates an Ollama adapter.
func New(config *Config) (*Adapter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Model == "" {
		config.Model = "llama3.2"
	}

	var client *api.Client
	if config.Host != "" {
		baseURL, err := parseHost(config.Host)
		if err != nil {
			return nil, errors.NewInvalidRequest(Name, "invalid host: "+err.Error())
		}
		client = api.NewClient(baseURL, &http.Client{})
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, errors.NewUpstream(Name, fmt.Errorf("create client: %w", err))
		}
	}
	return &Adapter{config: config, client: client}, nil
}

func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// Identify reports the adapter's static capabilities and rankings. Local
// inference is free and private but slower than hosted providers.
func (a *Adapter) Identify() provider.Descriptor {
	return provider.Descriptor{
		Name:              Name,
		DefaultModel:      a.config.Model,
		SupportsTools:     true,
		SupportsStreaming: true,
		CostRank:          1,
		LatencyRank:       4,
		QualityRank:       4,
	}
}

// Generate performs one non-streaming chat call.
func (a *Adapter) Generate(ctx context.Context, req provider.Request) (*provider.RawResponse, error) {
	chatReq, err := a.encode(req, false)
	if err != nil {
		return nil, err
	}

	var final api.ChatResponse
	err = a.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		final = resp
		return nil
	})
	if err != nil {
		return nil, mapError(ctx, err)
	}

	out := &provider.RawResponse{
		Text:         final.Message.Content,
		Model:        final.Model,
		FinishReason: final.DoneReason,
		Usage: provider.RawUsage{
			PromptTokens:     int64(final.PromptEvalCount),
			CompletionTokens: int64(final.EvalCount),
		},
	}
	for _, tc := range final.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, provider.ToolCall{
			ID:   tc.Function.Name,
			Name: tc.Function.Name,
			Args: map[string]any(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Stream performs a streaming chat call. Eval counts arrive on the final
// done response only.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) iter.Seq2[*provider.RawChunk, error] {
	return func(yield func(*provider.RawChunk, error) bool) {
		chatReq, err := a.encode(req, true)
		if err != nil {
			yield(nil, err)
			return
		}

		var usage *provider.RawUsage
		stopped := false
		err = a.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Done {
				usage = &provider.RawUsage{
					PromptTokens:     int64(resp.PromptEvalCount),
					CompletionTokens: int64(resp.EvalCount),
				}
			}
			if resp.Message.Content == "" {
				return nil
			}
			if !yield(&provider.RawChunk{Text: resp.Message.Content}, nil) {
				stopped = true
				return context.Canceled
			}
			return nil
		})
		if stopped {
			return
		}
		if err != nil {
			yield(nil, mapError(ctx, err))
			return
		}
		yield(&provider.RawChunk{Final: true, Usage: usage}, nil)
	}
}

func (a *Adapter) encode(req provider.Request, stream bool) (*api.ChatRequest, error) {
	messages := make([]api.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		m := api.Message{Role: string(msg.Role), Content: msg.Text}
		for _, tc := range msg.ToolCalls {
			call := api.ToolCall{}
			call.Function.Name = tc.Name
			call.Function.Arguments = api.ToolCallFunctionArguments(tc.Args)
			m.ToolCalls = append(m.ToolCalls, call)
		}
		messages = append(messages, m)
	}

	model := req.Model
	if model == "" {
		model = a.config.Model
	}
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options:  make(map[string]any),
	}
	if req.Temperature > 0 {
		chatReq.Options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = int(req.MaxTokens)
	}

	for _, schema := range req.Tools {
		fn, ok := schema["function"].(map[string]any)
		if !ok {
			continue
		}
		// Round-trip through JSON; the api types share the wire shape.
		raw, err := json.Marshal(fn)
		if err != nil {
			return nil, errors.NewInvalidRequest(Name, "encode tool: "+err.Error())
		}
		var toolFn api.ToolFunction
		if err := json.Unmarshal(raw, &toolFn); err != nil {
			return nil, errors.NewInvalidRequest(Name, "encode tool: "+err.Error())
		}
		chatReq.Tools = append(chatReq.Tools, api.Tool{Type: "function", Function: toolFn})
	}
	return chatReq, nil
}

// mapError folds client failures into the shared error taxonomy.
func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.NewTimeout(Name, err)
	}
	var statusErr api.StatusError
	if !errors.As(err, &statusErr) {
		return errors.NewUpstream(Name, err)
	}
	switch statusErr.StatusCode {
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
