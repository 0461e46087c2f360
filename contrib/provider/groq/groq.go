// Package groq adapts the Groq OpenAI-compatible chat API to the provider
// contract over plain HTTP.
package groq

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sweetpotato0/omnillm/errors"
	"github.com/sweetpotato0/omnillm/provider"
)

const (
	Name       = "groq"
	groqAPIURL = "https://api.groq.com/openai/v1/chat/completions"
)

// Config holds Groq adapter configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

// DefaultConfig returns the default Groq configuration.
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey: apiKey,
		Model:  "llama-3.3-70b-versatile",
	}
}

// Adapter translates requests into Groq's OpenAI-compatible wire format.
type Adapter struct {
	config *Config
	client *http.Client
	url    string
}

// New creates a Groq adapter.
func New(config *Config) *Adapter {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Model == "" {
		config.Model = "llama-3.3-70b-versatile"
	}
	client := config.Client
	if client == nil {
		client = &http.Client{}
	}
	url := groqAPIURL
	if config.BaseURL != "" {
		url = strings.TrimSuffix(config.BaseURL, "/") + "/chat/completions"
	}
	return &Adapter{config: config, client: client, url: url}
}

// Identify reports the adapter's static capabilities and rankings.
func (a *Adapter) Identify() provider.Descriptor {
	return provider.Descriptor{
		Name:              Name,
		DefaultModel:      a.config.Model,
		SupportsTools:     true,
		SupportsStreaming: true,
		CostRank:          1,
		LatencyRank:       1,
		QualityRank:       3,
	}
}

// wireMessage is a message in the OpenAI-compatible chat format.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireRequest struct {
	Model       string           `json:"model"`
	Messages    []wireMessage    `json:"messages"`
	MaxTokens   int64            `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	Tools       []map[string]any `json:"tools,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

type wireUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage wireUsage  `json:"usage"`
	Error *wireError `json:"error,omitempty"`
}

type wireChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	XGroq *struct {
		Usage *wireUsage `json:"usage"`
	} `json:"x_groq,omitempty"`
}

type wireError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Generate performs one chat completion call.
func (a *Adapter) Generate(ctx context.Context, req provider.Request) (*provider.RawResponse, error) {
	if a.config.APIKey == "" {
		return nil, errors.NewAuthentication(Name, fmt.Errorf("api key not configured"))
	}

	respBody, _, err := a.roundTrip(ctx, a.encode(req, false))
	if err != nil {
		return nil, err
	}

	var resp wireResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, errors.NewUpstream(Name, fmt.Errorf("decode response: %w", err))
	}
	if resp.Error != nil {
		return nil, errors.NewUpstream(Name, fmt.Errorf("%s", resp.Error.Message))
	}
	if len(resp.Choices) == 0 {
		return nil, errors.NewUpstream(Name, fmt.Errorf("no choices returned"))
	}

	choice := resp.Choices[0]
	out := &provider.RawResponse{
		Text:         choice.Message.Content,
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
		Usage: provider.RawUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, errors.NewUpstream(Name, fmt.Errorf("parse tool arguments: %w", err))
		}
		out.ToolCalls = append(out.ToolCalls, provider.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out, nil
}

// Stream performs a streaming chat completion call using server-sent
// events. Groq reports usage under the x_groq envelope of the last SSE
// event; the closing chunk surfaces it when present.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) iter.Seq2[*provider.RawChunk, error] {
	return func(yield func(*provider.RawChunk, error) bool) {
		if a.config.APIKey == "" {
			yield(nil, errors.NewAuthentication(Name, fmt.Errorf("api key not configured")))
			return
		}

		body, err := json.Marshal(a.encode(req, true))
		if err != nil {
			yield(nil, errors.NewInvalidRequest(Name, "encode request: "+err.Error()))
			return
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
		if err != nil {
			yield(nil, errors.NewInvalidRequest(Name, err.Error()))
			return
		}
		a.setHeaders(httpReq)

		httpResp, err := a.client.Do(httpReq)
		if err != nil {
			yield(nil, transportError(ctx, err))
			return
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(httpResp.Body)
			yield(nil, statusError(httpResp, respBody))
			return
		}

		var usage *provider.RawUsage
		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				break
			}
			var chunk wireChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if chunk.XGroq != nil && chunk.XGroq.Usage != nil {
				usage = &provider.RawUsage{
					PromptTokens:     chunk.XGroq.Usage.PromptTokens,
					CompletionTokens: chunk.XGroq.Usage.CompletionTokens,
					TotalTokens:      chunk.XGroq.Usage.TotalTokens,
				}
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(&provider.RawChunk{Text: chunk.Choices[0].Delta.Content}, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, transportError(ctx, err))
			return
		}
		yield(&provider.RawChunk{Final: true, Usage: usage}, nil)
	}
}

func (a *Adapter) encode(req provider.Request, stream bool) wireRequest {
	messages := make([]wireMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		wm := wireMessage{
			Role:       string(msg.Role),
			Content:    msg.Text,
			ToolCallID: msg.ToolID,
		}
		for _, tc := range msg.ToolCalls {
			args, _ := json.Marshal(tc.Args)
			call := wireToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = string(args)
			wm.ToolCalls = append(wm.ToolCalls, call)
		}
		messages = append(messages, wm)
	}

	model := req.Model
	if model == "" {
		model = a.config.Model
	}
	return wireRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Tools:       req.Tools,
		Stream:      stream,
	}
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

func (a *Adapter) roundTrip(ctx context.Context, payload wireRequest) ([]byte, *http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, errors.NewInvalidRequest(Name, "encode request: "+err.Error())
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, errors.NewInvalidRequest(Name, err.Error())
	}
	a.setHeaders(httpReq)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, nil, transportError(ctx, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, nil, errors.NewUpstream(Name, fmt.Errorf("read response: %w", err))
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, nil, statusError(httpResp, respBody)
	}
	return respBody, httpResp, nil
}

func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.NewTimeout(Name, err)
	}
	return errors.NewUpstream(Name, err)
}

// statusError maps HTTP status codes onto the shared error taxonomy.
func statusError(resp *http.Response, body []byte) error {
	detail := fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.NewAuthentication(Name, detail)
	case http.StatusTooManyRequests:
		return errors.NewRateLimited(Name, retryAfter(resp), detail)
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return errors.NewInvalidRequest(Name, detail.Error())
	default:
		return errors.NewUpstream(Name, detail)
	}
}

func retryAfter(resp *http.Response) *time.Duration {
	if n, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && n > 0 {
		d := time.Duration(n) * time.Second
		return &d
	}
	return nil
}
