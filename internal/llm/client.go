// Package llm wraps the chat-completion backend. One non-streaming call path
// for analysis and summaries, one streaming path for answers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mnemolab/mnemo/internal/metrics"
)

var ErrEmptyMessages = errors.New("llm: no messages")

// Roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prompt turn.
type Message struct {
	Role    string
	Content string
}

// Chunk is one streamed answer fragment. The terminal chunk has Done set;
// a failed stream surfaces Err on its final chunk.
type Chunk struct {
	Content string
	Done    bool
	Err     error
}

// Config controls the client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	// Timeout bounds one non-streaming completion.
	Timeout time.Duration
	// StreamIdle bounds the gap between consecutive streamed chunks.
	StreamIdle time.Duration
}

type Client struct {
	cfg    Config
	api    *openai.Client
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.StreamIdle == 0 {
		cfg.StreamIdle = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	return &Client{cfg: cfg, api: openai.NewClientWithConfig(cc), logger: logger}
}

// Option overrides per-call sampling settings.
type Option func(*openai.ChatCompletionRequest)

func WithTemperature(t float32) Option {
	return func(r *openai.ChatCompletionRequest) { r.Temperature = t }
}

func WithMaxTokens(n int) Option {
	return func(r *openai.ChatCompletionRequest) { r.MaxTokens = n }
}

// Complete runs one blocking chat completion.
func (c *Client) Complete(ctx context.Context, purpose string, messages []Message, opts ...Option) (string, error) {
	if len(messages) == 0 {
		return "", ErrEmptyMessages
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := c.buildRequest(messages, false)
	for _, opt := range opts {
		opt(&req)
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		metrics.LLMRequests.WithLabelValues(purpose, "error").Inc()
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		metrics.LLMRequests.WithLabelValues(purpose, "empty").Inc()
		return "", errors.New("chat completion returned no choices")
	}
	metrics.LLMRequests.WithLabelValues(purpose, "ok").Inc()
	return resp.Choices[0].Message.Content, nil
}

// Stream starts a streaming completion and returns a channel of chunks. The
// channel always closes after a Done or Err chunk. Cancelling ctx stops the
// stream; a stall longer than StreamIdle aborts it.
func (c *Client) Stream(ctx context.Context, purpose string, messages []Message, opts ...Option) (<-chan Chunk, error) {
	if len(messages) == 0 {
		return nil, ErrEmptyMessages
	}
	req := c.buildRequest(messages, true)
	for _, opt := range opts {
		opt(&req)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := c.api.CreateChatCompletionStream(streamCtx, req)
	if err != nil {
		cancel()
		metrics.LLMRequests.WithLabelValues(purpose, "error").Inc()
		return nil, fmt.Errorf("chat stream: %w", err)
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer cancel()
		defer stream.Close()

		idle := time.NewTimer(c.cfg.StreamIdle)
		defer idle.Stop()

		type recvResult struct {
			resp openai.ChatCompletionStreamResponse
			err  error
		}
		recvCh := make(chan recvResult, 1)
		go func() {
			for {
				resp, err := stream.Recv()
				select {
				case recvCh <- recvResult{resp, err}:
				case <-streamCtx.Done():
					return
				}
				if err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				out <- Chunk{Err: ctx.Err(), Done: true}
				metrics.LLMRequests.WithLabelValues(purpose, "cancelled").Inc()
				return
			case <-idle.C:
				out <- Chunk{Err: fmt.Errorf("stream idle for %s", c.cfg.StreamIdle), Done: true}
				metrics.LLMRequests.WithLabelValues(purpose, "timeout").Inc()
				return
			case r := <-recvCh:
				if r.err != nil {
					if errors.Is(r.err, io.EOF) {
						out <- Chunk{Done: true}
						metrics.LLMRequests.WithLabelValues(purpose, "ok").Inc()
					} else {
						out <- Chunk{Err: r.err, Done: true}
						metrics.LLMRequests.WithLabelValues(purpose, "error").Inc()
					}
					return
				}
				if len(r.resp.Choices) > 0 && r.resp.Choices[0].Delta.Content != "" {
					metrics.LLMStreamChunks.Inc()
					select {
					case out <- Chunk{Content: r.resp.Choices[0].Delta.Content}:
					case <-ctx.Done():
						out <- Chunk{Err: ctx.Err(), Done: true}
						return
					}
				}
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(c.cfg.StreamIdle)
			}
		}
	}()
	return out, nil
}

func (c *Client) buildRequest(messages []Message, stream bool) openai.ChatCompletionRequest {
	oms := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		oms[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    oms,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      stream,
	}
}

// FallbackMessage is returned when the backend is unreachable. It repeats the
// question so the user can retry verbatim, and is never persisted.
func FallbackMessage(question string) string {
	q := strings.TrimSpace(question)
	return fmt.Sprintf(
		"I could not reach the language model to answer %q. Your memories are intact; please try again in a moment.", q)
}
