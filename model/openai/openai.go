// Package openai provides an OpenAI-backed implementation of model.Model.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/capiware/capi-orchestrator/log"
	"github.com/capiware/capi-orchestrator/model"
)

const (
	defaultModelName   = "gpt-4o-mini"
	defaultCallTimeout = 15 * time.Second
	// maxRetries bounds transient-failure retries per call.
	maxRetries = 2
)

// Model is an OpenAI chat-completions backed model.
type Model struct {
	name        string
	client      openai.Client
	callTimeout time.Duration
}

// Option configures the Model.
type Option func(*Model)

// WithModelName overrides the model name.
func WithModelName(name string) Option {
	return func(m *Model) {
		if name != "" {
			m.name = name
		}
	}
}

// WithCallTimeout overrides the per-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(m *Model) {
		if d > 0 {
			m.callTimeout = d
		}
	}
}

// New creates a model using the given API key.
func New(apiKey string, opts ...Option) *Model {
	m := &Model{
		name:        defaultModelName,
		client:      openai.NewClient(option.WithAPIKey(apiKey)),
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Info returns the model info.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.name}
}

// GenerateContent calls the chat completions API with bounded retries.
func (m *Model) GenerateContent(ctx context.Context, req *model.Request) (*model.Response, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("request has no messages")
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(m.name),
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
		completion, err := m.client.Chat.Completions.New(callCtx, params)
		cancel()
		if err == nil {
			if len(completion.Choices) == 0 {
				return nil, errors.New("no choices in completion")
			}
			return &model.Response{Content: completion.Choices[0].Message.Content}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		log.Warnf("openai: attempt %d/%d failed: %v", attempt+1, maxRetries+1, err)
	}
	return nil, fmt.Errorf("chat completion failed: %w", lastErr)
}

func toOpenAIMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
