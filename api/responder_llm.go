package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/insurge/chatd/internal/slogging"
)

const defaultSystemPrompt = "You are a helpful AI assistant. Provide clear, accurate, and helpful responses."

// historyWindowForPrompt caps how much transcript is replayed to the model
const historyWindowForPrompt = 10

// LLMResponder generates replies through a langchaingo model. Construct it
// with NewLLMResponder; the zero value is not usable.
type LLMResponder struct {
	model        llms.Model
	systemPrompt string
	maxTokens    int
	temperature  float64
}

// NewLLMResponder builds an OpenAI-backed responder. systemPrompt may be
// empty, in which case a generic assistant prompt is used.
func NewLLMResponder(apiKey, modelName, systemPrompt string) (*LLMResponder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai responder requires an API key")
	}
	opts := []openai.Option{openai.WithToken(apiKey)}
	if modelName != "" {
		opts = append(opts, openai.WithModel(modelName))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai client: %w", err)
	}
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &LLMResponder{
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    500,
		temperature:  0.7,
	}, nil
}

// GenerateResponse replays the recent transcript to the model and returns
// its reply.
func (r *LLMResponder) GenerateResponse(ctx context.Context, history []ChatTurn, userMessage string) (string, error) {
	content := make([]llms.MessageContent, 0, len(history)+2)
	content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, r.systemPrompt))

	if len(history) > historyWindowForPrompt {
		history = history[len(history)-historyWindowForPrompt:]
	}
	for _, turn := range history {
		msgType := llms.ChatMessageTypeHuman
		if turn.Role == "assistant" {
			msgType = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(msgType, turn.Content))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, userMessage))

	resp, err := r.model.GenerateContent(ctx, content,
		llms.WithMaxTokens(r.maxTokens),
		llms.WithTemperature(r.temperature),
	)
	if err != nil {
		return "", fmt.Errorf("llm generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// SafeResponder wraps any Responder with a timeout and an apology
// fallback, so callers always get a reply string.
type SafeResponder struct {
	inner   Responder
	timeout time.Duration
}

// NewSafeResponder wraps inner with the given per-request timeout
func NewSafeResponder(inner Responder, timeout time.Duration) *SafeResponder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SafeResponder{inner: inner, timeout: timeout}
}

// GenerateResponse delegates to the wrapped responder. Failures and
// timeouts are logged, counted, and converted into the apology reply.
func (s *SafeResponder) GenerateResponse(ctx context.Context, history []ChatTurn, userMessage string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.inner.GenerateResponse(ctx, history, userMessage)
	if err != nil {
		slogging.Get().Warn("Responder failed, sending fallback: %v", err)
		metricResponderFailures.Inc()
		return ApologyResponse, nil
	}
	if reply == "" {
		return ApologyResponse, nil
	}
	return reply, nil
}
