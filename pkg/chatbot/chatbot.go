package chatbot

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/platinummonkey/docmeter/pkg/config"
	"github.com/platinummonkey/docmeter/pkg/observability"
	"github.com/sashabaranov/go-openai"
)

const (
	temperature = 0.8
	maxMessages = 100
)

// Message is one turn of a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var roles = map[string]bool{
	openai.ChatMessageRoleSystem:    true,
	openai.ChatMessageRoleUser:      true,
	openai.ChatMessageRoleAssistant: true,
}

// Validate checks a conversation before it is sent upstream
func Validate(messages []Message) error {
	if len(messages) == 0 {
		return apperr.Validation("Operation arguments validation failed: messages are required")
	}
	if len(messages) > maxMessages {
		return apperr.Validation("Operation arguments validation failed: at most %d messages are allowed", maxMessages)
	}
	for i, m := range messages {
		if !roles[m.Role] {
			return apperr.Validation("Operation arguments validation failed: messages[%d].role must be system, user or assistant", i)
		}
	}
	return nil
}

// Service generates chatbot replies
type Service struct {
	client *openai.Client
	model  string
	logger *observability.Logger
}

// NewService creates a Service for the configured OpenAI account
func NewService(cfg config.ChatbotConfig, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: observability.InstrumentedTransport(http.DefaultTransport),
	}
	return &Service{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger.WithField("component", "chatbot"),
	}
}

// Reply returns the assistant's answer to the conversation. An empty
// completion yields an empty reply.
func (s *Service) Reply(ctx context.Context, messages []Message) (string, error) {
	if err := Validate(messages); err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		entry := s.logger.WithError(err)
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			entry = entry.WithField("status", apiErr.HTTPStatusCode)
		}
		entry.Error("Chat completion failed")
		return "", apperr.Upstream("Chatbot is unavailable", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
