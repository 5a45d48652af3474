package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/config"
)

// Provider turns a chat request into raw model text.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// OpenAIClient talks to any OpenAI-compatible chat completion API.
// Inline mode folds the system prompt into the first user turn for
// backends without a system role (Sarvam); otherwise a system message is
// sent and JSON output is requested.
type OpenAIClient struct {
	name   string
	client *openai.Client
	cfg    config.ModelConfig
	inline bool
	logger *zap.Logger
}

func NewOpenAIClient(name string, cfg config.ModelConfig, inline bool, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api key is not set", name)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	var transport http.RoundTripper = http.DefaultTransport
	if cfg.AuthHeader != "" && !strings.EqualFold(cfg.AuthHeader, "Authorization") {
		transport = &headerTransport{base: transport, header: cfg.AuthHeader, value: cfg.APIKey}
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.APITimeout, Transport: transport}

	return &OpenAIClient{
		name:   name,
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		inline: inline,
		logger: logger.Named("llm." + name),
	}, nil
}

func (c *OpenAIClient) Name() string { return c.name }

func (c *OpenAIClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	var shaped []Message
	var messages []openai.ChatCompletionMessage

	if c.inline {
		shaped = ShapeInline(req, agentSystemPrompt)
	} else {
		shaped = ShapeWithSystem(req, false)
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: assistantSystemPrompt,
		})
	}
	for _, m := range shaped {
		messages = append(messages, toOpenAIMessage(m))
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if !c.inline {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug("raw model content",
		zap.String("model", c.cfg.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.String("content", content),
	)
	return content, nil
}

func toOpenAIMessage(m Message) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	if m.Role == RoleAssistant {
		role = openai.ChatMessageRoleAssistant
	}
	if m.Image == "" || role != openai.ChatMessageRoleUser {
		return openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return openai.ChatCompletionMessage{
		Role: role,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: m.Content},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: m.Image}},
		},
	}
}

// headerTransport moves the API key from the bearer header to a vendor
// header such as "api-subscription-key".
type headerTransport struct {
	base   http.RoundTripper
	header string
	value  string
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Del("Authorization")
	r.Header.Set(t.header, t.value)
	return t.base.RoundTrip(r)
}
