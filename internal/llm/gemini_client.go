package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/nbenliogludev/go-page-pilot/internal/config"
)

// GeminiClient talks to the Gemini API through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	cfg    config.ModelConfig
	logger *zap.Logger
}

func NewGeminiClient(ctx context.Context, cfg config.ModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is not set")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.APITimeout},
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{client: client, cfg: cfg, logger: logger.Named("llm.gemini")}, nil
}

func (c *GeminiClient) Name() string { return config.ProviderGemini }

func (c *GeminiClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	shaped := ShapeWithSystem(req, true)

	contents := make([]*genai.Content, 0, len(shaped))
	for _, m := range shaped {
		contents = append(contents, toGeminiContent(m))
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, contents, c.generationConfig())
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	content := resp.Text()
	c.logger.Debug("raw model content", zap.String("model", c.cfg.Model), zap.String("content", content))
	return content, nil
}

func (c *GeminiClient) generationConfig() *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: assistantSystemPrompt}}},
		Temperature:       genai.Ptr(c.cfg.Temperature),
		TopP:              genai.Ptr(c.cfg.TopP),
	}
	if c.cfg.TopK > 0 {
		gc.TopK = genai.Ptr(c.cfg.TopK)
	}
	if c.cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(c.cfg.MaxTokens)
	}
	// Search grounding and a forced JSON mime type are mutually exclusive
	// on the Gemini API.
	if c.cfg.GoogleSearch {
		gc.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	} else {
		gc.ResponseMIMEType = "application/json"
	}
	return gc
}

func toGeminiContent(m Message) *genai.Content {
	role := "user"
	if m.Role == RoleAssistant {
		role = "model"
	}
	parts := []*genai.Part{{Text: m.Content}}
	if mime, data, ok := decodeDataURL(m.Image); ok {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: data}})
	}
	return &genai.Content{Role: role, Parts: parts}
}

// decodeDataURL splits "data:<mime>;base64,<payload>".
func decodeDataURL(u string) (string, []byte, bool) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return "", nil, false
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, false
	}
	mime, isB64 := strings.CutSuffix(meta, ";base64")
	if !isB64 {
		return "", nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, false
	}
	return mime, data, true
}
