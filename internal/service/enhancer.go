package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"github.com/timmy/safetrip/internal/config"
	"github.com/timmy/safetrip/internal/domain"
	"github.com/timmy/safetrip/internal/prompts"
)

// ErrEnhancementTimeout is returned when the summarizer does not answer in time.
var ErrEnhancementTimeout = errors.New("enhancement timed out")

// Enhancement is the structured summary produced for an advisory.
type Enhancement struct {
	Summary               string   `json:"summary"`
	KeyRisks              []string `json:"key_risks"`
	SafetyRecommendations []string `json:"safety_recommendations"`
	SpecificAreas         []string `json:"specific_areas"`
}

// Apply copies the enhancement onto alert and stamps AIEnhancedAt.
func (e *Enhancement) Apply(alert *domain.Alert, at time.Time) {
	if e.Summary != "" {
		alert.Summary = e.Summary
	}
	alert.KeyRisks = domain.StringArray(e.KeyRisks)
	alert.SafetyRecommendations = domain.StringArray(e.SafetyRecommendations)
	alert.SpecificAreas = domain.StringArray(e.SpecificAreas)
	alert.AIEnhancedAt = &at
}

// Enhancer turns a raw advisory into an Enhancement.
type Enhancer interface {
	Enhance(ctx context.Context, country string, alert domain.Alert) (*Enhancement, error)
	Model() string
}

// NewEnhancer builds the configured Enhancer. It returns nil when enhancement is disabled.
// Parameters:
//   - cfg: provider, model and credentials.
// Returns:
//   - Enhancer: openai or anthropic implementation, or nil.
//   - error: non-nil for an unknown provider or a missing key.
func NewEnhancer(cfg *config.EnhancerConfig) (Enhancer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("enhancer %s is enabled but has no api key", cfg.Provider)
	}
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIEnhancer(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case "anthropic":
		return NewAnthropicEnhancer(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	}
	return nil, fmt.Errorf("unknown enhancer provider %q", cfg.Provider)
}

// WithHardTimeout races e against a hard timer. A slow provider yields
// ErrEnhancementTimeout even if it ignores context cancellation.
func WithHardTimeout(ctx context.Context, e Enhancer, timeout time.Duration, country string, alert domain.Alert) (*Enhancement, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		enh *Enhancement
		err error
	}
	done := make(chan result, 1)
	go func() {
		enh, err := e.Enhance(callCtx, country, alert)
		done <- result{enh, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.enh, r.err
	case <-timer.C:
		return nil, ErrEnhancementTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ============================================
// OpenAI
// ============================================

type OpenAIEnhancer struct {
	client *openai.Client
	model  openai.ChatModel
}

// NewOpenAIEnhancer creates an enhancer for OpenAI or any compatible endpoint.
func NewOpenAIEnhancer(apiKey, baseURL, model string) *OpenAIEnhancer {
	opts := []openaioption.RequestOption{openaioption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, openaioption.WithBaseURL(baseURL))
	}
	m := openai.ChatModelGPT4oMini
	if model != "" {
		m = openai.ChatModel(model)
	}
	client := openai.NewClient(opts...)
	return &OpenAIEnhancer{client: &client, model: m}
}

func (e *OpenAIEnhancer) Model() string { return string(e.model) }

func (e *OpenAIEnhancer) Enhance(ctx context.Context, country string, alert domain.Alert) (*Enhancement, error) {
	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: e.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompts.AdvisorySystemPrompt),
			openai.UserMessage(prompts.AdvisoryUserPrompt(country, alert.Title, alert.Level, alert.Summary)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}
	return parseEnhancement(resp.Choices[0].Message.Content)
}

// ============================================
// Anthropic
// ============================================

type AnthropicEnhancer struct {
	client *anthropic.Client
	model  anthropic.Model
}

func NewAnthropicEnhancer(apiKey, baseURL, model string) *AnthropicEnhancer {
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(baseURL))
	}
	m := anthropic.Model("claude-3-5-haiku-latest")
	if model != "" {
		m = anthropic.Model(model)
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicEnhancer{client: &client, model: m}
}

func (e *AnthropicEnhancer) Model() string { return string(e.model) }

func (e *AnthropicEnhancer) Enhance(ctx context.Context, country string, alert domain.Alert) (*Enhancement, error) {
	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: prompts.AdvisorySystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(
				prompts.AdvisoryUserPrompt(country, alert.Title, alert.Level, alert.Summary),
			)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("no response from anthropic")
	}
	return parseEnhancement(resp.Content[0].Text)
}

// ============================================
// Response parsing
// ============================================

func parseEnhancement(content string) (*Enhancement, error) {
	content = cleanJSONResponse(content)
	var enh Enhancement
	if err := json.Unmarshal([]byte(content), &enh); err != nil {
		return nil, fmt.Errorf("failed to parse enhancement: %w", err)
	}
	if enh.Summary == "" && len(enh.KeyRisks) == 0 {
		return nil, fmt.Errorf("enhancement is empty")
	}
	return &enh, nil
}

// cleanJSONResponse strips code fences and any prose around the JSON object.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}
