// Package llm adapts an OpenAI compatible chat completion API to the
// Generation Service used by the study services.
package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	apperrors "github.com/ana-joker/FULLSTUDY/internal/errors"
	"github.com/ana-joker/FULLSTUDY/internal/models"
	"github.com/ana-joker/FULLSTUDY/internal/services"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"

	structuredSchemaName = "study_payload"
)

// Config holds the provider settings. Zero values fall back to defaults.
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	RequestsPerMinute int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	HTTPClient        *http.Client
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	return c
}

// Provider implements services.GenerationService.
type Provider struct {
	client  *openai.Client
	config  Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ services.GenerationService = (*Provider)(nil)

func NewProvider(cfg Config, logger *slog.Logger) (*Provider, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, errors.New("AI API key is required, set FULLSTUDY_AI_API_KEY")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
		burst = max(1, cfg.RequestsPerMinute/10)
	}

	return &Provider{
		client:  openai.NewClientWithConfig(clientConfig),
		config:  cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

// GenerateStructured asks the model for a JSON document matching schema.
func (p *Provider) GenerateStructured(ctx context.Context, parts []models.Part, schema json.RawMessage) (json.RawMessage, error) {
	req := openai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []openai.ChatCompletionMessage{
			userMessage(parts),
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   structuredSchemaName,
				Schema: schema,
			},
		},
	}

	content, err := p.complete(ctx, "generate_structured", req)
	if err != nil {
		return nil, err
	}

	content = stripCodeFence(content)
	if !json.Valid([]byte(content)) {
		return nil, apperrors.NewMalformedGenerationError(-1, "response is not valid JSON",
			errors.Errorf("received %d bytes", len(content)))
	}
	return json.RawMessage(content), nil
}

func (p *Provider) GenerateText(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	content, err := p.complete(ctx, "generate_text", req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// StartChat opens a streaming completion for one chat turn.
func (p *Provider) StartChat(ctx context.Context, chat services.ChatRequest) (services.ChatStream, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(chat.History)+2)
	if chat.SystemInstruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: chat.SystemInstruction,
		})
	}
	for _, msg := range chat.History {
		messages = append(messages, historyMessage(msg))
	}
	messages = append(messages, userMessage(chat.Message))

	req := openai.ChatCompletionRequest{
		Model:       p.config.Model,
		Messages:    messages,
		Temperature: chat.Params.Temperature,
		TopP:        chat.Params.TopP,
		MaxTokens:   chat.Params.MaxOutputTokens,
		Stream:      true,
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to wait for rate limiter")
	}
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, classify("start_chat", errors.Wrap(err, "failed to open chat stream"))
	}
	p.logger.Debug("Chat stream opened",
		"model", p.config.Model,
		"history_messages", len(chat.History))
	return &chatStream{stream: stream}, nil
}

// complete runs a non streaming request with rate limiting and retries on
// retryable failures.
func (p *Provider) complete(ctx context.Context, operation string, req openai.ChatCompletionRequest) (string, error) {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", errors.Wrap(err, "failed to wait for rate limiter")
		}

		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", apperrors.NewMalformedGenerationError(-1, "empty response from model", nil)
			}
			p.logger.Debug("Completion finished",
				"operation", operation,
				"model", p.config.Model,
				"attempts", attempt+1,
				"tokens", resp.Usage.TotalTokens,
				"latency_ms", time.Since(start).Milliseconds())
			return resp.Choices[0].Message.Content, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !retryable(err) || attempt == p.config.MaxRetries-1 {
			break
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * p.config.RetryBaseDelay
		p.logger.Debug("AI request failed, retrying",
			"operation", operation,
			"attempt", attempt+1,
			"wait_time", wait,
			"error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	p.logger.Warn("AI request failed",
		"operation", operation,
		"model", p.config.Model,
		"error", lastErr)
	return "", classify(operation, errors.Wrapf(lastErr, "failed to %s", strings.ReplaceAll(operation, "_", " ")))
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func retryable(err error) bool {
	code := statusCode(err)
	return code == 0 || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// classify maps transport and API failures to ServiceUnavailableError.
// Context errors pass through so callers can detect cancellation.
func classify(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.NewServiceUnavailableError(operation, statusCode(err), err)
}

func userMessage(parts []models.Part) openai.ChatCompletionMessage {
	return partsMessage(openai.ChatMessageRoleUser, parts)
}

func historyMessage(msg models.ChatMessage) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	if msg.Role == models.RoleModel {
		role = openai.ChatMessageRoleAssistant
	}
	if len(msg.Parts) == 0 {
		return openai.ChatCompletionMessage{Role: role, Content: msg.Text}
	}
	return partsMessage(role, msg.Parts)
}

// partsMessage uses plain content for text only messages and multi part
// content once an image is present. Assistant turns never carry images.
func partsMessage(role string, parts []models.Part) openai.ChatCompletionMessage {
	hasImage := false
	var text strings.Builder
	for _, part := range parts {
		if part.InlineData != nil {
			hasImage = true
			continue
		}
		if text.Len() > 0 && part.Text != "" {
			text.WriteString("\n\n")
		}
		text.WriteString(part.Text)
	}
	if !hasImage || role == openai.ChatMessageRoleAssistant {
		return openai.ChatCompletionMessage{Role: role, Content: text.String()}
	}

	content := make([]openai.ChatMessagePart, 0, len(parts))
	for _, part := range parts {
		switch {
		case part.InlineData != nil:
			content = append(content, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + part.InlineData.MimeType + ";base64," + part.InlineData.Data,
					Detail: openai.ImageURLDetailAuto,
				},
			})
		case part.Text != "":
			content = append(content, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		}
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: content}
}

// stripCodeFence removes a ```json fence some compatible backends add even
// when a response format is requested.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimPrefix(content, "json")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

type chatStream struct {
	stream *openai.ChatCompletionStream
}

func (s *chatStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", classify("chat_stream", errors.Wrap(err, "failed to receive chat chunk"))
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *chatStream) Close() error {
	return s.stream.Close()
}
