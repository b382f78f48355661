package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ppiankov/beplan/internal/model"
)

// OpenAIProvider talks to OpenAI or any OpenAI-compatible endpoint.
type OpenAIProvider struct {
	client *openai.Client
	cfg    model.LLMConfig
	log    *zap.Logger
}

func NewOpenAIProvider(cfg model.LLMConfig, log *zap.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		log:    log,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.client.ListModels(ctx)
	if err != nil {
		p.log.Warn("OpenAI availability check failed", zap.Error(err))
		return false
	}
	return true
}

func (p *OpenAIProvider) ExtractPK(ctx context.Context, req ExtractRequest) (*ExtractResponse, error) {
	chatModel := req.Model
	if chatModel == "" {
		chatModel = p.cfg.Model
	}
	if chatModel == "" {
		chatModel = openai.GPT4oMini
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1500
	}
	timeout := time.Duration(p.cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model: chatModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You extract pharmacokinetic values from clinical literature as strict JSON. You never guess values that are not quoted in the text.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: BuildPrompt(req.INN, req.RefID, req.Text),
			},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.0, // Extraction, not generation
	}

	resp, err := p.client.CreateChatCompletion(ctxWithTimeout, chatReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	payload := ExtractJSONBlock(raw)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in model response")
	}
	return &ExtractResponse{
		JSON:       payload,
		Model:      chatModel,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
