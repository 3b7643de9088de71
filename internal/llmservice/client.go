package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"augustine-rag/internal/config"
	"augustine-rag/internal/models"
)

var ErrNoChoices = errors.New("completion returned no choices")

var thinkRe = regexp.MustCompile(models.ThinkTag)

// ChatRequest is one chat-completion call.
type ChatRequest struct {
	Model       string
	Messages    []models.ConversationTurn
	Temperature float64
	MaxTokens   int
}

// Client talks to an OpenAI-compatible chat completion endpoint.
type Client struct {
	llm   *openai.LLM
	model string
}

func NewClient(cfg *config.LLMConfig) (*Client, error) {
	log.Debug().Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Creating chat client")
	key := strings.TrimPrefix(cfg.Key, "Bearer ")
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(key),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("init chat client: %w", err)
	}
	return &Client{llm: llm, model: cfg.Model}, nil
}

// Complete performs one blocking completion and returns the answer text.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	res, err := c.llm.GenerateContent(ctx, toMessageContent(req.Messages), c.callOptions(req)...)
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", ErrNoChoices
	}
	return res.Choices[0].Content, nil
}

func (c *Client) callOptions(req ChatRequest) []llms.CallOption {
	model := req.Model
	if model == "" {
		model = c.model
	}

	opts := []llms.CallOption{llms.WithModel(model)}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	return opts
}

// GenerateContext asks the model for a short line situating chunk within
// document, used to enrich chunks before embedding.
func (c *Client) GenerateContext(ctx context.Context, document, chunk string) (string, error) {
	log.Debug().Int("chunk_len", len(chunk)).Msg("Generating context for chunk")
	prompt := fmt.Sprintf(models.ContextPromptTemplate, document, chunk)
	res, err := c.Complete(ctx, ChatRequest{
		Messages: []models.ConversationTurn{{Role: models.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return StripThinking(res), nil
}

// StripThinking removes <think>...</think> blocks some reasoning models emit.
func StripThinking(s string) string {
	return strings.TrimSpace(thinkRe.ReplaceAllString(s, ""))
}

func toMessageContent(turns []models.ConversationTurn) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, llms.TextParts(messageType(t.Role), t.Content))
	}
	return msgs
}

func messageType(r models.Role) schema.ChatMessageType {
	switch r {
	case models.RoleSystem:
		return schema.ChatMessageTypeSystem
	case models.RoleAssistant:
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}
