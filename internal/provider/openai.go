package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig OpenAI 兼容后端配置
// OpenAIConfig configures any OpenAI-compatible backend.
type OpenAIConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	TimeoutMS int
}

// OpenAIGenerator 使用 go-openai SDK 的 Generator 实现
// OpenAIGenerator implements Generator using the go-openai SDK.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator 创建基于 SDK 的 generator
// NewOpenAIGenerator creates an SDK-based generator.
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	config := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	httpClient := &http.Client{}
	if cfg.TimeoutMS > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	config.HTTPClient = httpClient

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, systemPrompt string, entries []ContextEntry) (*AgentResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(entries)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, e := range entries {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(e.Role),
			Content: e.Content,
		})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", ErrSchemaViolation)
	}

	return ParseAgentResponse(resp.Choices[0].Message.Content)
}

func (g *OpenAIGenerator) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ParseAgentResponse 解析模型输出为 AgentResponse，容忍 markdown 围栏
// ParseAgentResponse parses model output into an AgentResponse,
// tolerating markdown code fences around the JSON body.
func ParseAgentResponse(raw string) (*AgentResponse, error) {
	body := stripCodeFence(raw)
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: empty response body", ErrSchemaViolation)
	}
	var out AgentResponse
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
