package responder

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4"

func init() {
	Register("openai", func(def Def) (Responder, error) {
		return &OpenAIResponder{}, nil
	})
}

// OpenAIClient is the subset of the go-openai client used here, extracted
// for testability.
type OpenAIClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIResponder generates replies through the OpenAI chat completion API.
type OpenAIResponder struct {
	def    Def
	client OpenAIClient
	model  string
}

// NewOpenAIWithClient creates an OpenAI responder around a custom client
// (useful for testing). Initialize keeps the injected client.
func NewOpenAIWithClient(client OpenAIClient) *OpenAIResponder {
	return &OpenAIResponder{client: client}
}

func (o *OpenAIResponder) Initialize(ctx context.Context, def Def) error {
	o.def = def
	o.model = def.Model
	if o.model == "" {
		o.model = defaultOpenAIModel
	}
	if o.client != nil {
		return nil
	}

	keyEnv := def.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return fmt.Errorf("openai responder %q: %s not set", def.ID, keyEnv)
	}

	cfg := openai.DefaultConfig(apiKey)
	if def.BaseURL != "" {
		cfg.BaseURL = def.BaseURL
	}
	o.client = openai.NewClientWithConfig(cfg)
	return nil
}

func (o *OpenAIResponder) Generate(ctx context.Context, req Request) (*Reply, error) {
	if o.client == nil {
		return nil, ErrNotInitialized
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: float32(o.def.Temperature),
		MaxTokens:   o.def.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices in response")
	}

	choice := resp.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return nil, ErrEmptyReply
	}

	return &Reply{
		Content:      content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
