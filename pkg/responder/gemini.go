package responder

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-1.5-flash"

func init() {
	Register("gemini", func(def Def) (Responder, error) {
		return &GeminiResponder{}, nil
	})
}

// GeminiResponder generates replies through the Google Gen AI SDK using the
// Gemini API backend (API key auth).
type GeminiResponder struct {
	def    Def
	client *genai.Client
	model  string
}

func (g *GeminiResponder) Initialize(ctx context.Context, def Def) error {
	g.def = def
	g.model = def.Model
	if g.model == "" {
		g.model = defaultGeminiModel
	}
	if g.client != nil {
		return nil
	}

	keyEnv := def.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "GEMINI_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return fmt.Errorf("gemini responder %q: %s not set", def.ID, keyEnv)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("create gemini client: %w", err)
	}
	g.client = client
	return nil
}

func (g *GeminiResponder) Generate(ctx context.Context, req Request) (*Reply, error) {
	if g.client == nil {
		return nil, ErrNotInitialized
	}

	config := &genai.GenerateContentConfig{}
	config.Temperature = genai.Ptr(float32(g.def.Temperature))
	if g.def.MaxTokens > 0 && g.def.MaxTokens <= math.MaxInt32 {
		config.MaxOutputTokens = int32(g.def.MaxTokens)
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if config.SystemInstruction == nil {
				config.SystemInstruction = &genai.Content{
					Parts: []*genai.Part{{Text: m.Content}},
				}
			}
			continue
		}
		role := m.Role
		if role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: no candidates in response")
	}

	candidate := resp.Candidates[0]
	var sb strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return nil, ErrEmptyReply
	}

	finishReason := string(candidate.FinishReason)
	if finishReason == "STOP" || finishReason == "" {
		finishReason = "stop"
	}

	reply := &Reply{
		Content:      content,
		Model:        g.model,
		FinishReason: finishReason,
	}
	if resp.UsageMetadata != nil {
		reply.Usage = &Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return reply, nil
}
