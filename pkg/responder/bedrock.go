package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const defaultBedrockModel = "anthropic.claude-3-haiku-20240307-v1:0"

func init() {
	Register("bedrock", func(def Def) (Responder, error) {
		return &BedrockResponder{}, nil
	})
}

// BedrockClient is the subset of the Bedrock runtime client used here,
// extracted for testability.
type BedrockClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockResponder generates replies through the AWS Bedrock Converse API.
type BedrockResponder struct {
	def    Def
	client BedrockClient
	model  string
}

// NewBedrockWithClient creates a Bedrock responder around a custom client
// (useful for testing). Initialize keeps the injected client.
func NewBedrockWithClient(client BedrockClient) *BedrockResponder {
	return &BedrockResponder{client: client}
}

func (b *BedrockResponder) Initialize(ctx context.Context, def Def) error {
	b.def = def
	b.model = def.Model
	if b.model == "" {
		b.model = defaultBedrockModel
	}
	if b.client != nil {
		return nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if def.Region != "" {
		opts = append(opts, awsconfig.WithRegion(def.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	b.client = bedrockruntime.NewFromConfig(cfg)
	return nil
}

func (b *BedrockResponder) Generate(ctx context.Context, req Request) (*Reply, error) {
	if b.client == nil {
		return nil, ErrNotInitialized
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(b.model),
		Messages: buildConverseMessages(req.Messages),
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(float32(b.def.Temperature)),
		},
	}
	if b.def.MaxTokens > 0 {
		input.InferenceConfig.MaxTokens = aws.Int32(int32(b.def.MaxTokens))
	}
	if req.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.SystemPrompt},
		}
	}

	out, err := b.client.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock converse: %w", err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("bedrock: unexpected output type %T", out.Output)
	}

	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return nil, ErrEmptyReply
	}

	finishReason := string(out.StopReason)
	if finishReason == string(types.StopReasonEndTurn) || finishReason == "" {
		finishReason = "stop"
	}

	reply := &Reply{
		Content:      content,
		Model:        b.model,
		FinishReason: finishReason,
	}
	if out.Usage != nil {
		reply.Usage = &Usage{
			PromptTokens:     int(aws.ToInt32(out.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return reply, nil
}

// buildConverseMessages maps conversation turns to Converse messages.
// The Converse API rejects non-alternating roles, so consecutive turns with
// the same role are merged into one message with multiple content blocks.
func buildConverseMessages(messages []Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		role := types.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		block := &types.ContentBlockMemberText{Value: m.Content}

		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, block)
			continue
		}
		out = append(out, types.Message{
			Role:    role,
			Content: []types.ContentBlock{block},
		})
	}
	return out
}
