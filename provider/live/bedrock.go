package live

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"reelforge.design/reelforge/provider"
)

// BedrockRuntime captures the subset of the AWS Bedrock runtime client used
// by BedrockHandler, mirroring features/model/bedrock/client.go's
// RuntimeClient interface.
type BedrockRuntime interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockHandler invokes a Bedrock Converse model to synthesize one text
// artifact per produced ID.
type BedrockHandler struct {
	Runtime BedrockRuntime
	ModelID string
}

var _ provider.Handler = (*BedrockHandler)(nil)

func (h *BedrockHandler) WarmStart(ctx context.Context, descriptors []provider.Descriptor) error {
	if h.Runtime == nil {
		return fmt.Errorf("live: bedrock handler requires a Runtime client")
	}
	return nil
}

func (h *BedrockHandler) Invoke(ctx context.Context, req provider.Request) (provider.Response, error) {
	prompt := renderPrompt(req)
	resp := provider.Response{JobID: req.JobID, Status: "succeeded"}

	for _, artifactID := range req.Produces {
		input := &bedrockruntime.ConverseInput{
			ModelId: aws.String(h.ModelID),
			Messages: []brtypes.Message{
				{
					Role: brtypes.ConversationRoleUser,
					Content: []brtypes.ContentBlock{
						&brtypes.ContentBlockMemberText{Value: fmt.Sprintf("%s\n\nProduce the content for %s.", prompt, artifactID)},
					},
				},
			},
		}
		out, err := h.Runtime.Converse(ctx, input)
		if err != nil {
			resp.Artefacts = append(resp.Artefacts, failedArtifact(artifactID, err))
			continue
		}
		resp.Artefacts = append(resp.Artefacts, textArtifact(artifactID, extractBedrockText(out)))
	}
	return resp, nil
}

func extractBedrockText(out *bedrockruntime.ConverseOutput) string {
	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var text string
	for _, block := range msgOutput.Value.Content {
		if t, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += t.Value
		}
	}
	return text
}
