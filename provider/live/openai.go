package live

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"reelforge.design/reelforge/provider"
)

// OpenAIChat captures the subset of the official OpenAI SDK used by
// OpenAIHandler, mirroring AnthropicMessages' narrow-interface-for-testing
// pattern from features/model/anthropic/client.go.
type OpenAIChat interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// OpenAIHandler invokes a GPT chat model to synthesize one text artifact
// per produced ID.
type OpenAIHandler struct {
	Chat  OpenAIChat
	Model string
}

var _ provider.Handler = (*OpenAIHandler)(nil)

func (h *OpenAIHandler) WarmStart(ctx context.Context, descriptors []provider.Descriptor) error {
	if h.Chat == nil {
		return fmt.Errorf("live: openai handler requires a Chat client")
	}
	return nil
}

func (h *OpenAIHandler) Invoke(ctx context.Context, req provider.Request) (provider.Response, error) {
	prompt := renderPrompt(req)
	resp := provider.Response{JobID: req.JobID, Status: "succeeded"}

	for _, artifactID := range req.Produces {
		completion, err := h.Chat.New(ctx, openai.ChatCompletionNewParams{
			Model: h.Model,
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(fmt.Sprintf("%s\n\nProduce the content for %s.", prompt, artifactID)),
			},
		})
		if err != nil {
			resp.Artefacts = append(resp.Artefacts, failedArtifact(artifactID, err))
			continue
		}
		text := ""
		if len(completion.Choices) > 0 {
			text = completion.Choices[0].Message.Content
		}
		resp.Artefacts = append(resp.Artefacts, textArtifact(artifactID, text))
	}
	return resp, nil
}
