package live

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/openai/openai-go"
	"github.com/stretchr/testify/require"

	"reelforge.design/reelforge/provider"
)

type fakeAnthropic struct{ text string }

func (f fakeAnthropic) New(ctx context.Context, body sdk.MessageNewParams) (*sdk.Message, error) {
	return &sdk.Message{Content: []sdk.ContentBlockUnion{{Type: "text", Text: f.text}}}, nil
}

func TestAnthropicHandlerInvoke(t *testing.T) {
	h := &AnthropicHandler{Messages: fakeAnthropic{text: "a sweeping aerial shot of the coastline"}, Model: "claude-sonnet"}
	require.NoError(t, h.WarmStart(context.Background(), nil))

	resp, err := h.Invoke(context.Background(), provider.Request{
		JobID: "job-1", Produces: []string{"Artifact:Script.Shot"},
		Context: provider.RequestExtras{ResolvedInputs: map[string]any{"Input:Theme": "coastline"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Artefacts, 1)
	require.Equal(t, "succeeded", resp.Artefacts[0].Status)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(resp.Artefacts[0].Blob.Data, &payload))
	require.Contains(t, payload["text"], "coastline")
}

type fakeOpenAI struct{ text string }

func (f fakeOpenAI) New(ctx context.Context, body openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.text}}},
	}, nil
}

func TestOpenAIHandlerInvoke(t *testing.T) {
	h := &OpenAIHandler{Chat: fakeOpenAI{text: "voiceover script"}, Model: "gpt-4o"}
	require.NoError(t, h.WarmStart(context.Background(), nil))

	resp, err := h.Invoke(context.Background(), provider.Request{
		JobID: "job-2", Produces: []string{"Artifact:Script.Voiceover"},
		Context: provider.RequestExtras{ResolvedInputs: map[string]any{}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Artefacts, 1)
	require.Equal(t, "succeeded", resp.Artefacts[0].Status)
}

type fakeBedrock struct{}

func (fakeBedrock) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "shot list"}}},
		},
	}, nil
}

func TestBedrockHandlerInvoke(t *testing.T) {
	h := &BedrockHandler{Runtime: fakeBedrock{}, ModelID: aws.ToString(aws.String("anthropic.claude-3"))}
	require.NoError(t, h.WarmStart(context.Background(), nil))

	resp, err := h.Invoke(context.Background(), provider.Request{
		JobID: "job-3", Produces: []string{"Artifact:Script.ShotList"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Artefacts, 1)
	require.Equal(t, "succeeded", resp.Artefacts[0].Status)
}

func TestHandlerFailsArtifactOnError(t *testing.T) {
	h := &AnthropicHandler{Messages: erroringAnthropic{}, Model: "claude"}
	resp, err := h.Invoke(context.Background(), provider.Request{JobID: "job-4", Produces: []string{"Artifact:X.Y"}})
	require.NoError(t, err)
	require.Equal(t, "failed", resp.Artefacts[0].Status)
}

type erroringAnthropic struct{}

func (erroringAnthropic) New(ctx context.Context, body sdk.MessageNewParams) (*sdk.Message, error) {
	return nil, assertionError("provider unavailable")
}

type assertionError string

func (e assertionError) Error() string { return string(e) }
