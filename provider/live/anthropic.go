// Package live provides example live provider.Handler implementations over
// real model SDKs, demonstrating the handler contract (spec.md §4.7)
// against the kind of text/narration-generating producers a media pipeline
// blueprint declares (shot lists, voiceover scripts, scene descriptions).
// Image/audio/video encoding producers are out of scope (spec.md §1): these
// handlers model the text-generation steps that commonly gate them.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"reelforge.design/reelforge/provider"
)

// AnthropicMessages captures the subset of the Anthropic SDK used by
// AnthropicHandler, adapted from features/model/anthropic/client.go's
// MessagesClient interface so tests can substitute a fake.
type AnthropicMessages interface {
	New(ctx context.Context, body sdk.MessageNewParams) (*sdk.Message, error)
}

// AnthropicHandler invokes Claude to synthesize one text artifact per
// produced ID, prompting with the job's resolved inputs rendered as a
// simple key: value list.
type AnthropicHandler struct {
	Messages AnthropicMessages
	Model    string
}

var _ provider.Handler = (*AnthropicHandler)(nil)

// WarmStart only checks that a Messages client is set: the Anthropic SDK
// client is already constructed and authenticated by the caller before
// registration.
func (h *AnthropicHandler) WarmStart(ctx context.Context, descriptors []provider.Descriptor) error {
	if h.Messages == nil {
		return fmt.Errorf("live: anthropic handler requires a Messages client")
	}
	return nil
}

// Invoke renders a prompt from the job's resolved inputs and asks Claude
// for one short piece of text per produced artifact.
func (h *AnthropicHandler) Invoke(ctx context.Context, req provider.Request) (provider.Response, error) {
	prompt := renderPrompt(req)
	resp := provider.Response{JobID: req.JobID, Status: "succeeded"}

	for _, artifactID := range req.Produces {
		msg, err := h.Messages.New(ctx, sdk.MessageNewParams{
			Model:     sdk.Model(h.Model),
			MaxTokens: 512,
			Messages: []sdk.MessageParam{
				sdk.NewUserMessage(sdk.NewTextBlock(fmt.Sprintf("%s\n\nProduce the content for %s.", prompt, artifactID))),
			},
		})
		if err != nil {
			resp.Artefacts = append(resp.Artefacts, failedArtifact(artifactID, err))
			continue
		}
		text := extractAnthropicText(msg)
		resp.Artefacts = append(resp.Artefacts, textArtifact(artifactID, text))
	}
	return resp, nil
}

func extractAnthropicText(msg *sdk.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

func renderPrompt(req provider.Request) string {
	var sb strings.Builder
	sb.WriteString("Inputs:\n")
	for id, v := range req.Context.ResolvedInputs {
		sb.WriteString(fmt.Sprintf("- %s: %v\n", id, v))
	}
	return sb.String()
}

func textArtifact(artifactID, text string) provider.ArtifactResult {
	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return failedArtifact(artifactID, err)
	}
	return provider.ArtifactResult{
		ArtifactID: artifactID,
		Status:     "succeeded",
		Blob:       &provider.BlobPayload{Data: data, MIMEType: "application/json"},
	}
}

func failedArtifact(artifactID string, err error) provider.ArtifactResult {
	diag, _ := json.Marshal(map[string]string{"error": err.Error()})
	return provider.ArtifactResult{ArtifactID: artifactID, Status: "failed", Diagnostics: diag}
}
