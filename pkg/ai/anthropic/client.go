// Package anthropic implements ai.Client against the Anthropic Messages
// API, gated on an API key: when none is configured the control plane falls
// back to ai.Client being nil and the AutoFix Flow skips the propose step.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/CoderRahul01/unideploy/pkg/ai"
)

// Client wraps the Anthropic SDK to satisfy ai.Client.
type Client struct {
	sdk   anthropic.Client
	model anthropic.Model
}

// New creates a Client. model is typically "claude-sonnet-4-5" but any
// valid Anthropic model identifier is accepted.
func New(apiKey, model string) *Client {
	return &Client{
		sdk:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model: anthropic.Model(model),
	}
}

const systemPrompt = `You are a build-failure triage assistant for a deployment platform.
Given a build or runtime error log and relevant source snippets, identify the
single file most likely responsible and write the complete corrected contents
of that file (the whole file, not a diff). Respond only with a JSON object:
{"focus_file": "...", "patch": "<full corrected file contents>",
"suggestion": "..."}. suggestion is one sentence explaining
the fix in plain language for a non-expert project owner.`

type proposalJSON struct {
	FocusFile  string `json:"focus_file"`
	Patch      string `json:"patch"`
	Suggestion string `json:"suggestion"`
}

// ProposeFix asks the model for a single-file patch proposal.
func (c *Client) ProposeFix(ctx context.Context, req ai.FixRequest) (ai.FixProposal, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Error log:\n%s\n\n", req.ErrorLog)
	if len(req.Snippets) > 0 {
		b.WriteString("Relevant source snippets:\n")
		for _, s := range req.Snippets {
			b.WriteString(s)
			b.WriteString("\n---\n")
		}
	}
	if len(req.History) > 0 {
		b.WriteString("Prior attempts on this project (avoid repeating a failed one):\n")
		for _, h := range req.History {
			b.WriteString("- " + h + "\n")
		}
	}

	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(b.String())),
		},
	})
	if err != nil {
		return ai.FixProposal{}, fmt.Errorf("calling anthropic messages api: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if tb := block.AsText(); tb.Text != "" {
			text += tb.Text
		}
	}

	var pj proposalJSON
	if err := json.Unmarshal([]byte(extractJSON(text)), &pj); err != nil {
		return ai.FixProposal{}, fmt.Errorf("parsing model response: %w", err)
	}

	return ai.FixProposal{FocusFile: pj.FocusFile, Patch: pj.Patch, Suggestion: pj.Suggestion}, nil
}

// extractJSON trims any prose the model wrapped the JSON object in.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
