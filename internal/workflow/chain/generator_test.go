package chain

import (
	"context"
	"errors"
	"strings"
	"testing"

	workflowport "manuscript-ai-api/internal/workflow/port"
	workflowprompt "manuscript-ai-api/internal/workflow/prompt"
	"manuscript-ai-api/internal/workflow/workflowtest"
	apperrors "manuscript-ai-api/pkg/errors"
)

func TestGenerator_RendersPromptAndRecordsUsage(t *testing.T) {
	m := workflowtest.NewScriptedModel().Reply("voice_edit", "改写后的正文 [1]")
	g := NewGenerator(workflowtest.Factory{Model: m}, workflowport.StaticProviders{"voice_edit": "main"})

	out, err := g.Generate(context.Background(), &Request{
		Prompt:   workflowprompt.PromptVoiceEditV1,
		Workflow: "voice_edit",
		Vars: map[string]any{
			"style_description": "短句为主",
			"text":              "原文 [1]",
			"feedback":          "（无）",
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Content != "改写后的正文 [1]" {
		t.Fatalf("content = %q", out.Content)
	}
	if out.Usage.Provider != "main" {
		t.Fatalf("provider = %q", out.Usage.Provider)
	}
	if out.Usage.PromptTokens == 0 {
		t.Fatalf("expected prompt tokens to be recorded")
	}
	calls := m.Calls()
	if len(calls) != 1 || !strings.Contains(calls[0].User, "原文 [1]") || !strings.Contains(calls[0].User, "短句为主") {
		t.Fatalf("prompt not rendered: %+v", calls)
	}
}

func TestGenerator_ClassifiesProviderErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want apperrors.Kind
	}{
		{"rate limit", errors.New("status 429: too many requests"), apperrors.KindTransientProvider},
		{"timeout", context.DeadlineExceeded, apperrors.KindTransientProvider},
		{"auth", errors.New("401 invalid api key"), apperrors.KindStageFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := workflowtest.NewScriptedModel().On("draft", func(workflowtest.Call) (string, error) { return "", tc.err })
			g := NewGenerator(workflowtest.Factory{Model: m}, nil)
			_, err := g.Generate(context.Background(), &Request{
				Prompt:   workflowprompt.PromptSafetyClassifyV1,
				Workflow: "draft",
				Vars:     map[string]any{"text": "x"},
			})
			kind, ok := apperrors.KindOf(err)
			if !ok || kind != tc.want {
				t.Fatalf("kind = %v (%v), want %v", kind, err, tc.want)
			}
		})
	}
}

func TestGenerator_UnknownPrompt(t *testing.T) {
	m := workflowtest.NewScriptedModel()
	g := NewGenerator(workflowtest.Factory{Model: m}, nil)
	_, err := g.Generate(context.Background(), &Request{Prompt: "nope", Workflow: "draft"})
	if err == nil {
		t.Fatalf("expected error for unknown prompt")
	}
	if m.Count("draft") != 0 {
		t.Fatalf("model should not be called")
	}
}
