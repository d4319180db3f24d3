package prompt

import "testing"

func TestRegistry_LoadsEveryEmbeddedPrompt(t *testing.T) {
	r := NewRegistry()
	for _, id := range All() {
		if _, err := r.ChatTemplate(id); err != nil {
			t.Fatalf("ChatTemplate(%s): %v", id, err)
		}
	}
	if _, err := r.ChatTemplate(PromptID("story_v1")); err == nil {
		t.Fatalf("unknown prompt accepted")
	}
}
