package prompt

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed templates/*.txt
var templatesFS embed.FS

type PromptID string

const (
	PromptOutlineV1        PromptID = "outline_v1"
	PromptOutlineCriticV1  PromptID = "outline_critic_v1"
	PromptDraftV1          PromptID = "draft_v1"
	PromptDraftCriticV1    PromptID = "draft_critic_v1"
	PromptVoiceEditV1      PromptID = "voice_edit_v1"
	PromptClaimExtractV1   PromptID = "claim_extract_v1"
	PromptCohesionV1       PromptID = "cohesion_v1"
	PromptCohesionCriticV1 PromptID = "cohesion_critic_v1"
	PromptSafetyClassifyV1 PromptID = "safety_classify_v1"
)

// All 全部内置 prompt
func All() []PromptID {
	return []PromptID{
		PromptOutlineV1, PromptOutlineCriticV1,
		PromptDraftV1, PromptDraftCriticV1,
		PromptVoiceEditV1, PromptClaimExtractV1,
		PromptCohesionV1, PromptCohesionCriticV1,
		PromptSafetyClassifyV1,
	}
}

// Registry 首次使用时解析全部嵌入模板，之后只读
type Registry struct {
	once      sync.Once
	templates map[PromptID]einoprompt.ChatTemplate
	err       error
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) ChatTemplate(id PromptID) (einoprompt.ChatTemplate, error) {
	if r == nil {
		return nil, fmt.Errorf("prompt registry is nil")
	}
	r.once.Do(r.load)
	if r.err != nil {
		return nil, r.err
	}
	tpl, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("unknown prompt id: %s", id)
	}
	return tpl, nil
}

func (r *Registry) load() {
	r.templates = make(map[PromptID]einoprompt.ChatTemplate)
	for _, id := range All() {
		base := "templates/" + string(id)
		system, err := readEmbeddedText(base + ".system.txt")
		if err != nil {
			r.err = err
			return
		}
		user, err := readEmbeddedText(base + ".user.txt")
		if err != nil {
			r.err = err
			return
		}
		r.templates[id] = einoprompt.FromMessages(
			schema.FString,
			schema.SystemMessage(system),
			schema.UserMessage(user),
		)
	}
}

func readEmbeddedText(path string) (string, error) {
	b, err := templatesFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt template %s: %w", path, err)
	}
	return strings.TrimSpace(string(b)), nil
}
