package stage

import (
	"context"
	"fmt"
	"strings"

	"manuscript-ai-api/internal/workflow/chain"
	wfnode "manuscript-ai-api/internal/workflow/node"
	workflowprompt "manuscript-ai-api/internal/workflow/prompt"
)

const roleVoiceEdit = "voice_edit"

// VoiceResult 文风改写结果
type VoiceResult struct {
	Text  string
	Score float64
	// Changed 是否采用了改写后的文本
	Changed            bool
	UnapprovedByCritic bool
	Exchanges          int
}

type voiceCandidate struct {
	text string
	// intact 是否完整保留了引用标记
	intact bool
}

// VoiceEdit 把草稿改写向作者文风，critic 是确定性的文风评分。
// 改写不得增删 [n] 标记；最佳候选不如原文时保留原文。
func (a *Agents) VoiceEdit(ctx context.Context, tc *TaskContext, text, notes string) (*VoiceResult, error) {
	base, err := a.scorer.Evaluate(ctx, text, tc.Profile)
	if err != nil {
		return nil, err
	}
	if base.Passed {
		return &VoiceResult{Text: text, Score: base.Score}, nil
	}
	threshold := a.scorer.Threshold()

	propose := func(ctx context.Context, at Attempt[voiceCandidate]) (voiceCandidate, error) {
		feedback := at.Feedback
		if at.N == 1 {
			feedback = fmt.Sprintf("原文文风得分 %.2f，低于 %.2f。", base.Score, threshold)
		}
		out, err := a.generate(ctx, tc, &chain.Request{
			Prompt:   workflowprompt.PromptVoiceEditV1,
			Workflow: roleVoiceEdit,
			Vars: map[string]any{
				"style_description": wfnode.OrNone(tc.Style),
				"text":              text,
				"feedback":          joinFeedback(notes, feedback),
			},
		})
		if err != nil {
			return voiceCandidate{}, err
		}
		cand := voiceCandidate{text: strings.TrimSpace(out)}
		cand.intact = cand.text != "" && MarkersPreserved(text, cand.text)
		return cand, nil
	}

	critique := func(ctx context.Context, c voiceCandidate) (Review, error) {
		if !c.intact {
			return Review{Score: 0, Feedback: "改写丢失或新增了 [n] 引用标记，必须原样保留全部标记。"}, nil
		}
		ev, err := a.scorer.Evaluate(ctx, c.text, tc.Profile)
		if err != nil {
			return Review{}, err
		}
		return Review{
			Approved: ev.Passed,
			Score:    ev.Score,
			Feedback: fmt.Sprintf("文风得分 %.2f，目标 %.2f。", ev.Score, threshold),
		}, nil
	}

	out, err := Loop(ctx, tc, roleVoiceEdit, a.opts.Loop, propose, critique)
	if err != nil {
		return nil, err
	}
	if !out.Best.intact || out.Review.Score <= base.Score {
		return &VoiceResult{
			Text:               text,
			Score:              base.Score,
			UnapprovedByCritic: true,
			Exchanges:          out.Exchanges,
		}, nil
	}
	return &VoiceResult{
		Text:               out.Best.text,
		Score:              out.Review.Score,
		Changed:            true,
		UnapprovedByCritic: out.UnapprovedByCritic,
		Exchanges:          out.Exchanges,
	}, nil
}
