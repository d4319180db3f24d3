package stage

import (
	"context"
	"fmt"
	"math"
	"strings"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/workflow/chain"
	wfnode "manuscript-ai-api/internal/workflow/node"
	workflowprompt "manuscript-ai-api/internal/workflow/prompt"
)

const (
	roleCohesion       = "cohesion"
	roleCohesionCritic = "cohesion_critic"
	// 注入 prompt 的上一章结尾长度
	previousTailRunes = 1200
)

// CohesionResult 统稿结果
type CohesionResult struct {
	Text               string
	Changed            bool
	CriticScore        float64
	UnapprovedByCritic bool
	Exchanges          int
}

// Cohesion 处理与上一章的衔接。首章跳过；改写必须保留引用标记且篇幅变化不超过上限，否则保留原文。
func (a *Agents) Cohesion(ctx context.Context, tc *TaskContext, chapterTitle, previous, text, notes string) (*CohesionResult, error) {
	if strings.TrimSpace(previous) == "" {
		return &CohesionResult{Text: text}, nil
	}
	prevTail := wfnode.TailByRunes(previous, previousTailRunes)

	propose := func(ctx context.Context, at Attempt[string]) (string, error) {
		out, err := a.generate(ctx, tc, &chain.Request{
			Prompt:   workflowprompt.PromptCohesionV1,
			Workflow: roleCohesion,
			Vars: map[string]any{
				"previous_chapter": prevTail,
				"chapter_title":    chapterTitle,
				"text":             text,
				"feedback":         joinFeedback(notes, at.Feedback),
			},
		})
		return strings.TrimSpace(out), err
	}

	critique := func(ctx context.Context, cand string) (Review, error) {
		if problems := a.cohesionProblems(text, cand); len(problems) > 0 {
			return Review{Score: 0, Feedback: strings.Join(problems, "\n")}, nil
		}
		return a.verdict(ctx, tc, &chain.Request{
			Prompt:      workflowprompt.PromptCohesionCriticV1,
			Workflow:    roleCohesionCritic,
			Temperature: chain.Float32(0),
			Vars: map[string]any{
				"previous_chapter": prevTail,
				"text":             cand,
			},
		})
	}

	out, err := Loop(ctx, tc, roleCohesion, a.opts.Loop, propose, critique)
	if err != nil {
		return nil, err
	}
	if len(a.cohesionProblems(text, out.Best)) > 0 {
		return &CohesionResult{Text: text, UnapprovedByCritic: true, Exchanges: out.Exchanges}, nil
	}
	return &CohesionResult{
		Text:               out.Best,
		Changed:            out.Best != text,
		CriticScore:        out.Review.Score,
		UnapprovedByCritic: out.UnapprovedByCritic,
		Exchanges:          out.Exchanges,
	}, nil
}

func (a *Agents) cohesionProblems(before, after string) []string {
	var problems []string
	if after == "" {
		return []string{"输出为空"}
	}
	if !MarkersPreserved(before, after) {
		problems = append(problems, "改写丢失或新增了 [n] 引用标记")
	}
	orig := entity.RuneLen(before)
	if orig > 0 {
		drift := math.Abs(float64(entity.RuneLen(after)-orig)) / float64(orig)
		if drift > a.opts.MaxLengthDrift {
			problems = append(problems, fmt.Sprintf("篇幅变化 %.0f%%，超过 %.0f%%", drift*100, a.opts.MaxLengthDrift*100))
		}
	}
	return problems
}
