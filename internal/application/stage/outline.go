package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/workflow/chain"
	wfmodel "manuscript-ai-api/internal/workflow/model"
	wfnode "manuscript-ai-api/internal/workflow/node"
	workflowprompt "manuscript-ai-api/internal/workflow/prompt"
	apperrors "manuscript-ai-api/pkg/errors"
)

const (
	roleOutline       = "outline"
	roleOutlineCritic = "outline_critic"
)

// OutlineResult 大纲阶段的产出，Outline 尚未持久化
type OutlineResult struct {
	Outline   *entity.BookOutline
	Exchanges int
}

// Outline 生成候选大纲。notes 为上一版被拒时的用户意见。
func (a *Agents) Outline(ctx context.Context, tc *TaskContext, version int, notes string) (*OutlineResult, error) {
	query := strings.TrimSpace(tc.Brief.Title + "\n" + tc.Brief.Brief)
	res, err := a.retrieve(ctx, tc, roleOutline, query, a.opts.Budgets.Outline)
	if err != nil {
		return nil, err
	}
	if res.Empty() {
		return nil, apperrors.Groundingf(roleOutline, "no source material matches the brief")
	}
	evidence := retrieval.BuildPromptContext(res.Passages)

	propose := func(ctx context.Context, at Attempt[wfmodel.OutlineProposal]) (wfmodel.OutlineProposal, error) {
		var p wfmodel.OutlineProposal
		err := a.generateJSON(ctx, tc, &chain.Request{
			Prompt:   workflowprompt.PromptOutlineV1,
			Workflow: roleOutline,
			Vars: map[string]any{
				"title":             wfnode.OrNone(tc.Brief.Title),
				"brief":             wfnode.OrNone(tc.Brief.Brief),
				"chapter_count":     chapterCountText(tc.Brief.ChapterCount),
				"target_words":      tc.Brief.TargetWords,
				"style_description": wfnode.OrNone(tc.Style),
				"context":           evidence,
				"feedback":          joinFeedback(notes, at.Feedback),
			},
		}, &p, func() error {
			if len(p.Chapters) == 0 {
				return fmt.Errorf("outline has no chapters")
			}
			for i, ch := range p.Chapters {
				if strings.TrimSpace(ch.Title) == "" || strings.TrimSpace(ch.Summary) == "" {
					return fmt.Errorf("chapter %d lacks title or summary", i+1)
				}
			}
			return nil
		})
		return p, err
	}

	critique := func(ctx context.Context, p wfmodel.OutlineProposal) (Review, error) {
		if problems := outlineProblems(p, tc.Brief.ChapterCount, len(res.Passages)); len(problems) > 0 {
			return Review{Approved: false, Score: 0, Feedback: strings.Join(problems, "\n")}, nil
		}
		raw, _ := json.MarshalIndent(p, "", "  ")
		return a.verdict(ctx, tc, &chain.Request{
			Prompt:      workflowprompt.PromptOutlineCriticV1,
			Workflow:    roleOutlineCritic,
			Temperature: chain.Float32(0),
			Vars: map[string]any{
				"brief":   wfnode.OrNone(tc.Brief.Brief),
				"outline": string(raw),
				"context": evidence,
			},
		})
	}

	out, err := Loop(ctx, tc, roleOutline, a.opts.Loop, propose, critique)
	if err != nil {
		return nil, err
	}
	best := out.Best
	if problems := outlineProblems(best, tc.Brief.ChapterCount, len(res.Passages)); len(problems) > 0 {
		return nil, apperrors.Groundingf(roleOutline, "best outline candidate is not grounded: %s", problems[0])
	}

	citations := CitationsOf(res)
	chapters := make([]entity.ChapterOutline, 0, len(best.Chapters))
	budget := 0
	if tc.Brief.TargetWords > 0 {
		budget = tc.Brief.TargetWords / len(best.Chapters)
	}
	for _, ch := range best.Chapters {
		co := entity.ChapterOutline{
			Title:      strings.TrimSpace(ch.Title),
			Summary:    strings.TrimSpace(ch.Summary),
			KeyPoints:  ch.KeyPoints,
			WordBudget: budget,
		}
		for _, m := range dedupInts(ch.Sources) {
			co.Citations = append(co.Citations, citations[m-1])
		}
		chapters = append(chapters, co)
	}

	title := strings.TrimSpace(best.Title)
	if title == "" {
		title = tc.Brief.Title
	}
	o := entity.NewBookOutline(tc.ProjectID, tc.TaskID, version, title, strings.TrimSpace(best.Synopsis), chapters)
	o.CriticScore = out.Review.Score
	o.UnapprovedByCritic = out.UnapprovedByCritic

	// 标记随大纲交给人工审批，不拦截
	rep, err := a.safety.Check(tc.Context(ctx), o.Text())
	if err != nil {
		return nil, err
	}
	for _, u := range rep.Usage {
		tc.Meter.Add(u)
	}
	o.SafetyFlags = rep.Flags
	return &OutlineResult{Outline: o, Exchanges: out.Exchanges}, nil
}

// outlineProblems 确定性校验：章节数与素材编号
func outlineProblems(p wfmodel.OutlineProposal, wantChapters, passages int) []string {
	var problems []string
	if wantChapters > 0 && len(p.Chapters) != wantChapters {
		problems = append(problems, fmt.Sprintf("需要 %d 章，实际 %d 章", wantChapters, len(p.Chapters)))
	}
	for i, ch := range p.Chapters {
		if len(ch.Sources) == 0 {
			problems = append(problems, fmt.Sprintf("第 %d 章没有标注素材编号", i+1))
			continue
		}
		for _, m := range ch.Sources {
			if m < 1 || m > passages {
				problems = append(problems, fmt.Sprintf("第 %d 章引用了不存在的素材编号 %d", i+1, m))
			}
		}
	}
	return problems
}

func chapterCountText(n int) string {
	if n <= 0 {
		return "按内容自行决定"
	}
	return fmt.Sprintf("%d", n)
}

func dedupInts(xs []int) []int {
	seen := make(map[int]bool, len(xs))
	out := make([]int, 0, len(xs))
	for _, x := range xs {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	return out
}
