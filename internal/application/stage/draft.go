package stage

import (
	"context"
	"fmt"
	"strings"

	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/workflow/chain"
	wfnode "manuscript-ai-api/internal/workflow/node"
	workflowprompt "manuscript-ai-api/internal/workflow/prompt"
	apperrors "manuscript-ai-api/pkg/errors"
)

const (
	roleDraft       = "draft"
	roleDraftCritic = "draft_critic"
)

// DraftInput 起草一章所需的输入
type DraftInput struct {
	Outline *entity.BookOutline
	Index   int
	// PreviousSummary 上一章结尾，首章为空
	PreviousSummary string
	// Constraints 安全检查退回时附加的写作约束
	Constraints string
	// Feedback 用户对上一版的修改意见
	Feedback string
}

// DraftResult 起草结果，Text 保留 [n] 标记
type DraftResult struct {
	Text               string
	Citations          []entity.Citation
	Paragraphs         []entity.Paragraph
	CriticScore        float64
	UnapprovedByCritic bool
	Exchanges          int
}

// Draft 起草一章。事实段落必须引用检索到的素材，最佳候选仍未落地时返回 GroundingError。
func (a *Agents) Draft(ctx context.Context, tc *TaskContext, in DraftInput) (*DraftResult, error) {
	if in.Outline == nil || in.Index < 0 || in.Index >= len(in.Outline.Chapters) {
		return nil, apperrors.Failed(roleDraft, fmt.Sprintf("chapter index %d out of outline range", in.Index), nil)
	}
	ch := in.Outline.Chapters[in.Index]

	query := strings.TrimSpace(ch.Title + "\n" + ch.Summary + "\n" + strings.Join(ch.KeyPoints, "\n"))
	res, err := a.retrieve(ctx, tc, roleDraft, query, a.opts.Budgets.Draft)
	if err != nil {
		return nil, err
	}
	if res.Empty() {
		return nil, apperrors.Groundingf(roleDraft, "no source material matches chapter %d", in.Index+1)
	}
	citations := CitationsOf(res)
	evidence := retrieval.BuildPromptContext(res.Passages)

	propose := func(ctx context.Context, at Attempt[string]) (string, error) {
		text, err := a.generate(ctx, tc, &chain.Request{
			Prompt:   workflowprompt.PromptDraftV1,
			Workflow: roleDraft,
			Vars: map[string]any{
				"book_title":        wfnode.OrNone(in.Outline.Title),
				"chapter_number":    in.Index + 1,
				"chapter_title":     ch.Title,
				"chapter_summary":   ch.Summary,
				"key_points":        wfnode.BulletList(ch.KeyPoints),
				"word_budget":       ch.WordBudget,
				"style_description": wfnode.OrNone(tc.Style),
				"previous_summary":  wfnode.OrNone(in.PreviousSummary),
				"context":           evidence,
				"constraints":       wfnode.OrNone(in.Constraints),
				"feedback":          joinFeedback(in.Feedback, at.Feedback),
			},
		})
		return strings.TrimSpace(text), err
	}

	critique := func(ctx context.Context, text string) (Review, error) {
		if text == "" {
			return Review{Feedback: "输出为空"}, nil
		}
		if problems := GroundingProblems(text, citations); len(problems) > 0 {
			return Review{Approved: false, Score: 0, Feedback: strings.Join(problems, "\n")}, nil
		}
		return a.verdict(ctx, tc, &chain.Request{
			Prompt:      workflowprompt.PromptDraftCriticV1,
			Workflow:    roleDraftCritic,
			Temperature: chain.Float32(0),
			Vars: map[string]any{
				"chapter_title":   ch.Title,
				"chapter_summary": ch.Summary,
				"draft":           text,
				"context":         evidence,
			},
		})
	}

	out, err := Loop(ctx, tc, roleDraft, a.opts.Loop, propose, critique)
	if err != nil {
		return nil, err
	}
	if out.Best == "" {
		return nil, apperrors.Groundingf(roleDraft, "chapter %d draft is empty", in.Index+1)
	}
	if problems := GroundingProblems(out.Best, citations); len(problems) > 0 {
		return nil, apperrors.Groundingf(roleDraft, "chapter %d draft is not grounded: %s", in.Index+1, problems[0])
	}
	return &DraftResult{
		Text:               out.Best,
		Citations:          citations,
		Paragraphs:         BuildParagraphs(out.Best, citations),
		CriticScore:        out.Review.Score,
		UnapprovedByCritic: out.UnapprovedByCritic,
		Exchanges:          out.Exchanges,
	}, nil
}
