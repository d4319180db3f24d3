package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"manuscript-ai-api/internal/application/ingestion"
	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/application/safety"
	"manuscript-ai-api/internal/application/stage"
	"manuscript-ai-api/internal/application/voice"
	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
	apperrors "manuscript-ai-api/pkg/errors"
	"manuscript-ai-api/pkg/logger"
)

// previousTailRunes 起草时附带的上一章结尾长度
const previousTailRunes = 600

// ReviewPolicy 人工审核策略
type ReviewPolicy struct {
	// RequireChapterApproval 每章都等待人工确认
	RequireChapterApproval bool
}

// Ingester 素材摄取端口，由 ingestion.Service 实现
type Ingester interface {
	IngestProject(ctx context.Context, projectID string) (ingestion.Result, error)
}

// ChunkIndexer 切片向量化端口，由 retrieval.Indexer 实现
type ChunkIndexer interface {
	EmbedPending(ctx context.Context, projectID string) (retrieval.IndexResult, error)
}

// ProfileCalibrator 文风校准端口，由 voice.Calibrator 实现
type ProfileCalibrator interface {
	EnsureProfile(ctx context.Context, projectID string) (*entity.VoiceProfile, bool, error)
	Recalibrate(ctx context.Context, projectID string) (*entity.VoiceProfile, error)
}

// PipelineDeps 阶段处理器的依赖
type PipelineDeps struct {
	Ingestion   Ingester
	Indexer     ChunkIndexer
	Calibrator  ProfileCalibrator
	Agents      *stage.Agents
	Chunks      repository.ChunkRepository
	Profiles    repository.VoiceProfileRepository
	Outlines    repository.OutlineRepository
	Chapters    repository.ChapterRepository
	Manuscripts repository.ManuscriptRepository
	Retries     RetryPolicy
	Review      ReviewPolicy
}

// Pipeline 各阶段的处理器实现
type Pipeline struct {
	PipelineDeps
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{PipelineDeps: deps}
}

// Handlers 阶段处理器表
func (p *Pipeline) Handlers() Handlers {
	return Handlers{
		entity.StageIngest:    p.ingestStage,
		entity.StageEmbed:     p.embedStage,
		entity.StageCalibrate: p.calibrateStage,
		entity.StageOutline:   p.outlineStage,
		entity.StageChapter:   p.chapterStage,
		entity.StageFinalize:  p.finalizeStage,
	}
}

func (p *Pipeline) ingestStage(ctx context.Context, rc *RunContext) (*StepOutcome, error) {
	snap := rc.Snapshot
	res, err := p.Ingestion.IngestProject(ctx, rc.Task.ProjectID)
	if err != nil {
		return nil, err
	}
	n, err := p.Chunks.CountByProject(ctx, rc.Task.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	if n == 0 {
		return nil, apperrors.Failed(string(entity.StageIngest),
			fmt.Sprintf("no usable source material (%d failed)", res.Failed), nil)
	}
	snap.Ingest = &IngestSummary{Processed: res.Processed, Failed: res.Failed, Chunks: int(n)}
	return advance(entity.StageEmbed, snap, res.MaterialIDs...), nil
}

func (p *Pipeline) embedStage(ctx context.Context, rc *RunContext) (*StepOutcome, error) {
	res, err := p.Indexer.EmbedPending(ctx, rc.Task.ProjectID)
	if err != nil {
		if errors.Is(err, retrieval.ErrVectorDisabled) {
			return nil, apperrors.Failed(string(entity.StageEmbed), "embedding provider is not configured", err)
		}
		return nil, err
	}
	out := advance(entity.StageCalibrate, rc.Snapshot)
	out.EmbeddingCalls = res.Batches
	return out, nil
}

func (p *Pipeline) calibrateStage(ctx context.Context, rc *RunContext) (*StepOutcome, error) {
	prof, _, err := p.Calibrator.EnsureProfile(ctx, rc.Task.ProjectID)
	if err != nil {
		return nil, err
	}
	rc.Snapshot.ProfileID = prof.ID
	return advance(entity.StageOutline, rc.Snapshot, prof.ID), nil
}

// loadProfile 把项目当前文风档案放入任务上下文
func (p *Pipeline) loadProfile(ctx context.Context, rc *RunContext) error {
	prof, err := p.Profiles.GetCurrent(ctx, rc.Task.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to load voice profile: %w", err)
	}
	if prof == nil {
		return apperrors.Failed(string(rc.Task.Stage), "voice profile missing", nil)
	}
	rc.TC.Profile = prof
	rc.TC.Style = voice.Describe(prof.Features)
	return nil
}

func (p *Pipeline) outlineStage(ctx context.Context, rc *RunContext) (*StepOutcome, error) {
	snap := rc.Snapshot
	if err := p.loadProfile(ctx, rc); err != nil {
		return nil, err
	}
	version := snap.OutlineVersion + 1

	// 上次生成后未能提交检查点时复用已写入的候选
	o, err := p.findOutline(ctx, rc.Task.ID, version)
	if err != nil {
		return nil, err
	}
	if o == nil {
		res, err := p.Agents.Outline(ctx, rc.TC, version, snap.OutlineNotes)
		if err != nil {
			if !errors.Is(err, apperrors.ErrInsufficientGrounding) {
				return nil, err
			}
			snap.OutlineGroundingRetries++
			if snap.OutlineGroundingRetries <= p.Retries.Grounding {
				logger.Warn(ctx, "outline lacks grounding, retrying",
					"attempt", snap.OutlineGroundingRetries,
					"error", err.Error(),
				)
				return advance(entity.StageOutline, snap), nil
			}
			snap.OutlineGroundingRetries = 0
			return suspend(snap, "revise required: "+reasonOf(err)), nil
		}
		o = res.Outline
		if err := p.Outlines.Create(ctx, o); err != nil {
			return nil, fmt.Errorf("failed to save outline: %w", err)
		}
	}

	snap.OutlineID = o.ID
	snap.OutlineVersion = o.Version
	snap.OutlineNotes = ""
	snap.OutlineGroundingRetries = 0
	decision := fmt.Sprintf("approve or reject outline v%d", o.Version)
	if o.UnapprovedByCritic {
		decision += fmt.Sprintf(" (critic did not approve, score %.2f)", o.CriticScore)
	}
	if n := len(o.SafetyFlags); n > 0 {
		decision += fmt.Sprintf(" (%d safety flags, first %s)", n, o.SafetyFlags[0].RuleID)
	}
	return suspend(snap, decision, o.ID), nil
}

func (p *Pipeline) findOutline(ctx context.Context, taskID string, version int) (*entity.BookOutline, error) {
	list, err := p.Outlines.ListByTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outlines: %w", err)
	}
	for _, o := range list {
		if o.Version == version && o.Status == entity.OutlineStatusCandidate {
			return o, nil
		}
	}
	return nil, nil
}

// approvedOutline 章节与定稿阶段只能基于已批准的大纲
func (p *Pipeline) approvedOutline(ctx context.Context, snap *WorkflowSnapshot) (*entity.BookOutline, error) {
	o, err := p.Outlines.GetByID(ctx, snap.OutlineID)
	if err != nil {
		return nil, fmt.Errorf("failed to load outline: %w", err)
	}
	if o == nil || o.Status != entity.OutlineStatusApproved {
		return nil, apperrors.Failed(string(entity.StageChapter), "no approved outline", nil)
	}
	return o, nil
}

func (p *Pipeline) chapterStage(ctx context.Context, rc *RunContext) (*StepOutcome, error) {
	snap := rc.Snapshot
	outline, err := p.approvedOutline(ctx, snap)
	if err != nil {
		return nil, err
	}
	idx := snap.CurrentChapter
	if idx >= len(outline.Chapters) {
		return advance(entity.StageFinalize, snap), nil
	}
	if err := p.loadProfile(ctx, rc); err != nil {
		return nil, err
	}

	if snap.Chapter == nil || snap.Chapter.Index != idx {
		ch, err := p.ensureChapter(ctx, rc.Task, snap, outline, idx)
		if err != nil {
			return nil, err
		}
		snap.Chapter = &ChapterProgress{Index: idx, ChapterID: ch.ID, Step: entity.StepDraft}
	}
	cp := snap.Chapter
	ch, err := p.Chapters.GetByID(ctx, cp.ChapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chapter: %w", err)
	}
	if ch == nil {
		return nil, apperrors.Failed(string(entity.StageChapter), fmt.Sprintf("chapter %d missing", idx+1), nil)
	}

	ctx = logger.WithContext(ctx, logger.ContextKey("chapter"), idx+1)
	logger.Debug(ctx, "running chapter step", "step", string(cp.Step))

	switch cp.Step {
	case entity.StepDraft:
		return p.draftStep(ctx, rc, outline, ch)
	case entity.StepVoiceEdit:
		return p.voiceStep(ctx, rc, ch)
	case entity.StepFactCheck:
		return p.factStep(ctx, rc, ch)
	case entity.StepCohesion:
		return p.cohesionStep(ctx, rc, ch)
	case entity.StepGate:
		return p.gateStep(ctx, rc, outline, ch)
	default:
		return nil, apperrors.Failed(string(entity.StageChapter), fmt.Sprintf("unknown chapter step %q", cp.Step), nil)
	}
}

// ensureChapter 取得第 idx 章，必要时创建；已存在的同序号章节会被复用
func (p *Pipeline) ensureChapter(ctx context.Context, task *entity.GenerationTask, snap *WorkflowSnapshot, outline *entity.BookOutline, idx int) (*entity.Chapter, error) {
	if id := snap.chapterID(idx); id != "" {
		ch, err := p.Chapters.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load chapter: %w", err)
		}
		if ch != nil {
			return ch, nil
		}
	}
	list, err := p.Chapters.ListByTask(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	var ch *entity.Chapter
	for _, c := range list {
		if c.Index == idx {
			ch = c
			break
		}
	}
	if ch == nil {
		ch = entity.NewChapter(task.ID, task.ProjectID, idx, outline.Chapters[idx].Title)
		if err := p.Chapters.Create(ctx, ch); err != nil {
			return nil, fmt.Errorf("failed to create chapter: %w", err)
		}
	}
	for len(snap.ChapterIDs) <= idx {
		snap.ChapterIDs = append(snap.ChapterIDs, "")
	}
	snap.ChapterIDs[idx] = ch.ID
	return ch, nil
}

func (p *Pipeline) appendRevision(ctx context.Context, ch *entity.Chapter, rev *entity.ChapterRevision) error {
	if err := ch.ApplyRevision(rev); err != nil {
		return apperrors.Failed(string(entity.StageChapter), "invalid chapter revision", err)
	}
	if err := p.Chapters.AppendRevision(ctx, ch, rev); err != nil {
		return fmt.Errorf("failed to append revision: %w", err)
	}
	return nil
}

func (p *Pipeline) currentRevision(ctx context.Context, ch *entity.Chapter) (*entity.ChapterRevision, error) {
	if ch.CurrentRevisionID == "" {
		return nil, nil
	}
	rev, err := p.Chapters.GetRevision(ctx, ch.CurrentRevisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load revision: %w", err)
	}
	return rev, nil
}

// previousChapter 上一章（首章返回 nil）
func (p *Pipeline) previousChapter(ctx context.Context, snap *WorkflowSnapshot, idx int) (*entity.Chapter, error) {
	id := snap.chapterID(idx - 1)
	if id == "" {
		return nil, nil
	}
	ch, err := p.Chapters.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous chapter: %w", err)
	}
	return ch, nil
}

// pendingRevision 上次执行已写入、检查点尚未提交的本步骤修订
func (p *Pipeline) pendingRevision(ctx context.Context, cp *ChapterProgress, ch *entity.Chapter, kind entity.RevisionStage) (*entity.ChapterRevision, error) {
	if ch.RevisionCount <= cp.CommittedSeq {
		return nil, nil
	}
	rev, err := p.currentRevision(ctx, ch)
	if err != nil || rev == nil || rev.Stage != kind {
		return nil, err
	}
	logger.Info(ctx, "reusing revision written before the last checkpoint",
		"revision_id", rev.ID,
		"seq", rev.Seq,
	)
	return rev, nil
}

// commitRevision 推进到下一子步骤，检查点记录已写入的修订
func commitRevision(snap *WorkflowSnapshot, rev *entity.ChapterRevision, next entity.ChapterStep) *StepOutcome {
	snap.Chapter.CommittedSeq = rev.Seq
	snap.Chapter.Step = next
	return advance(entity.StageChapter, snap, rev.ID)
}

func (p *Pipeline) draftStep(ctx context.Context, rc *RunContext, outline *entity.BookOutline, ch *entity.Chapter) (*StepOutcome, error) {
	snap, cp := rc.Snapshot, rc.Snapshot.Chapter
	rev, err := p.pendingRevision(ctx, cp, ch, entity.RevisionDraft)
	if err != nil {
		return nil, err
	}
	if rev != nil {
		return afterDraft(snap, rev), nil
	}

	prev, err := p.previousChapter(ctx, snap, cp.Index)
	if err != nil {
		return nil, err
	}
	var prevTail string
	if prev != nil {
		prevTail = tailRunes(retrieval.StripMarkers(prev.CurrentText), previousTailRunes)
	}

	res, err := p.Agents.Draft(ctx, rc.TC, stage.DraftInput{
		Outline:         outline,
		Index:           cp.Index,
		PreviousSummary: prevTail,
		Constraints:     cp.Constraints,
		Feedback:        cp.Feedback,
	})
	if err != nil {
		if !errors.Is(err, apperrors.ErrInsufficientGrounding) {
			return nil, err
		}
		cp.GroundingRetries++
		if cp.GroundingRetries <= p.Retries.Grounding {
			logger.Warn(ctx, "chapter draft lacks grounding, retrying",
				"attempt", cp.GroundingRetries,
				"error", err.Error(),
			)
			return advance(entity.StageChapter, snap), nil
		}
		cp.GroundingRetries = 0
		if err := p.awaitReview(ctx, ch); err != nil {
			return nil, err
		}
		return suspend(snap, fmt.Sprintf("revise required: chapter %d: %s", cp.Index+1, reasonOf(err))), nil
	}

	rev = ch.NewRevision(entity.RevisionDraft, res.Text, res.Paragraphs)
	rev.Citations = res.Citations
	rev.CriticScore = res.CriticScore
	rev.UnapprovedByCritic = res.UnapprovedByCritic
	if err := p.appendRevision(ctx, ch, rev); err != nil {
		return nil, err
	}
	return afterDraft(snap, rev), nil
}

func afterDraft(snap *WorkflowSnapshot, rev *entity.ChapterRevision) *StepOutcome {
	cp := snap.Chapter
	cp.Citations = rev.Citations
	cp.GroundingRetries = 0
	if rev.UnapprovedByCritic {
		cp.markUnapproved(entity.StepDraft)
	}
	return commitRevision(snap, rev, entity.StepVoiceEdit)
}

func (p *Pipeline) voiceStep(ctx context.Context, rc *RunContext, ch *entity.Chapter) (*StepOutcome, error) {
	snap, cp := rc.Snapshot, rc.Snapshot.Chapter
	rev, err := p.pendingRevision(ctx, cp, ch, entity.RevisionVoiceEdited)
	if err != nil {
		return nil, err
	}
	if rev != nil {
		return afterVoice(snap, rev), nil
	}

	res, err := p.Agents.VoiceEdit(ctx, rc.TC, ch.CurrentText, cp.Feedback)
	if err != nil {
		return nil, err
	}
	if !res.Changed {
		cp.VoiceScore = res.Score
		if res.UnapprovedByCritic {
			cp.markUnapproved(entity.StepVoiceEdit)
		}
		cp.Step = entity.StepFactCheck
		return advance(entity.StageChapter, snap), nil
	}
	rev = ch.NewRevision(entity.RevisionVoiceEdited, res.Text, stage.BuildParagraphs(res.Text, cp.Citations))
	rev.VoiceScore = res.Score
	rev.UnapprovedByCritic = res.UnapprovedByCritic
	if err := p.appendRevision(ctx, ch, rev); err != nil {
		return nil, err
	}
	return afterVoice(snap, rev), nil
}

func afterVoice(snap *WorkflowSnapshot, rev *entity.ChapterRevision) *StepOutcome {
	cp := snap.Chapter
	cp.VoiceScore = rev.VoiceScore
	if rev.UnapprovedByCritic {
		cp.markUnapproved(entity.StepVoiceEdit)
	}
	return commitRevision(snap, rev, entity.StepFactCheck)
}

func (p *Pipeline) factStep(ctx context.Context, rc *RunContext, ch *entity.Chapter) (*StepOutcome, error) {
	snap, cp := rc.Snapshot, rc.Snapshot.Chapter
	rev, err := p.pendingRevision(ctx, cp, ch, entity.RevisionFactChecked)
	if err != nil {
		return nil, err
	}
	if rev != nil {
		return commitRevision(snap, rev, entity.StepCohesion), nil
	}

	res, err := p.Agents.FactCheck(ctx, rc.TC, ch.CurrentText)
	if err != nil {
		return nil, err
	}
	// 即使正文未改动也写入修订，核查报告随修订保存
	rev = ch.NewRevision(entity.RevisionFactChecked, res.Text, stage.BuildParagraphs(res.Text, cp.Citations))
	rev.VoiceScore = cp.VoiceScore
	rev.FactReport = res.Report
	rev.Notes = fmt.Sprintf("%d supported, %d uncertain, %d unsupported",
		res.Report.Count(entity.ClaimSupported),
		res.Report.Count(entity.ClaimUncertain),
		res.Report.Count(entity.ClaimUnsupported),
	)
	if err := p.appendRevision(ctx, ch, rev); err != nil {
		return nil, err
	}
	return commitRevision(snap, rev, entity.StepCohesion), nil
}

func (p *Pipeline) cohesionStep(ctx context.Context, rc *RunContext, ch *entity.Chapter) (*StepOutcome, error) {
	snap, cp := rc.Snapshot, rc.Snapshot.Chapter
	rev, err := p.pendingRevision(ctx, cp, ch, entity.RevisionCohesionReviewed)
	if err != nil {
		return nil, err
	}
	if rev != nil {
		return afterCohesion(snap, rev), nil
	}

	prev, err := p.previousChapter(ctx, snap, cp.Index)
	if err != nil {
		return nil, err
	}
	var prevText string
	if prev != nil {
		prevText = prev.CurrentText
	}
	res, err := p.Agents.Cohesion(ctx, rc.TC, ch.Title, prevText, ch.CurrentText, cp.Feedback)
	if err != nil {
		return nil, err
	}
	if !res.Changed {
		if res.UnapprovedByCritic {
			cp.markUnapproved(entity.StepCohesion)
		}
		cp.Step = entity.StepGate
		return advance(entity.StageChapter, snap), nil
	}
	cur, err := p.currentRevision(ctx, ch)
	if err != nil {
		return nil, err
	}
	rev = ch.NewRevision(entity.RevisionCohesionReviewed, res.Text, stage.BuildParagraphs(res.Text, cp.Citations))
	rev.VoiceScore = cp.VoiceScore
	rev.CriticScore = res.CriticScore
	rev.UnapprovedByCritic = res.UnapprovedByCritic
	if cur != nil {
		rev.FactReport = cur.FactReport
	}
	if err := p.appendRevision(ctx, ch, rev); err != nil {
		return nil, err
	}
	return afterCohesion(snap, rev), nil
}

func afterCohesion(snap *WorkflowSnapshot, rev *entity.ChapterRevision) *StepOutcome {
	if rev.UnapprovedByCritic {
		snap.Chapter.markUnapproved(entity.StepCohesion)
	}
	return commitRevision(snap, rev, entity.StepGate)
}

func (p *Pipeline) gateStep(ctx context.Context, rc *RunContext, outline *entity.BookOutline, ch *entity.Chapter) (*StepOutcome, error) {
	snap, cp := rc.Snapshot, rc.Snapshot.Chapter
	rev, err := p.pendingRevision(ctx, cp, ch, entity.RevisionSafetyReviewed)
	if err != nil {
		return nil, err
	}
	if rev != nil {
		return p.finishGate(ctx, snap, len(outline.Chapters), ch, rev)
	}

	cur, err := p.currentRevision(ctx, ch)
	if err != nil {
		return nil, err
	}
	var report *entity.FactReport
	if cur != nil {
		report = cur.FactReport
	}

	res, err := p.Agents.Gate(ctx, rc.TC, ch.CurrentText)
	if err != nil {
		return nil, err
	}

	if res.Blocked() {
		cp.SafetyRetries++
		if cp.SafetyRetries <= p.Retries.Safety {
			logger.Warn(ctx, "chapter flagged by safety gate, redrafting",
				"attempt", cp.SafetyRetries,
				"flags", len(res.Flags),
			)
			cp.Constraints = safety.ConstraintText(res.Flags)
			cp.restartDraft()
			return advance(entity.StageChapter, snap), nil
		}
		// 标记偏移基于未插入免责声明的原文
		rev = ch.NewRevision(entity.RevisionSafetyReviewed, ch.CurrentText, stage.BuildParagraphs(ch.CurrentText, cp.Citations))
		rev.SafetyFlags = res.Flags
	} else {
		rev = ch.NewRevision(entity.RevisionSafetyReviewed, res.Text, stage.BuildParagraphs(res.Text, cp.Citations))
		if len(res.Disclaimers) > 0 {
			rev.Notes = fmt.Sprintf("%d disclaimers inserted", len(res.Disclaimers))
		}
	}
	rev.VoiceScore = cp.VoiceScore
	rev.FactReport = report
	if err := p.appendRevision(ctx, ch, rev); err != nil {
		return nil, err
	}
	return p.finishGate(ctx, snap, len(outline.Chapters), ch, rev)
}

// finishGate 根据安全审查修订决定挂起等待人工或定稿进入下一章
func (p *Pipeline) finishGate(ctx context.Context, snap *WorkflowSnapshot, total int, ch *entity.Chapter, rev *entity.ChapterRevision) (*StepOutcome, error) {
	cp := snap.Chapter
	cp.CommittedSeq = rev.Seq
	if len(rev.SafetyFlags) > 0 {
		if err := p.awaitReview(ctx, ch); err != nil {
			return nil, err
		}
		return suspend(snap, fmt.Sprintf("revise required: chapter %d has %d unresolved safety flags after %d redrafts",
			cp.Index+1, len(rev.SafetyFlags), p.Retries.Safety), rev.ID), nil
	}

	if reasons := reviewReasons(rev.FactReport, cp, p.Review); len(reasons) > 0 {
		if err := p.awaitReview(ctx, ch); err != nil {
			return nil, err
		}
		return suspend(snap, fmt.Sprintf("approve or revise chapter %d: %s", cp.Index+1, strings.Join(reasons, "; ")), rev.ID), nil
	}

	if err := ch.MarkFinal(); err != nil {
		return nil, apperrors.Failed(string(entity.StageChapter), "chapter cannot be finalized", err)
	}
	if err := p.Chapters.Update(ctx, ch); err != nil {
		return nil, fmt.Errorf("failed to update chapter: %w", err)
	}
	logger.Info(ctx, "chapter auto-approved", "words", ch.WordCount)
	return advance(nextChapter(snap, total), snap, rev.ID), nil
}

// reviewReasons 章节不能自动通过的原因
func reviewReasons(report *entity.FactReport, cp *ChapterProgress, policy ReviewPolicy) []string {
	var reasons []string
	if report.BlocksAutoApproval() {
		r := fmt.Sprintf("%d unsupported claims", report.Count(entity.ClaimUnsupported))
		if s := report.SensitiveUnsupported(); len(s) > 0 {
			r += fmt.Sprintf(" (%d on sensitive topics)", len(s))
		}
		reasons = append(reasons, r)
	}
	if len(cp.Unapproved) > 0 {
		steps := make([]string, 0, len(cp.Unapproved))
		for _, s := range cp.Unapproved {
			steps = append(steps, string(s))
		}
		reasons = append(reasons, "critic did not approve "+strings.Join(steps, ", "))
	}
	if policy.RequireChapterApproval && len(reasons) == 0 {
		reasons = append(reasons, "chapter approval required")
	}
	return reasons
}

func (p *Pipeline) awaitReview(ctx context.Context, ch *entity.Chapter) error {
	ch.AwaitReview()
	if err := p.Chapters.Update(ctx, ch); err != nil {
		return fmt.Errorf("failed to update chapter: %w", err)
	}
	return nil
}

// nextChapter 当前章定稿后推进快照，返回目标阶段
func nextChapter(snap *WorkflowSnapshot, total int) entity.Stage {
	snap.CurrentChapter++
	snap.Chapter = nil
	if snap.CurrentChapter >= total {
		return entity.StageFinalize
	}
	return entity.StageChapter
}

func (p *Pipeline) finalizeStage(ctx context.Context, rc *RunContext) (*StepOutcome, error) {
	snap := rc.Snapshot
	existing, err := p.Manuscripts.GetByTask(ctx, rc.Task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load manuscript: %w", err)
	}
	if existing != nil {
		snap.ManuscriptID = existing.ID
		return &StepOutcome{Kind: entity.TransitionComplete, Snapshot: snap, ArtifactIDs: []string{existing.ID}}, nil
	}

	outline, err := p.approvedOutline(ctx, snap)
	if err != nil {
		return nil, err
	}
	chapters := make([]*entity.Chapter, 0, len(snap.ChapterIDs))
	revisions := make(map[string]*entity.ChapterRevision, len(snap.ChapterIDs))
	for i, id := range snap.ChapterIDs {
		ch, err := p.Chapters.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load chapter: %w", err)
		}
		if ch == nil || ch.Status != entity.ChapterStatusFinal {
			return nil, apperrors.Failed(string(entity.StageFinalize), fmt.Sprintf("chapter %d is not final", i+1), nil)
		}
		rev, err := p.currentRevision(ctx, ch)
		if err != nil {
			return nil, err
		}
		if rev != nil {
			revisions[rev.ID] = rev
		}
		chapters = append(chapters, ch)
	}
	if len(chapters) != len(outline.Chapters) {
		return nil, apperrors.Failed(string(entity.StageFinalize),
			fmt.Sprintf("%d of %d chapters written", len(chapters), len(outline.Chapters)), nil)
	}

	m := entity.AssembleManuscript(rc.Task, outline, chapters, revisions)
	if err := p.Manuscripts.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save manuscript: %w", err)
	}
	snap.ManuscriptID = m.ID
	logger.Info(ctx, "manuscript assembled", "chapters", len(m.Chapters), "words", m.WordCount)
	return &StepOutcome{Kind: entity.TransitionComplete, Snapshot: snap, ArtifactIDs: []string{m.ID}}, nil
}

func reasonOf(err error) string {
	if se, ok := apperrors.AsStageError(err); ok && se.Reason != "" {
		return se.Reason
	}
	return err.Error()
}

func tailRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
