package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"manuscript-ai-api/internal/application/stage"
	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
	apperrors "manuscript-ai-api/pkg/errors"
	"manuscript-ai-api/pkg/logger"
)

// Decision 人工反馈的决定
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionRevise  Decision = "revise"
)

// Valid 是否为已知决定
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject || d == DecisionRevise
}

// ServiceConfig 生命周期服务参数
type ServiceConfig struct {
	DefaultChapterCount int
	DefaultTargetWords  int
	// CASAttempts 暂停、取消与运行中的 worker 竞争时的重试次数
	CASAttempts int
}

// ServiceDeps 生命周期服务的依赖
type ServiceDeps struct {
	Tasks       repository.TaskRepository
	Materials   repository.MaterialRepository
	Outlines    repository.OutlineRepository
	Chapters    repository.ChapterRepository
	Manuscripts repository.ManuscriptRepository
	Profiles    repository.VoiceProfileRepository
	Calibrator  ProfileCalibrator
	Queue       TaskQueue
	Tx          repository.Transactor
}

// Service 任务生命周期：创建、查询、反馈、暂停、恢复、取消与导出
type Service struct {
	ServiceDeps
	cfg ServiceConfig
}

func NewService(deps ServiceDeps, cfg ServiceConfig) *Service {
	if cfg.DefaultChapterCount <= 0 {
		cfg.DefaultChapterCount = 8
	}
	if cfg.DefaultTargetWords <= 0 {
		cfg.DefaultTargetWords = 20000
	}
	if cfg.CASAttempts <= 0 {
		cfg.CASAttempts = 5
	}
	return &Service{ServiceDeps: deps, cfg: cfg}
}

// Start 为项目创建任务并入队
func (s *Service) Start(ctx context.Context, projectID string, brief stage.Brief) (*entity.GenerationTask, error) {
	projectID = strings.TrimSpace(projectID)
	brief.Title = strings.TrimSpace(brief.Title)
	brief.Brief = strings.TrimSpace(brief.Brief)
	if projectID == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("project_id is required")
	}
	if brief.Title == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("title is required")
	}
	if brief.ChapterCount < 0 || brief.TargetWords < 0 {
		return nil, apperrors.ErrInvalidParam.WithDetail("chapter_count and target_words must not be negative")
	}
	if brief.ChapterCount == 0 {
		brief.ChapterCount = s.cfg.DefaultChapterCount
	}
	if brief.TargetWords == 0 {
		brief.TargetWords = s.cfg.DefaultTargetWords
	}
	if s.Materials != nil {
		list, err := s.Materials.ListByProject(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to list materials: %w", err)
		}
		if len(list) == 0 {
			return nil, apperrors.ErrInvalidParam.WithDetail("project has no source material")
		}
	}

	snap := &WorkflowSnapshot{Brief: brief, ChapterIDs: []string{}}
	raw, err := snap.Encode()
	if err != nil {
		return nil, err
	}
	task := entity.NewGenerationTask(projectID, raw)
	if err := s.Tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	ctx = logger.WithTask(ctx, projectID, task.ID)
	logger.Info(ctx, "generation task created", "chapters", brief.ChapterCount, "target_words", brief.TargetWords)

	s.enqueue(ctx, task, ReasonStart)
	return task, nil
}

// TaskStatus 任务状态视图
type TaskStatus struct {
	TaskID          string             `json:"task_id"`
	ProjectID       string             `json:"project_id"`
	State           entity.TaskState   `json:"state"`
	Stage           entity.Stage       `json:"stage"`
	Step            entity.ChapterStep `json:"step,omitempty"`
	Chapter         int                `json:"chapter,omitempty"`
	TotalChapters   int                `json:"total_chapters"`
	Progress        float64            `json:"progress"`
	PendingDecision string             `json:"pending_decision,omitempty"`
	FailureStage    entity.Stage       `json:"failure_stage,omitempty"`
	FailureReason   string             `json:"failure_reason,omitempty"`
	RetryCount      int                `json:"retry_count"`
	Cost            entity.Cost        `json:"cost"`
	OutlineID       string             `json:"outline_id,omitempty"`
	ManuscriptID    string             `json:"manuscript_id,omitempty"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// GetStatus 查询任务状态
func (s *Service) GetStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	task, snap, err := s.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	st := &TaskStatus{
		TaskID:          task.ID,
		ProjectID:       task.ProjectID,
		State:           task.State,
		Stage:           task.Stage,
		PendingDecision: task.PendingDecision,
		FailureStage:    task.FailureStage,
		FailureReason:   task.FailureReason,
		RetryCount:      task.RetryCount,
		Cost:            task.Cost,
		OutlineID:       snap.OutlineID,
		ManuscriptID:    snap.ManuscriptID,
		TotalChapters:   snap.Brief.ChapterCount,
		UpdatedAt:       task.UpdatedAt,
	}
	if snap.OutlineID != "" {
		o, err := s.Outlines.GetByID(ctx, snap.OutlineID)
		if err != nil {
			return nil, fmt.Errorf("failed to load outline: %w", err)
		}
		if o != nil {
			st.TotalChapters = len(o.Chapters)
		}
	}
	if task.Stage == entity.StageChapter {
		st.Chapter = snap.CurrentChapter + 1
		if snap.Chapter != nil {
			st.Step = snap.Chapter.Step
		} else {
			st.Step = entity.StepDraft
		}
	}
	st.Progress = progressOf(task, snap, st.TotalChapters)
	return st, nil
}

// progressOf 粗略进度：前置阶段占 20%，章节占 75%，定稿占 5%
func progressOf(task *entity.GenerationTask, snap *WorkflowSnapshot, total int) float64 {
	if task.State == entity.TaskStateCompleted {
		return 1
	}
	switch task.Stage {
	case entity.StageIngest:
		return 0
	case entity.StageEmbed:
		return 0.05
	case entity.StageCalibrate:
		return 0.1
	case entity.StageOutline:
		return 0.15
	case entity.StageChapter:
		if total <= 0 {
			return 0.2
		}
		done := float64(snap.CurrentChapter)
		if snap.Chapter != nil {
			steps := entity.AllChapterSteps()
			for i, s := range steps {
				if s == snap.Chapter.Step {
					done += float64(i) / float64(len(steps))
					break
				}
			}
		}
		return 0.2 + 0.75*done/float64(total)
	default:
		return 0.95
	}
}

// SubmitFeedback 对等待中的任务提交决定，成功后任务重新入队
func (s *Service) SubmitFeedback(ctx context.Context, taskID string, decision Decision, notes string) (*entity.GenerationTask, error) {
	if !decision.Valid() {
		return nil, apperrors.ErrInvalidParam.WithDetail(fmt.Sprintf("unknown decision %q", decision))
	}
	notes = strings.TrimSpace(notes)

	var out *entity.GenerationTask
	err := s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		task, snap, err := s.load(ctx, taskID)
		if err != nil {
			return err
		}
		if task.State != entity.TaskStateAwaitingFeedback {
			return apperrors.ErrInvalidTransition.WithDetail(fmt.Sprintf("task is %s, not awaiting feedback", task.State))
		}

		var to entity.Stage
		switch task.Stage {
		case entity.StageOutline:
			to, err = s.outlineFeedback(ctx, snap, decision, notes)
		case entity.StageChapter:
			to, err = s.chapterFeedback(ctx, snap, decision, notes)
		default:
			err = apperrors.ErrInvalidTransition.WithDetail(fmt.Sprintf("stage %s takes no feedback", task.Stage))
		}
		if err != nil {
			return err
		}

		raw, err := snap.Encode()
		if err != nil {
			return err
		}
		next, err := s.apply(ctx, task, entity.Transition{Kind: entity.TransitionFeedback, To: to, Snapshot: raw})
		if err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	ctx = logger.WithTask(ctx, out.ProjectID, out.ID)
	logger.Info(ctx, "feedback accepted", "decision", string(decision), "stage", string(out.Stage))
	s.enqueue(ctx, out, ReasonFeedback)
	return out, nil
}

func (s *Service) outlineFeedback(ctx context.Context, snap *WorkflowSnapshot, decision Decision, notes string) (entity.Stage, error) {
	var o *entity.BookOutline
	if snap.OutlineID != "" {
		var err error
		if o, err = s.Outlines.GetByID(ctx, snap.OutlineID); err != nil {
			return "", fmt.Errorf("failed to load outline: %w", err)
		}
	}
	hasCandidate := o != nil && o.Status == entity.OutlineStatusCandidate

	if decision == DecisionApprove {
		if !hasCandidate {
			return "", apperrors.ErrDecisionRefused.WithDetail("no candidate outline to approve")
		}
		if err := o.Approve(notes); err != nil {
			return "", apperrors.ErrDecisionRefused.WithDetail(err.Error())
		}
		if err := s.Outlines.UpdateStatus(ctx, o); err != nil {
			return "", fmt.Errorf("failed to update outline: %w", err)
		}
		snap.CurrentChapter = 0
		snap.Chapter = nil
		return entity.StageChapter, nil
	}

	if hasCandidate {
		if err := o.Reject(notes); err != nil {
			return "", apperrors.ErrDecisionRefused.WithDetail(err.Error())
		}
		if err := s.Outlines.UpdateStatus(ctx, o); err != nil {
			return "", fmt.Errorf("failed to update outline: %w", err)
		}
	}
	snap.OutlineNotes = notes
	snap.OutlineGroundingRetries = 0
	return entity.StageOutline, nil
}

func (s *Service) chapterFeedback(ctx context.Context, snap *WorkflowSnapshot, decision Decision, notes string) (entity.Stage, error) {
	cp := snap.Chapter
	if cp == nil {
		return "", apperrors.ErrInvalidTransition.WithDetail("no chapter awaiting review")
	}
	if decision != DecisionApprove {
		cp.Feedback = notes
		cp.SafetyRetries = 0
		cp.restartDraft()
		return entity.StageChapter, nil
	}

	ch, err := s.Chapters.GetByID(ctx, cp.ChapterID)
	if err != nil {
		return "", fmt.Errorf("failed to load chapter: %w", err)
	}
	if ch == nil {
		return "", apperrors.ErrChapterNotFound
	}
	if ch.UnresolvedSafetyFlags > 0 {
		return "", apperrors.ErrDecisionRefused.WithDetail(
			fmt.Sprintf("chapter %d has %d unresolved safety flags; revise it first", ch.Index+1, ch.UnresolvedSafetyFlags))
	}
	if err := ch.MarkFinal(); err != nil {
		return "", apperrors.ErrDecisionRefused.WithDetail(err.Error())
	}
	if err := s.Chapters.Update(ctx, ch); err != nil {
		return "", fmt.Errorf("failed to update chapter: %w", err)
	}

	o, err := s.Outlines.GetByID(ctx, snap.OutlineID)
	if err != nil {
		return "", fmt.Errorf("failed to load outline: %w", err)
	}
	if o == nil {
		return "", apperrors.ErrOutlineNotFound
	}
	return nextChapter(snap, len(o.Chapters)), nil
}

// Pause 暂停任务；运行中的 worker 在下一个检查点停止
func (s *Service) Pause(ctx context.Context, taskID string) (*entity.GenerationTask, error) {
	return s.transition(ctx, taskID, entity.Transition{Kind: entity.TransitionPause})
}

// Resume 恢复到暂停前的状态；等待反馈的任务恢复后仍等待反馈
func (s *Service) Resume(ctx context.Context, taskID string) (*entity.GenerationTask, error) {
	task, err := s.transition(ctx, taskID, entity.Transition{Kind: entity.TransitionResume})
	if err != nil {
		return nil, err
	}
	if task.State == entity.TaskStateRunning || task.State == entity.TaskStateQueued {
		s.enqueue(logger.WithTask(ctx, task.ProjectID, task.ID), task, ReasonResume)
	}
	return task, nil
}

// Cancel 取消任务，终态
func (s *Service) Cancel(ctx context.Context, taskID string) (*entity.GenerationTask, error) {
	return s.transition(ctx, taskID, entity.Transition{Kind: entity.TransitionCancel})
}

// transition 与 worker 的检查点提交竞争，版本冲突时重新加载重试
func (s *Service) transition(ctx context.Context, taskID string, tr entity.Transition) (*entity.GenerationTask, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.CASAttempts; attempt++ {
		task, _, err := s.load(ctx, taskID)
		if err != nil {
			return nil, err
		}
		next, err := s.apply(ctx, task, tr)
		if err == nil {
			logger.Info(logger.WithTask(ctx, next.ProjectID, next.ID), "task transition applied",
				"kind", string(tr.Kind),
				"state", string(next.State),
			)
			return next, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// apply 在副本上执行迁移并 CAS 写入
func (s *Service) apply(ctx context.Context, task *entity.GenerationTask, tr entity.Transition) (*entity.GenerationTask, error) {
	next := task.Clone()
	if err := next.Apply(tr); err != nil {
		return nil, apperrors.ErrInvalidTransition.WithDetail(err.Error())
	}
	if err := s.Tasks.CompareAndSwap(ctx, next, task.Version); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Service) load(ctx context.Context, taskID string) (*entity.GenerationTask, *WorkflowSnapshot, error) {
	task, err := s.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load task: %w", err)
	}
	if task == nil {
		return nil, nil, apperrors.ErrTaskNotFound
	}
	snap, err := DecodeSnapshot(task.Snapshot)
	if err != nil {
		return nil, nil, err
	}
	return task, snap, nil
}

// enqueue 入队失败不回滚状态，恢复巡检会重新投递
func (s *Service) enqueue(ctx context.Context, task *entity.GenerationTask, reason string) {
	if s.Queue == nil {
		return
	}
	ev := TaskEvent{TaskID: task.ID, ProjectID: task.ProjectID, Reason: reason, At: time.Now()}
	if err := s.Queue.Enqueue(ctx, ev); err != nil {
		logger.Warn(ctx, "failed to enqueue task event", "reason", reason, "error", err.Error())
	}
}

// GetOutline 任务最近一版大纲
func (s *Service) GetOutline(ctx context.Context, taskID string) (*entity.BookOutline, error) {
	_, snap, err := s.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if snap.OutlineID == "" {
		return nil, apperrors.ErrOutlineNotFound
	}
	o, err := s.Outlines.GetByID(ctx, snap.OutlineID)
	if err != nil {
		return nil, fmt.Errorf("failed to load outline: %w", err)
	}
	if o == nil {
		return nil, apperrors.ErrOutlineNotFound
	}
	return o, nil
}

// ChapterView 章节及其当前修订，供人工审核
type ChapterView struct {
	Chapter  *entity.Chapter         `json:"chapter"`
	Revision *entity.ChapterRevision `json:"revision,omitempty"`
}

// GetChapter index 从 0 开始
func (s *Service) GetChapter(ctx context.Context, taskID string, index int) (*ChapterView, error) {
	_, snap, err := s.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	id := snap.chapterID(index)
	if id == "" {
		return nil, apperrors.ErrChapterNotFound
	}
	ch, err := s.Chapters.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load chapter: %w", err)
	}
	if ch == nil {
		return nil, apperrors.ErrChapterNotFound
	}
	view := &ChapterView{Chapter: ch}
	if ch.CurrentRevisionID != "" {
		if view.Revision, err = s.Chapters.GetRevision(ctx, ch.CurrentRevisionID); err != nil {
			return nil, fmt.Errorf("failed to load revision: %w", err)
		}
	}
	return view, nil
}

// Export 已完成任务的定稿
func (s *Service) Export(ctx context.Context, taskID string) (*entity.Manuscript, error) {
	task, _, err := s.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.State != entity.TaskStateCompleted {
		return nil, apperrors.ErrInvalidTransition.WithDetail(fmt.Sprintf("task is %s, manuscript not ready", task.State))
	}
	m, err := s.Manuscripts.GetByTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load manuscript: %w", err)
	}
	if m == nil {
		return nil, apperrors.ErrNotFound.WithDetail("manuscript not found")
	}
	return m, nil
}

// ListTasks 项目下的任务
func (s *Service) ListTasks(ctx context.Context, projectID string, limit int) ([]*entity.GenerationTask, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	list, err := s.Tasks.ListByProject(ctx, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return list, nil
}

// RecalibrateVoice 显式重新校准项目文风，之后起草的章节使用新版本
func (s *Service) RecalibrateVoice(ctx context.Context, projectID string) (*entity.VoiceProfile, error) {
	p, err := s.Calibrator.Recalibrate(ctx, projectID)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "voice profile recalibrated", "project_id", projectID, "version", p.Version)
	return p, nil
}

// GetVoiceProfile 项目当前文风档案
func (s *Service) GetVoiceProfile(ctx context.Context, projectID string) (*entity.VoiceProfile, error) {
	p, err := s.Profiles.GetCurrent(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load voice profile: %w", err)
	}
	if p == nil {
		return nil, apperrors.ErrProfileNotFound
	}
	return p, nil
}
