package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"manuscript-ai-api/internal/application/factcheck"
	"manuscript-ai-api/internal/application/ingestion"
	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/application/safety"
	"manuscript-ai-api/internal/application/stage"
	"manuscript-ai-api/internal/application/voice"
	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
	"manuscript-ai-api/internal/infrastructure/persistence/memory"
	"manuscript-ai-api/internal/workflow/chain"
	"manuscript-ai-api/internal/workflow/workflowtest"
	apperrors "manuscript-ai-api/pkg/errors"
)

const (
	approve     = `{"approved": true, "score": 0.9, "feedback": ""}`
	oneChapter  = `{"title":"Clinic Days","synopsis":"s","chapters":[{"title":"Mornings","summary":"opening hours","key_points":["hours"],"sources":[1]}]}`
	clinicDraft = "The clinic opens at 9am [1].\n\nPatients describe the waiting room as calm."
	clinicClaim = `{"claims":[{"text":"The clinic opens at 9am.","sentence":"The clinic opens at 9am."}]}`
	noClaims    = `{"claims":[]}`
)

// fixedRetriever 按检索阶段返回固定证据
type fixedRetriever map[string][]retrieval.Passage

func (r fixedRetriever) Retrieve(_ context.Context, q retrieval.Query) (*retrieval.Result, error) {
	return &retrieval.Result{Passages: r[q.Stage]}, nil
}

func passage(marker int, id string, score float64, text string) retrieval.Passage {
	ch := &entity.ContentChunk{
		ID:             id,
		MaterialID:     "m1",
		SourceFilename: "clinic-notes.txt",
		Text:           text,
		OffsetStart:    100 * marker,
		OffsetEnd:      100*marker + len([]rune(text)),
	}
	return retrieval.Passage{Marker: marker, Chunk: ch, Text: text, Score: score, Citation: entity.CitationFor(ch, score)}
}

func clinicEvidence() fixedRetriever {
	hours := passage(1, "c1", 0.8, "The clinic opens at 10am on weekdays.")
	staff := passage(2, "c2", 0.7, "Two nurses staff the front desk.")
	return fixedRetriever{
		"outline":    {hours, staff},
		"draft":      {hours, staff},
		"fact_check": {hours},
	}
}

// fakeIngester 把固定文本写成切片
type fakeIngester struct {
	chunks *memory.ChunkRepository
	mat    *entity.SourceMaterial
	hook   func()
}

func (f *fakeIngester) IngestProject(ctx context.Context, projectID string) (ingestion.Result, error) {
	if f.hook != nil {
		f.hook()
	}
	text := "The clinic opens at 10am on weekdays. Two nurses staff the front desk."
	c := entity.NewContentChunk(f.mat, 0, 0, len([]rune(text)), text)
	if err := f.chunks.ReplaceForMaterial(ctx, f.mat.ID, []*entity.ContentChunk{c}); err != nil {
		return ingestion.Result{}, err
	}
	return ingestion.Result{Processed: 1, Chunks: 1, MaterialIDs: []string{f.mat.ID}}, nil
}

type fakeIndexer struct {
	calls int
	fail  func(n int) error
}

func (f *fakeIndexer) EmbedPending(context.Context, string) (retrieval.IndexResult, error) {
	f.calls++
	if f.fail != nil {
		if err := f.fail(f.calls); err != nil {
			return retrieval.IndexResult{}, err
		}
	}
	return retrieval.IndexResult{Embedded: 1, Batches: 1}, nil
}

// fakeCalibrator 以给定文本的特征作为参考文风
type fakeCalibrator struct {
	profiles *memory.VoiceProfileRepository
	text     string
}

func (f *fakeCalibrator) EnsureProfile(ctx context.Context, projectID string) (*entity.VoiceProfile, bool, error) {
	cur, err := f.profiles.GetCurrent(ctx, projectID)
	if err != nil || cur != nil {
		return cur, false, err
	}
	p := entity.NewVoiceProfile(projectID, nil, "", voice.Extract(retrieval.StripMarkers(f.text)), len(f.text))
	return p, true, f.profiles.Save(ctx, p)
}

func (f *fakeCalibrator) Recalibrate(ctx context.Context, projectID string) (*entity.VoiceProfile, error) {
	cur, err := f.profiles.GetCurrent(ctx, projectID)
	if err != nil {
		return nil, err
	}
	p := cur.Recalibrated(nil, "", voice.Extract(f.text), len(f.text))
	return p, f.profiles.Save(ctx, p)
}

type flatPricing struct{}

func (flatPricing) EstimateUSD(_ string, prompt, completion int) float64 {
	return float64(prompt+completion) / 1e6
}

type harness struct {
	store    *memory.Store
	tasks    *memory.TaskRepository
	chapters *memory.ChapterRepository
	outlines *memory.OutlineRepository
	queue    *ChannelQueue
	model    *workflowtest.ScriptedModel
	ingester *fakeIngester
	indexer  *fakeIndexer
	svc      *Service
	runner   *Runner
}

type harnessOpts struct {
	voiceText string
	retries   RetryPolicy
	review    ReviewPolicy
	// runnerTasks 替换执行器使用的任务仓储
	runnerTasks func(*memory.TaskRepository) repository.TaskRepository
}

func newHarness(t *testing.T, store *memory.Store, m *workflowtest.ScriptedModel, o harnessOpts) *harness {
	t.Helper()
	if o.voiceText == "" {
		o.voiceText = clinicDraft
	}
	if o.retries.Transient == 0 {
		o.retries = RetryPolicy{Transient: 2, Grounding: 1, Safety: 1}
	}
	tasks := memory.NewTaskRepository(store)
	materials := memory.NewMaterialRepository(store)
	chunks := memory.NewChunkRepository(store)
	profiles := memory.NewVoiceProfileRepository(store)
	outlines := memory.NewOutlineRepository(store)
	chapters := memory.NewChapterRepository(store)
	manuscripts := memory.NewManuscriptRepository(store)

	ctx := context.Background()
	list, err := materials.ListByProject(ctx, "p1")
	if err != nil {
		t.Fatalf("list materials: %v", err)
	}
	var mat *entity.SourceMaterial
	if len(list) > 0 {
		mat = list[0]
	} else {
		mat = entity.NewSourceMaterial("p1", "clinic-notes.txt", "text/plain", "p1/clinic-notes.txt", 80)
		if err := materials.Create(ctx, mat); err != nil {
			t.Fatalf("create material: %v", err)
		}
	}

	r := clinicEvidence()
	gen := chain.NewGenerator(workflowtest.Factory{Model: m}, nil)
	safetyChecker := safety.NewChecker(nil, nil)
	agents := stage.NewAgents(gen, r,
		voice.NewScorer(nil, voice.DefaultThreshold, 0.5),
		factcheck.NewChecker(r, safetyChecker, factcheck.Options{}),
		safetyChecker,
		stage.Options{Loop: stage.LoopConfig{MaxExchanges: 3}},
	)
	calibrator := &fakeCalibrator{profiles: profiles, text: o.voiceText}
	ingester := &fakeIngester{chunks: chunks, mat: mat}
	indexer := &fakeIndexer{}

	pipeline := NewPipeline(PipelineDeps{
		Ingestion:   ingester,
		Indexer:     indexer,
		Calibrator:  calibrator,
		Agents:      agents,
		Chunks:      chunks,
		Profiles:    profiles,
		Outlines:    outlines,
		Chapters:    chapters,
		Manuscripts: manuscripts,
		Retries:     o.retries,
		Review:      o.review,
	})
	var runnerTasks repository.TaskRepository = tasks
	if o.runnerTasks != nil {
		runnerTasks = o.runnerTasks(tasks)
	}
	runner, err := NewRunner(runnerTasks, pipeline.Handlers(), flatPricing{}, RunnerConfig{
		Owner:    "worker-test",
		LeaseTTL: time.Minute,
		Retries:  o.retries,
	})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	runner.sleep = func(context.Context, time.Duration) error { return nil }

	queue := NewChannelQueue(16)
	svc := NewService(ServiceDeps{
		Tasks:       tasks,
		Materials:   materials,
		Outlines:    outlines,
		Chapters:    chapters,
		Manuscripts: manuscripts,
		Profiles:    profiles,
		Calibrator:  calibrator,
		Queue:       queue,
		Tx:          memory.Transactor{},
	}, ServiceConfig{})

	return &harness{
		store:    store,
		tasks:    tasks,
		chapters: chapters,
		outlines: outlines,
		queue:    queue,
		model:    m,
		ingester: ingester,
		indexer:  indexer,
		svc:      svc,
		runner:   runner,
	}
}

// drive 依次处理队列中的事件，直到队列为空
func (h *harness) drive(t *testing.T) {
	t.Helper()
	for i := 0; i < 20; i++ {
		ev, ok := h.queue.TryDequeue()
		if !ok {
			return
		}
		if err := h.runner.Run(context.Background(), ev.TaskID); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	t.Fatalf("queue did not drain")
}

// driveAfterCrash 与 drive 相同，但允许一次执行失败，随后像重新投递的事件一样再次执行
func (h *harness) driveAfterCrash(t *testing.T) {
	t.Helper()
	crashed := false
	for i := 0; i < 20; i++ {
		ev, ok := h.queue.TryDequeue()
		if !ok {
			if !crashed {
				t.Fatalf("no run failed")
			}
			return
		}
		err := h.runner.Run(context.Background(), ev.TaskID)
		if err == nil {
			continue
		}
		if crashed {
			t.Fatalf("Run: %v", err)
		}
		crashed = true
		if err := h.runner.Run(context.Background(), ev.TaskID); err != nil {
			t.Fatalf("Run after failed checkpoint: %v", err)
		}
	}
	t.Fatalf("queue did not drain")
}

func (h *harness) start(t *testing.T, chapters int) *entity.GenerationTask {
	t.Helper()
	task, err := h.svc.Start(context.Background(), "p1", stage.Brief{
		Title:        "Clinic Days",
		Brief:        "A short memoir about a neighbourhood clinic.",
		ChapterCount: chapters,
		TargetWords:  2000,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return task
}

func (h *harness) status(t *testing.T, taskID string) *TaskStatus {
	t.Helper()
	st, err := h.svc.GetStatus(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	return st
}

func callOf(m *workflowtest.ScriptedModel, workflow string, n int) *workflowtest.Call {
	for _, c := range m.Calls() {
		if c.Workflow == workflow && c.N == n {
			return &c
		}
	}
	return nil
}

func clinicModel() *workflowtest.ScriptedModel {
	return workflowtest.NewScriptedModel().
		Reply("outline", oneChapter).
		Reply("outline_critic", approve).
		Reply("draft", clinicDraft).
		Reply("draft_critic", approve).
		Reply("claim_extract", clinicClaim)
}

func TestRunner_SuspendsAtOutlineWithCheckpoint(t *testing.T) {
	h := newHarness(t, memory.NewStore(), clinicModel(), harnessOpts{})
	task := h.start(t, 1)
	h.drive(t)

	st := h.status(t, task.ID)
	if st.State != entity.TaskStateAwaitingFeedback || st.Stage != entity.StageOutline {
		t.Fatalf("status = %+v", st)
	}
	if st.PendingDecision != "approve or reject outline v1" {
		t.Fatalf("pending decision = %q", st.PendingDecision)
	}
	if st.Cost.LLMCalls < 2 || st.Cost.EmbeddingCalls != 1 || st.Cost.EstimatedUSD <= 0 {
		t.Fatalf("cost = %+v", st.Cost)
	}
	if h.model.Count("outline") != 1 || h.indexer.calls != 1 {
		t.Fatalf("outline calls = %d index calls = %d", h.model.Count("outline"), h.indexer.calls)
	}
	o, err := h.svc.GetOutline(context.Background(), task.ID)
	if err != nil || o.Status != entity.OutlineStatusCandidate || len(o.Chapters) != 1 {
		t.Fatalf("outline = %+v err = %v", o, err)
	}
}

func TestRestartAtOutlineFeedbackDoesNotRegenerate(t *testing.T) {
	store := memory.NewStore()
	first := newHarness(t, store, clinicModel(), harnessOpts{})
	task := first.start(t, 1)
	first.drive(t)
	if first.model.Count("outline") != 1 {
		t.Fatalf("outline calls = %d", first.model.Count("outline"))
	}

	// 新进程：新的服务、执行器与模型，共享同一检查点存储；新模型不认识 outline 工作流
	m := workflowtest.NewScriptedModel().
		Reply("draft", clinicDraft).
		Reply("draft_critic", approve).
		Reply("claim_extract", clinicClaim)
	second := newHarness(t, store, m, harnessOpts{})
	if _, err := second.svc.SubmitFeedback(context.Background(), task.ID, DecisionApprove, "looks right"); err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	second.drive(t)

	if m.Count("outline") != 0 || m.Count("outline_critic") != 0 {
		t.Fatalf("outline regenerated after restart")
	}
	if second.indexer.calls != 0 {
		t.Fatalf("earlier stages re-ran after restart")
	}
	st := second.status(t, task.ID)
	if st.Stage != entity.StageChapter || st.State != entity.TaskStateAwaitingFeedback {
		t.Fatalf("status = %+v", st)
	}
	o, _ := second.svc.GetOutline(context.Background(), task.ID)
	if o.Status != entity.OutlineStatusApproved || o.FeedbackNotes != "looks right" {
		t.Fatalf("outline = %+v", o)
	}
}

func TestClinicScenario_UnsupportedTimeIsNotAutoApproved(t *testing.T) {
	h := newHarness(t, memory.NewStore(), clinicModel(), harnessOpts{})
	task := h.start(t, 1)
	h.drive(t)
	if _, err := h.svc.SubmitFeedback(context.Background(), task.ID, DecisionApprove, ""); err != nil {
		t.Fatalf("approve outline: %v", err)
	}
	h.drive(t)

	st := h.status(t, task.ID)
	if st.State != entity.TaskStateAwaitingFeedback || st.Stage != entity.StageChapter || st.Step != entity.StepGate {
		t.Fatalf("status = %+v", st)
	}
	if !strings.Contains(st.PendingDecision, "1 unsupported claims") || !strings.Contains(st.PendingDecision, "sensitive") {
		t.Fatalf("pending decision = %q", st.PendingDecision)
	}
	if h.model.Count("voice_edit") != 0 {
		t.Fatalf("draft already in voice, voice edit should be skipped")
	}

	view, err := h.svc.GetChapter(context.Background(), task.ID, 0)
	if err != nil {
		t.Fatalf("GetChapter: %v", err)
	}
	if view.Chapter.Status != entity.ChapterStatusAwaitingReview {
		t.Fatalf("chapter status = %s", view.Chapter.Status)
	}
	rev := view.Revision
	if rev.Stage != entity.RevisionSafetyReviewed || len(rev.SafetyFlags) != 0 {
		t.Fatalf("revision = %+v", rev)
	}
	p := rev.Paragraphs[0]
	if p.Text != "The clinic opens at 9am." || len(p.Citations) != 1 {
		t.Fatalf("paragraph = %+v", p)
	}
	if c := p.Citations[0]; c.SourceFilename != "clinic-notes.txt" || c.OffsetStart != 100 || c.OffsetEnd != 137 {
		t.Fatalf("citation = %+v", c)
	}
	if rev.FactReport == nil || len(rev.FactReport.Claims) != 1 {
		t.Fatalf("fact report = %+v", rev.FactReport)
	}
	claim := rev.FactReport.Claims[0]
	if claim.Label != entity.ClaimUnsupported || !claim.Sensitive || claim.Citation == nil || claim.Citation.ChunkID != "c1" {
		t.Fatalf("claim = %+v", claim)
	}

	// 人工确认后才定稿
	if _, err := h.svc.SubmitFeedback(context.Background(), task.ID, DecisionApprove, "checked with the clinic"); err != nil {
		t.Fatalf("approve chapter: %v", err)
	}
	h.drive(t)
	st = h.status(t, task.ID)
	if st.State != entity.TaskStateCompleted || st.Progress != 1 {
		t.Fatalf("status = %+v", st)
	}
	m, err := h.svc.Export(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(m.Chapters) != 1 || m.Chapters[0].Paragraphs[0].Citations[0].SourceFilename != "clinic-notes.txt" {
		t.Fatalf("manuscript = %+v", m)
	}
}

func TestVoiceScenario_IteratesVoiceEdit(t *testing.T) {
	target := "We sat. The nurse called us in [1]. It was quick."
	long := "After what seemed like an interminable stretch of waiting on the narrow wooden bench that lined the corridor, " +
		"we were at last summoned by a nurse whose calm and patient manner belied the considerable pressure of the morning [1]."
	m := workflowtest.NewScriptedModel().
		Reply("outline", oneChapter).
		Reply("outline_critic", approve).
		Reply("draft", long).
		Reply("draft_critic", approve).
		Sequence("voice_edit", "We sat. The nurse called us in. It was quick.", target).
		Reply("claim_extract", noClaims)
	h := newHarness(t, memory.NewStore(), m, harnessOpts{voiceText: target})
	task := h.start(t, 1)
	h.drive(t)
	if _, err := h.svc.SubmitFeedback(context.Background(), task.ID, DecisionApprove, ""); err != nil {
		t.Fatalf("approve outline: %v", err)
	}
	h.drive(t)

	if m.Count("voice_edit") != 2 {
		t.Fatalf("voice_edit calls = %d", m.Count("voice_edit"))
	}
	view, err := h.svc.GetChapter(context.Background(), task.ID, 0)
	if err != nil {
		t.Fatalf("GetChapter: %v", err)
	}
	revs, err := h.chapters.ListRevisions(context.Background(), view.Chapter.ID)
	if err != nil {
		t.Fatalf("ListRevisions: %v", err)
	}
	var voiced *entity.ChapterRevision
	for _, r := range revs {
		if r.Stage == entity.RevisionVoiceEdited {
			voiced = r
		}
	}
	if voiced == nil || voiced.Text != target || voiced.VoiceScore < voice.DefaultThreshold {
		t.Fatalf("voice revision = %+v", voiced)
	}
	if revs[0].Stage != entity.RevisionDraft || revs[0].Text != long {
		t.Fatalf("draft revision must be kept: %+v", revs[0])
	}
}

func TestSafetyFlagsBlockApprovalAfterRedrafts(t *testing.T) {
	risky := "You should stop taking your medication today [1]."
	m := workflowtest.NewScriptedModel().
		Reply("outline", oneChapter).
		Reply("outline_critic", approve).
		Reply("draft", risky).
		Reply("draft_critic", approve).
		Reply("claim_extract", noClaims)
	h := newHarness(t, memory.NewStore(), m, harnessOpts{voiceText: risky})
	task := h.start(t, 1)
	h.drive(t)
	if _, err := h.svc.SubmitFeedback(context.Background(), task.ID, DecisionApprove, ""); err != nil {
		t.Fatalf("approve outline: %v", err)
	}
	h.drive(t)

	// 第一次被拦截后带约束重写一次，仍被拦截则等待人工
	if m.Count("draft") != 2 {
		t.Fatalf("draft calls = %d", m.Count("draft"))
	}
	first, second := callOf(m, "draft", 1), callOf(m, "draft", 2)
	if first == nil || second == nil || first.User == second.User {
		t.Fatalf("redraft prompt did not carry safety constraints")
	}
	st := h.status(t, task.ID)
	if st.State != entity.TaskStateAwaitingFeedback || !strings.HasPrefix(st.PendingDecision, "revise required") {
		t.Fatalf("status = %+v", st)
	}
	view, _ := h.svc.GetChapter(context.Background(), task.ID, 0)
	if view.Chapter.UnresolvedSafetyFlags != 1 || view.Revision.SafetyFlags[0].RuleID != "medical_advice.stop_medication" {
		t.Fatalf("chapter = %+v revision = %+v", view.Chapter, view.Revision)
	}

	_, err := h.svc.SubmitFeedback(context.Background(), task.ID, DecisionApprove, "")
	if !errors.Is(err, apperrors.ErrDecisionRefused) {
		t.Fatalf("approve with flags err = %v", err)
	}
	if st := h.status(t, task.ID); st.State != entity.TaskStateAwaitingFeedback {
		t.Fatalf("refused decision changed state: %+v", st)
	}

	if _, err := h.svc.SubmitFeedback(context.Background(), task.ID, DecisionRevise, "describe the visit, give no advice"); err != nil {
		t.Fatalf("revise: %v", err)
	}
	if st := h.status(t, task.ID); st.State != entity.TaskStateRunning || st.Step != entity.StepDraft {
		t.Fatalf("status after revise = %+v", st)
	}
}

func TestPauseDuringStageStopsAtCheckpoint(t *testing.T) {
	h := newHarness(t, memory.NewStore(), clinicModel(), harnessOpts{})
	task := h.start(t, 1)
	paused := false
	h.ingester.hook = func() {
		if paused {
			return
		}
		paused = true
		if _, err := h.svc.Pause(context.Background(), task.ID); err != nil {
			t.Errorf("Pause: %v", err)
		}
	}
	h.drive(t)

	st := h.status(t, task.ID)
	if st.State != entity.TaskStatePaused || st.Stage != entity.StageIngest {
		t.Fatalf("status = %+v", st)
	}
	if h.indexer.calls != 0 {
		t.Fatalf("runner continued after pause")
	}

	if _, err := h.svc.Resume(context.Background(), task.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	h.drive(t)
	st = h.status(t, task.ID)
	if st.State != entity.TaskStateAwaitingFeedback || st.Stage != entity.StageOutline {
		t.Fatalf("status after resume = %+v", st)
	}
}

func TestPauseResumeAndCancelAtFeedback(t *testing.T) {
	h := newHarness(t, memory.NewStore(), clinicModel(), harnessOpts{})
	task := h.start(t, 1)
	h.drive(t)
	ctx := context.Background()

	if _, err := h.svc.Pause(ctx, task.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := h.svc.SubmitFeedback(ctx, task.ID, DecisionApprove, ""); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("feedback while paused err = %v", err)
	}
	got, err := h.svc.Resume(ctx, task.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.State != entity.TaskStateAwaitingFeedback || h.queue.Len() != 0 {
		t.Fatalf("resume state = %s queued events = %d", got.State, h.queue.Len())
	}

	if _, err := h.svc.Cancel(ctx, task.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := h.svc.Cancel(ctx, task.ID); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("second cancel err = %v", err)
	}
	if _, err := h.svc.SubmitFeedback(ctx, task.ID, DecisionApprove, ""); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("feedback after cancel err = %v", err)
	}
	if _, err := h.svc.SubmitFeedback(ctx, task.ID, Decision("maybe"), ""); !errors.Is(err, apperrors.ErrInvalidParam) {
		t.Fatalf("unknown decision err = %v", err)
	}
}

func TestOutlineRejectRegeneratesNewVersion(t *testing.T) {
	h := newHarness(t, memory.NewStore(), clinicModel(), harnessOpts{})
	task := h.start(t, 1)
	h.drive(t)
	if _, err := h.svc.SubmitFeedback(context.Background(), task.ID, DecisionReject, "more about the nurses"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	h.drive(t)

	st := h.status(t, task.ID)
	if st.PendingDecision != "approve or reject outline v2" {
		t.Fatalf("pending decision = %q", st.PendingDecision)
	}
	if c := callOf(h.model, "outline", 2); c == nil || !strings.Contains(c.User, "more about the nurses") {
		t.Fatalf("rejection notes not passed to the outline prompt")
	}
	list, _ := h.outlines.ListByTask(context.Background(), task.ID)
	if len(list) != 2 || list[0].Status != entity.OutlineStatusRejected || list[1].Status != entity.OutlineStatusCandidate {
		t.Fatalf("outlines = %+v", list)
	}
}

func TestRunner_TransientErrorsRetryThenSucceed(t *testing.T) {
	h := newHarness(t, memory.NewStore(), clinicModel(), harnessOpts{})
	h.indexer.fail = func(n int) error {
		if n <= 2 {
			return apperrors.Transient("embed", errors.New("503 from provider"))
		}
		return nil
	}
	task := h.start(t, 1)
	h.drive(t)

	st := h.status(t, task.ID)
	if st.State != entity.TaskStateAwaitingFeedback || st.RetryCount != 0 || h.indexer.calls != 3 {
		t.Fatalf("status = %+v index calls = %d", st, h.indexer.calls)
	}
}

func TestRunner_TransientErrorsPastCapFail(t *testing.T) {
	h := newHarness(t, memory.NewStore(), clinicModel(), harnessOpts{})
	h.indexer.fail = func(int) error {
		return apperrors.Transient("embed", errors.New("timeout"))
	}
	task := h.start(t, 1)
	h.drive(t)

	st := h.status(t, task.ID)
	if st.State != entity.TaskStateFailed || st.FailureStage != entity.StageEmbed {
		t.Fatalf("status = %+v", st)
	}
	if !strings.Contains(st.FailureReason, "exceeded 2 retries") || h.indexer.calls != 3 {
		t.Fatalf("reason = %q calls = %d", st.FailureReason, h.indexer.calls)
	}
}

func TestRunner_LeaseHeldElsewhereIsSkipped(t *testing.T) {
	h := newHarness(t, memory.NewStore(), clinicModel(), harnessOpts{})
	task := h.start(t, 1)
	if _, err := h.tasks.Claim(context.Background(), task.ID, "other-worker", time.Minute); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := h.runner.Run(context.Background(), task.ID); !errors.Is(err, ErrTaskBusy) {
		t.Fatalf("Run err = %v", err)
	}
	if st := h.status(t, task.ID); st.State != entity.TaskStateQueued {
		t.Fatalf("status = %+v", st)
	}
}

func TestPool_RequeuesEventWhileLeaseHeld(t *testing.T) {
	h := newHarness(t, memory.NewStore(), clinicModel(), harnessOpts{})
	task := h.start(t, 1)
	ctx := context.Background()
	if _, err := h.tasks.Claim(ctx, task.ID, "paused-worker", time.Minute); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	pool := NewPool(h.queue, h.runner, 1)
	pool.busyDelay = 5 * time.Millisecond
	pool.Start(ctx)
	defer pool.Stop()

	time.Sleep(30 * time.Millisecond)
	if st := h.status(t, task.ID); st.State != entity.TaskStateQueued {
		t.Fatalf("task ran while leased elsewhere: %+v", st)
	}
	// 旧 worker 到达检查点后释放租约，重投的事件继续执行
	if err := h.tasks.Release(ctx, task.ID, "paused-worker"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		st := h.status(t, task.ID)
		if st.State == entity.TaskStateAwaitingFeedback {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event dropped while lease was held: %+v", st)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewRunner_RequiresTotalHandlerTable(t *testing.T) {
	noop := func(context.Context, *RunContext) (*StepOutcome, error) { return nil, nil }
	handlers := Handlers{}
	for _, s := range entity.AllStages() {
		if s != entity.StageFinalize {
			handlers[s] = noop
		}
	}
	repo := memory.NewTaskRepository(memory.NewStore())
	if _, err := NewRunner(repo, handlers, nil, RunnerConfig{Owner: "w"}); err == nil {
		t.Fatalf("missing finalize handler accepted")
	}
	handlers[entity.StageFinalize] = noop
	handlers[entity.Stage("publish")] = noop
	if _, err := NewRunner(repo, handlers, nil, RunnerConfig{Owner: "w"}); err == nil {
		t.Fatalf("unknown stage accepted")
	}
	delete(handlers, entity.Stage("publish"))
	if _, err := NewRunner(repo, handlers, nil, RunnerConfig{Owner: "w"}); err != nil {
		t.Fatalf("total table rejected: %v", err)
	}
}

func TestSweeper_RequeuesStaleRunningTask(t *testing.T) {
	h := newHarness(t, memory.NewStore(), clinicModel(), harnessOpts{})
	task := h.start(t, 1)
	h.queue.TryDequeue()

	base := time.Now()
	h.tasks.SetClock(func() time.Time { return base.Add(-time.Hour) })
	claimed, err := h.tasks.Claim(context.Background(), task.ID, "dead-worker", time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	running := claimed.Clone()
	if err := running.Apply(entity.Transition{Kind: entity.TransitionStart}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := h.tasks.CompareAndSwap(context.Background(), running, claimed.Version); err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	h.tasks.SetClock(time.Now)

	sw := NewSweeper(h.tasks, h.queue, SweeperConfig{StaleAfter: 5 * time.Minute})
	n, err := sw.SweepOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("SweepOnce = %d, %v", n, err)
	}
	ev, ok := h.queue.TryDequeue()
	if !ok || ev.TaskID != task.ID || ev.Reason != ReasonRecover {
		t.Fatalf("event = %+v ok = %v", ev, ok)
	}
	got, _ := h.tasks.GetByID(context.Background(), task.ID)
	if got.LeaseOwner != "" {
		t.Fatalf("lease not released: %q", got.LeaseOwner)
	}
}

// failingCommit 第一次满足条件的检查点写入返回存储错误，此时本步骤的产物已经落库
type failingCommit struct {
	*memory.TaskRepository
	when  func(next *entity.GenerationTask, snap *WorkflowSnapshot) bool
	fired bool
}

func (f *failingCommit) wrap(r *memory.TaskRepository) repository.TaskRepository {
	f.TaskRepository = r
	return f
}

func (f *failingCommit) CompareAndSwap(ctx context.Context, next *entity.GenerationTask, expected int64) error {
	if !f.fired && next.Stage == entity.StageChapter {
		snap, err := DecodeSnapshot(next.Snapshot)
		if err == nil && f.when(next, snap) {
			f.fired = true
			return errors.New("connection reset by peer")
		}
	}
	return f.TaskRepository.CompareAndSwap(ctx, next, expected)
}

// committingStep 提交的检查点已推进到 step
func committingStep(index int, step entity.ChapterStep) func(*entity.GenerationTask, *WorkflowSnapshot) bool {
	return func(_ *entity.GenerationTask, snap *WorkflowSnapshot) bool {
		return snap.Chapter != nil && snap.Chapter.Index == index && snap.Chapter.Step == step
	}
}

func revisionStages(t *testing.T, h *harness, taskID string) []entity.RevisionStage {
	t.Helper()
	chapters, err := h.chapters.ListByTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("ListByTask: %v", err)
	}
	var out []entity.RevisionStage
	for _, ch := range chapters {
		revs, err := h.chapters.ListRevisions(context.Background(), ch.ID)
		if err != nil {
			t.Fatalf("ListRevisions: %v", err)
		}
		for _, r := range revs {
			out = append(out, r.Stage)
		}
	}
	return out
}

func callCounts(m *workflowtest.ScriptedModel) map[string]int {
	out := map[string]int{}
	for _, c := range m.Calls() {
		out[c.Workflow]++
	}
	return out
}

func TestChapterStep_RevisionReusedAfterFailedCheckpoint(t *testing.T) {
	twoChapters := `{"title":"Clinic Days","synopsis":"s","chapters":[` +
		`{"title":"Mornings","summary":"opening hours","key_points":["hours"],"sources":[1]},` +
		`{"title":"Afternoons","summary":"the front desk","key_points":["staff"],"sources":[2]}]}`
	voiceTarget := "We sat. The nurse called us in [1]. It was quick."
	voiceLong := "After what seemed like an interminable stretch of waiting on the narrow wooden bench that lined the corridor, " +
		"we were at last summoned by a nurse whose calm and patient manner belied the considerable pressure of the morning [1]."

	cases := []struct {
		name      string
		model     func() *workflowtest.ScriptedModel
		voiceText string
		chapters  int
		when      func(*entity.GenerationTask, *WorkflowSnapshot) bool
		reused    entity.RevisionStage
	}{
		{
			name:   "draft",
			model:  clinicModel,
			when:   committingStep(0, entity.StepVoiceEdit),
			reused: entity.RevisionDraft,
		},
		{
			name: "voice_edit",
			model: func() *workflowtest.ScriptedModel {
				return workflowtest.NewScriptedModel().
					Reply("outline", oneChapter).
					Reply("outline_critic", approve).
					Reply("draft", voiceLong).
					Reply("draft_critic", approve).
					Sequence("voice_edit", "We sat. The nurse called us in. It was quick.", voiceTarget).
					Reply("claim_extract", noClaims)
			},
			voiceText: voiceTarget,
			when:      committingStep(0, entity.StepFactCheck),
			reused:    entity.RevisionVoiceEdited,
		},
		{
			name:   "fact_check",
			model:  clinicModel,
			when:   committingStep(0, entity.StepCohesion),
			reused: entity.RevisionFactChecked,
		},
		{
			name: "cohesion",
			model: func() *workflowtest.ScriptedModel {
				return workflowtest.NewScriptedModel().
					Reply("outline", twoChapters).
					Reply("outline_critic", approve).
					Reply("draft", clinicDraft).
					Reply("draft_critic", approve).
					Reply("claim_extract", noClaims).
					Reply("cohesion", "The clinic opens at 9am [1].\n\nPatients describe the waiting room as quiet.").
					Reply("cohesion_critic", approve)
			},
			chapters: 2,
			when:     committingStep(1, entity.StepGate),
			reused:   entity.RevisionCohesionReviewed,
		},
		{
			name:  "gate",
			model: clinicModel,
			when: func(next *entity.GenerationTask, _ *WorkflowSnapshot) bool {
				return next.State == entity.TaskStateAwaitingFeedback
			},
			reused: entity.RevisionSafetyReviewed,
		},
	}

	run := func(t *testing.T, h *harness, chapters int, crash bool) *TaskStatus {
		t.Helper()
		task := h.start(t, chapters)
		h.drive(t)
		if _, err := h.svc.SubmitFeedback(context.Background(), task.ID, DecisionApprove, ""); err != nil {
			t.Fatalf("approve outline: %v", err)
		}
		if crash {
			h.driveAfterCrash(t)
		} else {
			h.drive(t)
		}
		return h.status(t, task.ID)
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.chapters == 0 {
				tc.chapters = 1
			}
			clean := newHarness(t, memory.NewStore(), tc.model(), harnessOpts{voiceText: tc.voiceText})
			want := run(t, clean, tc.chapters, false)

			failing := &failingCommit{when: tc.when}
			h := newHarness(t, memory.NewStore(), tc.model(), harnessOpts{voiceText: tc.voiceText, runnerTasks: failing.wrap})
			got := run(t, h, tc.chapters, true)
			if !failing.fired {
				t.Fatalf("checkpoint write never failed")
			}

			if got.State != want.State || got.Stage != want.Stage || got.Step != want.Step || got.PendingDecision != want.PendingDecision {
				t.Fatalf("status = %+v, want %+v", got, want)
			}
			wantCalls, gotCalls := callCounts(clean.model), callCounts(h.model)
			for wf, n := range wantCalls {
				if gotCalls[wf] != n {
					t.Fatalf("%s calls = %d, want %d", wf, gotCalls[wf], n)
				}
			}
			wantRevs, gotRevs := revisionStages(t, clean, want.TaskID), revisionStages(t, h, got.TaskID)
			if len(gotRevs) != len(wantRevs) {
				t.Fatalf("revisions = %v, want %v", gotRevs, wantRevs)
			}
			n := 0
			for i := range gotRevs {
				if gotRevs[i] != wantRevs[i] {
					t.Fatalf("revisions = %v, want %v", gotRevs, wantRevs)
				}
				if gotRevs[i] == tc.reused {
					n++
				}
			}
			if n == 0 {
				t.Fatalf("no %s revision written", tc.reused)
			}
		})
	}
}

func TestOutlineSafetyFlagsShownInPendingDecision(t *testing.T) {
	risky := `{"title":"Clinic Days","synopsis":"s","chapters":[{"title":"Mornings","summary":"opening hours",` +
		`"key_points":["You should stop taking your medication today"],"sources":[1]}]}`
	m := workflowtest.NewScriptedModel().
		Reply("outline", risky).
		Reply("outline_critic", approve)
	h := newHarness(t, memory.NewStore(), m, harnessOpts{})
	task := h.start(t, 1)
	h.drive(t)

	st := h.status(t, task.ID)
	if st.State != entity.TaskStateAwaitingFeedback || st.Stage != entity.StageOutline {
		t.Fatalf("status = %+v", st)
	}
	if !strings.Contains(st.PendingDecision, "1 safety flags, first medical_advice.stop_medication") {
		t.Fatalf("pending decision = %q", st.PendingDecision)
	}
	o, err := h.svc.GetOutline(context.Background(), task.ID)
	if err != nil || len(o.SafetyFlags) != 1 {
		t.Fatalf("outline = %+v err = %v", o, err)
	}
}
