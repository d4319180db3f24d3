package stage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"manuscript-ai-api/internal/application/factcheck"
	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/application/safety"
	"manuscript-ai-api/internal/application/voice"
	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/workflow/chain"
	"manuscript-ai-api/internal/workflow/workflowtest"
	apperrors "manuscript-ai-api/pkg/errors"
)

const approve = `{"approved": true, "score": 0.9, "feedback": ""}`

// stageRetriever 按检索阶段返回固定证据
type stageRetriever map[string][]retrieval.Passage

func (r stageRetriever) Retrieve(_ context.Context, q retrieval.Query) (*retrieval.Result, error) {
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

func clinicRetriever() stageRetriever {
	hours := passage(1, "c1", 0.8, "The clinic opens at 10am on weekdays.")
	staff := passage(2, "c2", 0.7, "Two nurses staff the front desk.")
	return stageRetriever{
		"outline":    {hours, staff},
		"draft":      {hours, staff},
		"fact_check": {hours},
	}
}

func newTestAgents(m *workflowtest.ScriptedModel, r stageRetriever, profile *entity.VoiceProfile) (*Agents, *TaskContext) {
	gen := chain.NewGenerator(workflowtest.Factory{Model: m}, nil)
	safetyChecker := safety.NewChecker(nil, nil)
	facts := factcheck.NewChecker(r, safetyChecker, factcheck.Options{})
	scorer := voice.NewScorer(nil, voice.DefaultThreshold, 0.5)
	a := NewAgents(gen, r, scorer, facts, safetyChecker, Options{Loop: LoopConfig{MaxExchanges: 3}})
	tc := NewTaskContext(&entity.GenerationTask{ID: "t1", ProjectID: "p1"}, Brief{
		Title:        "Clinic Days",
		Brief:        "A short memoir about a neighbourhood clinic.",
		ChapterCount: 2,
		TargetWords:  4000,
	})
	tc.Profile = profile
	return a, tc
}

func TestOutline_RetriesUntilChapterCountMatches(t *testing.T) {
	one := `{"title":"Clinic Days","synopsis":"s","chapters":[{"title":"Mornings","summary":"opening hours","key_points":["hours"],"sources":[1]}]}`
	two := `{"title":"Clinic Days","synopsis":"s","chapters":[` +
		`{"title":"Mornings","summary":"opening hours","key_points":["hours"],"sources":[1]},` +
		`{"title":"People","summary":"the staff","key_points":["nurses"],"sources":[2,2]}]}`
	m := workflowtest.NewScriptedModel().
		Sequence("outline", "not json at all", one, two).
		Reply("outline_critic", approve)
	a, tc := newTestAgents(m, clinicRetriever(), nil)

	res, err := a.Outline(context.Background(), tc, 1, "")
	if err != nil {
		t.Fatalf("Outline: %v", err)
	}
	o := res.Outline
	if len(o.Chapters) != 2 || o.Version != 1 || o.Status != entity.OutlineStatusCandidate {
		t.Fatalf("outline = %+v", o)
	}
	if o.Chapters[1].Index != 1 || o.Chapters[1].WordBudget != 2000 {
		t.Fatalf("chapter = %+v", o.Chapters[1])
	}
	if len(o.Chapters[1].Citations) != 1 || o.Chapters[1].Citations[0].ChunkID != "c2" {
		t.Fatalf("citations = %+v", o.Chapters[1].Citations)
	}
	if o.UnapprovedByCritic || res.Exchanges != 2 {
		t.Fatalf("unapproved = %v exchanges = %d", o.UnapprovedByCritic, res.Exchanges)
	}
	// 章节数不符时只走确定性校验，不调用 LLM critic
	if got := m.Count("outline_critic"); got != 1 {
		t.Fatalf("outline_critic calls = %d", got)
	}
	if got := m.Count("outline"); got != 3 {
		t.Fatalf("outline calls = %d", got)
	}
	if u := m.Calls()[1].User; !strings.Contains(u, "合法 JSON") {
		t.Fatalf("corrective retry feedback missing: %s", u)
	}
}

func TestOutline_NoEvidenceIsGroundingError(t *testing.T) {
	m := workflowtest.NewScriptedModel()
	a, tc := newTestAgents(m, stageRetriever{}, nil)
	_, err := a.Outline(context.Background(), tc, 1, "")
	if !errors.Is(err, apperrors.ErrInsufficientGrounding) {
		t.Fatalf("err = %v", err)
	}
	if len(m.Calls()) != 0 {
		t.Fatalf("model must not be called without evidence")
	}
}

func testOutline() *entity.BookOutline {
	return entity.NewBookOutline("p1", "t1", 1, "Clinic Days", "s", []entity.ChapterOutline{
		{Title: "Mornings", Summary: "opening hours", KeyPoints: []string{"hours"}, WordBudget: 2000},
	})
}

func TestDraft_RequiresCitationsOnFactualParagraphs(t *testing.T) {
	m := workflowtest.NewScriptedModel().
		Sequence("draft",
			"The clinic opens at 10am on weekdays.",
			"The clinic opens at 10am on weekdays [1].\n\nWe waited on the bench outside.").
		Reply("draft_critic", approve)
	a, tc := newTestAgents(m, clinicRetriever(), nil)

	res, err := a.Draft(context.Background(), tc, DraftInput{Outline: testOutline(), Index: 0})
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if m.Count("draft") != 2 || m.Count("draft_critic") != 1 {
		t.Fatalf("draft calls = %d critic calls = %d", m.Count("draft"), m.Count("draft_critic"))
	}
	if !strings.Contains(m.Calls()[1].User, "没有引用素材") {
		t.Fatalf("grounding feedback not passed to second attempt")
	}
	if len(res.Paragraphs) != 2 {
		t.Fatalf("paragraphs = %+v", res.Paragraphs)
	}
	p := res.Paragraphs[0]
	if p.Text != "The clinic opens at 10am on weekdays." || len(p.Citations) != 1 {
		t.Fatalf("paragraph = %+v", p)
	}
	if p.Citations[0].SourceFilename != "clinic-notes.txt" || p.Citations[0].OffsetStart != 100 {
		t.Fatalf("citation = %+v", p.Citations[0])
	}
	if !strings.Contains(res.Text, "[1]") {
		t.Fatalf("draft text must keep markers: %q", res.Text)
	}
}

func TestDraft_UngroundedBestCandidateFails(t *testing.T) {
	m := workflowtest.NewScriptedModel().Reply("draft", "The clinic opens at 10am on weekdays [7].")
	a, tc := newTestAgents(m, clinicRetriever(), nil)

	_, err := a.Draft(context.Background(), tc, DraftInput{Outline: testOutline(), Index: 0})
	if !errors.Is(err, apperrors.ErrInsufficientGrounding) {
		t.Fatalf("err = %v", err)
	}
	if m.Count("draft") != 3 || m.Count("draft_critic") != 0 {
		t.Fatalf("draft calls = %d critic calls = %d", m.Count("draft"), m.Count("draft_critic"))
	}
}

func TestVoiceEdit_IteratesUntilThreshold(t *testing.T) {
	target := "We sat. The nurse called us in [1]. It was quick."
	profile := entity.NewVoiceProfile("p1", nil, "", voice.Extract(retrieval.StripMarkers(target)), 0)
	draft := "After what seemed like an interminable stretch of waiting on the narrow wooden bench that lined the corridor, " +
		"we were at last summoned by a nurse whose calm and patient manner belied the considerable pressure of the morning [1]."

	m := workflowtest.NewScriptedModel().Sequence("voice_edit",
		"We sat. The nurse called us in. It was quick.",
		target,
	)
	a, tc := newTestAgents(m, clinicRetriever(), profile)

	res, err := a.VoiceEdit(context.Background(), tc, draft, "")
	if err != nil {
		t.Fatalf("VoiceEdit: %v", err)
	}
	if !res.Changed || res.Text != target || res.Exchanges != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.Score < voice.DefaultThreshold || res.UnapprovedByCritic {
		t.Fatalf("score = %.3f unapproved = %v", res.Score, res.UnapprovedByCritic)
	}
	if !strings.Contains(m.Calls()[1].User, "[n]") {
		t.Fatalf("marker feedback not passed on: %s", m.Calls()[1].User)
	}
}

func TestVoiceEdit_SkipsWhenAlreadyInVoice(t *testing.T) {
	text := "We sat. The nurse called us in [1]. It was quick."
	profile := entity.NewVoiceProfile("p1", nil, "", voice.Extract(retrieval.StripMarkers(text)), 0)
	m := workflowtest.NewScriptedModel()
	a, tc := newTestAgents(m, clinicRetriever(), profile)

	res, err := a.VoiceEdit(context.Background(), tc, text, "")
	if err != nil {
		t.Fatalf("VoiceEdit: %v", err)
	}
	if res.Changed || res.Text != text || len(m.Calls()) != 0 {
		t.Fatalf("result = %+v calls = %d", res, len(m.Calls()))
	}
}

func TestFactCheck_ConflictingTimeIsUnsupportedWithCitation(t *testing.T) {
	text := "The clinic opens at 9am [1].\n\nPatients describe the waiting room as calm."
	m := workflowtest.NewScriptedModel().Sequence("claim_extract",
		`{"claims":[{"text":"The clinic opens early.","sentence":"The clinic opens early."}]}`,
		`{"claims":[{"text":"The clinic opens at 9am.","sentence":"The clinic opens at 9am."}]}`,
	)
	a, tc := newTestAgents(m, clinicRetriever(), nil)

	res, err := a.FactCheck(context.Background(), tc, text)
	if err != nil {
		t.Fatalf("FactCheck: %v", err)
	}
	if m.Count("claim_extract") != 2 {
		t.Fatalf("claim_extract calls = %d", m.Count("claim_extract"))
	}
	if len(res.Report.Claims) != 1 {
		t.Fatalf("claims = %+v", res.Report.Claims)
	}
	c := res.Report.Claims[0]
	if c.Label != entity.ClaimUnsupported || c.Paragraph != 0 {
		t.Fatalf("claim = %+v", c)
	}
	if c.Citation == nil || c.Citation.SourceFilename != "clinic-notes.txt" || c.Citation.OffsetStart != 100 {
		t.Fatalf("citation = %+v", c.Citation)
	}
	if !c.Sensitive {
		t.Fatalf("clinic hours should be marked sensitive")
	}
	if res.Text != text {
		t.Fatalf("unsupported claims must not be rewritten: %q", res.Text)
	}
	if !res.Report.BlocksAutoApproval() {
		t.Fatalf("report should block auto approval")
	}
}

func TestCohesion_SkipsFirstChapterAndKeepsOriginalOnLostMarkers(t *testing.T) {
	m := workflowtest.NewScriptedModel().Reply("cohesion", "The clinic opens at 10am on weekdays.")
	a, tc := newTestAgents(m, clinicRetriever(), nil)
	text := "The clinic opens at 10am on weekdays [1]."

	res, err := a.Cohesion(context.Background(), tc, "Mornings", "", text, "")
	if err != nil || res.Text != text || len(m.Calls()) != 0 {
		t.Fatalf("first chapter: res = %+v err = %v calls = %d", res, err, len(m.Calls()))
	}

	res, err = a.Cohesion(context.Background(), tc, "People", "The previous chapter ended at dawn.", text, "")
	if err != nil {
		t.Fatalf("Cohesion: %v", err)
	}
	if res.Changed || res.Text != text || !res.UnapprovedByCritic {
		t.Fatalf("result = %+v", res)
	}
	if m.Count("cohesion_critic") != 0 {
		t.Fatalf("critic must not run on candidates that lost markers")
	}
}

func TestGate_FlagsAndDisclaimers(t *testing.T) {
	m := workflowtest.NewScriptedModel()
	a, tc := newTestAgents(m, clinicRetriever(), nil)

	res, err := a.Gate(context.Background(), tc, "Her doctor said she could stop taking her medication in spring.")
	if err != nil {
		t.Fatalf("Gate: %v", err)
	}
	if res.Blocked() {
		t.Fatalf("third-person narration should not be flagged: %+v", res.Flags)
	}
	if len(res.Disclaimers) != 1 || !strings.HasSuffix(res.Text, res.Disclaimers[0].Text) {
		t.Fatalf("disclaimer missing: %q", res.Text)
	}

	res, err = a.Gate(context.Background(), tc, "You should stop taking your medication today.")
	if err != nil {
		t.Fatalf("Gate: %v", err)
	}
	if !res.Blocked() || res.Flags[0].RuleID != "medical_advice.stop_medication" {
		t.Fatalf("flags = %+v", res.Flags)
	}
}

func TestOutline_SafetyFlagsAttachedToCandidate(t *testing.T) {
	risky := `{"title":"Clinic Days","synopsis":"s","chapters":[` +
		`{"title":"Mornings","summary":"opening hours","key_points":["You should stop taking your medication today"],"sources":[1]},` +
		`{"title":"People","summary":"the staff","key_points":["nurses"],"sources":[2]}]}`
	m := workflowtest.NewScriptedModel().
		Reply("outline", risky).
		Reply("outline_critic", approve)
	a, tc := newTestAgents(m, clinicRetriever(), nil)

	res, err := a.Outline(context.Background(), tc, 1, "")
	if err != nil {
		t.Fatalf("Outline: %v", err)
	}
	o := res.Outline
	if len(o.SafetyFlags) != 1 || o.SafetyFlags[0].RuleID != "medical_advice.stop_medication" {
		t.Fatalf("flags = %+v", o.SafetyFlags)
	}
	f := o.SafetyFlags[0]
	if got := string([]rune(o.Text())[f.Start:f.End]); got != f.Excerpt {
		t.Fatalf("flag offsets %d..%d select %q, excerpt %q", f.Start, f.End, got, f.Excerpt)
	}
}
