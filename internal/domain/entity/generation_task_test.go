package entity

import (
	"encoding/json"
	"errors"
	"testing"
)

func runningTask(stage Stage) *GenerationTask {
	t := NewGenerationTask("p1", json.RawMessage(`{}`))
	t.State = TaskStateRunning
	t.Stage = stage
	return t
}

func TestApplyHappyPath(t *testing.T) {
	task := NewGenerationTask("p1", json.RawMessage(`{"v":0}`))
	steps := []Transition{
		{Kind: TransitionStart},
		{Kind: TransitionAdvance, To: StageEmbed},
		{Kind: TransitionAdvance, To: StageCalibrate},
		{Kind: TransitionAdvance, To: StageOutline},
		{Kind: TransitionSuspend, Decision: "approve or reject outline v1"},
		{Kind: TransitionFeedback, To: StageChapter},
		{Kind: TransitionAdvance, To: StageChapter},
		{Kind: TransitionAdvance, To: StageFinalize},
		{Kind: TransitionComplete},
	}
	for i, tr := range steps {
		if err := task.Apply(tr); err != nil {
			t.Fatalf("step %d (%s): %v", i, tr.Kind, err)
		}
	}
	if task.State != TaskStateCompleted || task.CompletedAt == nil {
		t.Fatalf("final state = %s completed_at=%v", task.State, task.CompletedAt)
	}
}

func TestApplyRejectsIllegalTransitions(t *testing.T) {
	cases := []struct {
		name string
		task *GenerationTask
		tr   Transition
	}{
		{"skip embed", runningTask(StageIngest), Transition{Kind: TransitionAdvance, To: StageOutline}},
		{"outline advances without feedback", runningTask(StageOutline), Transition{Kind: TransitionAdvance, To: StageChapter}},
		{"suspend during ingest", runningTask(StageIngest), Transition{Kind: TransitionSuspend}},
		{"complete before finalize", runningTask(StageChapter), Transition{Kind: TransitionComplete}},
		{"start twice", runningTask(StageIngest), Transition{Kind: TransitionStart}},
		{"feedback while running", runningTask(StageOutline), Transition{Kind: TransitionFeedback, To: StageChapter}},
		{"unknown kind", runningTask(StageIngest), Transition{Kind: "teleport"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := *tc.task
			err := tc.task.Apply(tc.tr)
			var illegal *ErrIllegalTransition
			if !errors.As(err, &illegal) {
				t.Fatalf("expected ErrIllegalTransition, got %v", err)
			}
			if tc.task.State != before.State || tc.task.Stage != before.Stage {
				t.Fatalf("task mutated on failed transition")
			}
		})
	}
}

func TestPauseResumeRestoresPriorState(t *testing.T) {
	task := runningTask(StageOutline)
	if err := task.Apply(Transition{Kind: TransitionSuspend, Decision: "approve"}); err != nil {
		t.Fatal(err)
	}
	if err := task.Apply(Transition{Kind: TransitionPause}); err != nil {
		t.Fatal(err)
	}
	if task.State != TaskStatePaused || task.PriorState != TaskStateAwaitingFeedback {
		t.Fatalf("paused = %s prior=%s", task.State, task.PriorState)
	}
	if err := task.Apply(Transition{Kind: TransitionPause}); err == nil {
		t.Fatalf("pausing a paused task must fail")
	}
	if err := task.Apply(Transition{Kind: TransitionResume}); err != nil {
		t.Fatal(err)
	}
	if task.State != TaskStateAwaitingFeedback || task.Stage != StageOutline || task.PendingDecision != "approve" {
		t.Fatalf("resumed to %s(%s) decision=%q", task.State, task.Stage, task.PendingDecision)
	}
}

func TestCancelIsTerminal(t *testing.T) {
	task := runningTask(StageChapter)
	if err := task.Apply(Transition{Kind: TransitionCancel}); err != nil {
		t.Fatal(err)
	}
	for _, kind := range []TransitionKind{TransitionResume, TransitionPause, TransitionCancel, TransitionRetry} {
		if err := task.Apply(Transition{Kind: kind}); err == nil {
			t.Fatalf("%s after cancel must fail", kind)
		}
	}
}

func TestRetryAndAdvanceCounters(t *testing.T) {
	task := runningTask(StageEmbed)
	_ = task.Apply(Transition{Kind: TransitionRetry, Reason: "timeout"})
	_ = task.Apply(Transition{Kind: TransitionRetry, Reason: "timeout", Cost: Cost{EmbeddingCalls: 2}})
	if task.RetryCount != 2 || task.FailureReason != "timeout" {
		t.Fatalf("retry count = %d reason=%q", task.RetryCount, task.FailureReason)
	}
	if err := task.Apply(Transition{Kind: TransitionAdvance, To: StageCalibrate, ArtifactIDs: []string{"a"}}); err != nil {
		t.Fatal(err)
	}
	if task.RetryCount != 0 || task.FailureReason != "" {
		t.Fatalf("advance should reset retries, got %d %q", task.RetryCount, task.FailureReason)
	}
	if task.Cost.EmbeddingCalls != 2 || len(task.LastArtifactIDs) != 1 {
		t.Fatalf("cost=%+v artifacts=%v", task.Cost, task.LastArtifactIDs)
	}
}

func TestFailRecordsStage(t *testing.T) {
	task := runningTask(StageChapter)
	if err := task.Apply(Transition{Kind: TransitionFail, Reason: "provider down"}); err != nil {
		t.Fatal(err)
	}
	if task.FailureStage != StageChapter || task.FailureReason != "provider down" {
		t.Fatalf("failure = %s %q", task.FailureStage, task.FailureReason)
	}
}

func TestStageTablesAreTotal(t *testing.T) {
	for _, s := range AllStages() {
		if _, ok := advanceEdges[s]; !ok {
			t.Fatalf("advanceEdges missing %s", s)
		}
		if _, ok := feedbackEdges[s]; !ok {
			t.Fatalf("feedbackEdges missing %s", s)
		}
		if _, ok := suspendable[s]; !ok {
			t.Fatalf("suspendable missing %s", s)
		}
		for _, to := range append(advanceEdges[s], feedbackEdges[s]...) {
			if !to.Valid() {
				t.Fatalf("edge %s -> %s targets unknown stage", s, to)
			}
		}
	}
	if len(advanceEdges) != len(AllStages()) {
		t.Fatalf("advanceEdges has entries for unknown stages")
	}
	steps := AllChapterSteps()
	for i, s := range steps {
		next, ok := NextStep(s)
		if i == len(steps)-1 {
			if ok {
				t.Fatalf("gate must be the last step, got next %s", next)
			}
			continue
		}
		if !ok || next != steps[i+1] {
			t.Fatalf("NextStep(%s) = %s, want %s", s, next, steps[i+1])
		}
	}
}

func TestNextStageLinearPrefix(t *testing.T) {
	want := map[Stage]Stage{StageIngest: StageEmbed, StageEmbed: StageCalibrate, StageCalibrate: StageOutline, StageChapter: StageFinalize}
	for from, to := range want {
		got, ok := NextStage(from)
		if !ok || got != to {
			t.Fatalf("NextStage(%s) = %s,%v", from, got, ok)
		}
	}
	if _, ok := NextStage(StageOutline); ok {
		t.Fatalf("outline must not have a linear successor")
	}
}
