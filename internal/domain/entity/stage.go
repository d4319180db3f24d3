package entity

// Stage 流水线顶层阶段，封闭枚举
type Stage string

const (
	StageIngest    Stage = "ingest"
	StageEmbed     Stage = "embed"
	StageCalibrate Stage = "calibrate"
	StageOutline   Stage = "outline"
	StageChapter   Stage = "chapter"
	StageFinalize  Stage = "finalize"
)

// AllStages 按执行顺序列出全部阶段
func AllStages() []Stage {
	return []Stage{StageIngest, StageEmbed, StageCalibrate, StageOutline, StageChapter, StageFinalize}
}

// Valid 是否为已知阶段
func (s Stage) Valid() bool {
	for _, st := range AllStages() {
		if st == s {
			return true
		}
	}
	return false
}

// advanceEdges running 状态下阶段完成后的合法去向。
// outline 只能经由人工反馈离开，自环仅用于重新生成时提交检查点。
var advanceEdges = map[Stage][]Stage{
	StageIngest:    {StageEmbed},
	StageEmbed:     {StageCalibrate},
	StageCalibrate: {StageOutline},
	StageOutline:   {StageOutline},
	StageChapter:   {StageChapter, StageFinalize},
	StageFinalize:  {},
}

// feedbackEdges awaiting_feedback 状态下提交决定后的合法去向
var feedbackEdges = map[Stage][]Stage{
	StageIngest:    {},
	StageEmbed:     {},
	StageCalibrate: {},
	StageOutline:   {StageOutline, StageChapter},
	StageChapter:   {StageChapter, StageFinalize},
	StageFinalize:  {},
}

// suspendable 可以进入人工反馈点的阶段
var suspendable = map[Stage]bool{
	StageIngest:    false,
	StageEmbed:     false,
	StageCalibrate: false,
	StageOutline:   true,
	StageChapter:   true,
	StageFinalize:  false,
}

// NextStage 线性部分的下一个阶段，outline 与 finalize 没有线性后继
func NextStage(s Stage) (Stage, bool) {
	edges := advanceEdges[s]
	for _, e := range edges {
		if e != s {
			return e, true
		}
	}
	return "", false
}

func canAdvance(from, to Stage) bool { return contains(advanceEdges[from], to) }

func canFeedback(from, to Stage) bool { return contains(feedbackEdges[from], to) }

// CanSuspend 阶段是否为人工反馈点
func CanSuspend(s Stage) bool { return suspendable[s] }

func contains(list []Stage, s Stage) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ChapterStep 章节阶段内的子步骤，封闭枚举
type ChapterStep string

const (
	StepDraft     ChapterStep = "draft"
	StepVoiceEdit ChapterStep = "voice_edit"
	StepFactCheck ChapterStep = "fact_check"
	StepCohesion  ChapterStep = "cohesion"
	StepGate      ChapterStep = "gate"
)

// AllChapterSteps 按执行顺序列出子步骤
func AllChapterSteps() []ChapterStep {
	return []ChapterStep{StepDraft, StepVoiceEdit, StepFactCheck, StepCohesion, StepGate}
}

var stepNext = map[ChapterStep]ChapterStep{
	StepDraft:     StepVoiceEdit,
	StepVoiceEdit: StepFactCheck,
	StepFactCheck: StepCohesion,
	StepCohesion:  StepGate,
}

// NextStep gate 为章节的最后一步，之后由编排器决定下一章或定稿
func NextStep(s ChapterStep) (ChapterStep, bool) {
	next, ok := stepNext[s]
	return next, ok
}

// Valid 是否为已知子步骤
func (s ChapterStep) Valid() bool {
	for _, st := range AllChapterSteps() {
		if st == s {
			return true
		}
	}
	return false
}
