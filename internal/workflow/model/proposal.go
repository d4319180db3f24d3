package model

// Verdict LLM 审稿人的结论
type Verdict struct {
	Approved bool    `json:"approved"`
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// OutlineProposal 大纲生成的 JSON 输出
type OutlineProposal struct {
	Title    string                   `json:"title"`
	Synopsis string                   `json:"synopsis"`
	Chapters []OutlineChapterProposal `json:"chapters"`
}

type OutlineChapterProposal struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
	// Sources 引用的素材编号（1 起）
	Sources []int `json:"sources"`
}

// ClaimList 事实陈述抽取的 JSON 输出
type ClaimList struct {
	Claims []ClaimProposal `json:"claims"`
}

type ClaimProposal struct {
	Text     string `json:"text"`
	Sentence string `json:"sentence"`
}

// SafetySpans 安全分类器的 JSON 输出
type SafetySpans struct {
	Spans []SafetySpan `json:"spans"`
}

type SafetySpan struct {
	Quote    string `json:"quote"`
	Category string `json:"category"`
	Reason   string `json:"reason"`
}
