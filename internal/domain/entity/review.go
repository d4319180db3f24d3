package entity

// ClaimLabel 事实核查结论
type ClaimLabel string

const (
	ClaimSupported   ClaimLabel = "supported"
	ClaimUnsupported ClaimLabel = "unsupported"
	ClaimUncertain   ClaimLabel = "uncertain"
)

// Claim 章节中的原子事实陈述
type Claim struct {
	Text string `json:"text"`
	// Sentence 章节中的原句，用于定位和改写
	Sentence   string     `json:"sentence"`
	Paragraph  int        `json:"paragraph"`
	Label      ClaimLabel `json:"label"`
	Sensitive  bool       `json:"sensitive"`
	Citation   *Citation  `json:"citation,omitempty"`
	Similarity float64    `json:"similarity"`
	Reason     string     `json:"reason,omitempty"`
	Hedged     bool       `json:"hedged,omitempty"`
}

// FactReport 一次事实核查的结果
type FactReport struct {
	Claims []Claim `json:"claims"`
}

// Count 统计某一标签的数量
func (r *FactReport) Count(label ClaimLabel) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, c := range r.Claims {
		if c.Label == label {
			n++
		}
	}
	return n
}

// BlocksAutoApproval 存在 unsupported 陈述时不得自动通过
func (r *FactReport) BlocksAutoApproval() bool {
	return r.Count(ClaimUnsupported) > 0
}

// SensitiveUnsupported 返回敏感话题上的 unsupported 陈述
func (r *FactReport) SensitiveUnsupported() []Claim {
	if r == nil {
		return nil
	}
	var out []Claim
	for _, c := range r.Claims {
		if c.Label == ClaimUnsupported && c.Sensitive {
			out = append(out, c)
		}
	}
	return out
}

// SafetyCategory 安全规则类别
type SafetyCategory string

const (
	SafetyCrisis        SafetyCategory = "crisis"
	SafetyDiagnosis     SafetyCategory = "diagnosis"
	SafetyMedicalAdvice SafetyCategory = "medical_advice"
	SafetyClassifier    SafetyCategory = "classifier"
)

// SafetyFlag 被标记的文本片段，偏移量为 rune 下标
type SafetyFlag struct {
	Category SafetyCategory `json:"category"`
	RuleID   string         `json:"rule_id"`
	Start    int            `json:"start"`
	End      int            `json:"end"`
	Excerpt  string         `json:"excerpt"`
	Severity string         `json:"severity"`
}
