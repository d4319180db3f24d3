package safety

import (
	"context"
	"strings"
	"testing"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/workflow/chain"
	"manuscript-ai-api/internal/workflow/workflowtest"
)

func TestDefaultRules_Parse(t *testing.T) {
	rs := DefaultRules()
	if len(rs.Rules) == 0 || len(rs.Disclaimers) == 0 {
		t.Fatalf("embedded rules are empty: %+v", rs)
	}
}

func TestChecker_ScanFlagsByCategory(t *testing.T) {
	c := NewChecker(nil, nil)
	cases := []struct {
		text string
		want entity.SafetyCategory
	}{
		{"Some nights I wanted to end my life.", entity.SafetyCrisis},
		{"If you feel tired every day, you probably have depression.", entity.SafetyDiagnosis},
		{"I told her to take 200 mg before bed.", entity.SafetyMedicalAdvice},
		{"You can stop taking your medication once you feel better.", entity.SafetyMedicalAdvice},
		{"如果你整夜失眠，你肯定得了抑郁症。", entity.SafetyDiagnosis},
		{"医生说每天服用 3 片。", entity.SafetyMedicalAdvice},
	}
	for _, tc := range cases {
		rep := c.Scan(tc.text)
		if len(rep.Flags) == 0 {
			t.Fatalf("no flags for %q", tc.text)
		}
		if rep.Flags[0].Category != tc.want {
			t.Fatalf("%q: category = %s, want %s", tc.text, rep.Flags[0].Category, tc.want)
		}
	}
}

func TestChecker_ScanCleanText(t *testing.T) {
	c := NewChecker(nil, nil)
	rep := c.Scan("We walked along the river and talked about the garden.")
	if rep.Blocked() {
		t.Fatalf("unexpected flags: %+v", rep.Flags)
	}
	if len(rep.Disclaimers) != 0 {
		t.Fatalf("unexpected disclaimers: %+v", rep.Disclaimers)
	}
}

func TestChecker_RuneOffsets(t *testing.T) {
	c := NewChecker(nil, nil)
	text := "那一年，他想自杀。"
	rep := c.Scan(text)
	if len(rep.Flags) != 1 {
		t.Fatalf("flags = %+v", rep.Flags)
	}
	f := rep.Flags[0]
	if got := string([]rune(text)[f.Start:f.End]); got != "自杀" {
		t.Fatalf("excerpt by rune offsets = %q", got)
	}
}

func TestInsertDisclaimers_Idempotent(t *testing.T) {
	c := NewChecker(nil, nil)
	text := "The clinic opens at 9am and the treatment lasts an hour."
	ds := c.RequiredDisclaimers(text)
	if len(ds) != 1 || ds[0].Topic != "medical" {
		t.Fatalf("disclaimers = %+v", ds)
	}
	once := InsertDisclaimers(text, ds)
	twice := InsertDisclaimers(once, ds)
	if once != twice {
		t.Fatalf("insert not idempotent:\n%q\n%q", once, twice)
	}
	if !strings.HasSuffix(once, ds[0].Text) {
		t.Fatalf("disclaimer not appended: %q", once)
	}
	if c.Scan(once).Blocked() {
		t.Fatalf("disclaimer text must not raise flags")
	}
}

func TestIsSensitive(t *testing.T) {
	rs := DefaultRules()
	if !rs.IsSensitive("The Clinic opens early.") {
		t.Fatalf("clinic should be sensitive")
	}
	if !rs.IsSensitive("她每周去医院复查。") {
		t.Fatalf("hospital (zh) should be sensitive")
	}
	if rs.IsSensitive("The weather was cold.") {
		t.Fatalf("weather is not sensitive")
	}
}

func TestParseRules_Invalid(t *testing.T) {
	bad := []string{
		"rules:\n  - id: x\n    category: unknown\n    patterns: ['a']\n",
		"rules:\n  - id: x\n    category: crisis\n    patterns: ['(']\n",
		"rules:\n  - id: x\n    category: crisis\n",
	}
	for _, b := range bad {
		if _, err := ParseRules([]byte(b)); err == nil {
			t.Fatalf("expected error for %q", b)
		}
	}
}

func TestLLMClassifier_LocatesQuotes(t *testing.T) {
	text := "她决定不再去复诊，只靠意志力撑过去。"
	m := workflowtest.NewScriptedModel().Reply(classifierWorkflow,
		"```json\n{\"spans\":[{\"quote\":\"不再去复诊\",\"category\":\"medical_advice\",\"reason\":\"discourages care\"},{\"quote\":\"not in text\",\"category\":\"crisis\"}]}\n```")
	gen := chain.NewGenerator(workflowtest.Factory{Model: m}, nil)
	c := NewChecker(nil, NewLLMClassifier(gen))

	rep, err := c.Check(context.Background(), text)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(rep.Flags) != 1 {
		t.Fatalf("flags = %+v", rep.Flags)
	}
	f := rep.Flags[0]
	if f.Category != entity.SafetyMedicalAdvice || string([]rune(text)[f.Start:f.End]) != "不再去复诊" {
		t.Fatalf("flag = %+v", f)
	}
	if len(rep.Usage) != 1 {
		t.Fatalf("classifier usage not recorded")
	}
}
