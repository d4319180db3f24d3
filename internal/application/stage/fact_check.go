package stage

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"manuscript-ai-api/internal/application/factcheck"
	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/workflow/chain"
	wfmodel "manuscript-ai-api/internal/workflow/model"
	workflowprompt "manuscript-ai-api/internal/workflow/prompt"
)

const roleClaimExtract = "claim_extract"

// FactResult 事实核查结果，Text 中 uncertain 陈述已加上限定语
type FactResult struct {
	Text      string
	Report    *entity.FactReport
	Exchanges int
}

// FactCheck 抽取原子陈述并逐条核查。抽取的 critic 是确定性的：
// 原句必须能在正文中找到，含关键信息的段落至少要有一条陈述。
func (a *Agents) FactCheck(ctx context.Context, tc *TaskContext, text string) (*FactResult, error) {
	paragraphs := entity.SplitParagraphs(text)
	salient := make([]bool, len(paragraphs))
	for i, p := range paragraphs {
		salient[i] = len(factcheck.SalientTokens(retrieval.StripMarkers(p))) > 0
	}

	propose := func(ctx context.Context, at Attempt[[]entity.Claim]) ([]entity.Claim, error) {
		var list wfmodel.ClaimList
		err := a.generateJSON(ctx, tc, &chain.Request{
			Prompt:      workflowprompt.PromptClaimExtractV1,
			Workflow:    roleClaimExtract,
			Temperature: chain.Float32(0),
			Vars: map[string]any{
				"max_claims": a.opts.MaxClaims,
				"text":       text,
				"feedback":   joinFeedback(at.Feedback),
			},
		}, &list, nil)
		if err != nil {
			return nil, err
		}
		claims := make([]entity.Claim, 0, len(list.Claims))
		for _, c := range list.Claims {
			claim := entity.Claim{Text: strings.TrimSpace(c.Text), Sentence: strings.TrimSpace(c.Sentence), Paragraph: -1}
			if claim.Text == "" {
				continue
			}
			if claim.Sentence == "" {
				claim.Sentence = claim.Text
			}
			if s, idx, ok := locateSentence(paragraphs, claim.Sentence); ok {
				claim.Sentence, claim.Paragraph = s, idx
			}
			claims = append(claims, claim)
			if len(claims) == a.opts.MaxClaims {
				break
			}
		}
		return claims, nil
	}

	critique := func(_ context.Context, claims []entity.Claim) (Review, error) {
		var problems []string
		covered := make([]bool, len(paragraphs))
		for _, c := range claims {
			if c.Paragraph < 0 {
				problems = append(problems, fmt.Sprintf("原句在正文中找不到：%q", c.Sentence))
				continue
			}
			covered[c.Paragraph] = true
		}
		need, got := 0, 0
		for i := range paragraphs {
			if !salient[i] {
				continue
			}
			need++
			if covered[i] {
				got++
			} else {
				problems = append(problems, fmt.Sprintf("第 %d 段含有时间、数字或人名，但没有抽取陈述", i+1))
			}
		}
		score := 1.0
		if need > 0 {
			score = float64(got) / float64(need)
		}
		if len(claims) > 0 {
			located := 0
			for _, c := range claims {
				if c.Paragraph >= 0 {
					located++
				}
			}
			score *= float64(located) / float64(len(claims))
		}
		return Review{Approved: len(problems) == 0, Score: score, Feedback: strings.Join(problems, "\n")}, nil
	}

	out, err := Loop(ctx, tc, roleClaimExtract, a.opts.Loop, propose, critique)
	if err != nil {
		return nil, err
	}

	claims := make([]entity.Claim, 0, len(out.Best))
	for _, c := range out.Best {
		if c.Paragraph >= 0 {
			claims = append(claims, c)
		}
	}
	rep, err := a.facts.Check(tc.Context(ctx), tc.ProjectID, claims)
	if err != nil {
		return nil, err
	}
	return &FactResult{
		Text:      factcheck.ApplyHedges(text, rep),
		Report:    rep,
		Exchanges: out.Exchanges,
	}, nil
}

// locateSentence 在段落中定位原句，返回正文里的原始写法（可能带 [n] 标记）
func locateSentence(paragraphs []string, quote string) (string, int, bool) {
	want := normalizeSentence(quote)
	if want == "" {
		return "", -1, false
	}
	for i, p := range paragraphs {
		if strings.Contains(p, quote) {
			return quote, i, true
		}
	}
	for i, p := range paragraphs {
		for _, s := range splitSentences(p) {
			if normalizeSentence(s) == want {
				return s, i, true
			}
		}
	}
	return "", -1, false
}

func normalizeSentence(s string) string {
	return strings.Join(strings.Fields(retrieval.StripMarkers(s)), " ")
}

// splitSentences 按句末标点切分，标点之后紧跟的 [n] 标记归入前一句
func splitSentences(p string) []string {
	var out []string
	runes := []rune(p)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		end := i + 1
		if runes[i] == '.' && end < len(runes) && !unicode.IsSpace(runes[end]) && runes[end] != '[' {
			continue
		}
		for end < len(runes) && runes[end] == '[' {
			j := end + 1
			for j < len(runes) && unicode.IsDigit(runes[j]) {
				j++
			}
			if j >= len(runes) || runes[j] != ']' {
				break
			}
			end = j + 1
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
		i = end - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
