package stage

import (
	"fmt"

	"manuscript-ai-api/internal/application/factcheck"
	"manuscript-ai-api/internal/application/retrieval"
	"manuscript-ai-api/internal/domain/entity"
)

// factualMinRunes 达到该长度的段落视为陈述事实的段落
const factualMinRunes = 60

// IsFactual 含关键信息（时间、数字、人名等）或足够长的段落需要引用
func IsFactual(paragraph string) bool {
	clean := retrieval.StripMarkers(paragraph)
	if len(factcheck.SalientTokens(clean)) > 0 {
		return true
	}
	return entity.RuneLen(clean) >= factualMinRunes
}

// GroundingProblems 列出缺少有效引用的事实段落与越界的引用编号
func GroundingProblems(text string, citations []entity.Citation) []string {
	var problems []string
	for i, p := range entity.SplitParagraphs(text) {
		markers := retrieval.CitationMarkers(p)
		valid := 0
		for _, m := range markers {
			if m >= 1 && m <= len(citations) {
				valid++
			} else {
				problems = append(problems, fmt.Sprintf("第 %d 段引用了不存在的素材编号 [%d]", i+1, m))
			}
		}
		if valid == 0 && IsFactual(p) {
			problems = append(problems, fmt.Sprintf("第 %d 段陈述事实但没有引用素材", i+1))
		}
	}
	return problems
}

// BuildParagraphs 切分段落并把 [n] 标记解析为引用，段落文本去掉标记
func BuildParagraphs(text string, citations []entity.Citation) []entity.Paragraph {
	parts := entity.SplitParagraphs(text)
	out := make([]entity.Paragraph, 0, len(parts))
	for _, p := range parts {
		para := entity.Paragraph{Text: retrieval.StripMarkers(p)}
		for _, m := range retrieval.CitationMarkers(p) {
			if m >= 1 && m <= len(citations) {
				para.Citations = append(para.Citations, citations[m-1])
			}
		}
		out = append(out, para)
	}
	return out
}

// CitationsOf 检索结果按标记顺序排列的引用，下标 i 对应 [i+1]
func CitationsOf(res *retrieval.Result) []entity.Citation {
	if res == nil {
		return nil
	}
	out := make([]entity.Citation, len(res.Passages))
	for i, p := range res.Passages {
		out[i] = p.Citation
	}
	return out
}

// MarkersPreserved 改写后的文本是否保留了原文的全部引用标记且没有新增
func MarkersPreserved(before, after string) bool {
	a := retrieval.CitationMarkers(before)
	b := retrieval.CitationMarkers(after)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
