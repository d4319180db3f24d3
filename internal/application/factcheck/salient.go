// Package factcheck 对章节中的事实陈述做确定性的证据比对
package factcheck

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// TokenClass 关键信息类别
type TokenClass string

const (
	ClassTime    TokenClass = "time"
	ClassDate    TokenClass = "date"
	ClassPercent TokenClass = "percent"
	ClassNumber  TokenClass = "number"
	ClassName    TokenClass = "name"
)

// Token 规范化后的关键信息
type Token struct {
	Class TokenClass
	Value string
}

type extractor struct {
	class TokenClass
	re    *regexp.Regexp
	norm  func(string) string
}

const monthNames = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

// 按优先级匹配，先匹配到的区间不再参与后续类别
var extractors = []extractor{
	{ClassTime, regexp.MustCompile(`(?i)\b\d{1,2}(?::\d{2})?\s?(?:a\.?m\.?|p\.?m\.?)(?:\W|$)`), normTime},
	{ClassTime, regexp.MustCompile(`\b(?:[01]?\d|2[0-3]):[0-5]\d\b`), strings.TrimSpace},
	{ClassTime, regexp.MustCompile(`(?:上午|下午|早上|晚上)?\d{1,2}[点時时](?:\d{1,2}分|半)?`), normZhTime},
	{ClassDate, regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`), strings.TrimSpace},
	{ClassDate, regexp.MustCompile(`(?i)\b` + monthNames + `\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?\b`), normDate},
	{ClassDate, regexp.MustCompile(`\d{4}年(?:\d{1,2}月(?:\d{1,2}日)?)?|\d{1,2}月\d{1,2}日`), strings.TrimSpace},
	{ClassDate, regexp.MustCompile(`\b(?:1[89]|20)\d{2}\b`), strings.TrimSpace},
	{ClassPercent, regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s?(?:%|％|percent\b)`), normPercent},
	{ClassNumber, regexp.MustCompile(`\d+(?:[.,]\d+)*`), normNumber},
}

var nameRe = regexp.MustCompile(`\b[A-Z][a-z]+(?:[ \-][A-Z][a-z]+)*\b`)

// nameStop 句中大写但不算专有名词的词
var nameStop = map[string]bool{
	"I": true, "The": true, "A": true, "An": true, "This": true, "That": true,
	"Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true, "Friday": true, "Saturday": true, "Sunday": true,
	"January": true, "February": true, "March": true, "April": true, "May": true, "June": true, "July": true,
	"August": true, "September": true, "October": true, "November": true, "December": true,
}

// SalientTokens 抽取时间、日期、百分比、数字与句中大写的人名/地名，结果去重并排序
func SalientTokens(text string) []Token {
	var taken [][2]int
	overlaps := func(a, b int) bool {
		for _, r := range taken {
			if a < r[1] && b > r[0] {
				return true
			}
		}
		return false
	}

	seen := make(map[Token]bool)
	var out []Token
	add := func(t Token) {
		if t.Value == "" || seen[t] {
			return
		}
		seen[t] = true
		out = append(out, t)
	}

	for _, ex := range extractors {
		for _, loc := range ex.re.FindAllStringIndex(text, -1) {
			if overlaps(loc[0], loc[1]) {
				continue
			}
			taken = append(taken, [2]int{loc[0], loc[1]})
			add(Token{Class: ex.class, Value: ex.norm(text[loc[0]:loc[1]])})
		}
	}

	for _, loc := range nameRe.FindAllStringIndex(text, -1) {
		if overlaps(loc[0], loc[1]) || atSentenceStart(text, loc[0]) {
			continue
		}
		name := text[loc[0]:loc[1]]
		if nameStop[name] {
			continue
		}
		add(Token{Class: ClassName, Value: strings.ToLower(name)})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// atSentenceStart 句首的大写词无法判断是否为专有名词
func atSentenceStart(text string, i int) bool {
	j := i - 1
	for j >= 0 && (text[j] == ' ' || text[j] == '\t' || text[j] == '"' || text[j] == '\'' || text[j] == '(') {
		j--
	}
	if j < 0 {
		return true
	}
	switch text[j] {
	case '.', '!', '?', '\n', ':':
		return true
	}
	return false
}

func normTime(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) || r == ':' || r == 'a' || r == 'p' || r == 'm' {
			b.WriteRune(r)
		}
	}
	out := strings.Replace(b.String(), ":00", "", 1)
	return out
}

func normZhTime(s string) string {
	s = strings.ReplaceAll(s, "時", "点")
	s = strings.ReplaceAll(s, "时", "点")
	s = strings.TrimPrefix(s, "早上")
	if strings.HasPrefix(s, "晚上") {
		s = "下午" + strings.TrimPrefix(s, "晚上")
	}
	return s
}

func normDate(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(",", "", ".", "").Replace(s)
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	if len(fields[0]) > 3 {
		fields[0] = fields[0][:3]
	}
	if len(fields) > 1 {
		fields[1] = strings.TrimRight(fields[1], "stndrh")
	}
	return strings.Join(fields, " ")
}

func normPercent(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(" ", "", "percent", "%", "％", "%").Replace(s)
	return s
}

func normNumber(s string) string {
	return strings.ReplaceAll(s, ",", "")
}
