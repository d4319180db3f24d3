// Package ingestion 负责素材文本抽取与切片
package ingestion

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dslipak/pdf"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html"

	apperrors "manuscript-ai-api/pkg/errors"
)

type kind string

const (
	kindText     kind = "text/plain"
	kindMarkdown kind = "text/markdown"
	kindHTML     kind = "text/html"
	kindPDF      kind = "application/pdf"
)

var extKinds = map[string]kind{
	".txt":      kindText,
	".text":     kindText,
	".md":       kindMarkdown,
	".markdown": kindMarkdown,
	".html":     kindHTML,
	".htm":      kindHTML,
	".pdf":      kindPDF,
}

var declaredKinds = map[string]kind{
	"text/plain":      kindText,
	"text/markdown":   kindMarkdown,
	"text/x-markdown": kindMarkdown,
	"text/html":       kindHTML,
	"application/pdf": kindPDF,
}

// Extractor 从原始字节中抽取纯文本
type Extractor struct{}

// NewExtractor 创建抽取器
func NewExtractor() *Extractor { return &Extractor{} }

// Extract 返回规范化后的文本和实际采用的类型。
// 无法识别的类型返回 UnsupportedFormat，损坏或无文本的文件返回 ExtractionFailed。
func (e *Extractor) Extract(data []byte, declaredMime, filename string) (string, string, error) {
	k, err := classify(data, declaredMime, filename)
	if err != nil {
		return "", "", err
	}

	var text string
	switch k {
	case kindText, kindMarkdown:
		text, err = decodeText(data)
	case kindHTML:
		text, err = extractHTML(data)
	case kindPDF:
		text, err = extractPDF(data)
	}
	if err != nil {
		return "", string(k), err
	}

	text = normalize(text)
	if strings.TrimSpace(text) == "" {
		return "", string(k), apperrors.NewStageError(apperrors.KindExtractionFailed, "", "no extractable text", nil)
	}
	return text, string(k), nil
}

// classify 先看声明类型，再看内容嗅探，最后看扩展名
func classify(data []byte, declaredMime, filename string) (kind, error) {
	if mt, _, err := mime.ParseMediaType(strings.TrimSpace(declaredMime)); err == nil {
		if k, ok := declaredKinds[strings.ToLower(mt)]; ok {
			return k, nil
		}
	}

	detected := mimetype.Detect(data)
	switch {
	case detected.Is("application/pdf"):
		return kindPDF, nil
	case detected.Is("text/html"):
		return kindHTML, nil
	}

	if k, ok := extKinds[strings.ToLower(filepath.Ext(filename))]; ok {
		return k, nil
	}

	if detected.Is("text/plain") && (declaredMime == "" || strings.HasPrefix(declaredMime, "application/octet-stream")) {
		return kindText, nil
	}

	reason := fmt.Sprintf("unsupported type %q (detected %s)", declaredMime, detected.String())
	return "", apperrors.NewStageError(apperrors.KindUnsupportedFormat, "", reason, nil)
}

func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", apperrors.NewStageError(apperrors.KindExtractionFailed, "", "text is not valid UTF-8", nil)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", apperrors.NewStageError(apperrors.KindExtractionFailed, "", "text contains NUL bytes", nil)
	}
	return string(data), nil
}

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "blockquote": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "ul": true, "ol": true, "tr": true, "table": true, "pre": true,
	"header": true, "footer": true, "main": true, "aside": true, "figure": true,
}

var skipTags = map[string]bool{"script": true, "style": true, "noscript": true, "template": true, "head": true}

var inlineSpace = regexp.MustCompile(`[ \t\f\v]+`)

func extractHTML(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", apperrors.NewStageError(apperrors.KindExtractionFailed, "", "html is not valid UTF-8", nil)
	}
	z := html.NewTokenizer(bytes.NewReader(data))
	var b strings.Builder
	skipDepth := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != nil && err != io.EOF {
				return "", apperrors.NewStageError(apperrors.KindExtractionFailed, "", "html parse failed", err)
			}
			return trimLines(b.String()), nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTags[tag] && tt == html.StartTagToken {
				skipDepth++
				continue
			}
			if tag == "br" {
				b.WriteString("\n")
			} else if blockTags[tag] {
				b.WriteString("\n\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTags[tag] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if blockTags[tag] {
				b.WriteString("\n\n")
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			t := inlineSpace.ReplaceAllString(strings.ReplaceAll(string(z.Text()), "\n", " "), " ")
			b.WriteString(t)
		}
	}
}

func extractPDF(data []byte) (text string, err error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return "", apperrors.NewStageError(apperrors.KindExtractionFailed, "", "missing PDF header", nil)
	}
	// 第三方解析器遇到损坏文件会 panic
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = apperrors.NewStageError(apperrors.KindExtractionFailed, "", fmt.Sprintf("pdf parse panic: %v", r), nil)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", apperrors.NewStageError(apperrors.KindExtractionFailed, "", "pdf open failed", err)
	}
	rd, err := r.GetPlainText()
	if err != nil {
		return "", apperrors.NewStageError(apperrors.KindExtractionFailed, "", "pdf text extraction failed", err)
	}
	out, err := io.ReadAll(rd)
	if err != nil {
		return "", apperrors.NewStageError(apperrors.KindExtractionFailed, "", "pdf text read failed", err)
	}
	if !utf8.Valid(out) {
		out = bytes.ToValidUTF8(out, []byte("�"))
	}
	return string(out), nil
}

func trimLines(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.Join(lines, "\n")
}

var manyBlankLines = regexp.MustCompile(`\n{3,}`)

// normalize 统一换行、去除行尾空白、压缩多余空行
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t ")
	}
	s = strings.Join(lines, "\n")
	s = manyBlankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
