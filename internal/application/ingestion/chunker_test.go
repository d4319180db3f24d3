package ingestion

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func sampleText(n int) (string, []string) {
	var sentences []string
	var b strings.Builder
	for i := 0; i < n; i++ {
		s := fmt.Sprintf("Sentence number %d has a handful of plain words in it.", i)
		sentences = append(sentences, s)
		b.WriteString(s)
		if i%5 == 4 {
			b.WriteString("\n\n")
		} else {
			b.WriteString(" ")
		}
	}
	return strings.TrimSpace(b.String()), sentences
}

func TestChunker_Deterministic(t *testing.T) {
	text, _ := sampleText(120)
	c := NewChunker(300, 30)
	a := c.Split(text)
	b := c.Split(text)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("splitting the same text twice produced different spans")
	}
	if len(a) < 2 {
		t.Fatalf("expected several chunks, got %d", len(a))
	}
}

func TestChunker_OffsetsAndOverlap(t *testing.T) {
	text, _ := sampleText(120)
	runes := []rune(text)
	c := NewChunker(300, 30)
	spans := c.Split(text)

	for i, sp := range spans {
		if sp.Index != i {
			t.Fatalf("span %d has index %d", i, sp.Index)
		}
		if sp.End > len(runes) || sp.Start >= sp.End {
			t.Fatalf("span %d has bad range [%d,%d)", i, sp.Start, sp.End)
		}
		if string(runes[sp.Start:sp.End]) != sp.Text {
			t.Fatalf("span %d text does not match its offsets", i)
		}
		if sp.End-sp.Start > c.Size {
			t.Fatalf("span %d longer than window: %d", i, sp.End-sp.Start)
		}
		if i == 0 {
			continue
		}
		prev := spans[i-1]
		if sp.Start <= prev.Start {
			t.Fatalf("span %d start %d not after previous %d", i, sp.Start, prev.Start)
		}
		if sp.Start < prev.End-c.Overlap {
			t.Fatalf("span %d overlaps previous by more than %d runes", i, c.Overlap)
		}
	}
	if last := spans[len(spans)-1]; last.End != len(runes) {
		t.Fatalf("last span ends at %d, text has %d runes", last.End, len(runes))
	}
}

func TestChunker_NoSentenceTruncated(t *testing.T) {
	text, sentences := sampleText(80)
	spans := NewChunker(240, 24).Split(text)
	for _, s := range sentences {
		found := false
		for _, sp := range spans {
			if strings.Contains(sp.Text, s) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("sentence %q is not fully contained in any chunk", s)
		}
	}
}

func TestChunker_CJK(t *testing.T) {
	text := strings.Repeat("诊所在工作日早上九点开门。", 40)
	spans := NewChunker(100, 10).Split(text)
	for _, sp := range spans {
		if !strings.HasSuffix(sp.Text, "。") {
			t.Fatalf("chunk does not end at a sentence boundary: %q", sp.Text)
		}
	}
}

func TestChunker_Empty(t *testing.T) {
	if spans := NewChunker(100, 10).Split(""); spans != nil {
		t.Fatalf("empty text produced %d spans", len(spans))
	}
	if c := NewChunker(100, 200); c.Overlap != 10 {
		t.Fatalf("invalid overlap should fall back to 10%%, got %d", c.Overlap)
	}
}
