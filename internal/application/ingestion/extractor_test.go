package ingestion

import (
	"errors"
	"testing"

	apperrors "manuscript-ai-api/pkg/errors"
)

func TestExtractor_Formats(t *testing.T) {
	e := NewExtractor()
	cases := []struct {
		name     string
		data     string
		mime     string
		filename string
		want     string
		kind     string
	}{
		{
			name: "plain text with BOM and CRLF",
			data: "\xef\xbb\xbfThe clinic opens at 9am on weekdays.\r\n\r\n\r\n\r\nSecond paragraph.  \r\n",
			mime: "text/plain; charset=utf-8",
			want: "The clinic opens at 9am on weekdays.\n\nSecond paragraph.",
			kind: "text/plain",
		},
		{
			name:     "markdown by extension",
			data:     "# Title\n\nBody text.",
			filename: "notes.md",
			want:     "# Title\n\nBody text.",
			kind:     "text/markdown",
		},
		{
			name: "html drops scripts and head",
			data: `<html><head><title>Ignored</title><style>p{color:red}</style></head>` +
				`<body><h1>Hours</h1><p>Open   at 9am &amp; closed Sunday.</p><script>track()</script><p>Call ahead.</p></body></html>`,
			mime: "text/html",
			want: "Hours\n\nOpen at 9am & closed Sunday.\n\nCall ahead.",
			kind: "text/html",
		},
		{
			name:     "untyped text sniffed as plain",
			data:     "just some words",
			mime:     "application/octet-stream",
			filename: "blob",
			want:     "just some words",
			kind:     "text/plain",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, kind, err := e.Extract([]byte(tc.data), tc.mime, tc.filename)
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if got != tc.want {
				t.Fatalf("text = %q, want %q", got, tc.want)
			}
			if kind != tc.kind {
				t.Fatalf("kind = %q, want %q", kind, tc.kind)
			}
		})
	}
}

func TestExtractor_Failures(t *testing.T) {
	e := NewExtractor()
	cases := []struct {
		name     string
		data     []byte
		mime     string
		filename string
		want     error
	}{
		{"png is unsupported", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), "image/png", "photo.png", apperrors.ErrUnsupportedFormat},
		{"corrupt pdf", []byte("%PDF-1.7\nthis is not a real pdf body"), "application/pdf", "broken.pdf", apperrors.ErrExtractionFailed},
		{"pdf without header", []byte("hello"), "application/pdf", "fake.pdf", apperrors.ErrExtractionFailed},
		{"invalid utf-8", []byte{0xff, 0xfe, 0xfd, 'a'}, "text/plain", "bad.txt", apperrors.ErrExtractionFailed},
		{"whitespace only", []byte(" \n\n\t "), "text/plain", "empty.txt", apperrors.ErrExtractionFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := e.Extract(tc.data, tc.mime, tc.filename)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}
