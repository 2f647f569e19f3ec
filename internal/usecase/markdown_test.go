package usecase

import (
	"strings"
	"testing"
)

func TestSafeSplitPoint(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string // text before the split, "" for none
	}{
		{"no break", "one line\nanother", ""},
		{"paragraph", "para one\n\npara two", "para one\n\n"},
		{"last break wins", "a\n\nb\n\nc", "a\n\nb\n\n"},
		{"inside fence", "```\ncode\n\nmore\n", ""},
		{"after fence", "```\ncode\n\n```\n\ntext", "```\ncode\n\n```\n\n"},
		{"tilde fence", "~~~\nx\n\ny\n", ""},
		{"leading blank", "\nabc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := safeSplitPoint(tt.text)
			got := ""
			if at >= 0 {
				got = tt.text[:at]
			}
			if got != tt.want {
				t.Errorf("split %q -> %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestTextFlusher(t *testing.T) {
	var out []string
	f := &textFlusher{threshold: 8, emit: func(s string) { out = append(out, s) }}

	f.add("short")
	if len(out) != 0 {
		t.Fatal("flushed under threshold")
	}
	f.add(" text\n\nnext")
	if len(out) != 1 || out[0] != "short text\n\n" {
		t.Fatalf("out = %q", out)
	}
	f.flush()
	f.flush()
	if strings.Join(out, "") != "short text\n\nnext" || len(out) != 2 {
		t.Errorf("out = %q", out)
	}
}
