package usecase

import "strings"

// safeSplitPoint returns the index just after the last paragraph break in
// text that lies outside a fenced code block, or -1 if there is none.
// Splitting there keeps rendered markdown intact.
func safeSplitPoint(text string) int {
	split := -1
	inFence := false
	pos := 0
	prevBlank := false
	for pos < len(text) {
		end := strings.IndexByte(text[pos:], '\n')
		if end < 0 {
			break
		}
		line := text[pos : pos+end]
		next := pos + end + 1
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~"):
			inFence = !inFence
			prevBlank = false
		case trimmed == "":
			if !inFence && !prevBlank && pos > 0 {
				split = next
			}
			prevBlank = true
		default:
			prevBlank = false
		}
		pos = next
	}
	return split
}

// textFlusher buffers streamed text and releases it in markdown-safe
// pieces once the buffer passes a threshold.
type textFlusher struct {
	threshold int
	pending   strings.Builder
	emit      func(string)
}

func (f *textFlusher) add(text string) {
	f.pending.WriteString(text)
	if f.threshold <= 0 || f.pending.Len() < f.threshold {
		return
	}
	buf := f.pending.String()
	at := safeSplitPoint(buf)
	if at <= 0 {
		return
	}
	f.pending.Reset()
	f.pending.WriteString(buf[at:])
	f.emit(buf[:at])
}

// flush releases everything still buffered.
func (f *textFlusher) flush() {
	if f.pending.Len() == 0 {
		return
	}
	text := f.pending.String()
	f.pending.Reset()
	f.emit(text)
}
