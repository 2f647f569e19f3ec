package usecase

import (
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"strings"

	"termagent/internal/domain"
	"termagent/internal/infra/config"
)

const (
	// maxTrackedContent bounds the text kept for content-loop analysis.
	maxTrackedContent = 5000
	// loopDistanceFactor is how close (in chunk lengths) repetitions must be.
	loopDistanceFactor = 1.5
)

// LoopDetector watches one prompt's stream for repeated tool calls and
// repeated text. It only reports; the caller decides what to do.
type LoopDetector struct {
	toolThreshold int
	chunkSize     int
	repetitions   int
	disabled      bool
	logger        *slog.Logger

	detected  bool
	lastCall  string
	callCount int

	content     strings.Builder
	text        string
	scanned     int
	chunkIndex  map[uint64][]int
	inCodeBlock bool
}

// NewLoopDetector creates a detector from config. A disabled config yields
// a detector that never fires.
func NewLoopDetector(cfg config.LoopDetectionConfig, logger *slog.Logger) *LoopDetector {
	d := &LoopDetector{
		toolThreshold: cfg.ToolCallThreshold,
		chunkSize:     cfg.ContentChunkSize,
		repetitions:   cfg.ContentRepetitions,
		disabled:      !cfg.Enabled,
		logger:        logger,
	}
	if d.toolThreshold <= 0 {
		d.toolThreshold = 5
	}
	if d.chunkSize <= 0 {
		d.chunkSize = 50
	}
	if d.repetitions <= 1 {
		d.repetitions = 10
	}
	d.Reset()
	return d
}

// Reset clears all tracking. Called at the start of every user prompt.
func (d *LoopDetector) Reset() {
	d.detected = false
	d.lastCall = ""
	d.callCount = 0
	d.resetContent()
}

func (d *LoopDetector) resetContent() {
	d.content.Reset()
	d.text = ""
	d.scanned = 0
	d.chunkIndex = make(map[uint64][]int)
}

// Disable turns detection off for the rest of the session.
func (d *LoopDetector) Disable() { d.disabled = true }

// Disabled reports whether detection is off.
func (d *LoopDetector) Disabled() bool { return d.disabled }

// AddEvent feeds one stream event and reports whether a loop was detected
// by it. Once a loop is reported, further events are ignored until Reset.
func (d *LoopDetector) AddEvent(ev domain.StreamEvent) bool {
	if d.disabled || d.detected {
		return false
	}
	switch ev.Type {
	case domain.EventToolCallRequest:
		d.resetContent()
		d.detected = d.checkToolCall(ev.ToolCall)
	case domain.EventContent:
		d.detected = d.checkContent(ev.Text)
	}
	return d.detected
}

func (d *LoopDetector) checkToolCall(call *domain.ToolCallRequest) bool {
	if call == nil {
		return false
	}
	// Map keys marshal sorted, so equal args give equal signatures.
	args, _ := json.Marshal(call.Args)
	sig := call.Name + ":" + string(args)
	if sig == d.lastCall {
		d.callCount++
	} else {
		d.lastCall = sig
		d.callCount = 1
	}
	if d.callCount >= d.toolThreshold {
		d.logger.Warn("tool call loop suspected", "tool", call.Name, "repeats", d.callCount)
		return true
	}
	return false
}

func (d *LoopDetector) checkContent(text string) bool {
	// Code blocks legitimately repeat lines; fences restart tracking.
	if n := strings.Count(text, "```"); n > 0 {
		if n%2 == 1 {
			d.inCodeBlock = !d.inCodeBlock
		}
		d.resetContent()
		return false
	}
	if d.inCodeBlock {
		return false
	}

	d.content.WriteString(text)
	d.text = d.content.String()
	if len(d.text) > 2*maxTrackedContent {
		d.truncateContent()
	}

	for ; d.scanned+d.chunkSize <= len(d.text); d.scanned++ {
		if d.chunkRepeats(d.scanned) {
			d.logger.Warn("content loop suspected", "chunk", d.text[d.scanned:d.scanned+d.chunkSize])
			return true
		}
	}
	return false
}

// chunkRepeats records the chunk at pos and reports whether it has now
// occurred often enough and densely enough to count as a loop.
func (d *LoopDetector) chunkRepeats(pos int) bool {
	chunk := d.text[pos : pos+d.chunkSize]
	h := fnv.New64a()
	h.Write([]byte(chunk))
	key := h.Sum64()

	var matches []int
	for _, p := range d.chunkIndex[key] {
		if d.text[p:p+d.chunkSize] == chunk {
			matches = append(matches, p)
		}
	}
	// Overlapping occurrences (runs of one character) count once.
	if n := len(matches); n > 0 && pos-matches[n-1] < d.chunkSize {
		d.chunkIndex[key] = matches
		return false
	}
	matches = append(matches, pos)
	d.chunkIndex[key] = matches

	if len(matches) < d.repetitions {
		return false
	}
	recent := matches[len(matches)-d.repetitions:]
	avg := float64(recent[len(recent)-1]-recent[0]) / float64(len(recent)-1)
	return avg <= loopDistanceFactor*float64(d.chunkSize)
}

// truncateContent keeps the last maxTrackedContent bytes and reindexes.
func (d *LoopDetector) truncateContent() {
	keep := d.text[len(d.text)-maxTrackedContent:]
	d.resetContent()
	d.content.WriteString(keep)
	d.text = keep
	for pos := 0; pos+d.chunkSize <= len(d.text); pos++ {
		d.chunkRepeats(pos)
		d.scanned = pos + 1
	}
}
