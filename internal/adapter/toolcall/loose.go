package toolcall

import (
	"regexp"
	"sort"
	"strings"
)

var (
	fenceRe = regexp.MustCompile("(?s)```[a-zA-Z_]*[ \t]*\n?(.*?)```")
	// envelopeKeyRe and argsKeyRe are the permissive patterns a loose object
	// must match before it is worth decoding.
	envelopeKeyRe = regexp.MustCompile(`"(?:name|tool|function)"\s*:`)
	argsKeyRe     = regexp.MustCompile(`"(?:arguments|args|parameters|input)"\s*:`)
)

// LooseJSON finds envelopes inside fenced code blocks and as bare objects in
// prose. Results are ordered by position in the text.
type LooseJSON struct{}

func (LooseJSON) Name() string { return "loose_json" }

type positioned struct {
	pos   int
	calls []Call
}

func (LooseJSON) Parse(text string) Result {
	var (
		res   Result
		found []positioned
	)

	masked := []byte(text)
	for _, m := range fenceRe.FindAllStringSubmatchIndex(text, -1) {
		body := text[m[2]:m[3]]
		for i := m[0]; i < m[1]; i++ {
			masked[i] = ' '
		}
		if !looksLikeEnvelope(body) {
			continue
		}
		res.Candidates++
		calls, err := decodeCandidate(body, compiledUntaggedEnvelope)
		if err != nil {
			// A fence may hold several objects or prose around one.
			objs := scanObjects(body)
			for _, o := range objs {
				if c, err := decodeCandidate(body[o[0]:o[1]], compiledUntaggedEnvelope); err == nil {
					calls = append(calls, c...)
				}
			}
			if len(calls) == 0 {
				res.Skipped++
				continue
			}
		}
		found = append(found, positioned{pos: m[0], calls: calls})
	}

	rest := string(masked)
	for _, o := range scanObjects(rest) {
		obj := rest[o[0]:o[1]]
		if !looksLikeEnvelope(obj) {
			continue
		}
		res.Candidates++
		calls, err := decodeCandidate(obj, compiledUntaggedEnvelope)
		if err != nil {
			res.Skipped++
			continue
		}
		found = append(found, positioned{pos: o[0], calls: calls})
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })
	for _, f := range found {
		res.Calls = append(res.Calls, f.calls...)
	}
	return res
}

func looksLikeEnvelope(s string) bool {
	return envelopeKeyRe.MatchString(s) && (argsKeyRe.MatchString(s) || strings.Contains(s, `"function"`))
}

// scanObjects returns [start, end) spans of top-level balanced {...} regions,
// honouring JSON string quoting.
func scanObjects(s string) [][2]int {
	var (
		spans    [][2]int
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				spans = append(spans, [2]int{start, i + 1})
				start = -1
			}
		}
	}
	return spans
}
