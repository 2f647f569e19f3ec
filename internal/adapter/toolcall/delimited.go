package toolcall

import (
	"regexp"
	"strings"
)

const (
	openTag  = "<tool_call>"
	closeTag = "</tool_call>"
)

var delimitedRe = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)

// DelimitedJSON parses <tool_call>...</tool_call> blocks. A final block left
// open because generation stopped early is still tried.
type DelimitedJSON struct{}

func (DelimitedJSON) Name() string { return "delimited_json" }

func (DelimitedJSON) Parse(text string) Result {
	var res Result
	add := func(body string) {
		res.Candidates++
		calls, err := decodeCandidate(stripFence(body), compiledEnvelope)
		if err != nil {
			res.Skipped++
			return
		}
		res.Calls = append(res.Calls, calls...)
	}

	last := 0
	for _, m := range delimitedRe.FindAllStringSubmatchIndex(text, -1) {
		add(text[m[2]:m[3]])
		last = m[1]
	}
	if i := strings.Index(text[last:], openTag); i >= 0 {
		add(text[last+i+len(openTag):])
	}
	return res
}

var innerFenceRe = regexp.MustCompile("(?s)^```[a-zA-Z_]*\\s*(.*?)\\s*```$")

// stripFence removes a code fence a model wrapped inside the tags.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if m := innerFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}
