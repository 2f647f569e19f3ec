package toolcall

import (
	"errors"
	"regexp"
	"sort"
	"strings"
)

// positionalParams maps each allow-listed tool to the parameter names its
// positional arguments bind to, in order.
var positionalParams = map[string][]string{
	"read_file":           {"file_path"},
	"write_file":          {"file_path", "content"},
	"replace":             {"file_path", "old_string", "new_string"},
	"list_directory":      {"dir_path"},
	"glob":                {"pattern", "dir_path"},
	"search_file_content": {"pattern", "dir_path", "include"},
	"run_shell_command":   {"command", "description"},
}

var positionalRe = buildPositionalRe()

func buildPositionalRe() *regexp.Regexp {
	names := make([]string, 0, len(positionalParams))
	for n := range positionalParams {
		names = append(names, regexp.QuoteMeta(n))
	}
	sort.Strings(names)
	// Only at line start or after whitespace, so "my_read_file(" or prose
	// like "the read_file tool" do not match.
	return regexp.MustCompile(`(?m)(?:^|[ \t])(` + strings.Join(names, "|") + `)\(`)
}

// Positional parses name("a", 'b') invocations of allow-listed tools.
type Positional struct{}

func (Positional) Name() string { return "positional" }

func (Positional) Parse(text string) Result {
	var res Result
	for _, m := range positionalRe.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[2]:m[3]]
		res.Candidates++
		values, err := parseStringArgs(text[m[1]:])
		if err != nil {
			res.Skipped++
			continue
		}
		params := positionalParams[name]
		if len(values) == 0 || len(values) > len(params) {
			res.Skipped++
			continue
		}
		args := make(map[string]any, len(values))
		for i, v := range values {
			args[params[i]] = v
		}
		res.Calls = append(res.Calls, Call{Name: name, Args: args})
	}
	return res
}

var errBadLiteral = errors.New("malformed positional arguments")

// parseStringArgs reads comma separated quoted literals up to the closing
// parenthesis. s starts right after the opening parenthesis.
func parseStringArgs(s string) ([]string, error) {
	var out []string
	i := 0
	skipSpace := func() {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
			i++
		}
	}
	for {
		skipSpace()
		if i >= len(s) {
			return nil, errBadLiteral
		}
		if s[i] == ')' && len(out) == 0 {
			return out, nil
		}
		lit, n, err := readQuoted(s[i:])
		if err != nil {
			return nil, err
		}
		out = append(out, lit)
		i += n
		skipSpace()
		if i >= len(s) {
			return nil, errBadLiteral
		}
		switch s[i] {
		case ',':
			i++
		case ')':
			return out, nil
		default:
			return nil, errBadLiteral
		}
	}
}

// readQuoted decodes a '...', "..." or """...""" literal at the start of s
// and returns it with the number of bytes consumed.
func readQuoted(s string) (string, int, error) {
	if strings.HasPrefix(s, `"""`) {
		end := strings.Index(s[3:], `"""`)
		if end < 0 {
			return "", 0, errBadLiteral
		}
		return s[3 : 3+end], end + 6, nil
	}
	if len(s) == 0 || (s[0] != '"' && s[0] != '\'') {
		return "", 0, errBadLiteral
	}
	quote := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(s[i])
			}
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, errBadLiteral
}
