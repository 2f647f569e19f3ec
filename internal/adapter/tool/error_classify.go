package tool

import (
	"errors"
	"strings"

	"termagent/internal/domain"
)

// transientPatterns are substrings of error messages for failures that may
// clear up on their own. Checked case-insensitively.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"resource temporarily",
	"text file busy",
}

// classifyToolError reports whether err looks transient, so the model is
// told the call may succeed if repeated.
func classifyToolError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrTimeout) {
		return true
	}
	if errors.Is(err, domain.ErrPathOutside) || errors.Is(err, domain.ErrURLBlocked) {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
