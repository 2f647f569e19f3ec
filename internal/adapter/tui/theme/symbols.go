package theme

import (
	"os"
	"strings"
)

// glyph pairs a Unicode symbol with its ASCII stand-in.
type glyph struct {
	target  *string
	unicode string
	ascii   string
}

var glyphs = []glyph{
	{&SymbolSuccess, "✓", "[OK]"},
	{&SymbolError, "✗", "[ERR]"},
	{&SymbolWarning, "⚠", "[!]"},
	{&SymbolInfo, "●", "[i]"},
	{&SymbolSpinner, "⏳", "[...]"},
	{&SymbolArrowR, "→", "->"},
	{&SymbolBullet, "•", "*"},
	{&SymbolEllipsis, "…", "..."},
}

// UseASCII switches every Symbol* variable to its ASCII or Unicode form.
func UseASCII(ascii bool) {
	for _, g := range glyphs {
		if ascii {
			*g.target = g.ascii
		} else {
			*g.target = g.unicode
		}
	}
}

// DetectUnicodeSupport guesses whether the terminal renders Unicode.
// TERMAGENT_ASCII_SYMBOLS=1 forces ASCII. A dumb terminal, or a locale
// that is set but not UTF-8, also gets ASCII.
func DetectUnicodeSupport() bool {
	if v := os.Getenv("TERMAGENT_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		val := strings.ToLower(os.Getenv(key))
		if val == "" {
			continue
		}
		return strings.Contains(val, "utf-8") || strings.Contains(val, "utf8")
	}
	return true
}

// InitSymbols picks the symbol set for the current environment.
func InitSymbols() {
	UseASCII(!DetectUnicodeSupport())
}

func init() {
	InitSymbols()
}
