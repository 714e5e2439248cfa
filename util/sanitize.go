package util

import (
	"regexp"
	"strings"
	"unicode"
)

// MaxSanitizeLength bounds the input scanned by SanitizeString; longer input is truncated
const MaxSanitizeLength = 64 * 1024

var redactions = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	// credentials in query strings and key=value text
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey|x-apikey|key|token|password|passwd|secret)=[^\s&"]+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey|x-apikey|password|secret)(\s*:\s*)[^\s,"]+`), "$1${2}REDACTED"},
	{regexp.MustCompile(`(?i)"(api[_-]?key|apikey|password|secret|token)"\s*:\s*"[^"]*"`), `"$1":"REDACTED"`},
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-.]+`), "bearer REDACTED"},
	// user:password@ in connection URLs
	{regexp.MustCompile(`(redis|rediss|https?)://([^:@/\s]*):[^@/\s]+@`), "$1://$2:REDACTED@"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "REDACTED_AWS_KEY"},
}

// ansiEscape matches CSI and OSC terminal escape sequences
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)`)

// SanitizeError returns err's message with credentials redacted
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString redacts API keys, passwords and tokens from s
func SanitizeString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > MaxSanitizeLength {
		s = s[:MaxSanitizeLength] + "... [truncated]"
	}
	for _, r := range redactions {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// StripControl removes terminal escape sequences and control characters so
// untrusted text can be printed to a terminal. Tabs and newlines become spaces.
func StripControl(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return ' '
		case unicode.IsControl(r):
			return -1
		default:
			return r
		}
	}, s)
}
