// Package policy masks sensitive content before a turn leaves the process
// memory for the transcript archive.
package policy

import "regexp"

type rule struct {
	category string
	pattern  *regexp.Regexp
	marker   string
}

// Order matters: secrets and cards are masked before the looser phone pattern
// gets a chance to claim their digits.
var rules = []rule{
	{"secret", regexp.MustCompile(`\b(?:sk|pk|rk)-[A-Za-z0-9_\-]{16,}\b`), "[REDACTED_SECRET]"},
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{"card", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{"phone", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// Redaction is the outcome of masking one text.
type Redaction struct {
	Text       string
	Categories []string
}

func (r Redaction) Changed() bool { return len(r.Categories) > 0 }

func Redact(input string) Redaction {
	out := Redaction{Text: input}
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out.Text, r.marker)
		if next != out.Text {
			out.Categories = append(out.Categories, r.category)
			out.Text = next
		}
	}
	return out
}

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	r := Redact(input)
	return r.Text, r.Changed()
}
