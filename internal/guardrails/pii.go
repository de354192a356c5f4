package guardrails

import "regexp"

type piiPattern struct {
	kind string
	re   *regexp.Regexp
}

// piiPatterns are applied in order; more specific shapes come first so a card
// number is not reported as an id number.
var piiPatterns = []piiPattern{
	{"tarjeta", regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)},
	{"nit", regexp.MustCompile(`\b\d{9}-\d\b`)},
	{"email", regexp.MustCompile(`\b[\w.-]+@[\w.-]+\.\w+\b`)},
	{"telefono", regexp.MustCompile(`\b3\d{9}\b`)},
	{"cedula", regexp.MustCompile(`\b\d{6,10}\b`)},
}

// DetectPII returns the personal data found in text, by kind.
func DetectPII(text string) map[string][]string {
	found := make(map[string][]string)
	for _, p := range piiPatterns {
		if m := p.re.FindAllString(text, -1); len(m) > 0 {
			found[p.kind] = m
			text = p.re.ReplaceAllString(text, "")
		}
	}
	return found
}

// MaskPII replaces personal data with [KIND_REDACTED] markers for logging.
func MaskPII(text string) string {
	for _, p := range piiPatterns {
		text = p.re.ReplaceAllString(text, "["+upper(p.kind)+"_REDACTED]")
	}
	return text
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
