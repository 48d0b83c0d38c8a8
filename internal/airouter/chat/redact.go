package chat

import "regexp"

// Placeholder replaces every redacted span.
const Placeholder = "[REDACTED]"

// No word boundaries: a letter or underscore touching a card number must not
// shield it. Ordered so a grouped card is consumed whole first.
var (
	groupedCard = regexp.MustCompile(`\d{4}[ -]\d{4}[ -]\d{4}[ -]\d{4}`)
	// Groups 1 and 3 keep the non-digit neighbours so a longer run is not cut.
	ssn         = regexp.MustCompile(`(^|\D)(\d{3}-\d{2}-\d{4})(\D|$)`)
	digitRun    = regexp.MustCompile(`\d{10,}`) // account or card number, any length above 9
)

const ssnRepl = "${1}" + Placeholder + "${3}"

// Redact replaces personally identifiable digit patterns in s.
func Redact(s string) string {
	s = groupedCard.ReplaceAllString(s, Placeholder)
	// Adjacent SSNs share a separator, which one pass consumes. The
	// placeholder has no digits so this settles.
	for {
		next := ssn.ReplaceAllString(s, ssnRepl)
		if next == s {
			break
		}
		s = next
	}
	return digitRun.ReplaceAllString(s, Placeholder)
}

// RedactUser redacts user authored content only. System and assistant turns
// are not caller supplied. msgs is not modified.
func RedactUser(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.Role == RoleUser {
			m.Content = Redact(m.Content)
		}
		out[i] = m
	}
	return out
}
