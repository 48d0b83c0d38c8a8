package service

import (
	"regexp"
	"strings"
)

// Recommendation is appended to answers that give no advice of their own.
const Recommendation = "I recommend reviewing your spending regularly and speaking with a licensed financial adviser before making major financial decisions."

var (
	metaPhrases = regexp.MustCompile(`(?i)\b(?:according to my (?:search|research|sources)|based on my (?:search|research)|from my search results|as an ai(?: language model)?)\b[,:]?\s*`)

	markdownLink = regexp.MustCompile(`\[([^\]]+)\]\((?:https?://|www\.)[^)\s]*\)`)

	spaces = regexp.MustCompile(`[ \t]{2,}`)
)

// Ordered so the longer forms are rewritten before the bare reference.
var thirdPerson = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`(?i)\b(?:the|this) assistant's\b`), "my"},
	{regexp.MustCompile(`(?i)\b(?:the|this) assistant is\b`), "I am"},
	{regexp.MustCompile(`(?i)\b(?:the|this) assistant (?:recommends|suggests)\b`), "I recommend"},
	{regexp.MustCompile(`(?i)\b(?:the|this) assistant\b`), "I"},
}

// PostProcess tidies a primary answer for display.
func PostProcess(text string) string {
	text = metaPhrases.ReplaceAllString(text, "")
	text = markdownLink.ReplaceAllString(text, "[$1]")
	for _, r := range thirdPerson {
		text = r.re.ReplaceAllStringFunc(text, func(m string) string {
			if m[0] == 'T' {
				return capitalizeFirst(r.with)
			}
			return r.with
		})
	}
	text = strings.TrimSpace(spaces.ReplaceAllString(text, " "))
	text = capitalizeFirst(text)

	lower := strings.ToLower(text)
	if !strings.Contains(lower, "recommend") && !strings.Contains(lower, "suggestion") {
		if text != "" {
			text += "\n\n"
		}
		text += Recommendation
	}
	return text
}

// capitalizeFirst restores sentence case after a leading phrase was removed.
func capitalizeFirst(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
