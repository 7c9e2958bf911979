package analyze

import "strings"

const noSummary = "No summary available"

// LocalSummary produces a short extractive summary without any model call:
// the first two sentences of the text, falling back to the first 200
// characters when no sentence boundary is found, hard-capped at 60 words.
func LocalSummary(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return noSummary
	}

	sentences := splitSentences(text)
	summary := strings.TrimSpace(strings.Join(firstN(sentences, 2), " "))
	if summary == "" {
		if len(text) > 200 {
			summary = strings.TrimSpace(text[:200])
		} else {
			summary = text
		}
	}

	words := strings.Fields(summary)
	if len(words) > 60 {
		summary = strings.Join(words[:60], " ") + "..."
	}

	if summary == "" {
		return noSummary
	}
	return summary
}

// splitSentences breaks text after '.', '!' or '?' followed by whitespace.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && isSpace(text[i+1]) {
			out = append(out, strings.TrimSpace(text[start:i+1]))
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func firstN(ss []string, n int) []string {
	if len(ss) < n {
		return ss
	}
	return ss[:n]
}
