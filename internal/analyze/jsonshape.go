package analyze

import (
	"encoding/json"
	"strings"
)

// ExtractJSONObject returns the first balanced top-level JSON object embedded
// in s. Chat models often wrap their JSON in prose or markdown fences; this
// scanner skips to the first '{' and tracks brace depth, ignoring braces that
// occur inside string literals (including escaped quotes).
func ExtractJSONObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ApplyDefaults parses a JSON object and fills every missing, null, empty,
// or wrong-typed field with its documented default. Only malformed JSON
// returns an error; shape problems inside a valid object never do.
func ApplyDefaults(jsonText string) (Analysis, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonText), &fields); err != nil {
		return Analysis{}, err
	}

	a := Analysis{
		Topic:           "Unknown",
		Sentiment:       "neutral",
		Language:        "en",
		ActionItems:     []string{},
		Summary:         noSummary,
		ConfidenceScore: 0.8,
	}

	setString(fields, "topic", &a.Topic)
	setString(fields, "sentiment", &a.Sentiment)
	setString(fields, "language", &a.Language)
	setString(fields, "summary", &a.Summary)

	if raw, ok := fields["action_items"]; ok {
		var items []json.RawMessage
		if json.Unmarshal(raw, &items) == nil {
			for _, item := range items {
				var s string
				if json.Unmarshal(item, &s) == nil && s != "" {
					a.ActionItems = append(a.ActionItems, s)
				}
			}
		}
	}

	if raw, ok := fields["confidence_score"]; ok {
		var v float64
		if json.Unmarshal(raw, &v) == nil {
			a.ConfidenceScore = clamp01(v)
		}
	}

	return a, nil
}

func setString(fields map[string]json.RawMessage, key string, dst *string) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return
	}
	if s = strings.TrimSpace(s); s != "" {
		*dst = s
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
