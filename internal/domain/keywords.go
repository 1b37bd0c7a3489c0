package domain

import (
	"encoding/json"
	"regexp"
	"strings"
)

// FallbackKeyword is emitted when normalization finds nothing usable.
const FallbackKeyword = "tag"

// MaxKeywords caps how many keywords a single post gets.
const MaxKeywords = 3

var (
	bulletProbe    = regexp.MustCompile(`\n|•|-\s`)
	bulletSplitter = regexp.MustCompile(`\n|•|\*|-\s`)
	quoteChars     = regexp.MustCompile("[\"'`*_]")
	innerSpace     = regexp.MustCompile(`\s+`)
	// Lower-case latin, digits, French accented letters and hyphens survive.
	disallowed     = regexp.MustCompile(`[^a-z0-9àâäéèêëïîôöùûüÿçñ-]`)
	repeatedHyphen = regexp.MustCompile(`-+`)
)

// NormalizeKeywords turns raw classifier output into a canonical ";"-joined
// keyword string. It tries structured extraction first (JSON array, or an
// object with a "keywords" array), then falls back through bullet/newline
// splits, semicolons, commas, and finally whitespace. Each candidate is
// lower-cased, stripped of quoting characters, hyphenated and reduced to the
// allowed charset; duplicates are dropped keeping first-seen order and the
// result is capped at MaxKeywords. It never fails: malformed input yields the
// fallback keyword.
func NormalizeKeywords(raw string) string {
	s := strings.TrimSpace(strings.ReplaceAll(raw, "\r", ""))

	parts := keywordsFromJSON(s)
	if len(parts) == 0 && bulletProbe.MatchString(s) {
		parts = bulletSplitter.Split(s, -1)
	}
	if len(parts) == 0 {
		switch {
		case strings.Contains(s, ";"):
			parts = strings.Split(s, ";")
		case strings.Contains(s, ","):
			parts = strings.Split(s, ",")
		}
	}
	if len(parts) == 0 {
		parts = strings.Fields(s)
	}

	seen := make(map[string]struct{}, len(parts))
	keywords := make([]string, 0, MaxKeywords)
	for _, p := range parts {
		t := cleanToken(p)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		keywords = append(keywords, t)
		if len(keywords) == MaxKeywords {
			break
		}
	}
	if len(keywords) == 0 {
		keywords = append(keywords, FallbackKeyword)
	}
	return strings.Join(keywords, ";")
}

func keywordsFromJSON(s string) []string {
	var arr []any
	if err := json.Unmarshal([]byte(s), &arr); err == nil {
		return stringify(arr)
	}
	var obj struct {
		Keywords []any `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(s), &obj); err == nil && obj.Keywords != nil {
		return stringify(obj.Keywords)
	}
	return nil
}

func stringify(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func cleanToken(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = quoteChars.ReplaceAllString(t, "")
	t = innerSpace.ReplaceAllString(t, "-")
	t = disallowed.ReplaceAllString(t, "")
	t = repeatedHyphen.ReplaceAllString(t, "-")
	return strings.Trim(t, "-")
}

// SplitKeywords splits a ";"-joined keyword string back into its tokens,
// dropping blanks.
func SplitKeywords(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
