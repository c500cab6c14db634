package bundler

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"

	"accord/internal/precedent/embedding"
	"accord/internal/precedent/models"
)

const (
	maxThemes      = 5
	minThemeLength = 4
)

var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "also": {}, "been": {}, "being": {}, "does": {},
	"false": {}, "from": {}, "have": {}, "into": {}, "none": {}, "null": {},
	"only": {}, "over": {}, "such": {}, "than": {}, "that": {}, "their": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "this": {}, "true": {},
	"were": {}, "what": {}, "when": {}, "which": {}, "will": {}, "with": {},
}

// commonThemes returns the five most frequent words across the members'
// string values, ties broken alphabetically. Words shorter than four letters,
// stop-words and bare numbers are not counted.
func commonThemes(members []models.RawPrecedent, skip map[string]struct{}) []string {
	freq := make(map[string]int)
	for _, p := range members {
		for _, tok := range embedding.Tokenize(themeText(p, skip)) {
			if isThemeWord(tok) {
				freq[tok]++
			}
		}
	}

	themes := make([]string, 0, len(freq))
	for tok := range freq {
		themes = append(themes, tok)
	}
	sort.Slice(themes, func(i, j int) bool {
		if freq[themes[i]] != freq[themes[j]] {
			return freq[themes[i]] > freq[themes[j]]
		}
		return themes[i] < themes[j]
	})
	if len(themes) > maxThemes {
		themes = themes[:maxThemes]
	}
	return themes
}

func themeText(p models.RawPrecedent, skip map[string]struct{}) string {
	var b strings.Builder
	for k, v := range p.InputData {
		if _, suppressed := skip[lowerKey(k)]; suppressed {
			continue
		}
		appendStrings(&b, v)
	}
	return b.String()
}

func appendStrings(b *strings.Builder, v any) {
	switch val := v.(type) {
	case string:
		b.WriteString(val)
		b.WriteByte(' ')
	case []string:
		for _, s := range val {
			appendStrings(b, s)
		}
	case []any:
		for _, item := range val {
			appendStrings(b, item)
		}
	}
}

func isThemeWord(tok string) bool {
	if utf8.RuneCountInString(tok) < minThemeLength {
		return false
	}
	if _, stop := stopWords[tok]; stop {
		return false
	}
	for _, r := range tok {
		if r < '0' || r > '9' {
			return true
		}
	}
	return false
}

// contextPatterns records, per unsuppressed key, the share of members that
// carry it and the JSON types its values took.
func contextPatterns(members []models.RawPrecedent, skip map[string]struct{}) map[string]models.ContextPattern {
	counts := make(map[string]int)
	types := make(map[string]map[string]struct{})
	for _, p := range members {
		for k, v := range p.InputData {
			if _, suppressed := skip[lowerKey(k)]; suppressed {
				continue
			}
			counts[k]++
			if types[k] == nil {
				types[k] = make(map[string]struct{})
			}
			types[k][valueType(v)] = struct{}{}
		}
	}

	out := make(map[string]models.ContextPattern, len(counts))
	for k, n := range counts {
		vt := make([]string, 0, len(types[k]))
		for t := range types[k] {
			vt = append(vt, t)
		}
		sort.Strings(vt)
		out[k] = models.ContextPattern{
			Presence:   float64(n) / float64(len(members)),
			ValueTypes: vt,
		}
	}
	return out
}

func valueType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return "number"
	case []any, []string:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}
