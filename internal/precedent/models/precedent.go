package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	id "accord/pkg/domain"
)

// Verdict is the outcome label a decision node assigned to a case (e.g. "ALLOW").
type Verdict string

// Outcome is the verdict of a decided case together with the node's confidence in it.
type Outcome struct {
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence"`
}

// RawPrecedent is a single decided case as recorded by the local node.
// It is read-only input owned by the caller and never leaves the node.
type RawPrecedent struct {
	DecisionID id.DecisionID  `json:"decision_id"`
	InputData  map[string]any `json:"input_data"`
	Outcome    Outcome        `json:"outcome"`
	Timestamp  time.Time      `json:"timestamp"`
	// ConsentGiven records whether the case subject agreed to their case being
	// summarised for federation. Absent means no consent.
	ConsentGiven bool `json:"consent_given"`
}

// CanonicalText renders the precedent's input as stable "key: value" lines
// sorted by key. Keys listed in skip are omitted. Identical input always yields
// identical text, which keeps embeddings reproducible.
func (p RawPrecedent) CanonicalText(skip map[string]struct{}) string {
	keys := make([]string, 0, len(p.InputData))
	for k := range p.InputData {
		if _, ok := skip[strings.ToLower(k)]; ok {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(renderValue(p.InputData[k]))
	}
	return b.String()
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case map[string]any, []any:
		// encoding/json sorts map keys, so nested values render stably.
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	default:
		return fmt.Sprint(val)
	}
}
