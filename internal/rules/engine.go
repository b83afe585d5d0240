package rules

import (
	"fmt"
	"strings"

	"github.com/ironsheep/anomaly-detector/internal/detection"
)

// NoRulesMessage is the single comment returned when no rules are loaded.
const NoRulesMessage = "⚠ No comment rules loaded."

// EngineError reports a rule evaluation failure. The whole Generate call fails;
// callers replace the comments with a sentinel message.
type EngineError struct {
	Index int
	Label string
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("comment rules failed for detection %d (%q): %v", e.Index, e.Label, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Generate maps detections to an ordered, deduplicated list of advisory comments.
//
// For each detection the label is lowercased and trimmed, then the first of the
// following that applies produces the comment:
//
//  1. Exact: a string rule whose key equals the label.
//  2. Partial: scanning rules in declared order, the first mapping rule whose
//     key is a substring of the label. The comment is the first sub-rule whose
//     sub-key is a substring of the label, or the first declared sub-rule when
//     none is. Scanning stops at that rule even if a later rule would match
//     better.
//  3. Sub-key: when no mapping rule key is in the label, the first sub-rule, in
//     declared order across all mapping rules, whose sub-key is in the label.
//  4. Default: the default rule, when it is a string rule.
//
// With zero detections the result is the default comment alone (or nothing when
// there is no default). With no rules loaded the result is NoRulesMessage.
//
// Duplicate comments are removed keeping the first occurrence.
func (rs *RuleSet) Generate(dets []detection.Detection) ([]string, error) {
	if rs.IsEmpty() {
		return []string{NoRulesMessage}, nil
	}

	comments := make([]string, 0, len(dets)+1)
	if len(dets) == 0 {
		if msg, ok := rs.Default(); ok {
			comments = append(comments, msg)
		}
		return comments, nil
	}

	for i, d := range dets {
		msg, ok, err := rs.match(normalizeKey(d.Label))
		if err != nil {
			return nil, &EngineError{Index: i, Label: d.Label, Err: err}
		}
		if ok {
			comments = append(comments, msg)
		}
	}

	return dedupe(comments), nil
}

// Comment evaluates a single label. It is the per-detection step of Generate.
func (rs *RuleSet) Comment(label string) (string, bool, error) {
	if rs.IsEmpty() {
		return NoRulesMessage, true, nil
	}
	return rs.match(normalizeKey(label))
}

func (rs *RuleSet) match(key string) (string, bool, error) {
	if i, ok := rs.index[key]; ok && rs.rules[i].Kind == KindExact {
		return rs.rules[i].Message, true, nil
	}

	for _, r := range rs.rules {
		if r.Kind != KindPartial || !strings.Contains(key, r.Key) {
			continue
		}
		if msg, ok := firstSubMatch(r.Subs, key); ok {
			return msg, true, nil
		}
		if len(r.Subs) == 0 {
			return "", false, fmt.Errorf("%q: %w", r.Key, errEmptyPartial)
		}
		return r.Subs[0].Message, true, nil
	}

	// No rule key appears in the label; try sub-keys in declared order.
	for _, r := range rs.rules {
		if r.Kind != KindPartial {
			continue
		}
		if msg, ok := firstSubMatch(r.Subs, key); ok {
			return msg, true, nil
		}
	}

	if msg, ok := rs.Default(); ok {
		return msg, true, nil
	}
	return "", false, nil
}

func firstSubMatch(subs []SubRule, key string) (string, bool) {
	for _, s := range subs {
		if strings.Contains(key, s.Key) {
			return s.Message, true
		}
	}
	return "", false
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
