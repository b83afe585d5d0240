package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultKey is the rule key whose message is used when nothing else matches.
const DefaultKey = "default"

// Kind classifies a top-level rule by the shape of its value.
type Kind int

const (
	// KindInert is any value that is neither a string nor a mapping. Inert rules
	// occupy their position in the declared order but never match.
	KindInert Kind = iota

	// KindExact maps a label to a literal comment string.
	KindExact

	// KindPartial maps a label fragment to an ordered set of sub-rules.
	KindPartial
)

// SubRule is one entry of a partial-match rule.
type SubRule struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// Rule is one top-level entry of a RuleSet.
type Rule struct {
	Key     string    `json:"key"`
	Kind    Kind      `json:"kind"`
	Message string    `json:"message,omitempty"`
	Subs    []SubRule `json:"subs,omitempty"`
}

// RuleSet is an ordered, immutable collection of comment rules.
//
// Order is the order of declaration in the source file. Partial-match scanning
// depends on it, so the rules are kept as a list rather than a map. A RuleSet is
// never modified after Parse returns and is safe for concurrent use.
type RuleSet struct {
	rules []Rule
	index map[string]int
}

// Empty returns a RuleSet with no rules.
func Empty() *RuleSet {
	return &RuleSet{index: map[string]int{}}
}

// Len returns the number of top-level rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// IsEmpty reports whether no rules are loaded.
func (rs *RuleSet) IsEmpty() bool {
	return rs.Len() == 0
}

// Rules returns a copy of the top-level rules in declared order.
func (rs *RuleSet) Rules() []Rule {
	if rs == nil {
		return nil
	}
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Default returns the message of the default rule, if it is a string rule.
func (rs *RuleSet) Default() (string, bool) {
	if rs == nil {
		return "", false
	}
	i, ok := rs.index[DefaultKey]
	if !ok || rs.rules[i].Kind != KindExact {
		return "", false
	}
	return rs.rules[i].Message, true
}

// Load reads a YAML rule file.
//
// A missing, unreadable or malformed file yields an empty RuleSet together with
// the error, so callers can log the problem and keep running with the "no rules
// loaded" behaviour.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Empty(), fmt.Errorf("failed to read rules: %w", err)
	}
	rs, err := Parse(data)
	if err != nil {
		return Empty(), fmt.Errorf("failed to parse rules %s: %w", path, err)
	}
	return rs, nil
}

// Parse builds a RuleSet from a YAML mapping.
//
// # Format
//
//	fire: "Fire hazard detected"          # exact-match rule
//	ppe:                                  # partial-match rule
//	  no_helmet: "Worker missing helmet"
//	  no_vest: "Worker missing vest"
//	default: "No issues found"            # optional fallback
//
// Keys are lowercased and trimmed. Sub-rule values must be strings. An empty
// document produces an empty RuleSet. Duplicate keys (after normalization) are
// rejected because the declared position of a rule would be ambiguous.
func Parse(data []byte) (*RuleSet, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return Empty(), nil
	}

	root := resolve(doc.Content[0])
	if root.Kind == yaml.ScalarNode && root.ShortTag() == "!!null" {
		return Empty(), nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: rules must be a mapping", root.Line)
	}

	rs := &RuleSet{
		rules: make([]Rule, 0, len(root.Content)/2),
		index: make(map[string]int, len(root.Content)/2),
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode := resolve(root.Content[i])
		valNode := resolve(root.Content[i+1])

		if keyNode.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: rule key must be a scalar", keyNode.Line)
		}
		key := normalizeKey(keyNode.Value)
		if _, dup := rs.index[key]; dup {
			return nil, fmt.Errorf("line %d: duplicate rule key %q", keyNode.Line, key)
		}

		rule, err := parseRule(key, valNode)
		if err != nil {
			return nil, err
		}
		rs.index[key] = len(rs.rules)
		rs.rules = append(rs.rules, rule)
	}

	return rs, nil
}

func parseRule(key string, val *yaml.Node) (Rule, error) {
	switch {
	case val.Kind == yaml.ScalarNode && val.ShortTag() == "!!str":
		return Rule{Key: key, Kind: KindExact, Message: val.Value}, nil

	case val.Kind == yaml.MappingNode:
		subs := make([]SubRule, 0, len(val.Content)/2)
		seen := make(map[string]bool, len(val.Content)/2)
		for j := 0; j+1 < len(val.Content); j += 2 {
			sk := resolve(val.Content[j])
			sv := resolve(val.Content[j+1])
			if sk.Kind != yaml.ScalarNode {
				return Rule{}, fmt.Errorf("line %d: sub-rule key under %q must be a scalar", sk.Line, key)
			}
			if sv.Kind != yaml.ScalarNode || sv.ShortTag() != "!!str" {
				return Rule{}, fmt.Errorf("line %d: sub-rule %q under %q must be a string", sv.Line, sk.Value, key)
			}
			subKey := normalizeKey(sk.Value)
			if seen[subKey] {
				return Rule{}, fmt.Errorf("line %d: duplicate sub-rule key %q under %q", sk.Line, subKey, key)
			}
			seen[subKey] = true
			subs = append(subs, SubRule{Key: subKey, Message: sv.Value})
		}
		return Rule{Key: key, Kind: KindPartial, Subs: subs}, nil

	default:
		return Rule{Key: key, Kind: KindInert}, nil
	}
}

// resolve follows YAML aliases to the anchored node.
func resolve(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// errEmptyPartial is wrapped by EngineError when a partial rule qualifies but
// has no sub-rule to fall back to.
var errEmptyPartial = errors.New("partial rule has no sub-rules")
