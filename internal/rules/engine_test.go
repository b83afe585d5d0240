package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/anomaly-detector/internal/detection"
)

const safetyRules = `
fire: "Fire hazard detected"
ppe:
  no_helmet: "Worker missing helmet"
  no_vest: "Worker missing vest"
default: "No issues found"
`

func mustParse(t *testing.T, src string) *RuleSet {
	t.Helper()
	rs, err := Parse([]byte(src))
	require.NoError(t, err)
	return rs
}

func dets(labels ...string) []detection.Detection {
	out := make([]detection.Detection, len(labels))
	for i, l := range labels {
		out[i] = detection.Detection{BBox: [4]int{0, 0, 10, 10}, Confidence: 0.9, Label: l, Model: "m"}
	}
	return out
}

func TestGenerate_Scenario(t *testing.T) {
	rs := mustParse(t, safetyRules)

	comments, err := rs.Generate(dets("fire", "no_helmet_violation"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Fire hazard detected", "Worker missing helmet"}, comments)
}

func TestGenerate_NoDetectionsUsesDefault(t *testing.T) {
	rs := mustParse(t, `default: "No issues found"`)

	comments, err := rs.Generate(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"No issues found"}, comments)
}

func TestGenerate_NoDetectionsNoDefault(t *testing.T) {
	rs := mustParse(t, `fire: "Fire hazard detected"`)

	comments, err := rs.Generate([]detection.Detection{})
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestGenerate_EmptyRuleSet(t *testing.T) {
	for _, rs := range []*RuleSet{Empty(), nil, mustParse(t, ""), mustParse(t, "~")} {
		comments, err := rs.Generate(nil)
		require.NoError(t, err)
		assert.Equal(t, []string{NoRulesMessage}, comments)

		comments, err = rs.Generate(dets("fire", "smoke"))
		require.NoError(t, err)
		assert.Equal(t, []string{NoRulesMessage}, comments)
	}
}

func TestGenerate_ExactMatchIsCaseInsensitiveAndTrimmed(t *testing.T) {
	rs := mustParse(t, safetyRules)

	comments, err := rs.Generate(dets("  FIRE  "))
	require.NoError(t, err)
	assert.Equal(t, []string{"Fire hazard detected"}, comments)
}

func TestGenerate_KeysNormalizedAtLoad(t *testing.T) {
	rs := mustParse(t, `" Fire ": "Fire hazard detected"`)

	comments, err := rs.Generate(dets("fire"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Fire hazard detected"}, comments)
}

func TestGenerate_PartialFallsBackToFirstSubRule(t *testing.T) {
	rs := mustParse(t, safetyRules)

	comments, err := rs.Generate(dets("ppe_unknown"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Worker missing helmet"}, comments)
}

func TestGenerate_PartialPicksFirstMatchingSubRule(t *testing.T) {
	rs := mustParse(t, safetyRules)

	comments, err := rs.Generate(dets("ppe_no_vest"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Worker missing vest"}, comments)
}

func TestGenerate_FirstQualifyingPartialRuleWins(t *testing.T) {
	rs := mustParse(t, `
panel:
  open: "Panel door open"
electrical_panel:
  exposed: "Exposed wiring"
`)

	// "panel" is declared first and qualifies, so the better "electrical_panel"
	// rule is never reached and the fallback of "panel" is used.
	comments, err := rs.Generate(dets("electrical_panel_exposed"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Panel door open"}, comments)
}

func TestGenerate_RuleKeyBeatsEarlierSubKey(t *testing.T) {
	rs := mustParse(t, `
ppe:
  helmet: "Helmet rule under ppe"
helmet:
  missing: "Worker missing helmet"
`)

	// "ppe" is not in the label, so the later "helmet" rule wins on its key even
	// though the earlier rule has a sub-key in the label.
	comments, err := rs.Generate(dets("helmet_missing"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Worker missing helmet"}, comments)
}

func TestGenerate_SubKeyScanAcrossRulesInOrder(t *testing.T) {
	rs := mustParse(t, `
vest:
  reflective: "Reflective strip damaged"
gear:
  no_vest: "Worker missing vest"
  torn: "Torn gear"
default: "No issues found"
`)

	comments, err := rs.Generate(dets("torn_no_vest", "cat"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Reflective strip damaged", "No issues found"}, comments,
		"vest is a rule key inside torn_no_vest and falls back to its first sub-rule")

	comments, err = rs.Generate(dets("torn_jacket"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Torn gear"}, comments)
}

func TestGenerate_StringRulesAreNotPartial(t *testing.T) {
	rs := mustParse(t, `
fire: "Fire hazard detected"
default: "No issues found"
`)

	// "fire" is a substring of "fire_extinguisher" but exact rules never match partially.
	comments, err := rs.Generate(dets("fire_extinguisher"))
	require.NoError(t, err)
	assert.Equal(t, []string{"No issues found"}, comments)
}

func TestGenerate_ExactBeatsPartial(t *testing.T) {
	rs := mustParse(t, `
helmet:
  missing: "Worker missing helmet"
helmet_ok: "Helmet worn"
`)

	comments, err := rs.Generate(dets("helmet_ok"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Helmet worn"}, comments)
}

func TestGenerate_Dedupes(t *testing.T) {
	rs := mustParse(t, safetyRules)

	comments, err := rs.Generate(dets("fire", "cat", "fire", "no_helmet", "dog", "FIRE"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Fire hazard detected", "No issues found", "Worker missing helmet"}, comments)

	seen := map[string]bool{}
	for _, c := range comments {
		assert.False(t, seen[c], "duplicate comment %q", c)
		seen[c] = true
	}
}

func TestGenerate_NoDefaultUnmatchedProducesNothing(t *testing.T) {
	rs := mustParse(t, `fire: "Fire hazard detected"`)

	comments, err := rs.Generate(dets("cat", "fire"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Fire hazard detected"}, comments)
}

func TestGenerate_EmptyPartialRuleFails(t *testing.T) {
	rs := mustParse(t, `
ppe: {}
default: "No issues found"
`)

	_, err := rs.Generate(dets("fire", "ppe_check"))
	var eerr *EngineError
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, 1, eerr.Index)
	assert.ErrorIs(t, err, errEmptyPartial)
}

func TestGenerate_InertRulesNeverMatch(t *testing.T) {
	rs := mustParse(t, `
fire: 5
smoke: [a, b]
default: "No issues found"
`)

	comments, err := rs.Generate(dets("fire", "smoke"))
	require.NoError(t, err)
	assert.Equal(t, []string{"No issues found"}, comments)
}

func TestComment(t *testing.T) {
	rs := mustParse(t, safetyRules)

	msg, ok, err := rs.Comment("no_vest")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Worker missing vest", msg)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"not a mapping", "- fire\n- smoke\n"},
		{"duplicate after normalization", "fire: a\nFIRE: b\n"},
		{"non-string sub-rule", "ppe:\n  no_helmet: 3\n"},
		{"nested sub-rule", "ppe:\n  no_helmet:\n    deeper: x\n"},
		{"invalid yaml", "fire: [unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestParse_PreservesOrder(t *testing.T) {
	rs := mustParse(t, `
zeta: "z"
alpha:
  b: "B"
  a: "A"
mid: "m"
`)

	got := rs.Rules()
	require.Len(t, got, 3)
	assert.Equal(t, "zeta", got[0].Key)
	assert.Equal(t, KindPartial, got[1].Kind)
	assert.Equal(t, []SubRule{{Key: "b", Message: "B"}, {Key: "a", Message: "A"}}, got[1].Subs)
	assert.Equal(t, "mid", got[2].Key)
}

func TestParse_Aliases(t *testing.T) {
	rs := mustParse(t, `
fire: &fire "Fire hazard detected"
flame: *fire
`)

	comments, err := rs.Generate(dets("flame"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Fire hazard detected"}, comments)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comment_rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(safetyRules), 0o644))

	rs, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, rs.Len())

	def, ok := rs.Default()
	assert.True(t, ok)
	assert.Equal(t, "No issues found", def)
}

func TestLoad_MissingFileYieldsEmpty(t *testing.T) {
	rs, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	require.NotNil(t, rs)
	assert.True(t, rs.IsEmpty())

	comments, err := rs.Generate(dets("fire"))
	require.NoError(t, err)
	assert.Equal(t, []string{NoRulesMessage}, comments)
}

func TestLoad_MalformedFileYieldsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- just\n- a list\n"), 0o644))

	rs, err := Load(path)
	assert.Error(t, err)
	assert.True(t, rs.IsEmpty())
}
