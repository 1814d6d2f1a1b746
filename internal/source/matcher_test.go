package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_InvalidPattern(t *testing.T) {
	_, err := Compile(Policy{Pattern: "led[("})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid source pattern")
}

func TestMatches_WholeNameOnly(t *testing.T) {
	m, err := Compile(Policy{Pattern: "led"})
	require.NoError(t, err)

	assert.True(t, m.Matches("HOST (led)"))
	assert.False(t, m.Matches("HOST (led_wall)"), "substring must not match")
	assert.False(t, m.Matches("HOST (front_led)"))
}

func TestMatches_CaseSensitivity(t *testing.T) {
	insensitive, err := Compile(Policy{Pattern: "Projector"})
	require.NoError(t, err)
	assert.True(t, insensitive.Matches("HOST (projector)"))
	assert.True(t, insensitive.Matches("HOST (PROJECTOR)"))

	sensitive, err := Compile(Policy{Pattern: "Projector", CaseSensitive: true})
	require.NoError(t, err)
	assert.True(t, sensitive.Matches("HOST (Projector)"))
	assert.False(t, sensitive.Matches("HOST (projector)"))
}

func TestMatches_PluralHandling(t *testing.T) {
	m, err := Compile(Policy{Pattern: "projector", PluralHandling: true})
	require.NoError(t, err)

	assert.Equal(t, "projector", m.Pattern())
	assert.Equal(t, "projectors?", m.EffectivePattern())
	assert.True(t, m.Matches("HOST (projector)"))
	assert.True(t, m.Matches("HOST (projectors)"))
	assert.False(t, m.Matches("HOST (projectorss)"))
}

func TestMatches_PluralHandlingSkipsComplexPatterns(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
	}{
		{"alternation", "led|projector"},
		{"character class", "led[0-9]"},
		{"already relaxed", "projectors?"},
		{"anchored", "led$"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Compile(Policy{Pattern: tc.pattern, PluralHandling: true})
			require.NoError(t, err)
			assert.Equal(t, tc.pattern, m.EffectivePattern(),
				"pattern with regex syntax must pass through untouched")
		})
	}
}

func TestMatches_PluralHandlingWithWildcard(t *testing.T) {
	m, err := Compile(Policy{Pattern: ".*_led", PluralHandling: true})
	require.NoError(t, err)

	assert.Equal(t, ".*_leds?", m.EffectivePattern())
	assert.True(t, m.Matches("HOST (stage_led)"))
	assert.True(t, m.Matches("HOST (stage_leds)"))
	assert.False(t, m.Matches("HOST (stage_led_extra)"))
}

func TestMatches_Deterministic(t *testing.T) {
	m, err := Compile(Policy{Pattern: ".*_cam", PluralHandling: true})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		assert.True(t, m.Matches("RPI4 (front_cam)"))
		assert.False(t, m.Matches("RPI4 (front_mic)"))
	}
}

func TestExtractLogicalName(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"MACHINE (led_wall)", "led_wall"},
		{"MACHINE (a (b))", "a (b"}, // first closing paren wins
		{"plain-name", "plain-name"},
		{"unbalanced (name", "unbalanced (name"},
		{"HOST ()", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExtractLogicalName(tc.raw), "raw=%q", tc.raw)
	}
}
