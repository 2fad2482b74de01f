package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_EffortSuffix(t *testing.T) {
	base, spec, warns, err := Resolve("o4-mini:high", Defaults{})
	require.NoError(t, err)

	assert.Equal(t, "o4-mini", base)
	assert.Equal(t, KindEffort, spec.Kind)
	assert.Equal(t, "high", spec.Effort)
	assert.Empty(t, warns)
}

func TestResolve_EffortCaseInsensitive(t *testing.T) {
	_, spec, _, err := Resolve("gpt-5-turbo:MEDIUM", Defaults{})
	require.NoError(t, err)

	assert.Equal(t, KindEffort, spec.Kind)
	assert.Equal(t, "medium", spec.Effort)
}

func TestResolve_InvalidEffort(t *testing.T) {
	_, _, _, err := Resolve("o4-mini:ultra", Defaults{})
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "o4-mini", cfgErr.Model)
	assert.Equal(t, "ultra", cfgErr.Suffix)
}

func TestResolve_AnthropicBudget(t *testing.T) {
	base, spec, warns, err := Resolve("claude-opus-4-20250514:8k", Defaults{})
	require.NoError(t, err)

	assert.Equal(t, "claude-opus-4-20250514", base)
	assert.Equal(t, KindBudget, spec.Kind)
	assert.Equal(t, FamilyAnthropic, spec.Family)
	assert.Equal(t, 8192, spec.Budget)
	assert.Empty(t, warns)
}

func TestResolve_GeminiBudget(t *testing.T) {
	base, spec, _, err := Resolve("gemini-2.5-flash-preview-04-17:8k", Defaults{})
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.5-flash-preview-04-17", base)
	assert.Equal(t, KindBudget, spec.Kind)
	assert.Equal(t, FamilyGemini, spec.Family)
	assert.Equal(t, 8192, spec.Budget)
}

func TestResolve_BudgetClamping(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		expected int
	}{
		{"anthropic below minimum", "claude-3-5-haiku:0k", 1024},
		{"anthropic above maximum", "claude-opus-4:200k", 128000},
		{"gemini above maximum", "gemini-2.5-pro:64k", 24576},
		{"gemini zero allowed", "gemini-2.5-flash:0k", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, spec, warns, err := Resolve(tt.model, Defaults{})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, spec.Budget)

			if spec.Budget != 0 && tt.expected != 8192 {
				assert.NotEmpty(t, warns, "clamped budgets should warn")
			}
		})
	}
}

func TestClampBudget_Idempotent(t *testing.T) {
	clamped := ClampBudget(FamilyAnthropic, 500000)
	assert.Equal(t, clamped, ClampBudget(FamilyAnthropic, clamped))

	clamped = ClampBudget(FamilyGemini, -5)
	assert.Equal(t, clamped, ClampBudget(FamilyGemini, clamped))
}

func TestResolve_UnknownModelDropsSuffix(t *testing.T) {
	base, spec, warns, err := Resolve("mistral-large:8k", Defaults{})
	require.NoError(t, err)

	assert.Equal(t, "mistral-large", base)
	assert.Equal(t, KindNone, spec.Kind)
	assert.NotEmpty(t, warns)
}

func TestResolve_NoSuffix(t *testing.T) {
	base, spec, warns, err := Resolve("gpt-4o", Defaults{})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", base)
	assert.Equal(t, KindNone, spec.Kind)
	assert.Empty(t, warns)
}

func TestResolve_DefaultEffortApplied(t *testing.T) {
	base, spec, _, err := Resolve("o4-mini", Defaults{Effort: "low", Exclude: true})
	require.NoError(t, err)

	assert.Equal(t, "o4-mini", base)
	assert.Equal(t, KindEffort, spec.Kind)
	assert.Equal(t, "low", spec.Effort)
	assert.True(t, spec.Exclude)
}

func TestResolve_DefaultEffortNotAppliedToBudgetFamilies(t *testing.T) {
	_, spec, _, err := Resolve("claude-sonnet-4", Defaults{Effort: "high"})
	require.NoError(t, err)

	assert.Equal(t, KindNone, spec.Kind)
}

func TestResolve_GeminiWithoutThinkingSupport(t *testing.T) {
	base, spec, warns, err := Resolve("gemini-1.5-pro:4k", Defaults{})
	require.NoError(t, err)

	assert.Equal(t, "gemini-1.5-pro", base)
	assert.Equal(t, KindNone, spec.Kind)
	assert.NotEmpty(t, warns)
}
