// Package reasoning resolves the optional reasoning suffix on a model
// identifier into a typed specification the request translator can inject.
package reasoning

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind tags the reasoning variant a model takes.
type Kind int

const (
	KindNone Kind = iota
	KindEffort
	KindBudget
)

// Family identifies which provider family a budget belongs to. The request
// translator switches on this tag to pick the outbound side-channel shape.
type Family int

const (
	FamilyOpenAI Family = iota
	FamilyAnthropic
	FamilyGemini
)

// Budget bounds per provider family.
const (
	AnthropicBudgetMin = 1024
	AnthropicBudgetMax = 128000
	GeminiBudgetMin    = 0
	GeminiBudgetMax    = 24576
)

// Spec is the resolved reasoning configuration for one request.
type Spec struct {
	Kind    Kind
	Family  Family
	Effort  string // set when Kind == KindEffort
	Budget  int    // set when Kind == KindBudget, already clamped
	Exclude bool   // drop reasoning traces from the response
}

// Defaults carries the operator-configured fallback behavior.
type Defaults struct {
	Effort  string // applied to effort-family models with no suffix
	Exclude bool
}

// ConfigError reports an invalid reasoning suffix. It is raised at resolution
// time, before any network call.
type ConfigError struct {
	Model  string
	Suffix string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid reasoning suffix %q for model %q: %s", e.Suffix, e.Model, e.Reason)
}

var (
	effortLevels = map[string]bool{"low": true, "medium": true, "high": true}
	budgetSuffix = regexp.MustCompile(`^(\d+)[kK]$`)
	oSeries      = regexp.MustCompile(`^o\d`)
)

// Resolve splits an optional ":<effort>" or ":<Nk>" suffix off the model
// identifier and builds the matching Spec for the model's provider family.
//
// Unrecognized base models drop the suffix silently (warning only): the
// catalog of backend ids is open-ended and failing here would break callers
// using ids we have not seen yet.
func Resolve(model string, defaults Defaults) (base string, spec Spec, warnings []string, err error) {
	base, suffix := splitSuffix(model)

	switch {
	case isEffortFamily(base):
		return resolveEffort(base, suffix, defaults)
	case isAnthropicFamily(base):
		return resolveBudget(base, suffix, FamilyAnthropic, defaults)
	case isGeminiThinkingFamily(base):
		return resolveBudget(base, suffix, FamilyGemini, defaults)
	default:
		if suffix != "" {
			warnings = append(warnings, fmt.Sprintf("model %q is not reasoning-capable, ignoring suffix %q", base, suffix))
		}

		return base, Spec{Kind: KindNone}, warnings, nil
	}
}

// FromBudget builds a budget Spec for a model when the client supplies an
// explicit thinking configuration instead of a model suffix. Effort-family
// and unrecognized models take no budget; reports ok=false for those.
func FromBudget(base string, budget int, exclude bool) (spec Spec, ok bool) {
	var family Family

	switch {
	case isAnthropicFamily(base):
		family = FamilyAnthropic
	case isGeminiThinkingFamily(base):
		family = FamilyGemini
	default:
		return Spec{Kind: KindNone}, false
	}

	return Spec{
		Kind:    KindBudget,
		Family:  family,
		Budget:  ClampBudget(family, budget),
		Exclude: exclude,
	}, true
}

// ReasoningFirst reports whether a model family reserves the effort-style
// reasoning channel. These models take max_completion_tokens instead of
// max_tokens and pin temperature.
func ReasoningFirst(base string) bool {
	return isEffortFamily(base)
}

// ClampBudget forces a thinking budget into the valid range for a family.
// Clamping an already-clamped value returns it unchanged.
func ClampBudget(family Family, budget int) int {
	var lo, hi int

	switch family {
	case FamilyGemini:
		lo, hi = GeminiBudgetMin, GeminiBudgetMax
	default:
		lo, hi = AnthropicBudgetMin, AnthropicBudgetMax
	}

	if budget < lo {
		return lo
	}

	if budget > hi {
		return hi
	}

	return budget
}

func resolveEffort(base, suffix string, defaults Defaults) (string, Spec, []string, error) {
	effort := strings.ToLower(suffix)
	if effort == "" {
		effort = strings.ToLower(defaults.Effort)
	}

	if effort == "" {
		return base, Spec{Kind: KindNone}, nil, nil
	}

	if !effortLevels[effort] {
		return base, Spec{}, nil, &ConfigError{
			Model:  base,
			Suffix: suffix,
			Reason: "effort must be one of low, medium, high",
		}
	}

	return base, Spec{
		Kind:    KindEffort,
		Family:  FamilyOpenAI,
		Effort:  effort,
		Exclude: defaults.Exclude,
	}, nil, nil
}

func resolveBudget(base, suffix string, family Family, defaults Defaults) (string, Spec, []string, error) {
	if suffix == "" {
		return base, Spec{Kind: KindNone}, nil, nil
	}

	m := budgetSuffix.FindStringSubmatch(suffix)
	if m == nil {
		return base, Spec{}, nil, &ConfigError{
			Model:  base,
			Suffix: suffix,
			Reason: "expected a token budget such as 8k",
		}
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return base, Spec{}, nil, &ConfigError{Model: base, Suffix: suffix, Reason: "budget is not a number"}
	}

	budget := n * 1024
	clamped := ClampBudget(family, budget)

	var warnings []string
	if clamped != budget {
		warnings = append(warnings, fmt.Sprintf("thinking budget %d for %q clamped to %d", budget, base, clamped))
	}

	return base, Spec{
		Kind:    KindBudget,
		Family:  family,
		Budget:  clamped,
		Exclude: defaults.Exclude,
	}, warnings, nil
}

// splitSuffix separates a trailing reasoning suffix from the model id. Only
// the last colon-delimited segment is considered; ids without a colon pass
// through untouched.
func splitSuffix(model string) (base, suffix string) {
	idx := strings.LastIndex(model, ":")
	if idx < 0 {
		return model, ""
	}

	return model[:idx], model[idx+1:]
}

func isEffortFamily(base string) bool {
	lower := strings.ToLower(base)

	return oSeries.MatchString(lower) || strings.Contains(lower, "gpt-5")
}

func isAnthropicFamily(base string) bool {
	return strings.Contains(strings.ToLower(base), "claude")
}

func isGeminiThinkingFamily(base string) bool {
	lower := strings.ToLower(base)
	if !strings.Contains(lower, "gemini") {
		return false
	}

	return strings.Contains(lower, "2.5") || strings.Contains(lower, "thinking")
}
