// Package router maps client-supplied model identifiers onto
// operator-configured backend models.
package router

import "strings"

// Tier is the logical size class a model id denotes.
type Tier int

const (
	TierNone Tier = iota
	TierBig
	TierMiddle
	TierSmall
)

func (t Tier) String() string {
	switch t {
	case TierBig:
		return "big"
	case TierMiddle:
		return "middle"
	case TierSmall:
		return "small"
	default:
		return "none"
	}
}

// TierMap holds the operator-configured backend model id per size class.
// Values use the teacher "provider,model" form so the proxy can pick the
// upstream credentials alongside the model.
type TierMap struct {
	Big    string
	Middle string
	Small  string
}

// ModelRoute is the resolved backend target for one request.
type ModelRoute struct {
	Tier      Tier
	BackendID string
}

// Route rewrites legacy size-class model names (opus/sonnet/haiku families)
// to the configured backend id for that class. Anything else passes through
// unchanged with TierNone.
func Route(base string, tiers TierMap) ModelRoute {
	lower := strings.ToLower(base)

	switch {
	case strings.Contains(lower, "opus") && tiers.Big != "":
		return ModelRoute{Tier: TierBig, BackendID: tiers.Big}
	case strings.Contains(lower, "sonnet") && tiers.Middle != "":
		return ModelRoute{Tier: TierMiddle, BackendID: tiers.Middle}
	case strings.Contains(lower, "haiku") && tiers.Small != "":
		return ModelRoute{Tier: TierSmall, BackendID: tiers.Small}
	default:
		return ModelRoute{Tier: TierNone, BackendID: base}
	}
}

// TierOf classifies an already-resolved backend id. Exact matches against the
// configured tier ids win; otherwise name-substring heuristics decide, with
// middle as the fallback. Used by the system-prompt override hook.
func TierOf(id string, tiers TierMap) Tier {
	switch id {
	case "":
		return TierMiddle
	case tiers.Big:
		return TierBig
	case tiers.Middle:
		return TierMiddle
	case tiers.Small:
		return TierSmall
	}

	lower := strings.ToLower(id)

	switch {
	case strings.Contains(lower, "opus") || strings.Contains(lower, "gpt-5"):
		return TierBig
	case strings.Contains(lower, "sonnet") || strings.Contains(lower, "gpt-4"):
		return TierMiddle
	case strings.Contains(lower, "haiku") || strings.Contains(lower, "mini"):
		return TierSmall
	default:
		return TierMiddle
	}
}
