// Package usage records per-request token consumption and estimated cost.
package usage

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// Pricing is the cost per million tokens for one backend model. Zero values
// mean pricing is unknown and cost is not reported.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// Record is one completed request.
type Record struct {
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
	Streamed     bool
}

// Recorder logs usage records and keeps running totals per provider.
type Recorder struct {
	logger  *slog.Logger
	pricing map[string]Pricing

	mu     sync.Mutex
	totals map[string]*Totals
}

// Totals accumulates usage for one provider.
type Totals struct {
	Requests     int     `json:"requests"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost_usd,omitempty"`
}

func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{
		logger:  logger,
		pricing: make(map[string]Pricing),
		totals:  make(map[string]*Totals),
	}
}

// SetPricing registers pricing for a provider. Later records for that
// provider carry an estimated cost.
func (r *Recorder) SetPricing(provider string, p Pricing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pricing[provider] = p
}

// Observe logs one record and folds it into the provider totals.
func (r *Recorder) Observe(rec Record) {
	cost := r.cost(rec)

	fields := []any{
		"provider", rec.Provider,
		"model", rec.Model,
		"input_tokens", rec.InputTokens,
		"output_tokens", rec.OutputTokens,
		"duration_ms", rec.Duration.Milliseconds(),
		"streamed", rec.Streamed,
	}
	if cost > 0 {
		fields = append(fields, "cost_usd", cost)
	}
	r.logger.Info("Request completed", fields...)

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.totals[rec.Provider]
	if !ok {
		t = &Totals{}
		r.totals[rec.Provider] = t
	}

	t.Requests++
	t.InputTokens += rec.InputTokens
	t.OutputTokens += rec.OutputTokens
	t.Cost += cost
}

func (r *Recorder) cost(rec Record) float64 {
	r.mu.Lock()
	p, ok := r.pricing[rec.Provider]
	r.mu.Unlock()

	if !ok {
		return 0
	}

	return float64(rec.InputTokens)/1e6*p.InputPerM +
		float64(rec.OutputTokens)/1e6*p.OutputPerM
}

// Snapshot returns a copy of the accumulated totals keyed by provider.
func (r *Recorder) Snapshot() map[string]Totals {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Totals, len(r.totals))
	for name, t := range r.totals {
		out[name] = *t
	}
	return out
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateTokens counts tokens in text with the cl100k_base encoding. It is
// an estimate; backends report the authoritative numbers in their usage
// payloads.
func EstimateTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return
		}
		encoding = enc
	})

	if encoding == nil {
		// Rough fallback when the encoding is unavailable offline.
		return len(text) / 4
	}

	return len(encoding.Encode(text, nil, nil))
}
