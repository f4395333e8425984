package quota

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Class is a quota tier of the external API. Each class has its own
// limiter; jobs are routed to a class by their model identifier.
type Class string

const (
	ClassFast  Class = "fast"
	ClassHeavy Class = "heavy"
)

// ClassRule maps model identifiers containing Substring to Class. Rules
// are evaluated in order; the first match wins.
type ClassRule struct {
	Substring string
	Class     Class
}

// ClassConfig holds the per-class limiter parameters. Values come from
// configuration, never from this package.
type ClassConfig struct {
	Capacity int
	Window   time.Duration
}

// DefaultRules returns the standard model-name routing table. Heavy
// tiers are matched before fast ones so compound names like
// "x-heavy-v3" land on the stricter class.
func DefaultRules() []ClassRule {
	return []ClassRule{
		{Substring: "heavy", Class: ClassHeavy},
		{Substring: "pro", Class: ClassHeavy},
		{Substring: "flash", Class: ClassFast},
		{Substring: "fast", Class: ClassFast},
	}
}

// Registry owns one Limiter per model class and routes model
// identifiers to them. Construct one per process and hand it by
// reference to every dispatcher and scheduler sharing the quota domain.
type Registry struct {
	rules    []ClassRule
	fallback Class
	limiters map[Class]*Limiter
	logger   zerolog.Logger
}

// NewRegistry builds a registry with one limiter per configured class.
// Unknown model identifiers fall back to fallback, which must be a
// configured class. The resolved capacities are logged once here so
// operators can confirm the effective quota at startup.
func NewRegistry(classes map[Class]ClassConfig, rules []ClassRule, fallback Class, logger zerolog.Logger) *Registry {
	r := &Registry{
		rules:    rules,
		fallback: fallback,
		limiters: make(map[Class]*Limiter, len(classes)),
		logger:   logger,
	}
	for class, cfg := range classes {
		r.limiters[class] = NewLimiter(cfg.Capacity, cfg.Window)
		logger.Info().
			Str("class", string(class)).
			Int("capacity", cfg.Capacity).
			Dur("window", cfg.Window).
			Msg("quota class registered")
	}
	return r
}

// Classify resolves a model identifier to its class. Matching is
// case-insensitive substring in rule order; identifiers matching no
// rule map to the fallback class.
func (r *Registry) Classify(modelID string) Class {
	model := strings.ToLower(modelID)
	for _, rule := range r.rules {
		if strings.Contains(model, rule.Substring) {
			return rule.Class
		}
	}
	return r.fallback
}

// Acquire blocks until the limiter for modelID's class grants a slot.
func (r *Registry) Acquire(ctx context.Context, modelID string) error {
	return r.limiterFor(r.Classify(modelID)).Acquire(ctx)
}

// Stats returns per-class limiter snapshots.
func (r *Registry) Stats() map[Class]Stats {
	out := make(map[Class]Stats, len(r.limiters))
	for class, l := range r.limiters {
		out[class] = l.Stats()
	}
	return out
}

// StatsFor returns the snapshot for modelID's class.
func (r *Registry) StatsFor(modelID string) Stats {
	return r.limiterFor(r.Classify(modelID)).Stats()
}

// Reset clears every limiter's grant log. Test hook.
func (r *Registry) Reset() {
	for _, l := range r.limiters {
		l.Reset()
	}
}

func (r *Registry) limiterFor(class Class) *Limiter {
	if l, ok := r.limiters[class]; ok {
		return l
	}
	// Fallback class is guaranteed configured; rules pointing at an
	// unconfigured class route here rather than panicking.
	r.logger.Warn().Str("class", string(class)).Msg("no limiter for class, using fallback")
	return r.limiters[r.fallback]
}
