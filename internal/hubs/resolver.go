package hubs

import (
	"context"
	"log/slog"
	"strings"
)

// ModelMatcher is the model-based fallback: given free text and the finite
// set of valid options, it returns one option or an empty string for no
// match. Its output is untrusted and re-validated against the catalog.
type ModelMatcher interface {
	SelectOption(ctx context.Context, input string, options []string) (string, error)
}

// Resolver maps a free-text utterance to a configured hub, or reports no
// match. Literal containment runs first; the model fallback is only consulted
// when that fails, keeping the common exact-city-name path off the model.
type Resolver struct {
	catalog *Catalog
	model   ModelMatcher
	log     *slog.Logger
}

// NewResolver creates a Resolver. model may be nil, in which case resolution
// is purely literal.
func NewResolver(catalog *Catalog, model ModelMatcher, log *slog.Logger) (*Resolver, error) {
	if catalog == nil {
		return nil, ErrNoCatalog
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{catalog: catalog, model: model, log: log}, nil
}

// Resolve returns the canonical hub mentioned in text, or ok=false when
// neither phase produces a configured hub. The result is always a catalog
// member: model output outside the catalog is discarded, and model transport
// failures degrade to no match rather than failing the turn.
func (r *Resolver) Resolve(ctx context.Context, text string) (string, bool) {
	normalized := Normalize(text)
	if normalized == "" {
		return "", false
	}

	// Phase 1: literal containment, first match in configuration order.
	// A shorter alias contained in a longer one (e.g. "delhi" inside
	// "newdelhi") resolves to whichever hub is configured first; that
	// ordering is part of the contract.
	for _, h := range r.catalog.Hubs() {
		if strings.Contains(normalized, h.Alias) {
			return h.Canonical, true
		}
	}

	if r.model == nil {
		return "", false
	}

	// Phase 2: model fallback over the finite option set.
	picked, err := r.model.SelectOption(ctx, text, r.catalog.Canonical())
	if err != nil {
		r.log.Warn("model hub resolution failed, treating as no match", "err", err)
		return "", false
	}
	canonical, ok := r.catalog.Contains(picked)
	if !ok {
		if strings.TrimSpace(picked) != "" {
			r.log.Warn("model returned a value outside the hub catalog", "value", picked)
		}
		return "", false
	}
	return canonical, true
}

// Canonical exposes the catalog's canonical hub names for prompting.
func (r *Resolver) Canonical() []string { return r.catalog.Canonical() }

// DisplayList renders the catalog for user-facing prompts.
func (r *Resolver) DisplayList() string { return r.catalog.DisplayList() }
