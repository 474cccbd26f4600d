package hubs

import "strings"

// Hub is one configured Innovation Hub location.
type Hub struct {
	// Canonical is the display form used in replies and persisted state.
	Canonical string
	// Alias is the normalized matching form (lowercase alphanumerics only).
	Alias string
}

// Catalog is the static set of hubs the assistant serves. It is loaded once
// at startup and safe for unsynchronized concurrent reads. Iteration order is
// the configuration order; matching relies on it.
type Catalog struct {
	hubs  []Hub
	byKey map[string]string
}

// ParseCatalog builds a Catalog from a comma-separated hub list such as
// "Bengaluru, Mumbai, New Delhi". Empty entries and duplicate aliases are
// dropped, keeping the first occurrence.
func ParseCatalog(list string) *Catalog {
	c := &Catalog{byKey: make(map[string]string)}
	for _, raw := range strings.Split(list, ",") {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		alias := Normalize(name)
		if alias == "" {
			continue
		}
		if _, seen := c.byKey[alias]; seen {
			continue
		}
		c.hubs = append(c.hubs, Hub{Canonical: name, Alias: alias})
		c.byKey[alias] = name
	}
	return c
}

// Normalize strips every non-alphanumeric rune and lowercases the rest, so
// "New Delhi", "NEW-DELHI" and "new delhi" all normalize to "newdelhi".
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}

// Len reports the number of configured hubs.
func (c *Catalog) Len() int { return len(c.hubs) }

// Hubs returns the configured hubs in configuration order.
func (c *Catalog) Hubs() []Hub { return c.hubs }

// Canonical returns the canonical hub names in configuration order.
func (c *Catalog) Canonical() []string {
	out := make([]string, len(c.hubs))
	for i, h := range c.hubs {
		out[i] = h.Canonical
	}
	return out
}

// Contains reports whether name (after normalization) is a configured hub,
// returning its canonical form.
func (c *Catalog) Contains(name string) (string, bool) {
	canonical, ok := c.byKey[Normalize(name)]
	return canonical, ok
}

// DisplayList renders the catalog for user-facing prompts.
func (c *Catalog) DisplayList() string {
	return strings.Join(c.Canonical(), ", ")
}
