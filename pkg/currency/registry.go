package currency

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// Registry is the immutable, per-load set of currency definitions. A new
// Registry is built on every (re)load and swapped wholesale via Holder;
// nothing mutates a Registry after Load returns.
type Registry struct {
	byID  map[string]Currency
	order []string
	def   string
}

// Load builds a registry from raw definitions. It never fails: with no usable
// definitions it falls back to the built-in default currency, and default-flag
// conflicts are resolved deterministically (first loaded wins) with a
// diagnostic. ids compare case-insensitively; load order follows the order
// slice where provided so reloads stay deterministic.
func Load(logger *zap.Logger, defs map[string]Config, order []string) *Registry {
	r := &Registry{byID: make(map[string]Currency)}

	if len(order) == 0 {
		for id := range defs {
			order = append(order, id)
		}
	}

	for _, id := range order {
		cfg, ok := defs[id]
		if !ok {
			continue
		}
		c := FromConfig(id, cfg)
		if _, dup := r.byID[c.ID]; dup {
			logger.Warn("duplicate currency id ignored", zap.String("currency", c.ID))
			continue
		}
		r.byID[c.ID] = c
		r.order = append(r.order, c.ID)

		if c.Default {
			if r.def != "" {
				logger.Warn("multiple default currencies, keeping first",
					zap.String("kept", r.def), zap.String("ignored", c.ID))
			} else {
				r.def = c.ID
			}
		}
		logger.Info("loaded currency",
			zap.String("currency", c.ID),
			zap.String("display_name", c.DisplayName),
			zap.Bool("default", c.ID == r.def))
	}

	if len(r.byID) == 0 {
		logger.Warn("no valid currencies loaded, synthesizing fallback default")
		r.addFallback()
		return r
	}

	if r.def == "" {
		r.def = r.order[0]
		logger.Warn("no default currency configured, using first loaded",
			zap.String("currency", r.def))
	}

	return r
}

// fallback is the built-in currency synthesized when configuration provides
// nothing usable, so the system is never without a default.
func fallback() Currency {
	enabled := true
	return FromConfig("lira", Config{
		DisplayName:    "Lira",
		Symbol:         "₺",
		NameSingular:   "Lira",
		NamePlural:     "Lira",
		DecimalPlaces:  2,
		StarterBalance: 100,
		MaxBalance:     -1,
		PayEnabled:     &enabled,
		PayMinAmount:   1,
		PayMaxAmount:   -1,
		Default:        true,
	})
}

func (r *Registry) addFallback() {
	c := fallback()
	r.byID[c.ID] = c
	r.order = append(r.order, c.ID)
	r.def = c.ID
}

// Get looks up a currency by id, case-insensitively.
func (r *Registry) Get(id string) (Currency, bool) {
	c, ok := r.byID[strings.ToLower(id)]
	return c, ok
}

// Exists reports whether a currency id is registered.
func (r *Registry) Exists(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Default always returns a currency. Should the registry ever be empty it
// re-synthesizes the fallback rather than failing, since every other
// component depends on a non-absent default.
func (r *Registry) Default() Currency {
	if r.def == "" || len(r.byID) == 0 {
		return fallback()
	}
	return r.byID[r.def]
}

// All returns the currencies in load order.
func (r *Registry) All() []Currency {
	out := make([]Currency, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Holder publishes the current registry to concurrent readers. Reload swaps
// the pointer wholesale, so a reader sees either the old or the new registry
// in full, never a partial one.
type Holder struct {
	ptr atomic.Pointer[Registry]
}

func NewHolder(r *Registry) *Holder {
	h := &Holder{}
	h.ptr.Store(r)
	return h
}

func (h *Holder) Current() *Registry { return h.ptr.Load() }

func (h *Holder) Swap(r *Registry) { h.ptr.Store(r) }
