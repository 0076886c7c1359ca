// Package settings resolves provider options from layered sources:
// per-call overrides, the anymail mapping of the YAML config file, and
// environment variables. Resolution is an ordered list of named lookup
// sources folded first-hit-wins.
package settings

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shineum/anymail-lite/internal/merge"
)

// EnvPrefix is prepended to namespaced environment variable lookups,
// e.g. ANYMAIL_SENDGRID_API_KEY.
const EnvPrefix = "ANYMAIL_"

// ConfigurationError is returned when no source yields a value for a
// setting and no default was supplied.
type ConfigurationError struct {
	// Tried lists every setting location that was consulted, in order.
	Tried []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing setting: set %s", strings.Join(e.Tried, " or "))
}

// Opts controls a single resolution.
type Opts struct {
	// ESPName namespaces the setting, e.g. "sendgrid" turns api_key into
	// SENDGRID_API_KEY. Empty means no namespace.
	ESPName string

	// Overrides are per-call option values. A key consulted here is
	// removed from the map, so the caller can detect leftover unknown
	// options afterwards.
	Overrides map[string]any

	// AllowBare also consults the bare environment variable without the
	// ANYMAIL_ prefix (e.g. SENDGRID_API_KEY).
	AllowBare bool

	// Default is used when no source yields a value. Leaving it unset
	// turns resolution failure into a *ConfigurationError.
	Default merge.Value[any]
}

// Resolver answers setting lookups against a store loaded from the config
// file plus the process environment.
type Resolver struct {
	store   map[string]any
	getenv  func(string) string
	sources []source

	// nilFallthrough names override keys whose explicit nil value is
	// treated as absent, falling through to the other sources. Callers
	// that pass unconditional nil defaults for credentials rely on this.
	nilFallthrough map[string]bool
}

// NewResolver creates a Resolver over the given store. The store maps
// uppercased setting names (e.g. SENDGRID_API_KEY) to values; LoadStore
// builds one from YAML. A nil store is treated as empty.
func NewResolver(store map[string]any, getenv func(string) string) *Resolver {
	if store == nil {
		store = map[string]any{}
	}
	r := &Resolver{
		store:  store,
		getenv: getenv,
		nilFallthrough: map[string]bool{
			"username": true,
			"password": true,
		},
	}
	r.sources = []source{overridesSource{}, storeSource{}, envSource{}, bareEnvSource{}}
	return r
}

// SetNilFallthrough marks an override key whose explicit nil should be
// skipped rather than returned. username and password are marked out of
// the box.
func (r *Resolver) SetNilFallthrough(key string, enabled bool) {
	r.nilFallthrough[key] = enabled
}

// Get resolves a setting by name. Sources are tried in order: overrides,
// the config-file store, the ANYMAIL_-prefixed environment, the bare
// environment (AllowBare only), then Opts.Default.
func (r *Resolver) Get(name string, opts Opts) (any, error) {
	q := newQuery(name, opts)

	var tried []string
	for _, src := range r.sources {
		if !src.applies(q) {
			continue
		}
		if loc := src.location(q); loc != "" {
			tried = append(tried, loc)
		}
		if v, ok := src.find(r, q); ok {
			return v, nil
		}
	}

	if d, ok := opts.Default.Get(); ok {
		return d, nil
	}
	return nil, &ConfigurationError{Tried: tried}
}

// GetString resolves a setting and coerces scalar values to a string.
func (r *Resolver) GetString(name string, opts Opts) (string, error) {
	v, err := r.Get(name, opts)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return "", nil
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(t), nil
	default:
		return "", fmt.Errorf("setting %s: cannot use %T as string", name, v)
	}
}

// NewStore uppercases the keys of a settings mapping for lookup.
func NewStore(m map[string]any) map[string]any {
	store := make(map[string]any, len(m))
	for k, v := range m {
		store[strings.ToUpper(k)] = v
	}
	return store
}

// LoadStore parses the anymail mapping out of a YAML config document and
// uppercases its keys for lookup. A document without an anymail section
// yields an empty store.
func LoadStore(data []byte) (map[string]any, error) {
	var doc struct {
		Anymail map[string]any `yaml:"anymail"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	return NewStore(doc.Anymail), nil
}
