package settings

import "strings"

// query carries the derived lookup names for one resolution.
type query struct {
	name      string // option name as given, e.g. "api_key"
	setting   string // namespaced and uppercased, e.g. "SENDGRID_API_KEY"
	prefixed  string // environment form, e.g. "ANYMAIL_SENDGRID_API_KEY"
	overrides map[string]any
	allowBare bool
}

func newQuery(name string, opts Opts) query {
	setting := strings.ToUpper(name)
	if opts.ESPName != "" {
		setting = strings.ToUpper(opts.ESPName) + "_" + setting
	}
	return query{
		name:      name,
		setting:   setting,
		prefixed:  EnvPrefix + setting,
		overrides: opts.Overrides,
		allowBare: opts.AllowBare,
	}
}

// source is one lookup strategy in the resolution chain.
type source interface {
	// applies reports whether this source participates in the query.
	applies(q query) bool

	// location names the place this source looks, for error messages.
	// Empty means the source is not something a user can configure
	// directly (the per-call overrides).
	location(q query) string

	// find returns the value and whether it was found.
	find(r *Resolver, q query) (any, bool)
}

// overridesSource consults (and consumes) the caller-supplied option map.
type overridesSource struct{}

func (overridesSource) applies(q query) bool    { return q.overrides != nil }
func (overridesSource) location(q query) string { return "" }

func (overridesSource) find(r *Resolver, q query) (any, bool) {
	v, ok := q.overrides[q.name]
	if !ok {
		return nil, false
	}
	// The key is consumed even when a nil credential falls through, so
	// leftover-option detection downstream stays accurate.
	delete(q.overrides, q.name)
	if v == nil && r.nilFallthrough[q.name] {
		return nil, false
	}
	return v, true
}

// storeSource consults the anymail mapping from the config file.
type storeSource struct{}

func (storeSource) applies(query) bool { return true }
func (storeSource) location(q query) string {
	return "anymail." + strings.ToLower(q.setting) + " in the config file"
}

func (storeSource) find(r *Resolver, q query) (any, bool) {
	v, ok := r.store[q.setting]
	return v, ok
}

// envSource consults the ANYMAIL_-prefixed environment variable.
type envSource struct{}

func (envSource) applies(query) bool      { return true }
func (envSource) location(q query) string { return q.prefixed }

func (envSource) find(r *Resolver, q query) (any, bool) {
	if v := r.getenv(q.prefixed); v != "" {
		return v, true
	}
	return nil, false
}

// bareEnvSource consults the environment variable without the prefix.
// Only participates when the caller opted in with AllowBare.
type bareEnvSource struct{}

func (bareEnvSource) applies(q query) bool    { return q.allowBare }
func (bareEnvSource) location(q query) string { return q.setting }

func (bareEnvSource) find(r *Resolver, q query) (any, bool) {
	if v := r.getenv(q.setting); v != "" {
		return v, true
	}
	return nil, false
}
