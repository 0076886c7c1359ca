package provider

import (
	"fmt"
	"reflect"

	"github.com/shineum/anymail-lite/internal/email"
	"github.com/shineum/anymail-lite/internal/merge"
	"github.com/shineum/anymail-lite/internal/settings"
)

// PrepareFunc is one message-preparation step run before a provider
// builds its payload. Steps may mutate the message in place.
type PrepareFunc func(msg *email.Email) error

// CollectSteps merges ordered layers of preparation steps into a single
// pipeline. Later layers append after earlier ones; a step already seen
// (same function identity) is not added again, so a provider can list a
// shared step without it running twice.
func CollectSteps(layers ...[]PrepareFunc) []PrepareFunc {
	var steps []PrepareFunc
	seen := make(map[uintptr]bool)

	for _, layer := range layers {
		for _, step := range layer {
			if step == nil {
				continue
			}
			id := reflect.ValueOf(step).Pointer()
			if seen[id] {
				continue
			}
			seen[id] = true
			steps = append(steps, step)
		}
	}
	return steps
}

// RunSteps applies the pipeline to msg, stopping at the first failure.
func RunSteps(steps []PrepareFunc, msg *email.Email) error {
	for _, step := range steps {
		if err := step(msg); err != nil {
			return err
		}
	}
	return nil
}

// BaseSteps returns the preparation layer every provider shares:
// recipient and sender validation followed by configured send defaults.
func BaseSteps(r *settings.Resolver, espName string) []PrepareFunc {
	return []PrepareFunc{
		ValidateRecipients,
		ValidateFrom,
		ApplySendDefaults(r, espName),
	}
}

// ValidateRecipients rejects messages without a single recipient.
func ValidateRecipients(msg *email.Email) error {
	if len(msg.To)+len(msg.Cc)+len(msg.Bcc) == 0 {
		return fmt.Errorf("message has no recipients")
	}
	return nil
}

// ValidateFrom rejects messages whose From header is missing or does not
// parse as an address.
func ValidateFrom(msg *email.Email) error {
	if msg.From == "" {
		return fmt.Errorf("message has no From address")
	}
	if _, err := email.ParseAddress(msg.From); err != nil {
		return fmt.Errorf("invalid From address %q: %w", msg.From, err)
	}
	return nil
}

// ApplySendDefaults returns a step that folds the configured send
// defaults (anymail.send_defaults or anymail.<esp>_send_defaults) under
// the message's own tags and extra fields. Message-level values win;
// provider-scoped defaults win over global ones.
func ApplySendDefaults(r *settings.Resolver, espName string) PrepareFunc {
	return func(msg *email.Email) error {
		global := lookupDefaults(r, "")
		scoped := lookupDefaults(r, espName)

		tags := merge.CombineSlices(
			defaultTags(global),
			defaultTags(scoped),
			sliceValue(msg.Tags),
		)
		if v, ok := tags.Get(); ok {
			msg.Tags = v
		}

		extra := merge.CombineMaps(
			defaultExtra(global),
			defaultExtra(scoped),
			mapValue(msg.Extra),
		)
		if v, ok := extra.Get(); ok {
			msg.Extra = v
		}
		return nil
	}
}

// lookupDefaults fetches the send_defaults mapping for a scope, returning
// nil when it is not configured or has the wrong shape.
func lookupDefaults(r *settings.Resolver, espName string) map[string]any {
	v, err := r.Get("send_defaults", settings.Opts{
		ESPName: espName,
		Default: merge.Set[any](nil),
	})
	if err != nil {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

func defaultTags(defaults map[string]any) merge.Value[[]string] {
	raw, ok := defaults["tags"]
	if !ok {
		return merge.Unset[[]string]()
	}
	list, ok := raw.([]any)
	if !ok {
		return merge.Unset[[]string]()
	}
	tags := make([]string, 0, len(list))
	for _, item := range list {
		tags = append(tags, fmt.Sprint(item))
	}
	return merge.Set(tags)
}

func defaultExtra(defaults map[string]any) merge.Value[map[string]any] {
	raw, ok := defaults["extra"]
	if !ok {
		return merge.Unset[map[string]any]()
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return merge.Unset[map[string]any]()
	}
	return merge.Set(m)
}

func sliceValue[T any](s []T) merge.Value[[]T] {
	if s == nil {
		return merge.Unset[[]T]()
	}
	return merge.Set(s)
}

func mapValue[K comparable, V any](m map[K]V) merge.Value[map[K]V] {
	if m == nil {
		return merge.Unset[map[K]V]()
	}
	return merge.Set(m)
}
