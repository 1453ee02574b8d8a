package factory

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
)

var (
	// ErrUnknownType is returned by Create when no factory serves the type.
	ErrUnknownType = errors.New("unknown module type")
	// ErrDuplicateType is returned by Register when a name or alias is taken.
	ErrDuplicateType = errors.New("module type already registered")
)

// ModuleConfig selects one module by type and carries its raw settings, as
// found under a `{type, conf}` entry of the configuration file.
type ModuleConfig struct {
	Type string         `json:"type"`
	Conf map[string]any `json:"conf"`
}

// Factory builds a T from raw settings.
type Factory[T any] func(map[string]any) (T, error)

// Registry resolves module types to factories. Types are matched after
// trimming and lower-casing, so "Influx" and "influx " select the same sink.
type Registry[T any] struct {
	mu        sync.RWMutex
	canonical []string
	lookup    map[string]Factory[T]
}

// NewRegistry returns a registry without any type.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{lookup: map[string]Factory[T]{}}
}

func typeKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Register binds name and its aliases to f. Either every key is bound or
// none is.
func (r *Registry[T]) Register(name string, f Factory[T], aliases ...string) error {
	if f == nil {
		return fmt.Errorf("register %q: nil factory", name)
	}
	keys := make([]string, 0, 1+len(aliases))
	for _, n := range append([]string{name}, aliases...) {
		k := typeKey(n)
		if k == "" {
			return fmt.Errorf("register %q: empty type name", name)
		}
		keys = append(keys, k)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		if _, taken := r.lookup[k]; taken {
			return fmt.Errorf("%w: %s", ErrDuplicateType, k)
		}
	}
	for _, k := range keys {
		r.lookup[k] = f
	}
	r.canonical = append(r.canonical, keys[0])
	slices.Sort(r.canonical)
	return nil
}

// Names lists the registered types, aliases excluded, in alphabetical order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.canonical)
}

// Create builds the module selected by cfg. A missing conf block is passed
// to the factory as an empty map.
func (r *Registry[T]) Create(cfg ModuleConfig) (T, error) {
	r.mu.RLock()
	build := r.lookup[typeKey(cfg.Type)]
	r.mu.RUnlock()
	if build == nil {
		var zero T
		return zero, fmt.Errorf("%w %q (known: %s)", ErrUnknownType, cfg.Type, strings.Join(r.Names(), ", "))
	}
	conf := cfg.Conf
	if conf == nil {
		conf = map[string]any{}
	}
	return build(conf)
}

// Decode copies raw settings into out following its json tags. Values are
// weakly typed so that environment overrides, which always arrive as
// strings, decode like file values: "1500ms" becomes a time.Duration and
// "a,b" a []string.
func Decode(data map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(data); err != nil {
		return fmt.Errorf("decode module settings: %w", err)
	}
	return nil
}
