package environment

import (
	"os"
	"runtime"
	"strings"

	"github.com/cmakekit/cmakekit/pkg/utils"
)

// KeyCasing selects how environment variable names are compared
type KeyCasing int

const (
	// Picks the comparison rule the host platform uses
	KeyCasing_Platform KeyCasing = iota
	// Names are distinct unless byte identical
	KeyCasing_Sensitive
	// Names are compared ignoring case, the way Windows does
	KeyCasing_Insensitive
)

func (casing KeyCasing) insensitive() bool {
	switch casing {
	case KeyCasing_Sensitive:
		return false
	case KeyCasing_Insensitive:
		return true
	default:
		return runtime.GOOS == "windows"
	}
}

// Overlay is a set of environment changes applied on top of an Environment. A nil value
// deletes the variable, a missing key leaves it untouched
type Overlay map[string]*string

// Wraps a literal string for use as an Overlay value
func Value(value string) *string {
	return &value
}

// Converts a plain string map into an Overlay with no deletions
func OverlayFromMap(values map[string]string) Overlay {
	overlay := make(Overlay, len(values))

	for key, value := range values {
		overlay[key] = Value(value)
	}

	return overlay
}

type entry struct {
	key   string
	value *string
}

// Environment is an ordered set of environment variables. The name comparison rule is
// fixed when the Environment is created and never re-detected afterwards; the casing a
// name was first seen with is preserved on output no matter how later writes spell it
type Environment struct {
	insensitive bool
	order       []string
	entries     map[string]entry
}

func New(casing KeyCasing) *Environment {
	return &Environment{
		insensitive: casing.insensitive(),
		entries:     map[string]entry{},
	}
}

// Captures the current process environment
func FromOS(casing KeyCasing) *Environment {
	return FromSlice(os.Environ(), casing)
}

// Builds an Environment from "NAME=value" pairs, keeping their order
func FromSlice(pairs []string, casing KeyCasing) *Environment {
	env := New(casing)

	for _, pair := range pairs {
		name, value, found := strings.Cut(pair, "=")

		if !found || name == "" {
			continue
		}

		env.Set(name, value)
	}

	return env
}

func (env *Environment) canonical(key string) string {
	if env.insensitive {
		return strings.ToUpper(key)
	}

	return key
}

// Returns true if variable names are compared ignoring case
func (env *Environment) CaseInsensitive() bool {
	return env.insensitive
}

// Returns the value of a variable. Deleted or unknown variables report false
func (env *Environment) Get(key string) (string, bool) {
	item, ok := env.entries[env.canonical(key)]

	if !ok || item.value == nil {
		return "", false
	}

	return *item.value, true
}

func (env *Environment) Has(key string) bool {
	_, ok := env.Get(key)
	return ok
}

func (env *Environment) Set(key, value string) {
	env.set(key, Value(value))
}

func (env *Environment) set(key string, value *string) {
	canonical := env.canonical(key)

	if existing, ok := env.entries[canonical]; ok {
		env.entries[canonical] = entry{key: existing.key, value: value}
		return
	}

	env.entries[canonical] = entry{key: key, value: value}
	env.order = append(env.order, canonical)
}

// Removes a variable entirely, including any recorded deletion marker
func (env *Environment) Unset(key string) {
	canonical := env.canonical(key)

	if _, ok := env.entries[canonical]; !ok {
		return
	}

	delete(env.entries, canonical)

	for i, ordered := range env.order {
		if ordered == canonical {
			env.order = append(env.order[:i], env.order[i+1:]...)
			break
		}
	}
}

// Returns the variable names in insertion order with their first seen casing, skipping
// deletion markers
func (env *Environment) Keys() []string {
	keys := make([]string, 0, len(env.order))

	for _, canonical := range env.order {
		if item := env.entries[canonical]; item.value != nil {
			keys = append(keys, item.key)
		}
	}

	return keys
}

func (env *Environment) Len() int {
	return len(env.Keys())
}

// Returns the environment as "NAME=value" pairs in insertion order, ready for a process
// launch. Deletion markers are dropped
func (env *Environment) Slice() []string {
	pairs := make([]string, 0, len(env.order))

	for _, canonical := range env.order {
		if item := env.entries[canonical]; item.value != nil {
			pairs = append(pairs, item.key+"="+*item.value)
		}
	}

	return pairs
}

// Exports the environment as an Overlay, including deletion markers recorded by a merge
// with PreserveNull
func (env *Environment) AsOverlay() Overlay {
	overlay := make(Overlay, len(env.entries))

	for _, item := range env.entries {
		overlay[item.key] = item.value
	}

	return overlay
}

func (env *Environment) Clone() *Environment {
	clone := &Environment{
		insensitive: env.insensitive,
		order:       append([]string{}, env.order...),
		entries:     utils.CopyMap(env.entries),
	}

	return clone
}

// MergeOptions tunes how Merge treats explicit deletions
type MergeOptions struct {
	// Keeps deletion markers in the result instead of removing the variable, so a later
	// merge or a subprocess layer can apply the deletion against its own base
	PreserveNull bool
}

// Returns a copy of the environment with each overlay applied left to right. Within one
// overlay keys are applied in sorted order so results are deterministic. A later overlay
// always wins over earlier values; a nil overlay value deletes the variable unless
// options.PreserveNull keeps the marker around
func (env *Environment) Merge(options MergeOptions, overlays ...Overlay) *Environment {
	merged := env.Clone()

	for _, overlay := range overlays {
		for _, key := range utils.SortedKeys(overlay) {
			value := overlay[key]

			if value == nil {
				if options.PreserveNull {
					merged.set(key, nil)
				} else {
					merged.Unset(key)
				}

				continue
			}

			merged.Set(key, *value)
		}
	}

	return merged
}

// Puts value in front of the variable's current content joined with separator, creating
// the variable if it was absent or empty
func (env *Environment) Prepend(key, value, separator string) {
	current, ok := env.Get(key)

	if !ok || current == "" {
		env.Set(key, value)
		return
	}

	env.Set(key, value+separator+current)
}

// Returns the separator the host platform uses to join PATH-like variables
func PathListSeparator() string {
	return string(os.PathListSeparator)
}
