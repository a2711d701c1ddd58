package expand

import (
	"errors"
	"log/slog"
	"regexp"

	"github.com/cmakekit/cmakekit/pkg/environment"
	"github.com/cmakekit/cmakekit/pkg/utils"
)

// Mode selects what happens when a template references a variable the context cannot
// resolve
type Mode int

const (
	// Unknown references are left in place untouched. This is the default, since
	// argument strings routinely carry ${...} placeholders meant for the build tool
	// itself rather than for this layer
	Mode_Permissive Mode = iota
	// Unknown references fail the expansion
	Mode_Strict
)

var ErrUnknownVariable = errors.New("unknown expansion variable")

// Context carries the values templates may reference
type Context struct {
	// Plain ${name} references. Namespaced spellings other than env and command, like
	// ${variant:linkage}, are looked up here under their full spelling
	Vars map[string]string
	// ${env:NAME} and ${env.NAME} references
	Env *environment.Environment
	// ${command:name} references, resolved lazily by the host
	Commands func(name string) (string, bool)
}

type Options struct {
	Mode Mode
	// Upper bound on re-expansion passes for values that expand to further references.
	// Zero means DefaultMaxPasses
	MaxPasses int
	Logger    *slog.Logger
}

const DefaultMaxPasses = 10

var referencePattern = regexp.MustCompile(`\$\{([a-zA-Z_][\w.:-]*)\}`)

// Expands every ${...} reference in template against the context. Substituted values are
// themselves expanded again until the string settles or the pass limit is reached, so a
// variable may expand to a template referencing other variables
func Expand(template string, context *Context, options Options) (string, error) {
	maxPasses := options.MaxPasses

	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses
	}

	current := template

	for pass := 0; pass < maxPasses; pass++ {
		next, err := expandOnce(current, context, options)

		if err != nil {
			return "", err
		}

		if next == current {
			return current, nil
		}

		current = next
	}

	return current, nil
}

// Expands every element of a slice
func Slice(templates []string, context *Context, options Options) ([]string, error) {
	expanded := make([]string, len(templates))

	for i, template := range templates {
		value, err := Expand(template, context, options)

		if err != nil {
			return nil, err
		}

		expanded[i] = value
	}

	return expanded, nil
}

// Expands every value of a string map, leaving keys untouched
func StringMap(values map[string]string, context *Context, options Options) (map[string]string, error) {
	expanded := make(map[string]string, len(values))

	for key, template := range values {
		value, err := Expand(template, context, options)

		if err != nil {
			return nil, err
		}

		expanded[key] = value
	}

	return expanded, nil
}

// Expands every non-nil value of an environment overlay, keeping deletion markers as
// they are
func Overlay(overlay environment.Overlay, context *Context, options Options) (environment.Overlay, error) {
	expanded := make(environment.Overlay, len(overlay))

	for key, template := range overlay {
		if template == nil {
			expanded[key] = nil
			continue
		}

		value, err := Expand(*template, context, options)

		if err != nil {
			return nil, err
		}

		expanded[key] = environment.Value(value)
	}

	return expanded, nil
}

func expandOnce(template string, context *Context, options Options) (string, error) {
	var firstErr error

	expanded := referencePattern.ReplaceAllStringFunc(template, func(match string) string {
		ref := match[2 : len(match)-1]

		value, ok := resolve(ref, context)

		if ok {
			return value
		}

		if options.Mode == Mode_Strict {
			if firstErr == nil {
				firstErr = utils.MakeError(ErrUnknownVariable, "%v", ref)
			}

			return match
		}

		if options.Logger != nil {
			options.Logger.Warn("unresolved expansion variable", "variable", ref)
		}

		return match
	})

	if firstErr != nil {
		return "", firstErr
	}

	return expanded, nil
}

func resolve(ref string, context *Context) (string, bool) {
	if context == nil {
		return "", false
	}

	namespace, name, namespaced := cutNamespace(ref)

	if namespaced {
		switch namespace {
		case "env":
			if context.Env != nil {
				if value, ok := context.Env.Get(name); ok {
					return value, true
				}
			}

			return "", false
		case "command":
			if context.Commands != nil {
				return context.Commands(name)
			}

			return "", false
		}
	}

	if context.Vars != nil {
		if value, ok := context.Vars[ref]; ok {
			return value, true
		}
	}

	return "", false
}

func cutNamespace(ref string) (namespace string, name string, found bool) {
	for i, r := range ref {
		if r == ':' || r == '.' {
			return ref[:i], ref[i+1:], true
		}
	}

	return "", ref, false
}
