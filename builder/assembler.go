package builder

import (
	"strings"

	"github.com/pkg/errors"
)

// InstantiatedSuffix marks generated entry points so they cannot collide
// with names in user code.
const InstantiatedSuffix = "Instantiated"

// EntryPoint returns the generated entry-point name for a logical kernel.
func EntryPoint(logical string) string {
	return logical + InstantiatedSuffix
}

// InstantiationGenerator writes the instantiation fragment for the given
// type names and returns it with the logical names of the kernels it defines.
// Generators call EntryPoint for every kernel they define.
type InstantiationGenerator func(typeNames []string) (source string, kernels []string)

// Assembly lists the pieces of one compilable unit.
type Assembly struct {
	// Template is the algorithm template fragment
	Template string
	// UserCode holds the caller's type definitions and functor code, in order
	UserCode []string
	// TypeNames are the concrete types to instantiate
	TypeNames   []string
	Instantiate InstantiationGenerator
}

// Source is an assembled unit and the entry points it is expected to define.
type Source struct {
	Text        string
	KernelNames []string
}

const fragmentSeparator = "\n\n"

// Assemble builds the source unit: template, then user code, then the
// instantiation fragment. It has no side effects.
func Assemble(a Assembly) (Source, error) {
	if strings.TrimSpace(a.Template) == "" {
		return Source{}, errors.New("assembly has no template source")
	}
	if a.Instantiate == nil {
		return Source{}, errors.New("assembly has no instantiation generator")
	}

	instantiation, logical := a.Instantiate(append([]string(nil), a.TypeNames...))
	if len(logical) == 0 {
		return Source{}, errors.Errorf("instantiation for types %v defines no kernels", a.TypeNames)
	}
	seen := make(map[string]bool, len(logical))
	names := make([]string, len(logical))
	for i, name := range logical {
		if name == "" {
			return Source{}, errors.Errorf("instantiation for types %v returned an empty kernel name", a.TypeNames)
		}
		if seen[name] {
			return Source{}, errors.Errorf("instantiation defines kernel %q twice", name)
		}
		seen[name] = true
		names[i] = EntryPoint(name)
	}

	fragments := make([]string, 0, len(a.UserCode)+2)
	fragments = append(fragments, a.Template)
	fragments = append(fragments, a.UserCode...)
	fragments = append(fragments, instantiation)

	return Source{
		Text:        strings.Join(fragments, fragmentSeparator),
		KernelNames: names,
	}, nil
}
