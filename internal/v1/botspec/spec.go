package botspec

import (
	"fmt"
	"strings"
)

// FlagSpec declares one flag a command accepts.
type FlagSpec struct {
	Name    string
	Permit  string
	Aliases []string
}

// CommandSpec declares a command: who may call it, what shape its values
// take and how it is executed.
type CommandSpec struct {
	Name    string
	Permit  string
	Aliases []string
	Flags   []FlagSpec

	// RequireValue is tri-state: nil accepts any arity, true demands at
	// least one value, false forbids values.
	RequireValue   *bool
	MultipleValues bool

	// BatchValues passes all values in one invocation; otherwise the
	// command runs once per value.
	BatchValues bool

	// Threaded commands run on the commands pool; inline ones run on the
	// event loop (used by leave, which must terminate the executor).
	Threaded bool

	// Terminates marks the command whose completion stops the bot.
	Terminates bool
}

// Bool is a convenience for RequireValue literals.
func Bool(v bool) *bool { return &v }

// Invocation is a checked, alias-normalized command ready for dispatch.
// Flag values are joined with spaces; a present flag with no values maps to
// the empty string.
type Invocation struct {
	Spec   *CommandSpec
	Values []string
	Flags  map[string]string
}

// HasFlag reports whether a flag was passed at all.
func (inv *Invocation) HasFlag(name string) bool {
	_, ok := inv.Flags[name]
	return ok
}

// Registry maps command aliases to their specs.
type Registry struct {
	specs   map[string]*CommandSpec
	permits map[string]int
}

// NewRegistry validates the specs and builds the alias table. permits maps
// permit names to privilege levels (lower = more privileged).
func NewRegistry(specs []CommandSpec, permits map[string]int) (*Registry, error) {
	r := &Registry{
		specs:   make(map[string]*CommandSpec),
		permits: permits,
	}
	for i := range specs {
		spec := &specs[i]
		if _, ok := permits[spec.Permit]; !ok {
			return nil, fmt.Errorf("botspec: command %q has unknown permit %q", spec.Name, spec.Permit)
		}
		for _, flag := range spec.Flags {
			if _, ok := permits[flag.Permit]; !ok {
				return nil, fmt.Errorf("botspec: flag %q of %q has unknown permit %q", flag.Name, spec.Name, flag.Permit)
			}
		}
		for _, alias := range append([]string{spec.Name}, spec.Aliases...) {
			if _, dup := r.specs[alias]; dup {
				return nil, fmt.Errorf("botspec: duplicate command alias %q", alias)
			}
			r.specs[alias] = spec
		}
	}
	return r, nil
}

// Lookup resolves a command name or alias.
func (r *Registry) Lookup(name string) (*CommandSpec, error) {
	spec, ok := r.specs[name]
	if !ok {
		return nil, &NoSuchCommandError{Name: name}
	}
	return spec, nil
}

// Names returns the canonical command names in arbitrary order.
func (r *Registry) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, spec := range r.specs {
		if !seen[spec.Name] {
			seen[spec.Name] = true
			names = append(names, spec.Name)
		}
	}
	return names
}

// Check authorizes and normalizes a parsed command for a caller with the
// given effective permit.
func (r *Registry) Check(cmd *Command, permit int) (*Invocation, error) {
	spec, err := r.Lookup(cmd.Name)
	if err != nil {
		return nil, err
	}
	if permit > r.permits[spec.Permit] {
		return nil, &AccessRightsError{Name: spec.Name}
	}
	if spec.RequireValue != nil {
		if *spec.RequireValue && len(cmd.Values) == 0 {
			return nil, &ValueMissingError{Command: spec.Name}
		}
		if !*spec.RequireValue && len(cmd.Values) > 0 {
			return nil, &ValueNotAllowedError{Command: spec.Name}
		}
	}
	if !spec.MultipleValues && len(cmd.Values) > 1 {
		return nil, &MultipleValuesError{Command: spec.Name}
	}

	inv := &Invocation{
		Spec:   spec,
		Values: cmd.Values,
		Flags:  make(map[string]string, len(cmd.Flags)),
	}
	for _, flag := range cmd.Flags {
		flagSpec := findFlag(spec, flag.Name)
		if flagSpec == nil {
			return nil, &NoSuchFlagError{Command: spec.Name, Flag: flag.Name}
		}
		if permit > r.permits[flagSpec.Permit] {
			return nil, &AccessRightsError{Name: flagSpec.Name}
		}
		inv.Flags[flagSpec.Name] = strings.Join(flag.Values, " ")
	}
	return inv, nil
}

func findFlag(spec *CommandSpec, name string) *FlagSpec {
	for i := range spec.Flags {
		flag := &spec.Flags[i]
		if flag.Name == name {
			return flag
		}
		for _, alias := range flag.Aliases {
			if alias == name {
				return flag
			}
		}
	}
	return nil
}
