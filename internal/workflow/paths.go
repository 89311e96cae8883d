// Package workflow holds the per-type legal state paths of the target process
// template and walks work items along them.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mantis2ado/mantis2ado/internal/types"
)

// Paths maps each work item type to its ordered list of states. The first
// state is the type's initial state.
type Paths map[types.WorkItemType][]types.State

// DefaultPaths returns the Azure DevOps Agile template progression.
func DefaultPaths() Paths {
	return Paths{
		types.TypeBug:     {types.StateNew, types.StateActive, types.StateResolved, types.StateClosed},
		types.TypeTask:    {types.StateNew, types.StateActive, types.StateClosed},
		types.TypeFeature: {types.StateNew, types.StateActive, types.StateResolved, types.StateClosed},
	}
}

// Path returns a copy of the ordered states for a type.
func (p Paths) Path(typ types.WorkItemType) []types.State {
	path := p[typ]
	out := make([]types.State, len(path))
	copy(out, path)
	return out
}

// InitialState returns the first state on the type's path, or New when the
// type has no path configured.
func (p Paths) InitialState(typ types.WorkItemType) types.State {
	if path := p[typ]; len(path) > 0 {
		return path[0]
	}
	return types.StateNew
}

// Allows reports whether state lies on the type's path.
func (p Paths) Allows(typ types.WorkItemType, state types.State) bool {
	return p.index(typ, state) >= 0
}

func (p Paths) index(typ types.WorkItemType, state types.State) int {
	for i, s := range p[typ] {
		if strings.EqualFold(string(s), string(state)) {
			return i
		}
	}
	return -1
}

// Behind reports whether from lies strictly before to on the type's path. An
// empty from is the initial state. States off the path are never behind.
func (p Paths) Behind(typ types.WorkItemType, from, to types.State) bool {
	if from == "" {
		from = p.InitialState(typ)
	}
	fi, ti := p.index(typ, from), p.index(typ, to)
	return fi >= 0 && ti >= 0 && fi < ti
}

// Narrow adjusts a mapped state to one the type can hold. Resolved falls back
// to Closed, then Active. Other states are returned unchanged.
func (p Paths) Narrow(typ types.WorkItemType, state types.State) types.State {
	if p.Allows(typ, state) || state != types.StateResolved {
		return state
	}
	if p.Allows(typ, types.StateClosed) {
		return types.StateClosed
	}
	return types.StateActive
}

// Validate checks that every path is non-empty and free of repeated states.
func (p Paths) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("no workflow paths configured")
	}
	for _, typ := range p.sortedTypes() {
		path := p[typ]
		if !typ.IsValid() {
			return fmt.Errorf("unknown work item type %q", typ)
		}
		if len(path) == 0 {
			return fmt.Errorf("%s: path is empty", typ)
		}
		seen := make(map[string]bool, len(path))
		for _, s := range path {
			key := strings.ToLower(string(s))
			if key == "" {
				return fmt.Errorf("%s: empty state name", typ)
			}
			if seen[key] {
				return fmt.Errorf("%s: state %q appears twice", typ, s)
			}
			seen[key] = true
		}
	}
	return nil
}

// String renders the table one type per line, e.g. "Bug: New -> Active".
func (p Paths) String() string {
	var b strings.Builder
	for _, typ := range p.sortedTypes() {
		names := make([]string, 0, len(p[typ]))
		for _, s := range p[typ] {
			names = append(names, string(s))
		}
		fmt.Fprintf(&b, "%s: %s\n", typ, strings.Join(names, " -> "))
	}
	return b.String()
}

func (p Paths) sortedTypes() []types.WorkItemType {
	out := make([]types.WorkItemType, 0, len(p))
	for typ := range p {
		out = append(out, typ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FromMap builds a path table from loosely typed names, as found in config
// files. Types missing from raw keep their default path.
func FromMap(raw map[string][]string) (Paths, error) {
	paths := DefaultPaths()
	for name, states := range raw {
		typ, ok := types.ParseWorkItemType(name)
		if !ok {
			return nil, fmt.Errorf("unknown work item type %q", name)
		}
		path := make([]types.State, 0, len(states))
		for _, s := range states {
			state, _ := types.ParseState(s)
			path = append(path, state)
		}
		paths[typ] = path
	}
	if err := paths.Validate(); err != nil {
		return nil, err
	}
	return paths, nil
}

// templateFile is the on-disk process template shape shared by YAML and TOML.
type templateFile struct {
	Paths map[string][]string `yaml:"paths" toml:"paths"`
}

// Load reads a process template file. The format is chosen by extension:
// .yaml/.yml or .toml.
func Load(path string) (Paths, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator supplied template path
	if err != nil {
		return nil, fmt.Errorf("reading workflow template: %w", err)
	}

	var tf templateFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported workflow template format %q", filepath.Ext(path))
	}

	if len(tf.Paths) == 0 {
		return nil, fmt.Errorf("%s: no paths defined", path)
	}
	return FromMap(tf.Paths)
}
