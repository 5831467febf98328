// File: pkg/manifest/resolve.go
// Brief: Include resolution and stack assembly.

package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// IncludeLoader fetches the raw bytes of an included fragment. Paths are
// already resolved relative to the including manifest's location.
type IncludeLoader interface {
	Load(path string) ([]byte, error)
}

// FileLoader loads fragments from the local filesystem.
type FileLoader struct{}

func (FileLoader) Load(path string) ([]byte, error) { return os.ReadFile(path) }

// ResolvedStack is one deployable stack with shared and stack-level variables
// merged and all includes spliced in. Values are not yet substituted.
type ResolvedStack struct {
	Key       string
	Variables map[string]VariableDef
	Services  map[string]ServiceDef
	Networks  map[string]NetworkDef
	Volumes   map[string]VolumeDef
	Observers []ObserverDef
}

// Resolved is the outcome of resolving a full manifest document. Stacks whose
// include could not be loaded are flagged in StackErrors while resolution
// continues for the rest.
type Resolved struct {
	Metadata    Metadata
	Stacks      map[string]*ResolvedStack
	StackErrors map[string]error
}

// StackKeys returns the resolved stack keys in stable order.
func (r *Resolved) StackKeys() []string {
	keys := make([]string, 0, len(r.Stacks))
	for k := range r.Stacks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stack returns the single resolved stack when the document declares exactly
// one, which is the common deployment path.
func (r *Resolved) Stack(key string) (*ResolvedStack, error) {
	if key == "" {
		keys := r.StackKeys()
		if len(keys) != 1 {
			return nil, fmt.Errorf("manifest resolves to %d stacks; a stack key is required", len(keys))
		}
		key = keys[0]
	}
	if err, ok := r.StackErrors[key]; ok {
		return nil, err
	}
	rs, ok := r.Stacks[key]
	if !ok {
		return nil, fmt.Errorf("manifest has no stack %q", key)
	}
	return rs, nil
}

// Resolver turns raw manifest documents into resolved stacks.
type Resolver struct {
	Loader IncludeLoader
}

// NewResolver returns a resolver backed by the given loader, defaulting to
// the local filesystem.
func NewResolver(loader IncludeLoader) *Resolver {
	if loader == nil {
		loader = FileLoader{}
	}
	return &Resolver{Loader: loader}
}

// Resolve parses doc, classifies it, splices every include, merges shared and
// stack-scoped variables, and validates structural constraints. baseLocation
// is the path of the document itself; include paths resolve relative to it.
func (r *Resolver) Resolve(doc []byte, baseLocation string) (*Resolved, error) {
	m, err := Parse(doc, baseLocation)
	if err != nil {
		return nil, err
	}
	if !m.IsProduct() {
		return nil, &ParseError{Location: baseLocation, Err: fmt.Errorf("manifest %q is a fragment and cannot be deployed directly", m.Metadata.Name)}
	}

	out := &Resolved{
		Metadata:    m.Metadata,
		Stacks:      map[string]*ResolvedStack{},
		StackErrors: map[string]error{},
	}

	if len(m.Stacks) == 0 {
		// Single-stack form: the document body is the stack.
		rs := &ResolvedStack{
			Key:       m.Metadata.Name,
			Variables: MergeVariables(m.SharedVariables, m.Variables),
			Services:  m.Services,
			Networks:  m.Networks,
			Volumes:   m.Volumes,
			Observers: m.Observers,
		}
		if err := validateStack(rs); err != nil {
			return nil, err
		}
		out.Stacks[rs.Key] = rs
		return out, nil
	}

	baseDir := filepath.Dir(baseLocation)
	for key, entry := range m.Stacks {
		rs, err := r.resolveEntry(key, entry, m.SharedVariables, baseDir, map[string]bool{baseLocation: true})
		if err != nil {
			out.StackErrors[key] = err
			continue
		}
		if err := validateStack(rs); err != nil {
			out.StackErrors[key] = err
			continue
		}
		out.Stacks[key] = rs
	}
	if len(out.Stacks) == 0 && len(out.StackErrors) > 0 {
		for _, err := range out.StackErrors {
			return nil, fmt.Errorf("no stack resolved: %w", err)
		}
	}
	return out, nil
}

func (r *Resolver) resolveEntry(key string, entry StackEntry, shared map[string]VariableDef, baseDir string, visiting map[string]bool) (*ResolvedStack, error) {
	if entry.Include == "" {
		return &ResolvedStack{
			Key:       key,
			Variables: MergeVariables(shared, entry.Variables),
			Services:  entry.Services,
			Networks:  entry.Networks,
			Volumes:   entry.Volumes,
			Observers: entry.Observers,
		}, nil
	}

	path := entry.Include
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	if visiting[path] {
		return nil, &IncludeCycleError{Path: path}
	}
	visiting[path] = true
	defer delete(visiting, path)

	raw, err := r.Loader.Load(path)
	if err != nil {
		return nil, &IncludeNotFoundError{StackKey: key, Path: path, Err: err}
	}
	frag, err := Parse(raw, path)
	if err != nil {
		return nil, err
	}
	if frag.IsProduct() {
		return nil, &ParseError{Location: path, Err: fmt.Errorf("included manifest %q is a product; only fragments may be included", frag.Metadata.Name)}
	}

	// A fragment may itself be a multi-stack document with nested includes.
	// Splice every nested stack's resources into one flat stack.
	rs := &ResolvedStack{
		Key:       key,
		Variables: MergeVariables(shared, frag.SharedVariables),
		Services:  map[string]ServiceDef{},
		Networks:  map[string]NetworkDef{},
		Volumes:   map[string]VolumeDef{},
	}
	spliceBody(rs, frag.Variables, frag.Services, frag.Networks, frag.Volumes, frag.Observers)

	fragDir := filepath.Dir(path)
	for nestedKey, nested := range frag.Stacks {
		sub, err := r.resolveEntry(nestedKey, nested, nil, fragDir, visiting)
		if err != nil {
			return nil, err
		}
		spliceBody(rs, sub.Variables, sub.Services, sub.Networks, sub.Volumes, sub.Observers)
	}

	// The including entry's own overrides apply last.
	rs.Variables = MergeVariables(rs.Variables, entry.Variables)
	spliceBody(rs, nil, entry.Services, entry.Networks, entry.Volumes, entry.Observers)
	return rs, nil
}

func spliceBody(rs *ResolvedStack, vars map[string]VariableDef, services map[string]ServiceDef, networks map[string]NetworkDef, volumes map[string]VolumeDef, observers []ObserverDef) {
	rs.Variables = MergeVariables(rs.Variables, vars)
	for name, svc := range services {
		rs.Services[name] = svc
	}
	for name, nw := range networks {
		rs.Networks[name] = nw
	}
	for name, vol := range volumes {
		rs.Volumes[name] = vol
	}
	rs.Observers = append(rs.Observers, observers...)
}

// validateStack aggregates variable constraint violations and dangling
// dependency edges into one ValidationError.
func validateStack(rs *ResolvedStack) error {
	verr := &ValidationError{}
	verr.Merge(ValidateDefs(rs.Variables))
	for name, svc := range rs.Services {
		if svc.Image == "" {
			verr.Addf("service %s: image is required", name)
		}
		for _, dep := range svc.DependsOn {
			if _, ok := rs.Services[dep]; !ok {
				verr.Addf("service %s: depends on unknown service %q", name, dep)
			}
		}
	}
	return verr.OrNil()
}
