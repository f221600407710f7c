package indicator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

// Registry holds the instantiated indicator variants the engine evaluates.
// It is an explicit object passed to the engine at construction; there is no
// ambient singleton. Registration happens during startup wiring; after that
// the registry is effectively immutable and safe for concurrent reads.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]Definition
	variants    map[string]*Variant
}

// NewRegistry returns a registry pre-loaded with the given definitions
// (typically Builtins()).
func NewRegistry(defs []Definition) *Registry {
	definitions := make(map[string]Definition, len(defs))
	for _, d := range defs {
		definitions[d.Name] = d
	}
	return &Registry{
		definitions: definitions,
		variants:    make(map[string]*Variant),
	}
}

// Instantiate binds the named definition to parameter values and registers
// the resulting variant. It returns the registered variant so callers can
// reference its identity.
func (r *Registry) Instantiate(name string, values map[string]float64) (*Variant, error) {
	r.mu.RLock()
	def, ok := r.definitions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("indicator %q: %w", name, domain.ErrUnknownVariant)
	}
	v, err := NewVariant(def, values)
	if err != nil {
		return nil, err
	}
	if err := r.Register(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Ensure binds the named definition to parameter values and registers the
// variant unless the same identity is already present, in which case the
// existing variant is returned. Strategy configs that share an indicator use
// this instead of Instantiate.
func (r *Registry) Ensure(name string, values map[string]float64) (*Variant, error) {
	r.mu.RLock()
	def, ok := r.definitions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("indicator %q: %w", name, domain.ErrUnknownVariant)
	}
	v, err := NewVariant(def, values)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.variants[v.ID()]; ok {
		return existing, nil
	}
	r.variants[v.ID()] = v
	return v, nil
}

// Register adds a variant. It fails with ErrDuplicateVariant when the
// (name, parameters) identity already exists.
func (r *Registry) Register(v *Variant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.variants[v.ID()]; exists {
		return fmt.Errorf("indicator %s: %w", v.ID(), domain.ErrDuplicateVariant)
	}
	r.variants[v.ID()] = v
	return nil
}

// Get returns the variant with the given identity.
func (r *Registry) Get(id string) (*Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variants[id]
	if !ok {
		return nil, fmt.Errorf("indicator %s: %w", id, domain.ErrUnknownVariant)
	}
	return v, nil
}

// Has reports whether a variant with the given identity is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.variants[id]
	return ok
}

// Variants returns all registered variants sorted by identity.
func (r *Registry) Variants() []*Variant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Variant, 0, len(r.variants))
	for _, v := range r.variants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// DefinitionNames returns the names of all discoverable definitions, sorted.
func (r *Registry) DefinitionNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.definitions))
	for n := range r.definitions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
