package language

import "fmt"

// Registry maps canonical language names to backends. It is read-only after construction.
type Registry struct {
	order    []string
	backends map[string]Backend
}

// NewRegistry keeps the given order for ListSupported.
func NewRegistry(backends ...Backend) (*Registry, error) {
	r := &Registry{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		if b == nil {
			return nil, fmt.Errorf("backend is nil")
		}
		name := b.Name()
		if name == "" {
			return nil, fmt.Errorf("backend name is empty")
		}
		if _, dup := r.backends[name]; dup {
			return nil, fmt.Errorf("duplicate backend %q", name)
		}
		r.backends[name] = b
		r.order = append(r.order, name)
	}
	return r, nil
}

// Resolve looks up a backend. An unknown name is reported by ok=false.
func (r *Registry) Resolve(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// ListSupported returns the canonical names in registration order.
func (r *Registry) ListSupported() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
