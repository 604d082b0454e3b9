package port

import (
	"sync"

	"github.com/nhdewitt/pico32/internal/kernerr"
)

// Registry is the kernel's global port name table, grounded on
// kern_ipc_port_add_name/lookup_name/delete_name's linked list of named
// ports guarded by a single lock. A Registry is not a singleton here —
// the kernel owns one instance and hands it to every subsystem that
// needs to publish or resolve a service name.
type Registry struct {
	mu    sync.Mutex
	ports map[string]*Port
}

// NewRegistry returns an empty name registry.
func NewRegistry() *Registry {
	return &Registry{ports: make(map[string]*Port)}
}

// AddName publishes p under name, taking a reference on p that the
// registry holds until DeleteName or Close/Shutdown removes the entry.
// It fails with ErrExists if the name is already taken and ErrNoSpace if
// p's refcount is already saturated.
func (r *Registry) AddName(p *Port, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ports[name]; ok {
		return kernerr.ErrExists
	}
	if err := p.AddRef(); err != nil {
		return err
	}

	p.mu.Lock()
	p.name = name
	p.named = true
	p.mu.Unlock()

	r.ports[name] = p
	return nil
}

// LookupName resolves name to its port, taking a reference on the
// caller's behalf, but only if the port is Running — matching
// kern_ipc_port_lookup_name_locked, which skips entries not yet active.
func (r *Registry) LookupName(name string) (*Port, error) {
	r.mu.Lock()
	p, ok := r.ports[name]
	r.mu.Unlock()
	if !ok {
		return nil, kernerr.ErrInvalidArgs
	}

	if p.State() != Running {
		return nil, kernerr.ErrShutdown
	}
	if err := p.AddRef(); err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteName removes name from the registry, releasing the reference
// AddName took, and reports whether a name was actually present.
func (r *Registry) DeleteName(name string) bool {
	r.mu.Lock()
	p, ok := r.ports[name]
	if ok {
		delete(r.ports, name)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	p.mu.Lock()
	p.name = ""
	p.named = false
	p.mu.Unlock()
	p.Release()
	return true
}

// deleteNameForPort removes whatever name p is currently registered
// under, if any. Used by Shutdown/Close so a port always leaves the
// registry cleanly regardless of which name it holds.
func (r *Registry) deleteNameForPort(p *Port) {
	p.mu.Lock()
	name := p.name
	named := p.named
	p.mu.Unlock()
	if !named {
		return
	}
	r.DeleteName(name)
}
