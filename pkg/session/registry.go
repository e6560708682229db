package session

import "sync"

// Registry maps a client terminus to the Nexus currently acting as its
// leading session (spec §4.10, "Session reinstatement"): a new leading
// login for a terminus already holding a session displaces the
// predecessor rather than coexisting with it.
//
// Mirrors the keyed, mutex-guarded in-memory store pattern used for NSM
// client registrations, with Claim taking the place of a plain Put: the
// caller always needs to know who it just displaced.
type Registry struct {
	mu    sync.Mutex
	byKey map[string]*Nexus
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*Nexus)}
}

// Claim installs nx as the leading session for key, replacing whatever
// nexus previously held it. If a predecessor existed and is not nx
// itself, Claim defers nx's transport attach (via deferAttach) until the
// predecessor has fully quiesced, and arranges for the predecessor to be
// reinstated (forced to Zombie) in the background.
//
// The registry entry is replaced immediately, before the predecessor
// reaches Zombie, so a chain of rapid-fire reinstatements for the same
// key flattens: each claimant finds the claimant installed just before it
// and forces that one to Zombie, rather than waiting on the whole chain.
func (r *Registry) Claim(key string, nx *Nexus) {
	r.mu.Lock()
	prev := r.byKey[key]
	r.byKey[key] = nx
	r.mu.Unlock()

	if prev == nil || prev == nx {
		return
	}

	gate := nx.deferAttach()
	go func() {
		prev.fsm.Reinstated()
		<-prev.fsm.Zombied()
		close(gate)
	}()
}

// Lookup returns the nexus currently holding key, if any.
func (r *Registry) Lookup(key string) (*Nexus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nx, ok := r.byKey[key]
	return nx, ok
}

// Release removes nx from the registry if it is still the holder of key.
// Called on graceful logout so a later fresh login for the same terminus
// does not wait on a gate that will never close.
func (r *Registry) Release(key string, nx *Nexus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byKey[key] == nx {
		delete(r.byKey, key)
	}
}
