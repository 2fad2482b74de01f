package breaker

import "sync"

// Registry owns one breaker per logical provider name, created lazily on
// first use and cached for the process lifetime.
type Registry struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry. Settings apply to every breaker it
// creates.
func NewRegistry(settings Settings) *Registry {
	return &Registry{
		settings: settings.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a provider, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.settings)
		r.breakers[name] = b
	}

	return b
}

// Execute runs fn under the named provider's breaker.
func (r *Registry) Execute(name string, fn func() error) error {
	return r.Get(name).Execute(fn)
}

// Snapshots returns the state of every known breaker for introspection.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))

	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		snapshots = append(snapshots, b.Snapshot())
	}

	return snapshots
}

// Reset manually closes the named breaker. Reports whether it existed.
func (r *Registry) Reset(name string) bool {
	r.mu.Lock()
	b, ok := r.breakers[name]
	r.mu.Unlock()

	if ok {
		b.Reset()
	}

	return ok
}
