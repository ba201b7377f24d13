package agentworld

import "sync"

// BusRegistry maps worldID → Bus for one process. Buses are created lazily
// on first access and destroyed on world delete. The map is never exposed;
// all mutation goes through this handle so concurrent create/destroy stays
// safe.
type BusRegistry struct {
	mu    sync.Mutex
	buses map[string]*Bus
}

// NewBusRegistry creates an empty registry.
func NewBusRegistry() *BusRegistry {
	return &BusRegistry{buses: make(map[string]*Bus)}
}

// Get returns the bus for worldID, creating it if absent.
func (r *BusRegistry) Get(worldID string) *Bus {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buses[worldID]
	if !ok {
		b = NewBus(worldID)
		r.buses[worldID] = b
	}
	return b
}

// Peek returns the bus for worldID without creating one.
func (r *BusRegistry) Peek(worldID string) (*Bus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buses[worldID]
	return b, ok
}

// Destroy closes the bus for worldID, cancelling every subscription, and
// removes it from the registry. Idempotent.
func (r *BusRegistry) Destroy(worldID string) {
	r.mu.Lock()
	b, ok := r.buses[worldID]
	delete(r.buses, worldID)
	r.mu.Unlock()
	if ok {
		b.Close()
	}
}

// Teardown destroys every registered bus. Used on process shutdown.
func (r *BusRegistry) Teardown() {
	r.mu.Lock()
	buses := r.buses
	r.buses = make(map[string]*Bus)
	r.mu.Unlock()
	for _, b := range buses {
		b.Close()
	}
}
