package provider

import (
	"sync"

	"go.uber.org/zap"
)

// Bus is the in-process announcement broadcast providers publish on. It mirrors
// the announce/request event pair of multi-provider discovery: providers call
// Announce once on start and again whenever a re-announcement is requested.
type Bus struct {
	mu       sync.Mutex
	subs     []chan Descriptor
	requests []chan struct{}
}

func NewBus() *Bus {
	return &Bus{}
}

// Announce broadcasts a provider descriptor to every subscriber.
func (b *Bus) Announce(d Descriptor) {
	b.mu.Lock()
	subs := make([]chan Descriptor, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- d:
		default:
			// Subscriber not keeping up; announcements are idempotent, the
			// next request cycle re-delivers.
		}
	}
}

func (b *Bus) subscribe() chan Descriptor {
	ch := make(chan Descriptor, 16)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// OnRequest returns the channel a provider listens on for re-announcement requests.
func (b *Bus) OnRequest() <-chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.requests = append(b.requests, ch)
	b.mu.Unlock()
	return ch
}

// RequestProviders asks all publishers to re-announce.
func (b *Bus) RequestProviders() {
	b.mu.Lock()
	reqs := make([]chan struct{}, len(b.requests))
	copy(reqs, b.requests)
	b.mu.Unlock()

	for _, ch := range reqs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Registry maintains the live, uuid-deduplicated provider list. Announcing the
// same identity twice is an idempotent upsert; descriptors are never removed
// for the lifetime of the process. An empty list is a valid steady state.
type Registry struct {
	mu      sync.Mutex
	log     *zap.SugaredLogger
	byUUID  map[string]int // uuid -> position in ordered
	ordered []Descriptor
	updates chan struct{}
	stop    chan struct{}
}

// NewRegistry subscribes to bus and requests re-announcement exactly once.
func NewRegistry(bus *Bus, log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Registry{
		log:     log,
		byUUID:  map[string]int{},
		updates: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}

	ch := bus.subscribe()
	go r.run(ch)

	// One request event per subscription lifetime.
	bus.RequestProviders()
	return r
}

func (r *Registry) run(ch chan Descriptor) {
	for {
		select {
		case d := <-ch:
			r.upsert(d)
		case <-r.stop:
			return
		}
	}
}

func (r *Registry) upsert(d Descriptor) {
	if d.UUID == "" || d.Provider == nil {
		return
	}

	r.mu.Lock()
	if i, ok := r.byUUID[d.UUID]; ok {
		r.ordered[i] = d
	} else {
		r.byUUID[d.UUID] = len(r.ordered)
		r.ordered = append(r.ordered, d)
		r.log.Infow("provider announced", "name", d.Name, "uuid", d.UUID)
	}
	r.mu.Unlock()

	select {
	case r.updates <- struct{}{}:
	default:
	}
}

// Providers returns the current list in insertion order.
func (r *Registry) Providers() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Updates signals (coalesced) whenever the provider list changes.
func (r *Registry) Updates() <-chan struct{} {
	return r.updates
}

// Close stops the registry's announcement loop.
func (r *Registry) Close() {
	close(r.stop)
}
