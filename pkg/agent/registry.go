package agent

import (
	"sort"
	"sync/atomic"

	"github.com/lucia-ai/lucia/pkg/a2a"
)

// Entry pairs an agent card with its invokable. Remote agents carry a
// card only; dispatch reaches them over the wire.
type Entry struct {
	Card       a2a.AgentCard
	Invokable  Invokable
	Definition *Definition
}

// IsRemote reports whether dispatch must go over A2A.
func (e *Entry) IsRemote() bool {
	return e.Invokable == nil
}

// Registry is the live agent set. Reads are lock-free snapshot reads;
// the loader replaces the whole snapshot in one atomic swap, so
// in-flight readers always see a consistent set and rebuilds never
// disturb running invocations.
type Registry struct {
	snapshot atomic.Pointer[map[string]*Entry]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string]*Entry)
	r.snapshot.Store(&empty)
	return r
}

// Get returns the entry for an agent id.
func (r *Registry) Get(agentID string) (*Entry, bool) {
	entries := *r.snapshot.Load()
	e, ok := entries[agentID]
	return e, ok
}

// List returns all entries sorted by agent id.
func (r *Registry) List() []*Entry {
	entries := *r.snapshot.Load()

	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Card.Name < out[j].Card.Name })
	return out
}

// Swap replaces the whole agent set.
func (r *Registry) Swap(entries map[string]*Entry) {
	r.snapshot.Store(&entries)
}

// Update replaces a single entry copy-on-write.
func (r *Registry) Update(entry *Entry) {
	for {
		old := r.snapshot.Load()
		next := make(map[string]*Entry, len(*old)+1)
		for id, e := range *old {
			next[id] = e
		}
		next[entry.Card.Name] = entry
		if r.snapshot.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Remove drops a single entry copy-on-write.
func (r *Registry) Remove(agentID string) {
	for {
		old := r.snapshot.Load()
		if _, ok := (*old)[agentID]; !ok {
			return
		}
		next := make(map[string]*Entry, len(*old))
		for id, e := range *old {
			if id != agentID {
				next[id] = e
			}
		}
		if r.snapshot.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Card implements a2a.CardProvider for a single agent.
func (r *Registry) Card(agentID string) (*a2a.AgentCard, bool) {
	e, ok := r.Get(agentID)
	if !ok {
		return nil, false
	}
	card := e.Card
	return &card, true
}

// Cards implements a2a.CardProvider for the directory listing.
func (r *Registry) Cards() []a2a.AgentCard {
	entries := r.List()
	cards := make([]a2a.AgentCard, 0, len(entries))
	for _, e := range entries {
		cards = append(cards, e.Card)
	}
	return cards
}

var _ a2a.CardProvider = (*Registry)(nil)
