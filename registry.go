package nbpoll

import "slices"

// registry keeps attached pollables addressable by id, in attach order. Ids
// are never reused, so an id taken from a snapshot either still names the
// same attachment or is gone.
type registry struct {
	next  uint64
	byID  map[uint64]*Pollable
	order []uint64
}

func newRegistry() *registry {
	return &registry{byID: make(map[uint64]*Pollable)}
}

func (g *registry) add(p *Pollable) uint64 {
	g.next++
	g.byID[g.next] = p
	g.order = append(g.order, g.next)
	return g.next
}

func (g *registry) remove(id uint64) bool {
	if _, ok := g.byID[id]; !ok {
		return false
	}
	delete(g.byID, id)
	if i := slices.Index(g.order, id); i >= 0 {
		g.order = slices.Delete(g.order, i, i+1)
	}
	return true
}

func (g *registry) lookup(id uint64) (*Pollable, bool) {
	p, ok := g.byID[id]
	return p, ok
}

// snapshot returns the ids in attach order. The copy stays valid while the
// registry is mutated.
func (g *registry) snapshot() []uint64 {
	return slices.Clone(g.order)
}

func (g *registry) len() int {
	return len(g.order)
}
