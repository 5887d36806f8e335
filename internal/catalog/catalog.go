// Package catalog keeps the live set of discovered endpoints and derives the
// selection rows shown to the operator.
package catalog

import (
	"sync"

	"github.com/charlesng35/radiolink/internal/radio"
	"github.com/charlesng35/radiolink/pkg/metrics"
)

// Catalog is the discovery-side endpoint set. Discovery writes it, the session
// manager reads copies of it; it is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	endpoints []radio.Endpoint
}

// New constructs an empty catalog.
func New() *Catalog {
	return &Catalog{}
}

// Replace swaps the whole endpoint set, keeping the given order.
func (c *Catalog) Replace(endpoints []radio.Endpoint) {
	next := make([]radio.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		next = append(next, ep.Clone())
	}

	c.mu.Lock()
	c.endpoints = next
	c.mu.Unlock()
	metrics.CatalogEndpoints.Set(float64(len(next)))
}

// Upsert adds ep or replaces the endpoint with the same kind and serial in place.
// It reports whether the endpoint was new.
func (c *Catalog) Upsert(ep radio.Endpoint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexLocked(ep.Kind(), ep.Serial); i >= 0 {
		c.endpoints[i] = ep.Clone()
		return false
	}
	c.endpoints = append(c.endpoints, ep.Clone())
	metrics.CatalogEndpoints.Set(float64(len(c.endpoints)))
	return true
}

// Remove drops the endpoint with the given kind and serial.
func (c *Catalog) Remove(kind radio.Kind, serial string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexLocked(kind, serial)
	if i < 0 {
		return false
	}
	c.endpoints = append(c.endpoints[:i], c.endpoints[i+1:]...)
	metrics.CatalogEndpoints.Set(float64(len(c.endpoints)))
	return true
}

// RemoveRelay drops every relay endpoint and returns how many were removed.
func (c *Catalog) RemoveRelay() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.endpoints[:0]
	removed := 0
	for _, ep := range c.endpoints {
		if ep.Remote {
			removed++
			continue
		}
		kept = append(kept, ep)
	}
	c.endpoints = kept
	metrics.CatalogEndpoints.Set(float64(len(c.endpoints)))
	return removed
}

// UpdateOccupant inserts or replaces an occupant of an endpoint. Occupants are
// matched by handle; an occupant without a handle is matched by station name.
func (c *Catalog) UpdateOccupant(kind radio.Kind, serial string, occ radio.Occupant) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexLocked(kind, serial)
	if i < 0 {
		return false
	}

	occupants := append([]radio.Occupant(nil), c.endpoints[i].Occupants...)
	for j := range occupants {
		if sameOccupant(occupants[j], occ) {
			occupants[j] = occ
			c.endpoints[i].Occupants = occupants
			return true
		}
	}
	c.endpoints[i].Occupants = append(occupants, occ)
	return true
}

// RemoveOccupant drops the occupant with handle from an endpoint.
func (c *Catalog) RemoveOccupant(kind radio.Kind, serial string, handle uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexLocked(kind, serial)
	if i < 0 {
		return false
	}

	occupants := make([]radio.Occupant, 0, len(c.endpoints[i].Occupants))
	found := false
	for _, occ := range c.endpoints[i].Occupants {
		if occ.Handle == handle {
			found = true
			continue
		}
		occupants = append(occupants, occ)
	}
	c.endpoints[i].Occupants = occupants
	return found
}

// Find returns a copy of the endpoint with the given kind and serial.
func (c *Catalog) Find(kind radio.Kind, serial string) (radio.Endpoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i := c.indexLocked(kind, serial)
	if i < 0 {
		return radio.Endpoint{}, false
	}
	return c.endpoints[i].Clone(), true
}

// List returns deep copies of all endpoints in catalog order.
func (c *Catalog) List() []radio.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]radio.Endpoint, len(c.endpoints))
	for i, ep := range c.endpoints {
		out[i] = ep.Clone()
	}
	return out
}

// Len returns the number of endpoints.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.endpoints)
}

func (c *Catalog) indexLocked(kind radio.Kind, serial string) int {
	for i, ep := range c.endpoints {
		if ep.Serial == serial && ep.Kind() == kind {
			return i
		}
	}
	return -1
}

func sameOccupant(a, b radio.Occupant) bool {
	if a.Handle != 0 || b.Handle != 0 {
		return a.Handle == b.Handle
	}
	return a.Station == b.Station
}
