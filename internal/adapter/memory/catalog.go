// Package memory holds in-process implementations of the worker's ports, used
// by tests and single-node runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
)

// Catalog serves collections registered in memory.
type Catalog struct {
	mu          sync.RWMutex
	collections map[string]domain.Collection
}

// NewCatalog creates a catalog holding colls.
func NewCatalog(colls ...domain.Collection) *Catalog {
	c := &Catalog{collections: make(map[string]domain.Collection)}
	for _, coll := range colls {
		c.Add(coll)
	}
	return c
}

// Add registers or replaces a collection.
func (c *Catalog) Add(coll domain.Collection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collections[coll.ID] = coll
}

// Collection returns the images of q.CollectionID admitted by q, restricted
// to q.Fields.
func (c *Catalog) Collection(_ context.Context, q domain.Query) (domain.Collection, error) {
	c.mu.RLock()
	coll, ok := c.collections[q.CollectionID]
	c.mu.RUnlock()
	if !ok {
		return domain.Collection{}, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, q.CollectionID)
	}

	out := domain.Collection{ID: coll.ID}
	for _, img := range coll.Images {
		if !q.Admits(img.Timestamp) {
			continue
		}
		fields := make(map[string][]float64, len(q.Fields))
		for name, data := range img.Fields {
			if len(q.Fields) == 0 || slices.Contains(q.Fields, name) {
				fields[name] = data
			}
		}
		out.Images = append(out.Images, domain.Image{Timestamp: img.Timestamp, Grid: img.Grid, Fields: fields})
	}
	return out, nil
}
