// Package geo keeps a geohash cell index of online drivers' positions for
// the nearby-drivers lookup.
package geo

import (
	"sync"

	"github.com/mmcloughlin/geohash"
)

// Precision 5 cells are roughly 5km x 5km, a reasonable pickup radius.
const precision = 5

// Index maps geohash cells to the drivers currently inside them.
type Index struct {
	mu       sync.RWMutex
	cells    map[string]map[string]struct{}
	byDriver map[string]string
}

func NewIndex() *Index {
	return &Index{
		cells:    make(map[string]map[string]struct{}),
		byDriver: make(map[string]string),
	}
}

// Update moves the driver into the cell covering lat/lng.
func (x *Index) Update(driverID string, lat, lng float64) {
	cell := geohash.EncodeWithPrecision(lat, lng, precision)

	x.mu.Lock()
	defer x.mu.Unlock()
	if prev, ok := x.byDriver[driverID]; ok {
		if prev == cell {
			return
		}
		delete(x.cells[prev], driverID)
		if len(x.cells[prev]) == 0 {
			delete(x.cells, prev)
		}
	}
	if x.cells[cell] == nil {
		x.cells[cell] = make(map[string]struct{})
	}
	x.cells[cell][driverID] = struct{}{}
	x.byDriver[driverID] = cell
}

// Remove drops the driver from the index.
func (x *Index) Remove(driverID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	cell, ok := x.byDriver[driverID]
	if !ok {
		return
	}
	delete(x.cells[cell], driverID)
	if len(x.cells[cell]) == 0 {
		delete(x.cells, cell)
	}
	delete(x.byDriver, driverID)
}

// Near returns the drivers in the cell covering lat/lng and its eight
// neighbor cells.
func (x *Index) Near(lat, lng float64) []string {
	center := geohash.EncodeWithPrecision(lat, lng, precision)
	cells := append(geohash.Neighbors(center), center)

	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []string
	for _, cell := range cells {
		for id := range x.cells[cell] {
			out = append(out, id)
		}
	}
	return out
}
