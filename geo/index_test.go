package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndex_NearSameCell(t *testing.T) {
	x := NewIndex()
	x.Update("d1", 12.9716, 77.5946)
	x.Update("d2", 12.9720, 77.5950) // same neighborhood
	x.Update("far", 48.8566, 2.3522)

	near := x.Near(12.9716, 77.5946)
	assert.Contains(t, near, "d1")
	assert.Contains(t, near, "d2")
	assert.NotContains(t, near, "far")
}

func TestIndex_UpdateMovesDriver(t *testing.T) {
	x := NewIndex()
	x.Update("d1", 12.9716, 77.5946)
	x.Update("d1", 48.8566, 2.3522)

	assert.NotContains(t, x.Near(12.9716, 77.5946), "d1")
	assert.Contains(t, x.Near(48.8566, 2.3522), "d1")
}

func TestIndex_Remove(t *testing.T) {
	x := NewIndex()
	x.Update("d1", 12.9716, 77.5946)
	x.Remove("d1")

	assert.Empty(t, x.Near(12.9716, 77.5946))

	// Removing an unknown driver is a no-op.
	x.Remove("ghost")
}
