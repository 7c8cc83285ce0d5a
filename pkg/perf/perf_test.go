package perf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotSub(t *testing.T) {
	a := Snapshot{Cycle: 100, Instret: 40}
	b := Snapshot{Cycle: 160, Instret: 55}
	assert.Equal(t, Snapshot{Cycle: 60, Instret: 15}, b.Sub(a))
}

func TestManual(t *testing.T) {
	var m Manual
	m.Retire(3)
	m.Retire(1)
	assert.Equal(t, Snapshot{Cycle: 4, Instret: 2}, m.Sample())
}

func TestHostMonotonic(t *testing.T) {
	c := Host()
	a := c.Sample()
	b := c.Sample()
	assert.GreaterOrEqual(t, b.Cycle, a.Cycle)
}
