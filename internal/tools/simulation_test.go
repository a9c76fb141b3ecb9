package tools

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimulationSetAndEnabled(t *testing.T) {
	sim := NewSimulation()
	assert.False(t, sim.Enabled("pan_mismatch"))

	sim.Set("pan_mismatch", true)
	assert.True(t, sim.Enabled("pan_mismatch"))

	sim.Set("pan_mismatch", false)
	assert.False(t, sim.Enabled("pan_mismatch"))
}

func TestSimulationNilSafe(t *testing.T) {
	var sim *Simulation
	assert.False(t, sim.Enabled("anything"))
}

func TestSimulationSnapshotAndReset(t *testing.T) {
	sim := NewSimulation()
	sim.Set("ssl_invalid", true)
	sim.Set("penny_drop_fail", true)
	sim.Set("notify_fail", false)

	assert.Equal(t, []string{"penny_drop_fail", "ssl_invalid"}, sim.Snapshot())

	sim.Reset()
	assert.Empty(t, sim.Snapshot())
	assert.False(t, sim.Enabled("ssl_invalid"))
}

func TestSimulationOverlayLeavesBaseUntouched(t *testing.T) {
	sim := NewSimulation()
	sim.Set("ssl_invalid", true)

	merged := sim.overlay([]string{"pan_mismatch"})
	assert.True(t, merged.Enabled("ssl_invalid"))
	assert.True(t, merged.Enabled("pan_mismatch"))
	assert.False(t, sim.Enabled("pan_mismatch"))

	// Nil base still yields the extras.
	var none *Simulation
	assert.True(t, none.overlay([]string{"pan_mismatch"}).Enabled("pan_mismatch"))
}

func TestSimulationConcurrentAccess(t *testing.T) {
	sim := NewSimulation()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sim.Set("flag", j%2 == 0)
				sim.Enabled("flag")
				sim.Snapshot()
			}
		}()
	}
	wg.Wait()
}
