package loopguard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/plangate/internal/feedback"
	"github.com/fyrsmithlabs/plangate/internal/retry"
)

var key = retry.TaskKey{Entity: "X", Agent: "backend", TaskType: "gen_model"}

func TestGuard_TripsOnConsecutiveRepeat(t *testing.T) {
	g := New(0)

	sig := feedback.Signature([]feedback.Item{{Priority: feedback.PriorityCritical, Issue: "missing field", Fix: "add it"}})

	first := g.Observe(key, sig)
	assert.False(t, first.Tripped)
	assert.Equal(t, 1, first.Repeats)

	second := g.Observe(key, sig)
	assert.True(t, second.Tripped)
	assert.Equal(t, 2, second.Repeats)
}

func TestGuard_ChangingSignatureDoesNotTrip(t *testing.T) {
	g := New(DefaultThreshold)

	assert.False(t, g.Observe(key, "a").Tripped)
	assert.False(t, g.Observe(key, "b").Tripped)
	assert.False(t, g.Observe(key, "a").Tripped, "only consecutive repeats count")
	assert.True(t, g.Observe(key, "a").Tripped)
}

func TestGuard_Threshold(t *testing.T) {
	g := New(3)

	assert.False(t, g.Observe(key, "s").Tripped)
	assert.False(t, g.Observe(key, "s").Tripped)
	v := g.Observe(key, "s")
	assert.True(t, v.Tripped)
	assert.Equal(t, 3, v.Repeats)
}

func TestGuard_KeysAreIndependent(t *testing.T) {
	g := New(0)
	other := retry.TaskKey{Entity: "Y", Agent: "backend", TaskType: "gen_model"}

	g.Observe(key, "s")
	assert.False(t, g.Observe(other, "s").Tripped)
	assert.True(t, g.Observe(key, "s").Tripped)
}

func TestGuard_Reset(t *testing.T) {
	g := New(0)

	g.Observe(key, "s")
	g.Reset(key)
	assert.False(t, g.Observe(key, "s").Tripped)
}
