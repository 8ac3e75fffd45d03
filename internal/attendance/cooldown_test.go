package attendance

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCooldownGate(t *testing.T) {
	c := NewCooldown(5 * time.Second)
	id := uuid.New()
	t0 := time.Unix(1000, 0)

	assert.True(t, c.ShouldAct(id, t0))
	assert.False(t, c.ShouldAct(id, t0.Add(time.Second)))
	assert.False(t, c.ShouldAct(id, t0.Add(5*time.Second)))
	assert.True(t, c.ShouldAct(id, t0.Add(5*time.Second+time.Millisecond)))
}

func TestCooldownRejectionDoesNotExtendWindow(t *testing.T) {
	c := NewCooldown(5 * time.Second)
	id := uuid.New()
	t0 := time.Unix(1000, 0)

	assert.True(t, c.ShouldAct(id, t0))
	for i := 1; i <= 5; i++ {
		assert.False(t, c.ShouldAct(id, t0.Add(time.Duration(i)*time.Second)))
	}
	assert.True(t, c.ShouldAct(id, t0.Add(5100*time.Millisecond)))
}

func TestCooldownIndependentIdentities(t *testing.T) {
	c := NewCooldown(5 * time.Second)
	a, b := uuid.New(), uuid.New()
	t0 := time.Unix(1000, 0)

	assert.True(t, c.ShouldAct(a, t0))
	assert.True(t, c.ShouldAct(b, t0))
	assert.False(t, c.ShouldAct(a, t0.Add(time.Second)))
}

func TestCooldownEvictsExpiredEntries(t *testing.T) {
	c := NewCooldown(5 * time.Second)
	t0 := time.Unix(1000, 0)

	for i := 0; i < 100; i++ {
		c.ShouldAct(uuid.New(), t0)
	}
	assert.Equal(t, 100, c.Len())

	c.ShouldAct(uuid.New(), t0.Add(time.Minute))
	assert.Equal(t, 1, c.Len())
}
