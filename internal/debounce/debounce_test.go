package debounce

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	calls := 0
	d := New(c, 2*time.Second, func() { calls++ })

	for i := 0; i < 5; i++ {
		d.Trigger()
		c.Advance(500 * time.Millisecond)
	}
	assert.Equal(t, 0, calls, "still inside the quiet window")
	assert.True(t, d.Pending())

	c.Advance(2 * time.Second)
	assert.Equal(t, 1, calls)
	assert.False(t, d.Pending())
}

func TestDebouncer_FiresAfterLastCallPlusWindow(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	var firedAt time.Time
	d := New(c, 2*time.Second, func() { firedAt = c.Now() })

	d.Trigger()
	c.Advance(time.Second)
	d.Trigger()
	c.Advance(5 * time.Second)

	assert.Equal(t, time.Unix(3, 0), firedAt)
}

func TestDebouncer_SeparateBurstsFireSeparately(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	calls := 0
	d := New(c, time.Second, func() { calls++ })

	d.Trigger()
	c.Advance(2 * time.Second)
	d.Trigger()
	c.Advance(2 * time.Second)

	assert.Equal(t, 2, calls)
}

func TestDebouncer_StopCancels(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	calls := 0
	d := New(c, time.Second, func() { calls++ })

	d.Trigger()
	d.Stop()
	d.Trigger()
	c.Advance(time.Minute)

	assert.Equal(t, 0, calls)
}
