package gallery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPendingTrackerLeases(t *testing.T) {
	tracker := NewPendingTracker()
	tracker.Begin("b")
	tracker.Begin("a")
	tracker.Begin("a")
	tracker.Begin("")

	assert.Equal(t, 2, tracker.Len())
	assert.True(t, tracker.IsPending("a"))
	assert.False(t, tracker.IsPending(""))
	assert.Equal(t, []string{"a", "b"}, tracker.IDs())

	tracker.End("a")
	tracker.End("a")
	tracker.End("missing")
	assert.False(t, tracker.IsPending("a"))
	assert.Equal(t, []string{"b"}, tracker.IDs())
}
