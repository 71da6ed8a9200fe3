package device

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/kernelheap/errors"
)

func TestTracker(t *testing.T) {
	t.Run("CompletedEvents", func(t *testing.T) {
		tr := NewTracker()
		a := tr.Record(nil)
		b := tr.Record(nil)
		assert.NotEqual(t, a, b)

		status, err := tr.Status(a)
		require.NoError(t, err)
		assert.Equal(t, EventComplete, status)
		assert.NoError(t, tr.Wait(a, b, NoEvent))
	})

	t.Run("FailurePropagatesThroughMarker", func(t *testing.T) {
		tr := NewTracker()
		ok := tr.Record(nil)
		bad := tr.Record(fmt.Errorf("copy failed"))
		m := tr.Marker([]Event{ok, bad})

		status, err := tr.Status(m)
		assert.Equal(t, EventFailed, status)
		assert.ErrorContains(t, err, "copy failed")
		assert.Error(t, tr.Check([]Event{m}))
	})

	t.Run("UnknownEvent", func(t *testing.T) {
		tr := NewTracker()
		status, err := tr.Status(Event(42))
		assert.Equal(t, EventUnknown, status)
		assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	})

	t.Run("Reset", func(t *testing.T) {
		tr := NewTracker()
		ev := tr.Record(nil)
		assert.Equal(t, 1, tr.Len())
		tr.Reset()
		assert.Equal(t, 0, tr.Len())
		assert.Error(t, tr.Wait(ev))

		next := tr.Record(nil)
		assert.Greater(t, next, ev)
		assert.NoError(t, tr.Wait(next))
	})

	t.Run("CompletedEventsAreNotStored", func(t *testing.T) {
		tr := NewTracker()
		first := tr.Record(nil)
		bad := tr.Record(fmt.Errorf("copy failed"))
		var last Event
		for i := 0; i < 10000; i++ {
			last = tr.Record(nil)
		}
		last = tr.Marker([]Event{first, last})

		assert.Len(t, tr.failures, 1)
		assert.Equal(t, 10003, tr.Len())
		assert.NoError(t, tr.Wait(first, last))
		assert.Error(t, tr.Wait(bad))

		status, err := tr.Status(last + 1)
		assert.Equal(t, EventUnknown, status)
		assert.Error(t, err)
	})
}

func TestEventStatusString(t *testing.T) {
	assert.Equal(t, "complete", EventComplete.String())
	assert.Equal(t, "failed", EventFailed.String())
	assert.Equal(t, "queued", EventQueued.String())
	assert.Equal(t, "unknown", EventUnknown.String())
}
