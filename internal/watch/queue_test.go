package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueSingleIntent(t *testing.T) {
	q := NewUploadQueue(10, nil)
	require.True(t, q.Enqueue("a.txt", IntentCreate))

	stop := make(chan struct{})
	intent, ok := q.Dequeue(stop)
	require.True(t, ok)
	require.Equal(t, "a.txt", intent.Path)
	require.Equal(t, IntentCreate, intent.Intent)
}

func TestCoalescesRepeatedIntentsOnSamePath(t *testing.T) {
	q := NewUploadQueue(10, nil)
	require.True(t, q.Enqueue("a.txt", IntentCreate))
	require.True(t, q.Enqueue("a.txt", IntentModify))
	require.True(t, q.Enqueue("a.txt", IntentModify))

	require.Equal(t, 1, q.Len())

	stop := make(chan struct{})
	intent, ok := q.Dequeue(stop)
	require.True(t, ok)
	require.Equal(t, IntentModify, intent.Intent)
}

func TestDeleteAlwaysWinsCoalesce(t *testing.T) {
	q := NewUploadQueue(10, nil)
	require.True(t, q.Enqueue("a.txt", IntentModify))
	require.True(t, q.Enqueue("a.txt", IntentDelete))

	stop := make(chan struct{})
	intent, ok := q.Dequeue(stop)
	require.True(t, ok)
	require.Equal(t, IntentDelete, intent.Intent)
}

func TestInFlightPathDeferredUntilComplete(t *testing.T) {
	q := NewUploadQueue(10, nil)
	require.True(t, q.Enqueue("a.txt", IntentCreate))

	stop := make(chan struct{})
	first, ok := q.Dequeue(stop)
	require.True(t, ok)
	require.Equal(t, "a.txt", first.Path)

	// A second intent arrives for the same path while it's in flight.
	require.True(t, q.Enqueue("a.txt", IntentModify))

	// It must not be dequeuable until Complete is called.
	done := make(chan UploadIntent, 1)
	go func() {
		intent, ok := q.Dequeue(stop)
		if ok {
			done <- intent
		}
	}()

	select {
	case <-done:
		t.Fatal("dequeued an in-flight path before Complete")
	case <-time.After(50 * time.Millisecond):
	}

	q.Complete("a.txt")

	select {
	case intent := <-done:
		require.Equal(t, IntentModify, intent.Intent)
	case <-time.After(time.Second):
		t.Fatal("expected coalesced intent to become available after Complete")
	}
}

func TestEnqueueReportsFullQueue(t *testing.T) {
	var dropped []string

	q := NewUploadQueue(1, func(path string) { dropped = append(dropped, path) })

	require.True(t, q.Enqueue("a.txt", IntentCreate))
	require.False(t, q.Enqueue("b.txt", IntentCreate))
	require.Equal(t, []string{"b.txt"}, dropped)
}
