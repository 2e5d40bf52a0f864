package task

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueuedTask(name string, priority int, seq uint64) *Task {
	return &Task{
		ID:       uuid.New(),
		Name:     name,
		Priority: priority,
		Status:   StatusPending,
		seq:      seq,
	}
}

func TestQueueOrdersByPriority(t *testing.T) {
	q := NewQueue(10)

	b := newQueuedTask("b", 5, 1)
	c := newQueuedTask("c", 5, 2)
	a := newQueuedTask("a", 1, 3)

	require.NoError(t, q.Enqueue(b))
	require.NoError(t, q.Enqueue(c))
	require.NoError(t, q.Enqueue(a))

	// Lower numeric priority first, then submission order within a tie.
	assert.Equal(t, "a", q.Dequeue().Name)
	assert.Equal(t, "b", q.Dequeue().Name)
	assert.Equal(t, "c", q.Dequeue().Name)
	assert.Nil(t, q.Dequeue())
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := NewQueue(10)

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, q.Enqueue(newQueuedTask("same", 3, i)))
	}

	var prev uint64
	for i := 0; i < 5; i++ {
		got := q.Dequeue()
		require.NotNil(t, got)
		assert.Greater(t, got.seq, prev)
		prev = got.seq
	}
}

func TestQueueFullFailsFast(t *testing.T) {
	q := NewQueue(2)

	require.NoError(t, q.Enqueue(newQueuedTask("x", 1, 1)))
	require.NoError(t, q.Enqueue(newQueuedTask("y", 1, 2)))

	err := q.Enqueue(newQueuedTask("z", 1, 3))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.Len())
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue(10)

	victim := newQueuedTask("victim", 1, 1)
	keeper := newQueuedTask("keeper", 2, 2)
	require.NoError(t, q.Enqueue(victim))
	require.NoError(t, q.Enqueue(keeper))

	assert.True(t, q.Remove(victim.ID))
	assert.False(t, q.Remove(victim.ID), "second remove must report absence")

	got := q.Dequeue()
	require.NotNil(t, got)
	assert.Equal(t, "keeper", got.Name)
	assert.Nil(t, q.Dequeue())
}

func TestQueueRetryKeepsOriginalPosition(t *testing.T) {
	q := NewQueue(10)

	retried := newQueuedTask("retried", 3, 1)
	later := newQueuedTask("later", 3, 2)

	// A retried task re-enters with its original seq, ahead of anything
	// submitted after it at the same priority.
	require.NoError(t, q.Enqueue(later))
	require.NoError(t, q.Enqueue(retried))

	assert.Equal(t, "retried", q.Dequeue().Name)
	assert.Equal(t, "later", q.Dequeue().Name)
}
