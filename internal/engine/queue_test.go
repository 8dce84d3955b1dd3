package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTask(id string) *Task {
	return newTask(id, "g", requestFor(id), Callbacks{}, Inline, nil, nil)
}

func TestQueueIsLIFO(t *testing.T) {
	q := NewQueue(0)
	for _, id := range []string{"a", "b", "c"} {
		q.push(testTask(id))
	}

	var order []string
	for q.canAdmit() {
		order = append(order, q.pop().ID)
	}
	assert.Equal(t, []string{"c", "b", "a"}, order)
	assert.Equal(t, 3, q.Running())
	assert.Nil(t, q.pop())
}

func TestQueueAdmission(t *testing.T) {
	q := NewQueue(2)
	for _, id := range []string{"a", "b", "c"} {
		q.push(testTask(id))
	}

	require.True(t, q.canAdmit())
	q.pop()
	require.True(t, q.canAdmit())
	q.pop()
	assert.False(t, q.canAdmit(), "limit reached")

	q.finalize()
	assert.True(t, q.canAdmit())
	assert.Equal(t, 1, q.Running())
}

func TestQueueFinalizeNeverNegative(t *testing.T) {
	q := NewQueue(1)
	q.finalize()
	q.finalize()
	assert.Equal(t, 0, q.Running())

	q.push(testTask("a"))
	q.pop()
	assert.Equal(t, 1, q.Running())
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue(0)
	q.push(testTask("a"))
	q.push(testTask("b"))

	assert.True(t, q.remove(testTask("a")), "matched by download id")
	assert.False(t, q.remove(testTask("a")))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, "b", q.Pending()[0].ID)
}

func TestQueueClear(t *testing.T) {
	q := NewQueue(1)
	q.push(testTask("a"))
	q.push(testTask("b"))

	dropped := q.clear()
	assert.Len(t, dropped, 2)
	assert.Zero(t, q.Len())
	assert.False(t, q.canAdmit())
}

func TestQueueNegativeLimit(t *testing.T) {
	q := NewQueue(-3)
	assert.Equal(t, 0, q.Limit())

	q.SetLimit(-1)
	assert.Equal(t, 0, q.Limit())
}

func TestQueueForce(t *testing.T) {
	q := NewQueue(4)

	q.force()
	assert.Equal(t, 1, q.Limit())

	q.SetLimit(6)
	assert.Equal(t, 1, q.Limit(), "new limit waits for the force to end")

	q.force()
	q.unforce()
	assert.Equal(t, 1, q.Limit(), "still forced once")

	q.unforce()
	assert.Equal(t, 6, q.Limit())

	q.unforce()
	assert.Equal(t, 6, q.Limit())
}

func TestQueueReleaseMemory(t *testing.T) {
	q := NewQueue(1)
	task := testTask("a")
	task.progress = 0.7
	task.resumeData = []byte("partial")
	q.push(task)

	q.releaseMemory()
	assert.Zero(t, task.Progress())
	assert.False(t, task.HasResumeData())
}
