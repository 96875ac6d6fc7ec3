package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveSet(t *testing.T) {
	s := newActiveSet()
	a := newQuickTask(&mockExecutor{}, WithKind("sync"))
	b := newQuickTask(&mockExecutor{}, WithKind("sync"))
	c := newQuickTask(&mockExecutor{}, WithKind("report"))

	require.Equal(t, claimed, s.claim(a, true))
	assert.Equal(t, claimHeld, s.claim(a, false), "a task is claimed once")
	assert.Equal(t, claimHeld, s.claim(a, true), "held wins over a busy kind")
	assert.Equal(t, claimKindBusy, s.claim(b, true), "exclusive claim fails while the kind is active")
	assert.Equal(t, claimed, s.claim(b, false))
	assert.Equal(t, claimed, s.claim(c, true))

	assert.Equal(t, 3, s.len())
	assert.True(t, s.hasKind("report"))
	assert.True(t, s.contains(b))
	assert.ElementsMatch(t, []*Task{a, b, c}, s.snapshot())

	_, cancel := context.WithCancel(context.Background())
	h := newHandle(cancel)
	assert.True(t, s.bind(a, h))
	assert.False(t, s.ended(a))
	assert.False(t, s.ended(b), "an unbound claim has not ended")

	h.finish()
	assert.True(t, s.ended(a))

	got, ok := s.release(a)
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.True(t, s.hasKind("sync"), "b still holds the kind")
	assert.False(t, s.bind(a, h), "bind fails after release")

	_, ok = s.release(a)
	assert.False(t, ok)

	got, ok = s.release(b)
	require.True(t, ok)
	assert.Nil(t, got, "claimed but never bound")
	assert.False(t, s.hasKind("sync"))

	drained := s.drain()
	assert.Len(t, drained, 1)
	assert.Contains(t, drained, c)
	assert.Equal(t, 0, s.len())
	assert.False(t, s.hasKind("report"))
}

func TestOrderedSet(t *testing.T) {
	s := newOrderedSet()
	tasks := make([]*Task, 4)
	for i := range tasks {
		tasks[i] = newQuickTask(&mockExecutor{}, WithKind("k"))
	}
	other := newQuickTask(&mockExecutor{}, WithKind("other"))

	for _, task := range tasks {
		require.True(t, s.add(task))
	}
	assert.False(t, s.add(tasks[0]), "duplicates are ignored")
	assert.Equal(t, 4, s.len())
	assert.Equal(t, tasks, s.snapshot())
	assert.True(t, s.hasKind("k"))
	assert.False(t, s.hasKind("other"))

	pos, ok := s.take(tasks[2])
	require.True(t, ok)
	assert.Equal(t, 2, pos)
	assert.False(t, s.contains(tasks[2]))
	assert.Equal(t, []*Task{tasks[0], tasks[1], tasks[3]}, s.snapshot())

	require.True(t, s.insertAt(pos, tasks[2]))
	assert.Equal(t, tasks, s.snapshot(), "insertAt restores the original position")
	assert.False(t, s.insertAt(0, tasks[2]), "already present")

	require.True(t, s.insertAt(99, other))
	assert.Same(t, other, s.snapshot()[4])

	_, ok = s.take(newQuickTask(&mockExecutor{}))
	assert.False(t, ok)

	assert.True(t, s.remove(tasks[0]))
	assert.False(t, s.remove(tasks[0]))

	cleared := s.clear()
	assert.Len(t, cleared, 4)
	assert.Equal(t, 0, s.len())
	assert.True(t, s.add(tasks[0]), "cleared tasks can be added again")
}
