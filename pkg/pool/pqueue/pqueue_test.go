package pqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	util int
}

func (t *testItem) Utilization() int { return t.util }

func TestTopIsMinUtilizationStableOrder(t *testing.T) {
	q := New()
	a := &testItem{util: 2}
	b := &testItem{util: 2}
	c := &testItem{util: 1}

	q.Push(a)
	q.Push(b)
	hc := q.Push(c)

	require.Equal(t, c, q.Top())

	// Once c's utilization rises above a and b, a (earliest equal-util
	// insertion) must become top.
	c.util = 3
	q.Update(hc)
	assert.Equal(t, a, q.Top())
}

func TestDecreaseReordersInPlace(t *testing.T) {
	q := New()
	a := &testItem{util: 5}
	b := &testItem{util: 1}
	ha := q.Push(a)
	q.Push(b)

	require.Equal(t, b, q.Top())

	a.util = 0
	q.Decrease(ha, 0)
	assert.Equal(t, a, q.Top())
}

func TestRemoveArbitrary(t *testing.T) {
	q := New()
	a := &testItem{util: 1}
	b := &testItem{util: 2}
	c := &testItem{util: 3}
	q.Push(a)
	hb := q.Push(b)
	q.Push(c)

	require.Equal(t, 3, q.Len())
	removed := q.Remove(hb)
	assert.Equal(t, b, removed)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, a, q.Top())

	for q.Len() > 0 {
		top := q.Top()
		q.Remove(Handle(0))
		assert.NotEqual(t, b, top)
	}
}

func TestEmptyQueue(t *testing.T) {
	q := New()
	assert.Nil(t, q.Top())
	assert.Equal(t, 0, q.Len())
}
