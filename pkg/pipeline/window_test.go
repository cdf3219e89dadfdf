package pipeline

import(
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/ringstitch/pkg/pano"
)

type recorder struct {
	events []string
}

func (r *recorder)process(a, b int) error { r.events = append(r.events, fmt.Sprintf("p%d-%d", a, b)); return nil }
func (r *recorder)finish(a int) error     { r.events = append(r.events, fmt.Sprintf("f%d", a)); return nil }

func TestRingClosure(t *testing.T) {
	for _, k := range []int{2, 3, 5, 8} {
		rec := &recorder{}
		pairs := [][2]int{}
		w, err := NewRingWindow(1, func(a, b int) error {
			pairs = append(pairs, [2]int{a, b})
			return rec.process(a, b)
		}, rec.finish)
		require.NoError(t, err)

		for i := 0; i < k; i++ {
			require.NoError(t, w.Push(i))
		}
		require.NoError(t, w.Flush())

		require.Len(t, pairs, k, "ring of %d", k)
		closing := 0
		for _, p := range pairs {
			if p == [2]int{k - 1, 0} {
				closing++
			}
		}
		assert.Equal(t, 1, closing, "ring of %d", k)
	}
}

func TestWindowOrder(t *testing.T) {
	rec := &recorder{}
	w, err := NewRingWindow(1, rec.process, rec.finish)
	require.NoError(t, err)

	for _, i := range []int{1, 2, 3} {
		require.NoError(t, w.Push(i))
	}
	require.NoError(t, w.Flush())

	assert.Equal(t, []string{"p1-2", "f1", "p2-3", "f2", "p3-1", "f3"}, rec.events)
}

func TestWindowDistanceTwo(t *testing.T) {
	rec := &recorder{}
	w, err := NewRingWindow(2, rec.process, nil)
	require.NoError(t, err)

	for _, i := range []int{1, 2, 3, 4} {
		require.NoError(t, w.Push(i))
	}
	require.NoError(t, w.Flush())

	assert.Equal(t, []string{"p1-3", "p2-4", "p3-1", "p4-2"}, rec.events)
}

func TestWindowReusableAfterFlush(t *testing.T) {
	rec := &recorder{}
	w, err := NewRingWindow(1, rec.process, nil)
	require.NoError(t, err)

	require.NoError(t, w.Push(1))
	require.NoError(t, w.Push(2))
	require.NoError(t, w.Flush())
	rec.events = nil

	require.NoError(t, w.Push(7))
	require.NoError(t, w.Push(8))
	assert.Equal(t, []string{"p7-8"}, rec.events)
}

func TestWindowWithoutFlushIsAChain(t *testing.T) {
	rec := &recorder{}
	w, err := NewRingWindow(1, rec.process, nil)
	require.NoError(t, err)

	for _, i := range []int{1, 2, 3} {
		require.NoError(t, w.Push(i))
	}
	assert.Equal(t, []string{"p1-2", "p2-3"}, rec.events)
}

func TestWindowErrors(t *testing.T) {
	_, err := NewRingWindow[int](0, nil, nil)
	assert.True(t, errors.Is(err, pano.ErrInvariant))

	boom := errors.New("boom")
	w, err := NewRingWindow(1, func(a, b int) error { return boom }, nil)
	require.NoError(t, err)
	require.NoError(t, w.Push(1))
	assert.Equal(t, boom, w.Push(2))
}

func TestFlushShortSequence(t *testing.T) {
	rec := &recorder{}
	w, err := NewRingWindow(2, rec.process, nil)
	require.NoError(t, err)
	require.NoError(t, w.Push(1))
	require.NoError(t, w.Flush())
	assert.Empty(t, rec.events)

	// Exactly `distance` items: nothing is that far apart, so no pairs,
	// and in particular no item paired with itself
	require.NoError(t, w.Push(1))
	require.NoError(t, w.Push(2))
	require.NoError(t, w.Flush())
	assert.Empty(t, rec.events)

	// One more item than the window closes the ring as usual
	for _, i := range []int{1, 2, 3} {
		require.NoError(t, w.Push(i))
	}
	require.NoError(t, w.Flush())
	assert.Equal(t, []string{"p1-3", "p2-1", "p3-2"}, rec.events)
}

func TestFlushSingleItemPairsWithItself(t *testing.T) {
	rec := &recorder{}
	w, err := NewRingWindow(1, rec.process, nil)
	require.NoError(t, err)
	require.NoError(t, w.Push(5))
	require.NoError(t, w.Flush())
	assert.Equal(t, []string{"p5-5"}, rec.events)
}
