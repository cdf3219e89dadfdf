// Package pipeline holds the sliding-window primitive used to visit
// every adjacent pair of a sequence, optionally closing it into a ring.
package pipeline

import(
	"github.com/abworrall/ringstitch/pkg/pano"
)

// A RingWindow keeps the last `distance` items pushed into it. Once the
// window overflows, it calls process(oldest, newest), then finish(oldest),
// and drops the oldest.
//
// The first `distance` items are remembered; Flush pushes them through
// again, which produces the pair that joins the end of the sequence back
// to its start, and then resets the window. Not safe for concurrent use.
type RingWindow[T any] struct {
	distance int
	process  func(a, b T) error
	finish   func(a T) error

	window   []T
	prefix   []T
	pushed   int   // Items pushed since the last reset, not counting replays
	flushing bool
}

// NewRingWindow builds a window; process and finish may be nil.
func NewRingWindow[T any](distance int, process func(a, b T) error, finish func(a T) error) (*RingWindow[T], error) {
	if distance < 1 {
		return nil, pano.Invariantf("ring window distance %d, must be >= 1", distance)
	}
	return &RingWindow[T]{
		distance: distance,
		process:  process,
		finish:   finish,
	}, nil
}

func (w *RingWindow[T])Push(item T) error {
	if !w.flushing {
		w.pushed++
		if len(w.prefix) < w.distance {
			w.prefix = append(w.prefix, item)
		}
	}

	w.window = append(w.window, item)
	if len(w.window) <= w.distance {
		return nil
	}

	oldest := w.window[0]
	if w.process != nil {
		if err := w.process(oldest, item); err != nil {
			return err
		}
	}
	if w.finish != nil {
		if err := w.finish(oldest); err != nil {
			return err
		}
	}

	var zero T
	w.window[0] = zero
	w.window = w.window[1:]
	return nil
}

// Flush replays the remembered prefix to close the ring, then clears
// all state so the window can be reused for another sequence.
func (w *RingWindow[T])Flush() error {
	w.flushing = true
	defer w.Reset()

	// A sequence no longer than the window has no pair `distance` apart,
	// so there is no ring to close. The one exception is a single item
	// at distance 1, which is paired with itself.
	if w.pushed < w.distance || (w.pushed == w.distance && w.distance > 1) {
		return nil
	}

	for _, item := range w.prefix {
		if err := w.Push(item); err != nil {
			return err
		}
	}
	return nil
}

// Reset forgets everything, without processing anything.
func (w *RingWindow[T])Reset() {
	w.window = nil
	w.prefix = nil
	w.pushed = 0
	w.flushing = false
}
