package pano

import(
	"github.com/pkg/errors"
)

var(
	// ErrInvariant marks a broken precondition: mismatched image/mask
	// sizes, an empty overlap, an index out of range. Callers should not
	// retry these.
	ErrInvariant = errors.New("invariant violated")

	// ErrNotFound is returned when a stored artifact or input is missing.
	ErrNotFound = errors.New("not found")

	// ErrCancelled is returned when a progress callback asks to stop.
	ErrCancelled = errors.New("stitch cancelled")
)

// Invariantf wraps ErrInvariant with some context.
func Invariantf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvariant, format, args...)
}
