// Package cycle computes the recurring upload-accounting window for a room.
// Windows are derived on every call from the anchor instant and the cycle
// length; nothing is stored, so consecutive windows always tile time with no
// gap and no overlap.
package cycle

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MinLengthDays is the shortest permitted cycle length.
	MinLengthDays = 1
	// MaxLengthDays is the longest permitted cycle length.
	MaxLengthDays = 31
	// DefaultLengthDays is applied when a room has never configured a length.
	DefaultLengthDays = 8
)

var (
	// ErrMissingAnchor indicates the room has no anchor instant configured.
	ErrMissingAnchor = errors.New("cycle: anchor not set")
	// ErrInvalidLength indicates a cycle length outside [MinLengthDays, MaxLengthDays].
	ErrInvalidLength = errors.New("cycle: invalid length")
)

// Window is the half-open interval [Start, End) containing one cycle.
type Window struct {
	Start time.Time
	End   time.Time
}

// LastIncluded returns the final instant inside the window, for display.
func (w Window) LastIncluded() time.Time {
	return w.End.Add(-time.Second)
}

// Contains reports whether the instant falls inside the half-open window.
func (w Window) Contains(instant time.Time) bool {
	return !instant.Before(w.Start) && instant.Before(w.End)
}

// ValidateLength checks a cycle length in days against the permitted bounds.
func ValidateLength(lengthDays int) error {
	if lengthDays < MinLengthDays || lengthDays > MaxLengthDays {
		return fmt.Errorf("%w: %d days, want %d..%d", ErrInvalidLength, lengthDays, MinLengthDays, MaxLengthDays)
	}
	return nil
}

// Current returns the cycle window containing now.
//
// When now precedes the anchor the first window [anchor, anchor+length) is
// returned, which covers anchors configured for a future date. Otherwise the
// window is anchor + floor((now-anchor)/length)*length, of one length.
func Current(anchor time.Time, lengthDays int, now time.Time) (Window, error) {
	if anchor.IsZero() {
		return Window{}, ErrMissingAnchor
	}
	if err := ValidateLength(lengthDays); err != nil {
		return Window{}, err
	}

	period := time.Duration(lengthDays) * 24 * time.Hour
	if now.Before(anchor) {
		return Window{Start: anchor, End: anchor.Add(period)}, nil
	}

	elapsed := now.Sub(anchor)
	start := anchor.Add(elapsed / period * period)
	return Window{Start: start, End: start.Add(period)}, nil
}
