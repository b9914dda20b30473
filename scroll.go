package sntray

import "math"

// ScrollDirection is the direction of a discrete scroll event, such as a
// mouse wheel notch.
type ScrollDirection int

const (
	ScrollUp ScrollDirection = iota
	ScrollDown
	ScrollLeft
	ScrollRight
)

// Scroll orientations accepted by the Scroll method of items.
const (
	OrientationHorizontal = "horizontal"
	OrientationVertical   = "vertical"
)

// delta returns the Scroll arguments of a discrete scroll event.
func (d ScrollDirection) delta() (int32, string) {
	switch d {
	case ScrollUp:
		return -1, OrientationVertical
	case ScrollDown:
		return 1, OrientationVertical
	case ScrollLeft:
		return -1, OrientationHorizontal
	default:
		return 1, OrientationHorizontal
	}
}

type scrollStep struct {
	delta       int32
	orientation string
}

// scrollAccumulator turns smooth scroll deltas into Scroll calls.
type scrollAccumulator struct {
	threshold float64
	x, y      float64
}

// add accumulates a smooth scroll delta and returns the calls to make.
//
// The horizontal axis compares the magnitude of the accumulated delta with
// the threshold, while the vertical axis compares the signed value, so
// upwards smooth scrolling never fires.
// TODO: confirm with panel maintainers whether vertical should use
// math.Abs as well.
func (a *scrollAccumulator) add(dx, dy float64) []scrollStep {
	var steps []scrollStep

	a.x += dx
	a.y += dy

	if math.Abs(a.x) > a.threshold {
		steps = append(steps, scrollStep{int32(math.Round(a.x)), OrientationHorizontal})
		a.x = 0
	}

	if a.y > a.threshold {
		steps = append(steps, scrollStep{int32(math.Round(a.y)), OrientationVertical})
		a.y = 0
	}

	return steps
}
