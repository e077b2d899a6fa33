package layout

import "math"

// Rect represents a window or monitor geometry in logical pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FracRect expresses a geometry as fractions of an owning monitor's
// rectangle, which keeps captured layouts independent of resolution.
type FracRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RelativeTo converts r into fractions of the monitor rectangle.
func (r Rect) RelativeTo(monitor Rect) FracRect {
	if monitor.Width <= 0 || monitor.Height <= 0 {
		return FracRect{}
	}
	return FracRect{
		X:      (r.X - monitor.X) / monitor.Width,
		Y:      (r.Y - monitor.Y) / monitor.Height,
		Width:  r.Width / monitor.Width,
		Height: r.Height / monitor.Height,
	}
}

// ScaleTo converts the fractional geometry back into pixels on monitor.
func (f FracRect) ScaleTo(monitor Rect) Rect {
	return Rect{
		X:      monitor.X + f.X*monitor.Width,
		Y:      monitor.Y + f.Y*monitor.Height,
		Width:  f.Width * monitor.Width,
		Height: f.Height * monitor.Height,
	}
}

// ApproximatelyEqual reports whether two rects are almost equal.
func ApproximatelyEqual(a, b Rect, tolerance float64) bool {
	return math.Abs(a.X-b.X) <= tolerance && math.Abs(a.Y-b.Y) <= tolerance &&
		math.Abs(a.Width-b.Width) <= tolerance && math.Abs(a.Height-b.Height) <= tolerance
}
