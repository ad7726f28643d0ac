package service

import "math"

// Canvas is the fixed coordinate space positions are expressed in.
type Canvas struct {
	Width   float64
	Height  float64
	Padding float64
}

// DefaultCanvas is the 4000x3000 map canvas with 100 units of padding.
func DefaultCanvas() Canvas {
	return Canvas{Width: 4000, Height: 3000, Padding: 100}
}

func (c Canvas) orDefault() Canvas {
	if c.Width <= 0 || c.Height <= 0 {
		return DefaultCanvas()
	}

	if c.Padding < 0 || 2*c.Padding >= math.Min(c.Width, c.Height) {
		c.Padding = 0
	}

	return c
}

// Center returns the canvas midpoint.
func (c Canvas) Center() (float64, float64) {
	return c.Width / 2, c.Height / 2
}

// Clamp moves (x, y) into the padded drawing area.
func (c Canvas) Clamp(x, y float64) (float64, float64) {
	return clamp(x, c.Padding, c.Width-c.Padding), clamp(y, c.Padding, c.Height-c.Padding)
}

// Contains reports whether (x, y) is a finite point inside the canvas.
func (c Canvas) Contains(x, y float64) bool {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return false
	}

	return x >= 0 && x <= c.Width && y >= 0 && y <= c.Height
}

type point struct {
	X, Y float64
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

// weightedCentroid returns the weighted mean of pts. When all weights are zero the plain mean is used.
func weightedCentroid(pts []point, weights []float64) point {
	var sx, sy, sw float64
	for i, p := range pts {
		w := weights[i]
		if w < 0 {
			w = 0
		}

		sx += p.X * w
		sy += p.Y * w
		sw += w
	}

	if sw == 0 {
		for _, p := range pts {
			sx += p.X
			sy += p.Y
		}

		n := float64(len(pts))

		return point{X: sx / n, Y: sy / n}
	}

	return point{X: sx / sw, Y: sy / sw}
}

// jitterWithin returns a random offset whose length is at most radius.
func jitterWithin(rng interface{ Float64() float64 }, radius float64) (float64, float64) {
	angle := rng.Float64() * 2 * math.Pi
	r := rng.Float64() * radius

	return r * math.Cos(angle), r * math.Sin(angle)
}
