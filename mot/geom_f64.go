package mot

import (
	"math"
)

// Rectangle is an axis-aligned box in detection frame coordinates.
type Rectangle struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func NewRect(x, y, width, height float64) Rectangle {
	return Rectangle{
		X:      x,
		Y:      y,
		Width:  width,
		Height: height,
	}
}

// NewRectFromCorners builds rectangle from top-left (x1, y1) and bottom-right (x2, y2) corners
func NewRectFromCorners(x1, y1, x2, y2 float64) Rectangle {
	return Rectangle{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}

// Corners returns (x1, y1, x2, y2)
func (r Rectangle) Corners() (float64, float64, float64, float64) {
	return r.X, r.Y, r.X + r.Width, r.Y + r.Height
}

// Center returns center of rectangle
func (r Rectangle) Center() Point {
	return Point{
		X: r.X + r.Width/2.0,
		Y: r.Y + r.Height/2.0,
	}
}

// Diagonal returns length of rectangle's diagonal
func (r Rectangle) Diagonal() float64 {
	return math.Sqrt(math.Pow(r.Width, 2) + math.Pow(r.Height, 2))
}

type Point struct {
	X float64
	Y float64
}

func euclideanDistance(p1, p2 Point) float64 {
	return math.Sqrt(math.Pow(float64(p1.X-p2.X), 2) + math.Pow(float64(p1.Y-p2.Y), 2))
}
