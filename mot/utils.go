package mot

// IoU calculates Intersection over Union between two rectangles.
// Areas are computed from the same corner values as the intersection, so IoU(r, r) is exactly 1.
// Zero is returned when either rectangle has non-positive area.
func IoU(r1, r2 Rectangle) float64 {
	ax1, ay1, ax2, ay2 := r1.Corners()
	bx1, by1, bx2, by2 := r2.Corners()

	r1Area := (ax2 - ax1) * (ay2 - ay1)
	r2Area := (bx2 - bx1) * (by2 - by1)
	if ax2 <= ax1 || ay2 <= ay1 || bx2 <= bx1 || by2 <= by1 {
		return 0.0
	}

	xA := maxFloat64(ax1, bx1)
	yA := maxFloat64(ay1, by1)
	xB := minFloat64(ax2, bx2)
	yB := minFloat64(ay2, by2)

	interArea := maxFloat64(0, xB-xA) * maxFloat64(0, yB-yA)
	if interArea == 0 {
		return 0.0
	}
	return interArea / (r1Area + r2Area - interArea)
}

func maxFloat64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
