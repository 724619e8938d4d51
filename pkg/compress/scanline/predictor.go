package scanline

// PredictPaeth picks whichever of left, up and upper-left is closest to
// the linear estimate left+up-upleft. Ties prefer left, then up.
// a: Left
// b: Above
// c: Above-Left
func PredictPaeth(a, b, c int) int {
	p := a + b - c
	pa := abs(p - a)
	pb := abs(p - b)
	pc := abs(p - c)
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

// PredictAverage is the floor of the mean of left and above.
func PredictAverage(a, b int) int {
	return (a + b) >> 1
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
