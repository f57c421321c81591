package pngopt

// Row filter types of the PNG specification.
const (
	FilterNone uint8 = iota
	FilterSub
	FilterUp
	FilterAverage
	FilterPaeth
)

// paeth is the Paeth predictor over left (a), up (b) and up-left (c).
func paeth(a, b, c uint8) uint8 {
	p := int(a) + int(b) - int(c)
	pa := abs(p - int(a))
	pb := abs(p - int(b))
	pc := abs(p - int(c))

	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

// filterRow writes the filtered form of cur into dst. prev is the unfiltered
// previous row, all zeros for the first row.
func filterRow(ft uint8, dst, cur, prev []byte, bpp int) {
	switch ft {
	case FilterNone:
		copy(dst, cur)
	case FilterSub:
		for i := range cur {
			var left byte
			if i >= bpp {
				left = cur[i-bpp]
			}
			dst[i] = cur[i] - left
		}
	case FilterUp:
		for i := range cur {
			dst[i] = cur[i] - prev[i]
		}
	case FilterAverage:
		for i := range cur {
			var left int
			if i >= bpp {
				left = int(cur[i-bpp])
			}
			dst[i] = cur[i] - uint8((left+int(prev[i]))/2)
		}
	case FilterPaeth:
		for i := range cur {
			var left, upLeft byte
			if i >= bpp {
				left = cur[i-bpp]
				upLeft = prev[i-bpp]
			}
			dst[i] = cur[i] - paeth(left, prev[i], upLeft)
		}
	}
}

// unfilterRow reverses filterRow in place.
func unfilterRow(ft uint8, cur, prev []byte, bpp int) {
	switch ft {
	case FilterSub:
		for i := bpp; i < len(cur); i++ {
			cur[i] += cur[i-bpp]
		}
	case FilterUp:
		for i := range cur {
			cur[i] += prev[i]
		}
	case FilterAverage:
		for i := range cur {
			var left int
			if i >= bpp {
				left = int(cur[i-bpp])
			}
			cur[i] += uint8((left + int(prev[i])) / 2)
		}
	case FilterPaeth:
		for i := range cur {
			var left, upLeft byte
			if i >= bpp {
				left = cur[i-bpp]
				upLeft = prev[i-bpp]
			}
			cur[i] += paeth(left, prev[i], upLeft)
		}
	}
}

// chooseFilter tries every filter type on the row and keeps the one with the
// smallest sum of absolute signed residuals. scratch must hold 5 rows.
func chooseFilter(cur, prev []byte, bpp int, scratch [][]byte) (uint8, []byte) {
	best := FilterNone
	bestScore := -1

	for ft := FilterNone; ft <= FilterPaeth; ft++ {
		out := scratch[ft]
		filterRow(ft, out, cur, prev, bpp)

		score := 0
		for _, v := range out {
			score += abs(int(int8(v)))
			if bestScore >= 0 && score >= bestScore {
				break
			}
		}
		if bestScore < 0 || score < bestScore {
			best, bestScore = ft, score
		}
	}

	return best, scratch[best]
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
