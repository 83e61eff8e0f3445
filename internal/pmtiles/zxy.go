package pmtiles

// ZxyToID computes the Hilbert-curve tile id for (z,x,y), matching the
// PMTiles v3 addressing scheme: tiles are numbered by their position along
// a Hilbert curve within each zoom level, with each zoom level's ids
// offset by the cumulative tile count of all coarser zoom levels.
func ZxyToID(z uint8, x, y uint32) uint64 {
	var acc uint64
	for t := uint8(0); t < z; t++ {
		acc += (uint64(1) << t) * (uint64(1) << t)
	}
	n := uint32(1) << z
	return acc + hilbertXYToD(n, x, y)
}

// hilbertXYToD converts (x,y) on an n x n grid to its Hilbert distance,
// using the standard rotate-and-reflect algorithm.
func hilbertXYToD(n, x, y uint32) uint64 {
	var rx, ry uint32
	var d uint64
	for s := n / 2; s > 0; s /= 2 {
		if (x & s) > 0 {
			rx = 1
		} else {
			rx = 0
		}
		if (y & s) > 0 {
			ry = 1
		} else {
			ry = 0
		}
		d += uint64(s) * uint64(s) * uint64((3*rx)^ry)
		x, y = hilbertRotate(s, x, y, rx, ry)
	}
	return d
}

func hilbertRotate(s, x, y, rx, ry uint32) (uint32, uint32) {
	if ry == 0 {
		if rx == 1 {
			x = s - 1 - x
			y = s - 1 - y
		}
		x, y = y, x
	}
	return x, y
}
