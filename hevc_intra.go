package heic

const (
	intraPlanar     = 0
	intraDC         = 1
	intraAngular10  = 10 // Horizontal.
	intraAngular26  = 26 // Vertical.
	intraAngularMax = 34
)

// intraPredAngle is indexed by intra prediction mode.
var intraPredAngle = [35]int{
	0, 0, 32, 26, 21, 17, 13, 9, 5, 2, 0, -2, -5, -9, -13, -17, -21, -26,
	-32, -26, -21, -17, -13, -9, -5, -2, 0, 2, 5, 9, 13, 17, 21, 26, 32,
}

// invAngle is indexed by intra prediction mode minus 11.
var invAngle = [15]int{
	-4096, -1638, -910, -630, -482, -390, -315, -256, -315, -390, -482, -630, -910, -1638, -4096,
}

// intraPredictor computes intra predicted transform blocks.
// Its buffers are reused between blocks of one decode.
type intraPredictor struct {
	chromaArrayType int
	strongSmoothing bool

	p     *neighbours[uint16]
	pf    *neighbours[uint16]
	avail *neighbours[bool]
	ref   []int
	pred  []int32
}

func newIntraPredictor(chromaArrayType int, strongSmoothing bool) *intraPredictor {
	return &intraPredictor{
		chromaArrayType: chromaArrayType,
		strongSmoothing: strongSmoothing,
		p:               newNeighbours[uint16](4),
		pf:              newNeighbours[uint16](4),
		avail:           newNeighbours[bool](4),
	}
}

// predict returns the prediction of the n×n block at (x0, y0) of pl, n = 1<<log2Size,
// as n*n row major samples. The returned slice is reused by the next call.
func (ip *intraPredictor) predict(pl *plane, cIdx, x0, y0, log2Size, mode, bitDepth int) []int32 {
	n := 1 << log2Size
	ip.p.reinit(n)
	ip.avail.reinit(n)
	ip.loadNeighbours(pl, x0, y0, n, bitDepth)

	p := ip.p
	if ip.filterEnabled(cIdx, n, mode) {
		ip.filter(n, bitDepth, cIdx)
		p = ip.pf
	}

	if cap(ip.pred) < n*n {
		ip.pred = make([]int32, n*n)
	}
	pred := ip.pred[:n*n]

	switch {
	case mode == intraPlanar:
		predictPlanar(p, pred, n, log2Size)
	case mode == intraDC:
		predictDC(p, pred, n, log2Size, cIdx == 0 && n < 32)
	default:
		ip.predictAngular(p, pred, n, mode, cIdx == 0 && n < 32, bitDepth)
	}
	return pred
}

// loadNeighbours fills ip.p with the reconstructed samples around the block
// and substitutes the ones that are not available.
func (ip *intraPredictor) loadNeighbours(pl *plane, x0, y0, n, bitDepth int) {
	p, avail := ip.p, ip.avail
	anyAvailable := false
	load := func(x, y int) {
		xs, ys := x0+x, y0+y
		ok := pl.available(xs, ys)
		avail.set(x, y, ok)
		if ok {
			p.set(x, y, pl.at(xs, ys))
			anyAvailable = true
		}
	}
	for y := 2*n - 1; y >= -1; y-- {
		load(-1, y)
	}
	for x := 0; x < 2*n; x++ {
		load(x, -1)
	}

	if !anyAvailable {
		resetSamples(p, bitDepth)
		return
	}

	// Search upwards from the bottom of the left column, then rightwards
	// along the top row, for the first available sample.
	if !avail.at(-1, 2*n-1) {
		found := false
		for y := 2*n - 2; y >= -1 && !found; y-- {
			if avail.at(-1, y) {
				p.set(-1, 2*n-1, p.at(-1, y))
				found = true
			}
		}
		for x := 0; x < 2*n && !found; x++ {
			if avail.at(x, -1) {
				p.set(-1, 2*n-1, p.at(x, -1))
				found = true
			}
		}
	}
	for y := 2*n - 2; y >= -1; y-- {
		if !avail.at(-1, y) {
			p.set(-1, y, p.at(-1, y+1))
		}
	}
	for x := 0; x < 2*n; x++ {
		if !avail.at(x, -1) {
			p.set(x, -1, p.at(x-1, -1))
		}
	}
}

func (ip *intraPredictor) filterEnabled(cIdx, n, mode int) bool {
	if cIdx != 0 && ip.chromaArrayType != 3 {
		return false
	}
	if mode == intraDC || n == 4 {
		return false
	}
	minDistVerHor := min(abs(mode-intraAngular26), abs(mode-intraAngular10))
	var thres int
	switch n {
	case 8:
		thres = 7
	case 16:
		thres = 1
	default:
		thres = 0
	}
	return minDistVerHor > thres
}

// filter writes the smoothed neighbours of ip.p to ip.pf.
func (ip *intraPredictor) filter(n, bitDepth, cIdx int) {
	p, pf := ip.p, ip.pf
	pf.reinit(n)
	at := func(x, y int) int { return int(p.at(x, y)) }

	if ip.strongSmoothing && cIdx == 0 && n == 32 {
		corner := at(-1, -1)
		top, left := at(2*n-1, -1), at(-1, 2*n-1)
		threshold := 1 << (bitDepth - 5)
		if abs(corner+top-2*at(n-1, -1)) < threshold && abs(corner+left-2*at(-1, n-1)) < threshold {
			pf.set(-1, -1, uint16(corner))
			for i := 0; i < 2*n-1; i++ {
				pf.set(-1, i, uint16(((63-i)*corner+(i+1)*left+32)>>6))
				pf.set(i, -1, uint16(((63-i)*corner+(i+1)*top+32)>>6))
			}
			pf.set(-1, 2*n-1, uint16(left))
			pf.set(2*n-1, -1, uint16(top))
			return
		}
	}

	pf.set(-1, -1, uint16((at(-1, 0)+2*at(-1, -1)+at(0, -1)+2)>>2))
	for y := 0; y < 2*n-1; y++ {
		pf.set(-1, y, uint16((at(-1, y+1)+2*at(-1, y)+at(-1, y-1)+2)>>2))
	}
	pf.set(-1, 2*n-1, uint16(at(-1, 2*n-1)))
	for x := 0; x < 2*n-1; x++ {
		pf.set(x, -1, uint16((at(x-1, -1)+2*at(x, -1)+at(x+1, -1)+2)>>2))
	}
	pf.set(2*n-1, -1, uint16(at(2*n-1, -1)))
}

func predictPlanar(p *neighbours[uint16], pred []int32, n, log2Size int) {
	topRight := int(p.at(n, -1))
	bottomLeft := int(p.at(-1, n))
	for y := range n {
		left := int(p.at(-1, y))
		for x := range n {
			top := int(p.at(x, -1))
			v := (n-1-x)*left + (x+1)*topRight + (n-1-y)*top + (y+1)*bottomLeft + n
			pred[y*n+x] = int32(v >> (log2Size + 1))
		}
	}
}

func predictDC(p *neighbours[uint16], pred []int32, n, log2Size int, edgeFilter bool) {
	sum := n
	for i := range n {
		sum += int(p.at(i, -1)) + int(p.at(-1, i))
	}
	dc := sum >> (log2Size + 1)
	for i := range pred {
		pred[i] = int32(dc)
	}
	if !edgeFilter {
		return
	}
	pred[0] = int32((int(p.at(-1, 0)) + 2*dc + int(p.at(0, -1)) + 2) >> 2)
	for x := 1; x < n; x++ {
		pred[x] = int32((int(p.at(x, -1)) + 3*dc + 2) >> 2)
	}
	for y := 1; y < n; y++ {
		pred[y*n] = int32((int(p.at(-1, y)) + 3*dc + 2) >> 2)
	}
}

func (ip *intraPredictor) predictAngular(p *neighbours[uint16], pred []int32, n, mode int, edgeFilter bool, bitDepth int) {
	angle := intraPredAngle[mode]
	if cap(ip.ref) < 3*n+1 {
		ip.ref = make([]int, 3*n+1)
	}
	// ref[i+n] holds reference sample i, i in [-n, 2n].
	ref := ip.ref[:3*n+1]
	maxVal := int32(1)<<bitDepth - 1

	vertical := mode >= 18
	// main and side read the reference row and column, swapped for
	// horizontal modes so both directions share one loop.
	main := func(i int) int { return int(p.at(-1+i, -1)) }
	side := func(i int) int { return int(p.at(-1, -1+i)) }
	if !vertical {
		main, side = side, main
	}

	for i := 0; i <= n; i++ {
		ref[i+n] = main(i)
	}
	if angle < 0 {
		if last := (n * angle) >> 5; last < -1 {
			inv := invAngle[mode-11]
			for i := last; i <= -1; i++ {
				ref[i+n] = side((i*inv + 128) >> 8)
			}
		}
	} else {
		for i := n + 1; i <= 2*n; i++ {
			ref[i+n] = main(i)
		}
	}

	for y := range n {
		for x := range n {
			// (u, v) is (x, y) for vertical modes and transposed otherwise.
			u, v := x, y
			if !vertical {
				u, v = y, x
			}
			iIdx := ((v + 1) * angle) >> 5
			iFact := ((v + 1) * angle) & 31
			var s int
			if iFact != 0 {
				s = ((32-iFact)*ref[u+iIdx+1+n] + iFact*ref[u+iIdx+2+n] + 16) >> 5
			} else {
				s = ref[u+iIdx+1+n]
			}
			pred[y*n+x] = int32(s)
		}
	}

	if !edgeFilter {
		return
	}
	corner := int(p.at(-1, -1))
	switch mode {
	case intraAngular26:
		for y := range n {
			v := int(p.at(0, -1)) + ((int(p.at(-1, y)) - corner) >> 1)
			pred[y*n] = clamp(int32(v), 0, maxVal)
		}
	case intraAngular10:
		for x := range n {
			v := int(p.at(-1, 0)) + ((int(p.at(x, -1)) - corner) >> 1)
			pred[x] = clamp(int32(v), 0, maxVal)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
