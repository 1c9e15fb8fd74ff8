// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package heic

import (
	"fmt"
	"image"
)

// plane is one component of a picture being reconstructed.
type plane struct {
	width, height int
	samples       []uint16
	done          []bool
}

func newPlane(width, height int) *plane {
	return &plane{
		width:   width,
		height:  height,
		samples: make([]uint16, width*height),
		done:    make([]bool, width*height),
	}
}

func (p *plane) at(x, y int) uint16 {
	return p.samples[y*p.width+x]
}

func (p *plane) set(x, y int, v uint16) {
	i := y*p.width + x
	p.samples[i] = v
	p.done[i] = true
}

// available reports whether (x, y) is inside the plane and already reconstructed.
func (p *plane) available(x, y int) bool {
	if x < 0 || y < 0 || x >= p.width || y >= p.height {
		return false
	}
	return p.done[y*p.width+x]
}

// complete reports whether every sample has been reconstructed.
func (p *plane) complete() bool {
	for _, d := range p.done {
		if !d {
			return false
		}
	}
	return true
}

// picture is a decoded HEVC picture.
type picture struct {
	sps *SequenceParameterSet

	chromaArrayType      int
	bitDepthY, bitDepthC int
	subW, subH           int

	// planes[1] and planes[2] are nil for monochrome pictures.
	planes [3]*plane

	// The conformance window in luma samples.
	crop image.Rectangle
}

func newPicture(sps *SequenceParameterSet) (*picture, error) {
	cat := sps.ChromaArrayType()
	if cat == 2 {
		return nil, newDecodeErrorf("4:2:2 chroma is not supported")
	}
	w, h := int(sps.PicWidthInLumaSamples), int(sps.PicHeightInLumaSamples)
	if w == 0 || h == 0 {
		return nil, newDecodeErrorf("empty picture %dx%d", w, h)
	}
	cw, ch := sps.croppedSize()
	if cw <= 0 || ch <= 0 {
		return nil, newDecodeErrorf("conformance window leaves no samples")
	}
	p := &picture{
		sps:             sps,
		chromaArrayType: cat,
		bitDepthY:       sps.BitDepthLuma,
		bitDepthC:       sps.BitDepthChroma,
		subW:            sps.SubWidthC(),
		subH:            sps.SubHeightC(),
	}
	left := sps.SubWidthC() * int(sps.ConfWinLeftOffset)
	top := sps.SubHeightC() * int(sps.ConfWinTopOffset)
	p.crop = image.Rect(left, top, left+cw, top+ch)

	p.planes[0] = newPlane(w, h)
	if cat != 0 {
		p.planes[1] = newPlane(w/p.subW, h/p.subH)
		p.planes[2] = newPlane(w/p.subW, h/p.subH)
	}
	return p, nil
}

// width and height return the cropped size.
func (p *picture) width() int {
	return p.crop.Dx()
}

func (p *picture) height() int {
	return p.crop.Dy()
}

// sample returns the component values at (x, y) of the cropped picture.
// Monochrome pictures return mid-range chroma.
func (p *picture) sample(x, y int) (yv, cb, cr uint16) {
	x += p.crop.Min.X
	y += p.crop.Min.Y
	yv = p.planes[0].at(x, y)
	if p.planes[1] == nil {
		mid := uint16(1) << (p.bitDepthC - 1)
		return yv, mid, mid
	}
	cx, cy := x/p.subW, y/p.subH
	return yv, p.planes[1].at(cx, cy), p.planes[2].at(cx, cy)
}

// hevcDecoder reconstructs the single intra picture of an image item.
type hevcDecoder struct {
	sd    SliceDecoder
	warnf func(string, ...any)

	spss map[uint32]*SequenceParameterSet
	ppss map[uint32]*PictureParameterSet

	pic       *picture
	predictor *intraPredictor
	prevType  SliceType
	finished  bool
}

// decodeHEVC decodes data, the length prefixed NAL units of an item, using the
// parameter sets in cfg. The returned picture is owned by the caller.
func decodeHEVC(cfg *hevcDecoderConfig, data []byte, sd SliceDecoder, warnf func(string, ...any)) (*picture, error) {
	if sd == nil {
		return nil, newDecodeErrorf("no SliceDecoder configured")
	}
	d := &hevcDecoder{
		sd:    sd,
		warnf: warnf,
		spss:  make(map[uint32]*SequenceParameterSet),
		ppss:  make(map[uint32]*PictureParameterSet),
	}

	for _, ps := range cfg.parameterSets() {
		if err := d.parameterSet(ps.nalType, ps.rbsp); err != nil {
			return nil, err
		}
	}

	units, err := splitNALUnits(data, cfg.lengthSize())
	if err != nil {
		return nil, err
	}
	for _, u := range units {
		if err := d.decodeNAL(u); err != nil {
			return nil, err
		}
	}

	if d.pic == nil {
		return nil, newDecodeErrorf("no slice data")
	}
	if !d.pic.planes[0].complete() {
		d.warnf("heic: picture is not fully covered by its slices")
	}
	if sps := d.pic.sps; int(cfg.chromaFormatIDC) != int(sps.ChromaFormatIDC) || int(cfg.bitDepthLumaMinus8)+8 != sps.BitDepthLuma {
		d.warnf("heic: hvcC chroma format or bit depth does not match the SPS, using the SPS")
	}
	return d.pic, nil
}

func (d *hevcDecoder) parameterSet(typ nalUnitType, rbsp []byte) (err error) {
	r := newBytesBitReader(rbsp)
	defer func() {
		if e := errFromRecover(recover(), ErrDecode, r.s.streamErr); e != nil {
			err = e
		}
	}()
	switch typ {
	case nalSPS:
		sps := parseSPS(r)
		d.spss[sps.ID] = sps
	case nalPPS:
		pps := parsePPS(r)
		d.ppss[pps.ID] = pps
	}
	return nil
}

func (d *hevcDecoder) decodeNAL(u nalUnit) (err error) {
	switch {
	case u.typ == nalSPS || u.typ == nalPPS:
		if u.layerID != 0 {
			return nil
		}
		return d.parameterSet(u.typ, u.rbsp())
	case u.typ == nalPrefixSEI || u.typ == nalSuffixSEI:
		return d.sei(u)
	case u.typ.isReservedVCL():
		return newDecodeErrorf("reserved VCL NAL unit type %d", uint8(u.typ))
	case u.typ.isVCL():
		if u.layerID != 0 || d.finished {
			return nil
		}
		return d.slice(u)
	default:
		// VPS, access unit delimiters, end of sequence or bitstream, filler
		// data and unspecified types carry nothing needed here.
		return nil
	}
}

func (d *hevcDecoder) sei(u nalUnit) (err error) {
	defer func() {
		if e := errFromRecover(recover(), ErrDecode, nil); e != nil {
			err = newDecodeError(fmt.Errorf("SEI: %w", e))
		}
	}()
	parseSEI(u)
	return nil
}

func (d *hevcDecoder) slice(u nalUnit) (err error) {
	rbsp := u.rbsp()
	r := newBytesBitReader(rbsp)
	var seg *SliceSegment
	func() {
		defer func() {
			err = errFromRecover(recover(), ErrDecode, r.s.streamErr)
		}()
		seg = parseSliceSegmentHeader(r, u.typ, d.ppss, d.spss, d.prevType)
	}()
	if err != nil {
		return err
	}

	if seg.FirstInPicture && d.pic != nil {
		// An image item holds one picture.
		d.warnf("heic: ignoring slices of a second picture")
		d.finished = true
		return nil
	}
	if d.pic == nil {
		if !seg.FirstInPicture {
			return newDecodeErrorf("first slice segment is not the start of a picture")
		}
		if d.pic, err = newPicture(seg.SPS); err != nil {
			return err
		}
		d.predictor = newIntraPredictor(d.pic.chromaArrayType, seg.SPS.StrongIntraSmoothingEnabled)
	} else if seg.SPS != d.pic.sps {
		return newDecodeErrorf("slice segments of one picture reference different SPSs")
	}

	if seg.Type != SliceTypeI {
		return newDecodeErrorf("unsupported %s slice, only intra pictures can be decoded", seg.Type)
	}
	d.prevType = seg.Type
	seg.Data = rbsp

	if err := d.sd.DecodeSlice(seg, d.reconstruct); err != nil {
		return wrapKind(ErrDecode, err)
	}
	return nil
}

// reconstruct predicts the transform blocks of cu, adds the residual and
// stores the result in the picture planes.
func (d *hevcDecoder) reconstruct(cu CodingUnit) (err error) {
	defer func() {
		if e := errFromRecover(recover(), ErrDecode, nil); e != nil {
			err = e
		}
	}()

	pic, sps := d.pic, d.pic.sps
	if err := validateCodingUnit(sps, &cu); err != nil {
		return err
	}

	pus := cu.PartMode.PredictionUnits(cu.X, cu.Y, cu.Log2Size)
	lumaMode := func(x, y int) int {
		pt := image.Pt(x, y)
		for i, pu := range pus {
			if pt.In(pu) {
				return int(cu.LumaModes[i])
			}
		}
		return int(cu.LumaModes[0])
	}

	tb := cu.TransformLog2Size
	for i := range 1 << (2 * (cu.Log2Size - tb)) {
		zx, zy := zOrder(i)
		x, y := cu.X+(zx<<tb), cu.Y+(zy<<tb)
		if err := d.reconstructBlock(cu, 0, x, y, tb, lumaMode(x, y), pic.bitDepthY); err != nil {
			return err
		}
	}

	if pic.chromaArrayType == 0 {
		return nil
	}

	// 4:2:0 chroma blocks are half the luma size, but never smaller than 4x4.
	areaLog2, cLog2 := cu.Log2Size, tb
	if pic.chromaArrayType == 1 {
		areaLog2 = cu.Log2Size - 1
		cLog2 = max(tb-1, 2)
	}
	cx0, cy0 := cu.X/pic.subW, cu.Y/pic.subH
	for c := 1; c <= 2; c++ {
		for i := range 1 << (2 * (areaLog2 - cLog2)) {
			zx, zy := zOrder(i)
			x, y := cx0+(zx<<cLog2), cy0+(zy<<cLog2)
			if err := d.reconstructBlock(cu, c, x, y, cLog2, int(cu.ChromaMode), pic.bitDepthC); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *hevcDecoder) reconstructBlock(cu CodingUnit, c, x0, y0, log2Size, mode, bitDepth int) error {
	pl := d.pic.planes[c]
	n := 1 << log2Size
	if x0+n > pl.width || y0+n > pl.height {
		return newDecodeErrorf("transform block at (%d, %d) of component %d is outside the picture", x0, y0, c)
	}

	pred := d.predictor.predict(pl, c, x0, y0, log2Size, mode, bitDepth)

	var residual []int32
	if cu.Residual != nil {
		residual = cu.Residual(c, x0, y0, log2Size)
		if residual != nil && len(residual) != n*n {
			return newDecodeErrorf("residual of component %d at (%d, %d) has %d samples, want %d", c, x0, y0, len(residual), n*n)
		}
	}

	maxVal := int32(1)<<bitDepth - 1
	for y := range n {
		for x := range n {
			v := pred[y*n+x]
			if residual != nil {
				v += residual[y*n+x]
			}
			pl.set(x0+x, y0+y, uint16(clamp(v, 0, maxVal)))
		}
	}
	return nil
}

// validateCodingUnit checks cu against the SPS and fills in the default
// transform block size.
func validateCodingUnit(sps *SequenceParameterSet, cu *CodingUnit) error {
	if !cu.PartMode.validIntra() {
		return newDecodeErrorf("partition mode %s is not allowed for intra coding units", cu.PartMode)
	}
	if cu.Log2Size < sps.Log2MinCodingBlockSize || cu.Log2Size > sps.Log2CodingTreeBlockSize {
		return newDecodeErrorf("coding unit size %d is outside [%d, %d]", 1<<cu.Log2Size, 1<<sps.Log2MinCodingBlockSize, 1<<sps.Log2CodingTreeBlockSize)
	}
	size := 1 << cu.Log2Size
	if cu.X < 0 || cu.Y < 0 || cu.X%size != 0 || cu.Y%size != 0 ||
		cu.X >= int(sps.PicWidthInLumaSamples) || cu.Y >= int(sps.PicHeightInLumaSamples) {
		return newDecodeErrorf("coding unit at (%d, %d) of size %d is misplaced", cu.X, cu.Y, size)
	}
	if cu.PartMode == PartModeNxN && cu.Log2Size != sps.Log2MinCodingBlockSize {
		return newDecodeErrorf("NxN partitioning of a %dx%d coding unit above the minimum size", size, size)
	}

	numPUs := 1
	if cu.PartMode == PartModeNxN {
		numPUs = 4
	}
	for i := range numPUs {
		if cu.LumaModes[i] > intraAngularMax {
			return newDecodeErrorf("invalid luma intra mode %d", cu.LumaModes[i])
		}
	}
	if cu.ChromaMode > intraAngularMax {
		return newDecodeErrorf("invalid chroma intra mode %d", cu.ChromaMode)
	}

	maxTb := cu.Log2Size
	if cu.PartMode == PartModeNxN {
		maxTb = cu.Log2Size - 1
	}
	maxTb = min(maxTb, sps.Log2MaxTransformBlockSize)
	if cu.TransformLog2Size == 0 {
		cu.TransformLog2Size = maxTb
	}
	if cu.TransformLog2Size < sps.Log2MinTransformBlockSize || cu.TransformLog2Size > maxTb {
		return newDecodeErrorf("transform block size %d is outside [%d, %d]", 1<<cu.TransformLog2Size, 1<<sps.Log2MinTransformBlockSize, 1<<maxTb)
	}
	return nil
}

// zOrder returns the position of the i-th block in z-scan order.
func zOrder(i int) (x, y int) {
	for bit := 0; i != 0; bit++ {
		x |= (i & 1) << bit
		y |= (i >> 1 & 1) << bit
		i >>= 2
	}
	return x, y
}
