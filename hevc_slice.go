// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package heic

import (
	"image"
	"math/bits"
)

// PartMode is the partitioning of a coding unit into prediction units.
type PartMode uint8

//go:generate stringer -type=PartMode -trimprefix=PartMode

const (
	PartMode2Nx2N PartMode = iota // Whole block.
	PartMode2NxN                  // Two horizontal halves.
	PartModeNx2N                  // Two vertical halves.
	PartModeNxN                   // Four quadrants.
	PartMode2NxnU                 // A quarter on top, three quarters below.
	PartMode2NxnD                 // Three quarters on top, a quarter below.
	PartModenLx2N                 // A quarter left, three quarters right.
	PartModenRx2N                 // Three quarters left, a quarter right.
)

// PredictionUnits returns the prediction blocks of a coding unit of size
// 1<<log2Size at (x, y) in luma samples, in decoding order.
func (m PartMode) PredictionUnits(x, y, log2Size int) []image.Rectangle {
	s := 1 << log2Size
	h, q := s/2, s/4
	r := func(x0, y0, w, h int) image.Rectangle {
		return image.Rect(x+x0, y+y0, x+x0+w, y+y0+h)
	}
	switch m {
	case PartMode2Nx2N:
		return []image.Rectangle{r(0, 0, s, s)}
	case PartMode2NxN:
		return []image.Rectangle{r(0, 0, s, h), r(0, h, s, h)}
	case PartModeNx2N:
		return []image.Rectangle{r(0, 0, h, s), r(h, 0, h, s)}
	case PartModeNxN:
		return []image.Rectangle{r(0, 0, h, h), r(h, 0, h, h), r(0, h, h, h), r(h, h, h, h)}
	case PartMode2NxnU:
		return []image.Rectangle{r(0, 0, s, q), r(0, q, s, s-q)}
	case PartMode2NxnD:
		return []image.Rectangle{r(0, 0, s, s-q), r(0, s-q, s, q)}
	case PartModenLx2N:
		return []image.Rectangle{r(0, 0, q, s), r(q, 0, s-q, s)}
	case PartModenRx2N:
		return []image.Rectangle{r(0, 0, s-q, s), r(s-q, 0, q, s)}
	default:
		return nil
	}
}

// validIntra reports whether m may be used by an intra coding unit.
func (m PartMode) validIntra() bool {
	return m == PartMode2Nx2N || m == PartModeNxN
}

// neighbours holds the samples above and left of a square block of side n:
// the corner and 2n samples of the row above, then 2n samples of the column
// to the left, 4n+1 entries in total.
type neighbours[T any] struct {
	data []T
	n    int
}

func newNeighbours[T any](n int) *neighbours[T] {
	return &neighbours[T]{data: make([]T, 4*n+1), n: n}
}

// reinit resizes the buffer for a block of side n, reusing its storage.
func (s *neighbours[T]) reinit(n int) {
	size := 4*n + 1
	if cap(s.data) < size {
		s.data = make([]T, size)
	}
	s.data = s.data[:size]
	s.n = n
}

// index maps (x, -1) for x in [-1, 2n-1] and (-1, y) for y in [0, 2n-1]
// onto [0, 4n].
func (s *neighbours[T]) index(x, y int) int {
	if y == -1 {
		return x + 1
	}
	return 2*s.n + y + 1
}

func (s *neighbours[T]) at(x, y int) T {
	return s.data[s.index(x, y)]
}

func (s *neighbours[T]) set(x, y int, v T) {
	s.data[s.index(x, y)] = v
}

func (s *neighbours[T]) fill(v T) {
	for i := range s.data {
		s.data[i] = v
	}
}

// resetSamples fills s with the midpoint value for bitDepth.
func resetSamples(s *neighbours[uint16], bitDepth int) {
	s.fill(uint16(1) << (bitDepth - 1))
}

// SliceType is the slice_type of a slice segment header.
type SliceType uint8

//go:generate stringer -type=SliceType -trimprefix=SliceType

const (
	SliceTypeB SliceType = iota
	SliceTypeP
	SliceTypeI
)

// SliceSegment is one slice segment NAL unit handed to a SliceDecoder.
type SliceSegment struct {
	NALType        uint8
	FirstInPicture bool
	Dependent      bool
	Address        int // slice_segment_address, in coding tree blocks.
	Type           SliceType

	SPS *SequenceParameterSet
	PPS *PictureParameterSet

	// Data is the RBSP of the unit after its two byte header.
	// The first HeaderBits bits have been consumed to fill the fields above;
	// the rest of the slice segment header starts there.
	Data       []byte
	HeaderBits int
}

// CodingUnit is a reconstructed intra coding unit as emitted by a SliceDecoder.
type CodingUnit struct {
	// Position and size in luma samples.
	X, Y     int
	Log2Size int

	PartMode PartMode

	// Intra prediction modes of the prediction units, in PredictionUnits order.
	// Only the first is used for PartMode2Nx2N.
	LumaModes [4]uint8

	// IntraPredModeC, already derived from intra_chroma_pred_mode.
	ChromaMode uint8

	// Log2 size of the luma transform blocks. Zero selects the largest
	// allowed size: Log2Size-1 for PartModeNxN, otherwise Log2Size capped
	// at the SPS maximum.
	TransformLog2Size int

	// Residual returns the residual samples of the transform block of
	// component c (0 luma, 1 Cb, 2 Cr) at (x, y) in component samples, row
	// major with 1<<log2Size samples per row. It may return nil for a block
	// without residual and may itself be nil.
	Residual func(c, x, y, log2Size int) []int32
}

// SliceDecoder is the entropy decoding stage for HEVC slice segments.
// DecodeSlice parses the rest of the slice segment header and the slice
// data, and calls emit for every coding unit in decoding order.
// An error returned from emit must be returned by DecodeSlice.
type SliceDecoder interface {
	DecodeSlice(seg *SliceSegment, emit func(CodingUnit) error) error
}

// parseSliceSegmentHeader reads the start of a slice segment header up to and
// including slice_type.
func parseSliceSegmentHeader(r *bitReader, nalType nalUnitType, ppss map[uint32]*PictureParameterSet, spss map[uint32]*SequenceParameterSet, prevType SliceType) *SliceSegment {
	seg := &SliceSegment{NALType: uint8(nalType)}
	seg.FirstInPicture = r.readFlag()
	if nalType.isIRAP() {
		r.skipBits(1) // no_output_of_prior_pics_flag
	}
	ppsID := r.readUE()
	pps, ok := ppss[ppsID]
	if !ok {
		r.stop(newDecodeErrorf("slice references unknown PPS %d", ppsID))
	}
	sps, ok := spss[pps.SPSID]
	if !ok {
		r.stop(newDecodeErrorf("PPS %d references unknown SPS %d", ppsID, pps.SPSID))
	}
	seg.PPS, seg.SPS = pps, sps

	if !seg.FirstInPicture {
		if pps.DependentSliceSegmentsEnabled {
			seg.Dependent = r.readFlag()
		}
		ctbs := sps.PicWidthInCtbs() * sps.PicHeightInCtbs()
		n := bits.Len(uint(ctbs - 1))
		if n > 0 {
			seg.Address = int(r.read(n))
		}
		if seg.Address >= ctbs {
			r.stop(newDecodeErrorf("slice segment address %d out of range", seg.Address))
		}
	}

	if seg.Dependent {
		seg.Type = prevType
	} else {
		if pps.NumExtraSliceHeaderBits > 0 {
			r.skipBits(int64(pps.NumExtraSliceHeaderBits)) // slice_reserved_flag
		}
		t := r.readUE()
		if t > 2 {
			r.stop(newDecodeErrorf("invalid slice type %d", t))
		}
		seg.Type = SliceType(t)
	}

	seg.HeaderBits = int(r.bitPosition())
	return seg
}
