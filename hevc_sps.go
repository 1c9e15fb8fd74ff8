// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package heic

// Level 6.2 limits of ITU-T H.265 table A.8, the largest any conforming
// stream may code.
const (
	maxLumaPictureSize = 35651584
	maxLumaDimension   = 16888
)

// SequenceParameterSet holds the SPS fields needed to reconstruct intra pictures.
// Fields not listed are parsed and skipped.
type SequenceParameterSet struct {
	VPSID              uint8
	MaxSubLayersMinus1 uint8
	ID                 uint32

	// 0 is 4:0:0, 1 is 4:2:0, 2 is 4:2:2 and 3 is 4:4:4.
	ChromaFormatIDC        uint32
	SeparateColourPlane    bool
	PicWidthInLumaSamples  uint32
	PicHeightInLumaSamples uint32

	// Conformance window offsets in chroma sample units.
	ConfWinLeftOffset   uint32
	ConfWinRightOffset  uint32
	ConfWinTopOffset    uint32
	ConfWinBottomOffset uint32

	BitDepthLuma   int
	BitDepthChroma int

	Log2MaxPicOrderCntLsb int

	Log2MinCodingBlockSize      int
	Log2CodingTreeBlockSize     int
	Log2MinTransformBlockSize   int
	Log2MaxTransformBlockSize   int
	MaxTransformHierarchyInter  int
	MaxTransformHierarchyIntra  int
	ScalingListEnabled          bool
	AMPEnabled                  bool
	SAOEnabled                  bool
	PCMEnabled                  bool
	NumShortTermRefPicSets      int
	LongTermRefPicsPresent      bool
	TemporalMVPEnabled          bool
	StrongIntraSmoothingEnabled bool
}

// ChromaArrayType is ChromaFormatIDC, or 0 when colour planes are coded separately.
func (s *SequenceParameterSet) ChromaArrayType() int {
	if s.SeparateColourPlane {
		return 0
	}
	return int(s.ChromaFormatIDC)
}

// SubWidthC and SubHeightC return the chroma subsampling factors.
func (s *SequenceParameterSet) SubWidthC() int {
	if s.ChromaFormatIDC == 1 || s.ChromaFormatIDC == 2 {
		return 2
	}
	return 1
}

func (s *SequenceParameterSet) SubHeightC() int {
	if s.ChromaFormatIDC == 1 {
		return 2
	}
	return 1
}

// PicWidthInCtbs returns the picture width in coding tree blocks.
func (s *SequenceParameterSet) PicWidthInCtbs() int {
	ctb := 1 << s.Log2CodingTreeBlockSize
	return (int(s.PicWidthInLumaSamples) + ctb - 1) / ctb
}

func (s *SequenceParameterSet) PicHeightInCtbs() int {
	ctb := 1 << s.Log2CodingTreeBlockSize
	return (int(s.PicHeightInLumaSamples) + ctb - 1) / ctb
}

// croppedSize returns the picture size after the conformance window is applied.
func (s *SequenceParameterSet) croppedSize() (w, h int) {
	w = int(s.PicWidthInLumaSamples) - s.SubWidthC()*(int(s.ConfWinLeftOffset)+int(s.ConfWinRightOffset))
	h = int(s.PicHeightInLumaSamples) - s.SubHeightC()*(int(s.ConfWinTopOffset)+int(s.ConfWinBottomOffset))
	return w, h
}

// PictureParameterSet holds the PPS fields a slice decoder needs.
type PictureParameterSet struct {
	ID    uint32
	SPSID uint32

	DependentSliceSegmentsEnabled bool
	OutputFlagPresent             bool
	NumExtraSliceHeaderBits       int
	SignDataHidingEnabled         bool
	CabacInitPresent              bool
	NumRefIdxL0DefaultActive      int
	NumRefIdxL1DefaultActive      int
	InitQP                        int
	ConstrainedIntraPred          bool
	TransformSkipEnabled          bool
	CuQPDeltaEnabled              bool
	DiffCuQPDeltaDepth            int
	CbQPOffset                    int
	CrQPOffset                    int
	SliceChromaQPOffsetsPresent   bool
	WeightedPred                  bool
	WeightedBipred                bool
	TransquantBypassEnabled       bool
	TilesEnabled                  bool
	EntropyCodingSyncEnabled      bool
	NumTileColumns                int
	NumTileRows                   int
	UniformSpacing                bool
	ColumnWidths                  []int // In CTBs, set when UniformSpacing is false.
	RowHeights                    []int
	LoopFilterAcrossTilesEnabled  bool
	LoopFilterAcrossSlicesEnabled bool
	DeblockingOverrideEnabled     bool
	DeblockingDisabled            bool
	BetaOffsetDiv2                int
	TcOffsetDiv2                  int
	ListsModificationPresent      bool
	Log2ParallelMergeLevel        int
	SliceHeaderExtensionPresent   bool
}

// parseSPS parses the RBSP of an SPS NAL unit, header excluded.
// Read errors panic with errStop.
func parseSPS(r *bitReader) *SequenceParameterSet {
	s := &SequenceParameterSet{}
	s.VPSID = uint8(r.read(4))
	s.MaxSubLayersMinus1 = uint8(r.read(3))
	r.skipBits(1) // sps_temporal_id_nesting_flag
	skipProfileTierLevel(r, int(s.MaxSubLayersMinus1))

	s.ID = r.readUE()
	if s.ID > 15 {
		r.stop(newDecodeErrorf("invalid SPS id %d", s.ID))
	}
	s.ChromaFormatIDC = r.readUE()
	if s.ChromaFormatIDC > 3 {
		r.stop(newDecodeErrorf("invalid chroma_format_idc %d", s.ChromaFormatIDC))
	}
	if s.ChromaFormatIDC == 3 {
		s.SeparateColourPlane = r.readFlag()
	}
	s.PicWidthInLumaSamples = r.readUE()
	s.PicHeightInLumaSamples = r.readUE()
	if r.readFlag() {
		s.ConfWinLeftOffset = r.readUE()
		s.ConfWinRightOffset = r.readUE()
		s.ConfWinTopOffset = r.readUE()
		s.ConfWinBottomOffset = r.readUE()
	}

	s.BitDepthLuma = int(r.readUE()) + 8
	s.BitDepthChroma = int(r.readUE()) + 8
	if s.BitDepthLuma > 16 || s.BitDepthChroma > 16 {
		r.stop(newDecodeErrorf("unsupported bit depth %d/%d", s.BitDepthLuma, s.BitDepthChroma))
	}
	s.Log2MaxPicOrderCntLsb = int(r.readUE()) + 4
	if s.Log2MaxPicOrderCntLsb > 16 {
		r.stop(newDecodeErrorf("invalid log2_max_pic_order_cnt_lsb %d", s.Log2MaxPicOrderCntLsb))
	}

	subLayerOrderingInfo := r.readFlag()
	start := int(s.MaxSubLayersMinus1)
	if subLayerOrderingInfo {
		start = 0
	}
	for i := start; i <= int(s.MaxSubLayersMinus1); i++ {
		r.readUE() // sps_max_dec_pic_buffering_minus1
		r.readUE() // sps_max_num_reorder_pics
		r.readUE() // sps_max_latency_increase_plus1
	}

	s.Log2MinCodingBlockSize = int(r.readUE()) + 3
	s.Log2CodingTreeBlockSize = s.Log2MinCodingBlockSize + int(r.readUE())
	s.Log2MinTransformBlockSize = int(r.readUE()) + 2
	s.Log2MaxTransformBlockSize = s.Log2MinTransformBlockSize + int(r.readUE())
	if s.Log2CodingTreeBlockSize > 6 || s.Log2MaxTransformBlockSize > 5 || s.Log2MinTransformBlockSize >= s.Log2MinCodingBlockSize {
		r.stop(newDecodeErrorf("invalid block sizes: CTB %d, TB %d..%d, min CB %d",
			s.Log2CodingTreeBlockSize, s.Log2MinTransformBlockSize, s.Log2MaxTransformBlockSize, s.Log2MinCodingBlockSize))
	}

	w, h := s.PicWidthInLumaSamples, s.PicHeightInLumaSamples
	minCb := uint32(1) << s.Log2MinCodingBlockSize
	if w == 0 || h == 0 || w%minCb != 0 || h%minCb != 0 {
		r.stop(newDecodeErrorf("invalid picture size %dx%d for %d sample coding blocks", w, h, minCb))
	}
	if w > maxLumaDimension || h > maxLumaDimension || uint64(w)*uint64(h) > maxLumaPictureSize {
		r.stop(newDecodeErrorf("picture size %dx%d exceeds the HEVC level limits", w, h))
	}
	if cw, ch := s.croppedSize(); cw <= 0 || ch <= 0 {
		r.stop(newDecodeErrorf("conformance window leaves no samples of %dx%d", w, h))
	}

	s.MaxTransformHierarchyInter = int(r.readUE())
	s.MaxTransformHierarchyIntra = int(r.readUE())

	s.ScalingListEnabled = r.readFlag()
	if s.ScalingListEnabled && r.readFlag() {
		skipScalingListData(r)
	}

	s.AMPEnabled = r.readFlag()
	s.SAOEnabled = r.readFlag()
	s.PCMEnabled = r.readFlag()
	if s.PCMEnabled {
		r.skipBits(4) // pcm_sample_bit_depth_luma_minus1
		r.skipBits(4) // pcm_sample_bit_depth_chroma_minus1
		r.readUE()    // log2_min_pcm_luma_coding_block_size_minus3
		r.readUE()    // log2_diff_max_min_pcm_luma_coding_block_size
		r.skipBits(1) // pcm_loop_filter_disabled_flag
	}

	s.NumShortTermRefPicSets = int(r.readUE())
	if s.NumShortTermRefPicSets > 64 {
		r.stop(newDecodeErrorf("invalid num_short_term_ref_pic_sets %d", s.NumShortTermRefPicSets))
	}
	numDeltaPocs := make([]int, s.NumShortTermRefPicSets)
	for i := range s.NumShortTermRefPicSets {
		numDeltaPocs[i] = skipShortTermRefPicSet(r, i, numDeltaPocs)
	}

	s.LongTermRefPicsPresent = r.readFlag()
	if s.LongTermRefPicsPresent {
		n := r.readUE()
		if n > 32 {
			r.stop(newDecodeErrorf("invalid num_long_term_ref_pics_sps %d", n))
		}
		for range n {
			r.skipBits(int64(s.Log2MaxPicOrderCntLsb)) // lt_ref_pic_poc_lsb_sps
			r.skipBits(1)                              // used_by_curr_pic_lt_sps_flag
		}
	}

	s.TemporalMVPEnabled = r.readFlag()
	s.StrongIntraSmoothingEnabled = r.readFlag()

	// VUI and extensions are not needed.
	return s
}

func skipProfileTierLevel(r *bitReader, maxSubLayersMinus1 int) {
	// general_profile_space, general_tier_flag, general_profile_idc,
	// general_profile_compatibility_flag[32], 48 bits of constraint flags.
	r.skipBits(8 + 32 + 48)
	r.skipBits(8) // general_level_idc

	var subProfilePresent, subLevelPresent [8]bool
	for i := range maxSubLayersMinus1 {
		subProfilePresent[i] = r.readFlag()
		subLevelPresent[i] = r.readFlag()
	}
	if maxSubLayersMinus1 > 0 {
		for i := maxSubLayersMinus1; i < 8; i++ {
			r.skipBits(2) // reserved_zero_2bits
		}
	}
	for i := range maxSubLayersMinus1 {
		if subProfilePresent[i] {
			r.skipBits(8 + 32 + 48)
		}
		if subLevelPresent[i] {
			r.skipBits(8)
		}
	}
}

func skipScalingListData(r *bitReader) {
	for sizeID := range 4 {
		step := 1
		if sizeID == 3 {
			step = 3
		}
		for matrixID := 0; matrixID < 6; matrixID += step {
			if !r.readFlag() { // scaling_list_pred_mode_flag
				r.readUE() // scaling_list_pred_matrix_id_delta
				continue
			}
			coefNum := min(64, 1<<(4+(sizeID<<1)))
			if sizeID > 1 {
				r.readSE() // scaling_list_dc_coef_minus8
			}
			for range coefNum {
				r.readSE() // scaling_list_delta_coef
			}
		}
	}
}

// skipShortTermRefPicSet skips st_ref_pic_set(idx) of an SPS and returns
// NumDeltaPocs for it.
func skipShortTermRefPicSet(r *bitReader, idx int, numDeltaPocs []int) int {
	if idx != 0 && r.readFlag() { // inter_ref_pic_set_prediction_flag
		// In an SPS delta_idx_minus1 is not present and the reference set is the previous one.
		ref := numDeltaPocs[idx-1]
		r.skipBits(1) // delta_rps_sign
		r.readUE()    // abs_delta_rps_minus1
		n := 0
		for j := 0; j <= ref; j++ {
			if r.readFlag() { // used_by_curr_pic_flag
				n++
				continue
			}
			if r.readFlag() { // use_delta_flag
				n++
			}
		}
		return n
	}

	numNegative := r.readUE()
	numPositive := r.readUE()
	if numNegative > 16 || numPositive > 16 {
		r.stop(newDecodeErrorf("invalid short-term reference picture set with %d/%d pictures", numNegative, numPositive))
	}
	for range numNegative + numPositive {
		r.readUE()    // delta_poc_minus1
		r.skipBits(1) // used_by_curr_pic_flag
	}
	return int(numNegative + numPositive)
}

// parsePPS parses the RBSP of a PPS NAL unit, header excluded.
func parsePPS(r *bitReader) *PictureParameterSet {
	p := &PictureParameterSet{}
	p.ID = r.readUE()
	if p.ID > 63 {
		r.stop(newDecodeErrorf("invalid PPS id %d", p.ID))
	}
	p.SPSID = r.readUE()
	p.DependentSliceSegmentsEnabled = r.readFlag()
	p.OutputFlagPresent = r.readFlag()
	p.NumExtraSliceHeaderBits = int(r.read(3))
	p.SignDataHidingEnabled = r.readFlag()
	p.CabacInitPresent = r.readFlag()
	p.NumRefIdxL0DefaultActive = int(r.readUE()) + 1
	p.NumRefIdxL1DefaultActive = int(r.readUE()) + 1
	p.InitQP = 26 + int(r.readSE())
	p.ConstrainedIntraPred = r.readFlag()
	p.TransformSkipEnabled = r.readFlag()
	p.CuQPDeltaEnabled = r.readFlag()
	if p.CuQPDeltaEnabled {
		p.DiffCuQPDeltaDepth = int(r.readUE())
	}
	p.CbQPOffset = int(r.readSE())
	p.CrQPOffset = int(r.readSE())
	p.SliceChromaQPOffsetsPresent = r.readFlag()
	p.WeightedPred = r.readFlag()
	p.WeightedBipred = r.readFlag()
	p.TransquantBypassEnabled = r.readFlag()
	p.TilesEnabled = r.readFlag()
	p.EntropyCodingSyncEnabled = r.readFlag()
	p.NumTileColumns, p.NumTileRows = 1, 1
	if p.TilesEnabled {
		p.NumTileColumns = int(r.readUE()) + 1
		p.NumTileRows = int(r.readUE()) + 1
		if p.NumTileColumns > 20 || p.NumTileRows > 22 {
			r.stop(newDecodeErrorf("invalid tile layout %dx%d", p.NumTileColumns, p.NumTileRows))
		}
		p.UniformSpacing = r.readFlag()
		if !p.UniformSpacing {
			for range p.NumTileColumns - 1 {
				p.ColumnWidths = append(p.ColumnWidths, int(r.readUE())+1)
			}
			for range p.NumTileRows - 1 {
				p.RowHeights = append(p.RowHeights, int(r.readUE())+1)
			}
		}
		p.LoopFilterAcrossTilesEnabled = r.readFlag()
	}
	p.LoopFilterAcrossSlicesEnabled = r.readFlag()
	if r.readFlag() { // deblocking_filter_control_present_flag
		p.DeblockingOverrideEnabled = r.readFlag()
		p.DeblockingDisabled = r.readFlag()
		if !p.DeblockingDisabled {
			p.BetaOffsetDiv2 = int(r.readSE())
			p.TcOffsetDiv2 = int(r.readSE())
		}
	}
	if r.readFlag() { // pps_scaling_list_data_present_flag
		skipScalingListData(r)
	}
	p.ListsModificationPresent = r.readFlag()
	p.Log2ParallelMergeLevel = int(r.readUE()) + 2
	p.SliceHeaderExtensionPresent = r.readFlag()
	return p
}
