package heic

import (
	"bytes"
	"encoding/binary"
)

// This file builds small HEIF files in memory for the tests.

func be16(v int) []byte {
	return binary.BigEndian.AppendUint16(nil, uint16(v))
}

func be32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

func cat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func mkBox(typ string, body ...[]byte) []byte {
	b := cat(body...)
	return cat(be32(uint32(8+len(b))), []byte(typ), b)
}

func mkFullBox(typ string, version uint8, flags uint32, body ...[]byte) []byte {
	return mkBox(typ, append([]byte{version}, be32(flags)[1:]...), cat(body...))
}

func ispeProp(w, h uint32) []byte {
	return mkFullBox("ispe", 0, 0, be32(w), be32(h))
}

func nclxProp(matrix int, fullRange bool) []byte {
	var fr byte
	if fullRange {
		fr = 0x80
	}
	return mkBox("colr", []byte("nclx"), be16(1), be16(13), be16(matrix), []byte{fr})
}

func auxCProp(urn string) []byte {
	return mkFullBox("auxC", 0, 0, []byte(urn), []byte{0})
}

func irotProp(angle byte) []byte {
	return mkBox("irot", []byte{angle})
}

func imirProp(axis byte) []byte {
	return mkBox("imir", []byte{axis})
}

func paspProp(h, v uint32) []byte {
	return mkBox("pasp", be32(h), be32(v))
}

func clliProp(maxCLL, maxPALL int) []byte {
	return mkBox("clli", be16(maxCLL), be16(maxPALL))
}

func pixiProp(bits ...byte) []byte {
	return mkFullBox("pixi", 0, 0, []byte{byte(len(bits))}, bits)
}

func gridData(rows, columns, width, height int) []byte {
	return cat([]byte{0, 0, byte(rows - 1), byte(columns - 1)}, be16(width), be16(height))
}

// bitWriter writes the bit fields of parameter sets and slice headers.
type bitWriter struct {
	buf  []byte
	used int // Bits used in the last byte.
}

func (w *bitWriter) u(n int, v uint32) {
	for i := n - 1; i >= 0; i-- {
		if w.used == 0 {
			w.buf = append(w.buf, 0)
		}
		if v>>i&1 == 1 {
			w.buf[len(w.buf)-1] |= 0x80 >> w.used
		}
		w.used = (w.used + 1) % 8
	}
}

func (w *bitWriter) flag(b bool) {
	if b {
		w.u(1, 1)
	} else {
		w.u(1, 0)
	}
}

func (w *bitWriter) ue(v uint32) {
	v++
	n := 0
	for t := v; t > 1; t >>= 1 {
		n++
	}
	w.u(n, 0)
	w.u(n+1, v)
}

func (w *bitWriter) se(v int32) {
	if v > 0 {
		w.ue(uint32(2*v - 1))
	} else {
		w.ue(uint32(-2 * v))
	}
}

// trailing writes rbsp_trailing_bits.
func (w *bitWriter) trailing() {
	w.u(1, 1)
	for w.used != 0 {
		w.u(1, 0)
	}
}

func (w *bitWriter) bytes() []byte {
	return w.buf
}

// escapeRBSP inserts emulation prevention bytes.
func escapeRBSP(rbsp []byte) []byte {
	var out []byte
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// nalBytes returns a NAL unit with its two byte header for layer 0.
func nalBytes(typ nalUnitType, rbsp []byte) []byte {
	return cat([]byte{byte(typ) << 1, 1}, escapeRBSP(rbsp))
}

// testSPS describes a single layer intra SPS with 8x8 minimum coding blocks
// and 16x16 coding tree blocks.
type testSPS struct {
	width, height int
	chromaFormat  uint32
	confWinRight  uint32
	bitDepth      int
}

func (s testSPS) rbsp() []byte {
	if s.bitDepth == 0 {
		s.bitDepth = 8
	}
	w := &bitWriter{}
	w.u(4, 0)           // sps_video_parameter_set_id
	w.u(3, 0)           // sps_max_sub_layers_minus1
	w.u(1, 1)           // sps_temporal_id_nesting_flag
	w.u(8, 1)           // profile space, tier, profile idc
	w.u(32, 0x60000000) // compatibility flags
	w.u(32, 0)          // constraint flags
	w.u(16, 0)
	w.u(8, 60) // general_level_idc
	w.ue(0)    // sps_seq_parameter_set_id
	w.ue(s.chromaFormat)
	w.ue(uint32(s.width))
	w.ue(uint32(s.height))
	w.flag(s.confWinRight > 0) // conformance_window_flag
	if s.confWinRight > 0 {
		w.ue(0)
		w.ue(s.confWinRight)
		w.ue(0)
		w.ue(0)
	}
	w.ue(uint32(s.bitDepth - 8)) // bit_depth_luma_minus8
	w.ue(uint32(s.bitDepth - 8)) // bit_depth_chroma_minus8
	w.ue(4)                      // log2_max_pic_order_cnt_lsb_minus4
	w.u(1, 1)                    // sps_sub_layer_ordering_info_present_flag
	w.ue(0)
	w.ue(0)
	w.ue(0)
	w.ue(0)   // log2_min_luma_coding_block_size_minus3
	w.ue(1)   // log2_diff_max_min_luma_coding_block_size
	w.ue(0)   // log2_min_luma_transform_block_size_minus2
	w.ue(2)   // log2_diff_max_min_luma_transform_block_size
	w.ue(0)   // max_transform_hierarchy_depth_inter
	w.ue(0)   // max_transform_hierarchy_depth_intra
	w.u(1, 0) // scaling_list_enabled_flag
	w.u(1, 0) // amp_enabled_flag
	w.u(1, 0) // sample_adaptive_offset_enabled_flag
	w.u(1, 0) // pcm_enabled_flag
	w.ue(0)   // num_short_term_ref_pic_sets
	w.u(1, 0) // long_term_ref_pics_present_flag
	w.u(1, 0) // sps_temporal_mvp_enabled_flag
	w.u(1, 0) // strong_intra_smoothing_enabled_flag
	w.u(1, 0) // vui_parameters_present_flag
	w.u(1, 0) // sps_extension_present_flag
	w.trailing()
	return w.bytes()
}

func testPPSRBSP() []byte {
	w := &bitWriter{}
	w.ue(0)   // pps_pic_parameter_set_id
	w.ue(0)   // pps_seq_parameter_set_id
	w.u(1, 0) // dependent_slice_segments_enabled_flag
	w.u(1, 0) // output_flag_present_flag
	w.u(3, 0) // num_extra_slice_header_bits
	w.u(1, 0) // sign_data_hiding_enabled_flag
	w.u(1, 0) // cabac_init_present_flag
	w.ue(0)   // num_ref_idx_l0_default_active_minus1
	w.ue(0)   // num_ref_idx_l1_default_active_minus1
	w.se(0)   // init_qp_minus26
	w.u(1, 0) // constrained_intra_pred_flag
	w.u(1, 0) // transform_skip_enabled_flag
	w.u(1, 0) // cu_qp_delta_enabled_flag
	w.se(0)   // pps_cb_qp_offset
	w.se(0)   // pps_cr_qp_offset
	w.u(1, 0) // pps_slice_chroma_qp_offsets_present_flag
	w.u(1, 0) // weighted_pred_flag
	w.u(1, 0) // weighted_bipred_flag
	w.u(1, 0) // transquant_bypass_enabled_flag
	w.u(1, 0) // tiles_enabled_flag
	w.u(1, 0) // entropy_coding_sync_enabled_flag
	w.u(1, 1) // pps_loop_filter_across_slices_enabled_flag
	w.u(1, 0) // deblocking_filter_control_present_flag
	w.u(1, 0) // pps_scaling_list_data_present_flag
	w.u(1, 0) // lists_modification_present_flag
	w.ue(0)   // log2_parallel_merge_level_minus2
	w.u(1, 0) // slice_segment_header_extension_present_flag
	w.u(1, 0) // pps_extension_present_flag
	w.trailing()
	return w.bytes()
}

// testSliceRBSP returns an IDR slice segment of the given type whose header
// is followed by a marker byte read by flatSliceDecoder.
func testSliceRBSP(sliceType SliceType, marker uint8) []byte {
	w := &bitWriter{}
	w.u(1, 1) // first_slice_segment_in_pic_flag
	w.u(1, 0) // no_output_of_prior_pics_flag
	w.ue(0)   // slice_pic_parameter_set_id
	w.ue(uint32(sliceType))
	w.u(8, uint32(marker))
	w.trailing()
	return w.bytes()
}

// hvcCProp returns an hvcC box holding sps and pps with 4 byte NAL lengths.
func hvcCProp(chromaFormat uint8, sps, pps []byte) []byte {
	array := func(typ nalUnitType, rbsp []byte) []byte {
		nal := nalBytes(typ, rbsp)
		return cat([]byte{0x80 | byte(typ)}, be16(1), be16(len(nal)), nal)
	}
	return mkBox("hvcC",
		[]byte{1, 0x01},
		be32(0x60000000),
		make([]byte, 6),
		[]byte{60},
		be16(0xf000),
		[]byte{0xfc, 0xfc | chromaFormat, 0xf8, 0xf8},
		be16(0),
		[]byte{0x0f},
		[]byte{2},
		array(nalSPS, sps),
		array(nalPPS, pps),
	)
}

// lengthPrefixed joins NAL units with 4 byte length prefixes.
func lengthPrefixed(units ...[]byte) []byte {
	var out []byte
	for _, u := range units {
		out = append(out, be32(uint32(len(u)))...)
		out = append(out, u...)
	}
	return out
}

// codedItem returns the payload and properties of a 16x16 hvc1 item that
// decodes to a flat picture with luma marker.
func codedItem(id uint32, marker uint8, extraProps ...[]byte) testItem {
	sps := testSPS{width: 16, height: 16, chromaFormat: 1}.rbsp()
	return testItem{
		id:   id,
		typ:  "hvc1",
		data: lengthPrefixed(nalBytes(nalIDRNLP, testSliceRBSP(SliceTypeI, marker))),
		props: append([][]byte{
			hvcCProp(1, sps, testPPSRBSP()),
			ispeProp(16, 16),
		}, extraProps...),
	}
}

type testItem struct {
	id          uint32
	typ         string
	name        string
	contentType string
	hidden      bool
	data        []byte
	idat        bool // Store data in idat instead of mdat.
	props       [][]byte
}

type testRef struct {
	typ  string
	from uint32
	to   []uint32
}

// testFile describes a HEIF file.
type testFile struct {
	brands  []string // The major brand first.
	primary uint32
	items   []testItem
	refs    []testRef
	altr    [][]uint32

	// omit names a mandatory meta child to leave out.
	omit string
}

func (f testFile) bytes() []byte {
	brands := f.brands
	if brands == nil {
		brands = []string{"heic", "mif1"}
	}
	var compatible []byte
	for _, b := range brands[1:] {
		compatible = append(compatible, b...)
	}
	ftyp := mkBox("ftyp", []byte(brands[0]), be32(0), compatible)

	// The meta box size does not depend on the offsets, so build it once to
	// find where mdat starts.
	meta := f.meta(0)
	mdatStart := uint32(len(ftyp) + len(meta) + 8)
	meta = f.meta(mdatStart)

	var mdat []byte
	for _, it := range f.items {
		if !it.idat {
			mdat = append(mdat, it.data...)
		}
	}
	return cat(ftyp, meta, mkBox("mdat", mdat))
}

func (f testFile) meta(mdatStart uint32) []byte {
	var children [][]byte
	add := func(typ string, b []byte) {
		if f.omit != typ {
			children = append(children, b)
		}
	}

	add("hdlr", mkFullBox("hdlr", 0, 0, be32(0), []byte("pict"), make([]byte, 12), []byte("test\x00")))
	add("pitm", mkFullBox("pitm", 0, 0, be16(int(f.primary))))

	var infes []byte
	for _, it := range f.items {
		var flags uint32
		if it.hidden {
			flags = 1
		}
		body := cat(be16(int(it.id)), be16(0), []byte(it.typ), []byte(it.name), []byte{0})
		if it.typ == "mime" {
			body = cat(body, []byte(it.contentType), []byte{0})
		}
		infes = append(infes, mkFullBox("infe", 2, flags, body)...)
	}
	add("iinf", mkFullBox("iinf", 0, 0, be16(len(f.items)), infes))

	var (
		locs             []byte
		numLocs          int
		mdatOff, idatOff uint32
		idat             []byte
	)
	for _, it := range f.items {
		if it.data == nil {
			continue
		}
		numLocs++
		method, offset := 0, mdatStart+mdatOff
		if it.idat {
			method, offset = 1, idatOff
			idat = append(idat, it.data...)
			idatOff += uint32(len(it.data))
		} else {
			mdatOff += uint32(len(it.data))
		}
		locs = append(locs, cat(be16(int(it.id)), be16(method), be16(0), be16(1), be32(offset), be32(uint32(len(it.data))))...)
	}
	add("iloc", mkFullBox("iloc", 1, 0, []byte{0x44, 0x00}, be16(numLocs), locs))

	if len(f.refs) > 0 {
		var refs []byte
		for _, r := range f.refs {
			body := cat(be16(int(r.from)), be16(len(r.to)))
			for _, to := range r.to {
				body = cat(body, be16(int(to)))
			}
			refs = append(refs, mkBox(r.typ, body)...)
		}
		add("iref", mkFullBox("iref", 0, 0, refs))
	}

	var (
		ipco    []byte
		ipma    []byte
		nextIdx = 1
		numIPMA int
	)
	for _, it := range f.items {
		if len(it.props) == 0 {
			continue
		}
		numIPMA++
		ipma = append(ipma, cat(be16(int(it.id)), []byte{byte(len(it.props))})...)
		for _, p := range it.props {
			ipco = append(ipco, p...)
			ipma = append(ipma, byte(nextIdx))
			nextIdx++
		}
	}
	add("iprp", mkBox("iprp", mkBox("ipco", ipco), mkFullBox("ipma", 0, 0, be32(uint32(numIPMA)), ipma)))

	if len(f.altr) > 0 {
		var groups []byte
		for i, g := range f.altr {
			body := cat(be32(uint32(100+i)), be32(uint32(len(g))))
			for _, id := range g {
				body = cat(body, be32(id))
			}
			groups = append(groups, mkFullBox("altr", 0, 0, body)...)
		}
		add("grpl", mkBox("grpl", groups))
	}

	if idat != nil {
		add("idat", mkBox("idat", idat))
	}

	return mkFullBox("meta", 0, 0, children...)
}

// flatSliceDecoder stands in for the entropy decoder. It covers the picture
// with 2Nx2N DC predicted coding units of the minimum size in raster order.
// The first carries a luma residual that lifts the prediction to the marker
// byte following the slice header; the others predict from it, so the whole
// picture ends up with luma marker and mid-range chroma.
type flatSliceDecoder struct {
	segments []*SliceSegment
	cus      int
}

func (d *flatSliceDecoder) DecodeSlice(seg *SliceSegment, emit func(CodingUnit) error) error {
	d.segments = append(d.segments, seg)
	r := newBytesBitReader(seg.Data)
	r.skipBits(int64(seg.HeaderBits))
	marker := int32(r.read(8))

	sps := seg.SPS
	log2 := sps.Log2MinCodingBlockSize
	size := 1 << log2
	mid := int32(1) << (sps.BitDepthLuma - 1)
	first := true
	for y := 0; y < int(sps.PicHeightInLumaSamples); y += size {
		for x := 0; x < int(sps.PicWidthInLumaSamples); x += size {
			cu := CodingUnit{
				X:          x,
				Y:          y,
				Log2Size:   log2,
				PartMode:   PartMode2Nx2N,
				LumaModes:  [4]uint8{intraDC},
				ChromaMode: intraDC,
			}
			if first {
				first = false
				cu.Residual = func(c, _, _, log2Size int) []int32 {
					if c != 0 {
						return nil
					}
					res := make([]int32, 1<<(2*log2Size))
					for i := range res {
						res[i] = marker - mid
					}
					return res
				}
			}
			d.cus++
			if err := emit(cu); err != nil {
				return err
			}
		}
	}
	return nil
}
