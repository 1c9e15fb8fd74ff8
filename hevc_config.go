// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package heic

// heifBoxes is the box registry used to parse HEIF files.
// It extends defaultBoxes with the HEVC configuration box, which needs the
// NAL aware reader to unescape its parameter sets.
var heifBoxes *boxRegistry

func init() {
	heifBoxes = defaultBoxes.clone()
	heifBoxes.register(fccHvcC, newHEVCConfigBox)
}

// parameterSet is a VPS, SPS or PPS stored in a decoder configuration record.
type parameterSet struct {
	nalType nalUnitType
	rbsp    []byte // Without the two byte NAL header.
}

type hevcParameterSetArray struct {
	completeness bool
	nalType      nalUnitType
	units        []parameterSet
}

// hevcDecoderConfig is the HEVCDecoderConfigurationRecord.
type hevcDecoderConfig struct {
	configurationVersion             uint8
	generalProfileSpace              uint8
	generalTierFlag                  bool
	generalProfileIDC                uint8
	generalProfileCompatibilityFlags uint32
	generalConstraintIndicatorFlags  uint64 // 48 bits
	generalLevelIDC                  uint8
	minSpatialSegmentationIDC        uint16
	parallelismType                  uint8
	chromaFormatIDC                  uint8
	bitDepthLumaMinus8               uint8
	bitDepthChromaMinus8             uint8
	avgFrameRate                     uint16
	constantFrameRate                uint8
	numTemporalLayers                uint8
	temporalIDNested                 bool
	lengthSizeMinusOne               uint8

	arrays []hevcParameterSetArray
}

// lengthSize returns the size in bytes of the NAL unit length prefix.
func (c *hevcDecoderConfig) lengthSize() int {
	return int(c.lengthSizeMinusOne) + 1
}

// parameterSets returns the parameter sets in declaration order.
func (c *hevcDecoderConfig) parameterSets() []parameterSet {
	var sets []parameterSet
	for _, a := range c.arrays {
		sets = append(sets, a.units...)
	}
	return sets
}

type hevcConfigBox struct {
	boxHeader
	config hevcDecoderConfig
}

func newHEVCConfigBox(p *boxParser, h boxHeader) box {
	r, ok := p.r.(*bitReader)
	if !ok {
		p.fail("hvcC box needs a NAL aware reader, got %T", p.r)
	}

	b := &hevcConfigBox{boxHeader: h}
	c := &b.config
	c.configurationVersion = r.read1()
	c.generalProfileSpace = uint8(r.read(2))
	c.generalTierFlag = r.readFlag()
	c.generalProfileIDC = uint8(r.read(5))
	c.generalProfileCompatibilityFlags = r.read4()
	c.generalConstraintIndicatorFlags = uint64(r.read(16))<<32 | uint64(r.read4())
	c.generalLevelIDC = r.read1()
	r.skipBits(4)
	c.minSpatialSegmentationIDC = uint16(r.read(12))
	r.skipBits(6)
	c.parallelismType = uint8(r.read(2))
	r.skipBits(6)
	c.chromaFormatIDC = uint8(r.read(2))
	r.skipBits(5)
	c.bitDepthLumaMinus8 = uint8(r.read(3))
	r.skipBits(5)
	c.bitDepthChromaMinus8 = uint8(r.read(3))
	c.avgFrameRate = r.read2()
	c.constantFrameRate = uint8(r.read(2))
	c.numTemporalLayers = uint8(r.read(3))
	c.temporalIDNested = r.readFlag()
	c.lengthSizeMinusOne = uint8(r.read(2))
	if c.lengthSizeMinusOne == 2 {
		p.fail("hvcC declares an invalid NAL length size of 3")
	}

	numArrays := r.read1()
	for range numArrays {
		var a hevcParameterSetArray
		a.completeness = r.readFlag()
		r.skipBits(1)
		a.nalType = nalUnitType(r.read(6))
		numNalus := r.read2()
		for range numNalus {
			size := int64(r.read2())
			if size < 2 || r.bytePosition()+size > h.end() {
				p.fail("hvcC parameter set of %d bytes does not fit in the box", size)
			}
			rbsp := r.readNALPayload(size)
			a.units = append(a.units, parameterSet{nalType: a.nalType, rbsp: rbsp[2:]})
		}
		c.arrays = append(c.arrays, a)
	}
	return b
}
