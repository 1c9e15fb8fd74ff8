// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package heic

import "fmt"

// nalUnitType is the nal_unit_type of an HEVC NAL unit header.
type nalUnitType uint8

const (
	nalTrailN       nalUnitType = 0
	nalRaslR        nalUnitType = 9
	nalBlaWLP       nalUnitType = 16
	nalIDRWRADL     nalUnitType = 19
	nalIDRNLP       nalUnitType = 20
	nalCRANUT       nalUnitType = 21
	nalRsvIRAPVCL23 nalUnitType = 23
	nalRsvVCL31     nalUnitType = 31
	nalVPS          nalUnitType = 32
	nalSPS          nalUnitType = 33
	nalPPS          nalUnitType = 34
	nalAUD          nalUnitType = 35
	nalEOS          nalUnitType = 36
	nalEOB          nalUnitType = 37
	nalFD           nalUnitType = 38
	nalPrefixSEI    nalUnitType = 39
	nalSuffixSEI    nalUnitType = 40
)

// isVCL reports whether t carries slice data.
func (t nalUnitType) isVCL() bool {
	return t <= nalRsvVCL31
}

// isIRAP reports whether t is an intra random access point picture.
func (t nalUnitType) isIRAP() bool {
	return t >= nalBlaWLP && t <= nalRsvIRAPVCL23
}

// isReservedVCL reports whether t is a VCL type with no defined meaning.
func (t nalUnitType) isReservedVCL() bool {
	return (t > nalRaslR && t < nalBlaWLP) || (t > nalCRANUT && t <= nalRsvVCL31)
}

func (t nalUnitType) String() string {
	switch {
	case t == nalVPS:
		return "VPS"
	case t == nalSPS:
		return "SPS"
	case t == nalPPS:
		return "PPS"
	case t == nalAUD:
		return "AUD"
	case t == nalEOS:
		return "EOS"
	case t == nalEOB:
		return "EOB"
	case t == nalFD:
		return "FD"
	case t == nalPrefixSEI:
		return "PREFIX_SEI"
	case t == nalSuffixSEI:
		return "SUFFIX_SEI"
	case t.isVCL():
		return fmt.Sprintf("VCL(%d)", uint8(t))
	default:
		return fmt.Sprintf("NAL(%d)", uint8(t))
	}
}

// nalUnit is one length-prefixed NAL unit of an item payload.
type nalUnit struct {
	typ        nalUnitType
	layerID    uint8
	temporalID uint8

	// raw holds the unit as stored, header and emulation prevention bytes included.
	raw []byte
}

// rbsp returns the payload after the two byte header with emulation
// prevention bytes removed.
func (n nalUnit) rbsp() []byte {
	r := newBytesBitReader(n.raw)
	return r.readNALPayload(int64(len(n.raw)))[2:]
}

// splitNALUnits splits data into NAL units using length prefixes of
// lengthSize bytes.
func splitNALUnits(data []byte, lengthSize int) (units []nalUnit, err error) {
	switch lengthSize {
	case 1, 2, 4:
	default:
		return nil, newDecodeErrorf("invalid NAL length size %d", lengthSize)
	}

	r := newBytesBitReader(data)
	defer func() {
		if err2 := errFromRecover(recover(), ErrDecode, r.s.streamErr); err2 != nil {
			units, err = nil, err2
		}
	}()

	for r.moreData() {
		size := int64(r.readUintN(lengthSize))
		if size < 2 {
			return nil, newDecodeErrorf("NAL unit at offset %d is %d bytes, shorter than its header", r.bytePosition()-int64(lengthSize), size)
		}
		raw := r.readBytes(int(size))
		if raw[0]&0x80 != 0 {
			return nil, newDecodeErrorf("NAL unit at offset %d has forbidden_zero_bit set", r.bytePosition()-size)
		}
		if raw[1]&0x07 == 0 {
			return nil, newDecodeErrorf("NAL unit at offset %d has nuh_temporal_id_plus1 0", r.bytePosition()-size)
		}
		units = append(units, nalUnit{
			typ:        nalUnitType(raw[0]>>1&0x3f),
			layerID:    (raw[0]&1)<<5 | raw[1]>>3,
			temporalID: (raw[1] & 0x07) - 1,
			raw:        raw,
		})
	}
	return units, nil
}
