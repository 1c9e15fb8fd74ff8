// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package heic

// seiMessage is the header of one SEI message.
type seiMessage struct {
	payloadType int
	payloadSize int
}

// readSEIValue reads an SEI payload type or size: a run of 0xFF bytes, each
// adding 255, ended by a byte below 255 which is added too.
func readSEIValue(r *bitReader) int {
	v := 0
	for {
		b := int(r.read1())
		v += b
		if b != 0xff {
			return v
		}
	}
}

// parseSEI reads the messages of an SEI NAL unit and skips payloadSize bits
// of payload after each header. The unit is read from its raw bytes with
// emulation prevention bytes removed on the fly, so the skipped bits are RBSP
// bits. Payloads are not byte aligned.
func parseSEI(n nalUnit) []seiMessage {
	r := newBytesBitReader(n.raw)
	r.beginNAL(int64(len(n.raw)))
	r.skipBits(16) // NAL unit header

	var msgs []seiMessage
	for {
		m := seiMessage{
			payloadType: readSEIValue(r),
			payloadSize: readSEIValue(r),
		}
		r.skipBits(int64(m.payloadSize))
		msgs = append(msgs, m)
		if !r.moreRBSPData() {
			break
		}
	}
	r.endNAL()
	return msgs
}
