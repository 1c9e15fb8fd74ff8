// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package heic

import (
	"errors"
	"fmt"
	"io"
	"math/bits"
)

var errExpGolombTooLong = errors.New("exp-golomb code longer than 32 bits")

// bitReader reads bit fields of 1 to 32 bits from a streamReader.
//
// Inside a region opened with beginNAL, emulation prevention bytes
// (the 0x03 in 0x00 0x00 0x03) are removed transparently.
// Outside such a region the bytes are returned unmodified.
//
// Positions are always raw byte offsets in the source, so the bit position is
// bytePosition*8 plus the number of bits consumed in the current byte.
type bitReader struct {
	s *streamReader

	next int64 // Offset of the next byte to load.
	cur  byte
	left int // Unread bits in cur.

	inNAL   bool
	nalEnd  int64
	zeros   int   // Consecutive zero bytes seen in the NAL region.
	stopBit int64 // Bit position of the rbsp_stop_one_bit, -1 if not computed.
}

func newBitReader(s *streamReader) *bitReader {
	return &bitReader{s: s, stopBit: -1}
}

func newBytesBitReader(b []byte) *bitReader {
	return newBitReader(newBytesStreamReader(b))
}

func (b *bitReader) stop(err error) {
	b.s.stop(err)
}

func (b *bitReader) size() int64 {
	return b.s.size
}

// read reads n bits, 1 <= n <= 32, as an unsigned big-endian integer.
func (b *bitReader) read(n int) uint32 {
	if n < 1 || n > 32 {
		b.stop(fmt.Errorf("invalid bit count %d", n))
	}
	var v uint32
	for n > 0 {
		if b.left == 0 {
			b.cur = b.nextByte()
			b.left = 8
		}
		take := min(n, b.left)
		shift := b.left - take
		v = v<<take | (uint32(b.cur)>>shift)&(1<<take-1)
		b.left -= take
		n -= take
	}
	return v
}

func (b *bitReader) read1() uint8 {
	return uint8(b.read(8))
}

func (b *bitReader) read2() uint16 {
	return uint16(b.read(16))
}

func (b *bitReader) read4() uint32 {
	return b.read(32)
}

func (b *bitReader) read8() uint64 {
	hi := uint64(b.read(32))
	return hi<<32 | uint64(b.read(32))
}

// readUintN reads a big-endian integer of n bytes, n in 0, 1, 2, 4 or 8.
func (b *bitReader) readUintN(n int) uint64 {
	switch n {
	case 0:
		return 0
	case 1, 2, 4:
		return uint64(b.read(n * 8))
	case 8:
		return b.read8()
	default:
		b.stop(newStructuralErrorf("unsupported field size %d", n))
		return 0
	}
}

func (b *bitReader) readFlag() bool {
	return b.read(1) == 1
}

func (b *bitReader) readFourCC() fourCC {
	var f fourCC
	for i := range f {
		f[i] = b.read1()
	}
	return f
}

func (b *bitReader) readBytes(n int) []byte {
	if n < 0 {
		b.stop(fmt.Errorf("negative length %d", n))
	}
	if !b.inNAL && b.left == 0 {
		if b.next+int64(n) > b.s.size {
			b.stop(io.ErrUnexpectedEOF)
		}
		out := make([]byte, n)
		b.s.readAt(out, b.next)
		b.next += int64(n)
		return out
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = b.read1()
	}
	return out
}

// readUE reads an unsigned Exp-Golomb code.
func (b *bitReader) readUE() uint32 {
	leadingZeros := 0
	for !b.readFlag() {
		leadingZeros++
		if leadingZeros > 31 {
			b.stop(errExpGolombTooLong)
		}
	}
	if leadingZeros == 0 {
		return 0
	}
	return (1<<leadingZeros - 1) + b.read(leadingZeros)
}

// readSE reads a signed Exp-Golomb code.
func (b *bitReader) readSE() int32 {
	k := b.readUE()
	if k&1 == 1 {
		return int32((k + 1) / 2)
	}
	return -int32(k / 2)
}

// skipBits skips n bits.
func (b *bitReader) skipBits(n int64) {
	if n < 0 {
		b.stop(fmt.Errorf("negative skip %d", n))
	}
	if int64(b.left) >= n {
		b.left -= int(n)
		return
	}
	n -= int64(b.left)
	b.left = 0
	whole := n / 8
	if b.inNAL {
		for range whole {
			b.nextByte()
		}
	} else {
		if b.next+whole > b.s.size {
			b.stop(io.ErrUnexpectedEOF)
		}
		b.next += whole
	}
	if rest := int(n % 8); rest > 0 {
		b.read(rest)
	}
}

// byteAlign discards the remaining bits of the current byte.
func (b *bitReader) byteAlign() {
	b.left = 0
}

// setBytePosition moves the cursor to the start of the byte at pos.
func (b *bitReader) setBytePosition(pos int64) {
	b.next = pos
	b.left = 0
	b.zeros = 0
}

// bytePosition returns the offset of the byte holding the next unread bit.
func (b *bitReader) bytePosition() int64 {
	if b.left > 0 {
		return b.next - 1
	}
	return b.next
}

// bitPosition returns the number of bits from the start of the source.
func (b *bitReader) bitPosition() int64 {
	return b.next*8 - int64(b.left)
}

// moreData reports whether there is anything left to read in the current
// NAL region, or in the source when outside one.
func (b *bitReader) moreData() bool {
	if b.left > 0 {
		return true
	}
	if b.inNAL {
		return b.next < b.nalEnd
	}
	return b.next < b.s.size
}

// beginNAL marks the next size raw bytes as a NAL unit body.
func (b *bitReader) beginNAL(size int64) {
	b.byteAlign()
	if size < 0 || b.next+size > b.s.size {
		b.stop(io.ErrUnexpectedEOF)
	}
	b.inNAL = true
	b.nalEnd = b.next + size
	b.zeros = 0
	b.stopBit = -1
}

// endNAL leaves the NAL region and positions the cursor after it.
func (b *bitReader) endNAL() {
	if !b.inNAL {
		return
	}
	b.next = b.nalEnd
	b.left = 0
	b.inNAL = false
	b.zeros = 0
}

// readNALPayload returns the body of the next size raw bytes with emulation
// prevention bytes removed.
func (b *bitReader) readNALPayload(size int64) []byte {
	b.beginNAL(size)
	out := make([]byte, 0, size)
	for b.next < b.nalEnd {
		if v, ok := b.nalByte(); ok {
			out = append(out, v)
		}
	}
	b.endNAL()
	return out
}

// moreRBSPData reports whether there is payload left before the
// rbsp_stop_one_bit of the current NAL region.
func (b *bitReader) moreRBSPData() bool {
	if !b.inNAL {
		return b.moreData()
	}
	if b.stopBit < 0 {
		b.stopBit = b.findStopBit()
	}
	return b.bitPosition() < b.stopBit
}

func (b *bitReader) findStopBit() int64 {
	start := b.bytePosition()
	for pos := b.nalEnd - 1; pos >= start; pos-- {
		v := b.s.byteAt(pos)
		if v == 0 {
			continue
		}
		return pos*8 + int64(7-bits.TrailingZeros8(v))
	}
	return b.bitPosition()
}

func (b *bitReader) nextByte() byte {
	for {
		if b.inNAL && b.next >= b.nalEnd {
			b.stop(io.ErrUnexpectedEOF)
		}
		if v, ok := b.nalByte(); ok {
			return v
		}
	}
}

// nalByte loads the byte at the cursor. It returns false if the byte was an
// emulation prevention byte and has been dropped.
func (b *bitReader) nalByte() (byte, bool) {
	v := b.s.byteAt(b.next)
	b.next++
	if !b.inNAL {
		return v, true
	}
	if b.zeros >= 2 && v == 0x03 && b.emulationFollows() {
		b.zeros = 0
		return 0, false
	}
	if v == 0 {
		b.zeros++
	} else {
		b.zeros = 0
	}
	return v, true
}

// emulationFollows reports whether the byte after a 0x00 0x00 0x03 sequence is
// one that the encoder had to protect (0x00 to 0x03), or the unit ends.
func (b *bitReader) emulationFollows() bool {
	if b.next >= b.nalEnd {
		return true
	}
	return b.s.byteAt(b.next) <= 0x03
}
