// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package heic

import (
	"maps"
)

// boxSource is what the generic box parser needs from the byte source.
// The NAL-aware *bitReader implements it; box constructors that need more
// assert the richer interface they depend on.
type boxSource interface {
	read(n int) uint32
	read1() uint8
	read2() uint16
	read4() uint32
	read8() uint64
	readUintN(n int) uint64
	readFlag() bool
	readFourCC() fourCC
	readBytes(n int) []byte
	bytePosition() int64
	setBytePosition(pos int64)
	skipBits(n int64)
	size() int64
	stop(err error)
}

// box is a node in the ISO-BMFF box tree.
type box interface {
	header() *boxHeader
}

// boxHeader holds the fields common to all boxes.
type boxHeader struct {
	typ        fourCC
	size       uint64 // Total size including the header.
	offset     int64  // Offset of the first header byte.
	headerSize int
	userType   [16]byte // Only set for uuid boxes.
}

func (h *boxHeader) header() *boxHeader {
	return h
}

// end returns the offset of the first byte after the box.
func (h *boxHeader) end() int64 {
	return h.offset + int64(h.size)
}

// bodyOffset returns the offset of the first byte after the header.
func (h *boxHeader) bodyOffset() int64 {
	return h.offset + int64(h.headerSize)
}

func (h *boxHeader) bodySize() int64 {
	return int64(h.size) - int64(h.headerSize)
}

// fullBox is the version and flags prefix of a full box.
type fullBox struct {
	version uint8
	flags   uint32 // 24 bits
}

func readFullBox(r boxSource) fullBox {
	vf := r.read4()
	return fullBox{version: uint8(vf >> 24), flags: vf & 0xffffff}
}

// opaqueBox is a box of a type without a registered constructor.
// Only its position and size are kept.
type opaqueBox struct {
	boxHeader
}

// containerBox is a plain box whose body is a sequence of boxes.
type containerBox struct {
	boxHeader
	children []box
}

// boxConstructor reads the body of a box. The source is positioned at the
// first byte after the header when it is called, and the parser moves it to
// the end of the box afterwards.
type boxConstructor func(p *boxParser, h boxHeader) box

// boxRegistry maps box types to constructors.
type boxRegistry struct {
	constructors map[fourCC]boxConstructor
}

func (r *boxRegistry) register(typ fourCC, c boxConstructor) {
	r.constructors[typ] = c
}

// clone returns a copy of r that can be extended without affecting r.
func (r *boxRegistry) clone() *boxRegistry {
	return &boxRegistry{constructors: maps.Clone(r.constructors)}
}

func (r *boxRegistry) lookup(typ fourCC) (boxConstructor, bool) {
	c, ok := r.constructors[typ]
	return c, ok
}

const boxHeaderSize = 8

// boxParser reads a box tree from a boxSource.
// Read errors panic with errStop; callers recover at the API boundary.
type boxParser struct {
	r          boxSource
	registry   *boxRegistry
	depth      int
	limitDepth int
	warnf      func(string, ...any)
}

func newBoxParser(r boxSource, registry *boxRegistry, limitDepth int, warnf func(string, ...any)) *boxParser {
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	return &boxParser{
		r:          r,
		registry:   registry,
		limitDepth: limitDepth,
		warnf:      warnf,
	}
}

// fail stops parsing with a structural error.
func (p *boxParser) fail(format string, args ...any) {
	p.r.stop(newStructuralErrorf(format, args...))
}

// parseBox reads the box at the current position. end is the end of the
// enclosing range: the parent body, or the source size at the top level.
func (p *boxParser) parseBox(end int64) box {
	start := p.r.bytePosition()
	if end-start < boxHeaderSize {
		p.fail("truncated box header at offset %d", start)
	}

	h := boxHeader{
		offset:     start,
		headerSize: boxHeaderSize,
	}
	size := uint64(p.r.read4())
	h.typ = p.r.readFourCC()

	switch size {
	case 1:
		// 64-bit size after the type.
		if end-start < boxHeaderSize+8 {
			p.fail("truncated extended size of box %q", h.typ)
		}
		size = p.r.read8()
		h.headerSize += 8
	case 0:
		// Extends to the end of the enclosing range.
		size = uint64(end - start)
	}

	if h.typ == fccUUID {
		if end-p.r.bytePosition() < 16 {
			p.fail("truncated extended type of uuid box")
		}
		copy(h.userType[:], p.r.readBytes(16))
		h.headerSize += 16
	}

	if size < uint64(h.headerSize) {
		p.fail("box %q at offset %d has size %d, smaller than its %d byte header", h.typ, start, size, h.headerSize)
	}
	if size > uint64(end-start) {
		p.fail("box %q at offset %d has size %d, extending past the end of its range at %d", h.typ, start, size, end)
	}
	h.size = size

	var b box
	if c, ok := p.registry.lookup(h.typ); ok {
		b = c(p, h)
	} else {
		b = &opaqueBox{boxHeader: h}
	}

	if pos := p.r.bytePosition(); pos > h.end() {
		p.fail("box %q at offset %d is %d bytes, too short for its fields", h.typ, start, h.size)
	}
	p.r.setBytePosition(h.end())

	return b
}

// parseChildren reads boxes from the current position to the end of h.
func (p *boxParser) parseChildren(h boxHeader) []box {
	p.depth++
	defer func() { p.depth-- }()
	if p.limitDepth > 0 && p.depth > p.limitDepth {
		p.fail("box %q nested deeper than %d levels", h.typ, p.limitDepth)
	}

	var children []box
	end := h.end()
	for {
		pos := p.r.bytePosition()
		if pos >= end {
			break
		}
		if end-pos < boxHeaderSize {
			p.warnf("heic: ignoring %d trailing bytes in box %q", end-pos, h.typ)
			break
		}
		children = append(children, p.parseBox(end))
	}
	return children
}

// remaining returns the number of body bytes left in h.
func (p *boxParser) remaining(h boxHeader) int64 {
	return h.end() - p.r.bytePosition()
}

// readString reads a null-terminated string that must end before the end of h.
// A string running to the end of the box without a terminator is accepted.
func (p *boxParser) readString(h boxHeader) string {
	var b []byte
	for p.remaining(h) > 0 {
		c := p.r.read1()
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	return decodeString(b)
}

func newContainerBox(p *boxParser, h boxHeader) box {
	return &containerBox{boxHeader: h, children: p.parseChildren(h)}
}

// findBox returns the first box in boxes with the concrete type T.
func findBox[T box](boxes []box) (T, bool) {
	var zero T
	for _, b := range boxes {
		if v, ok := b.(T); ok {
			return v, true
		}
	}
	return zero, false
}
