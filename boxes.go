// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package heic

// ISOBMFF box and item types used in HEIF containers.
var (
	fccFtyp = fourCC{'f', 't', 'y', 'p'}
	fccMeta = fourCC{'m', 'e', 't', 'a'}
	fccHdlr = fourCC{'h', 'd', 'l', 'r'}
	fccPitm = fourCC{'p', 'i', 't', 'm'}
	fccIloc = fourCC{'i', 'l', 'o', 'c'}
	fccIinf = fourCC{'i', 'i', 'n', 'f'}
	fccInfe = fourCC{'i', 'n', 'f', 'e'}
	fccIref = fourCC{'i', 'r', 'e', 'f'}
	fccIprp = fourCC{'i', 'p', 'r', 'p'}
	fccIpco = fourCC{'i', 'p', 'c', 'o'}
	fccIpma = fourCC{'i', 'p', 'm', 'a'}
	fccIspe = fourCC{'i', 's', 'p', 'e'}
	fccIrot = fourCC{'i', 'r', 'o', 't'}
	fccImir = fourCC{'i', 'm', 'i', 'r'}
	fccPasp = fourCC{'p', 'a', 's', 'p'}
	fccClli = fourCC{'c', 'l', 'l', 'i'}
	fccColr = fourCC{'c', 'o', 'l', 'r'}
	fccPixi = fourCC{'p', 'i', 'x', 'i'}
	fccAuxC = fourCC{'a', 'u', 'x', 'C'}
	fccIdat = fourCC{'i', 'd', 'a', 't'}
	fccGrpl = fourCC{'g', 'r', 'p', 'l'}
	fccAltr = fourCC{'a', 'l', 't', 'r'}
	fccDinf = fourCC{'d', 'i', 'n', 'f'}
	fccDref = fourCC{'d', 'r', 'e', 'f'}
	fccHvcC = fourCC{'h', 'v', 'c', 'C'}
	fccUUID = fourCC{'u', 'u', 'i', 'd'}

	// Colour types.
	fccNclx = fourCC{'n', 'c', 'l', 'x'}
	fccRICC = fourCC{'r', 'I', 'C', 'C'}
	fccProf = fourCC{'p', 'r', 'o', 'f'}

	// Brands.
	fccHeic = fourCC{'h', 'e', 'i', 'c'}
)

// defaultBoxes holds the constructors of the generic ISO-BMFF and HEIF boxes.
// It knows nothing about codec configuration boxes; see heifBoxes.
var defaultBoxes = &boxRegistry{constructors: map[fourCC]boxConstructor{
	fccFtyp: newFileTypeBox,
	fccMeta: newMetaBox,
	fccHdlr: newHandlerBox,
	fccPitm: newPrimaryItemBox,
	fccIloc: newItemLocationBox,
	fccIinf: newItemInfoBox,
	fccInfe: newItemInfoEntry,
	fccIref: newItemReferenceBox,
	fccIprp: newContainerBox,
	fccIpco: newContainerBox,
	fccIpma: newItemPropertyAssociationBox,
	fccIspe: newImageSpatialExtentsBox,
	fccIrot: newImageRotationBox,
	fccImir: newImageMirrorBox,
	fccPasp: newPixelAspectRatioBox,
	fccClli: newContentLightLevelBox,
	fccColr: newColourInformationBox,
	fccPixi: newPixelInformationBox,
	fccAuxC: newAuxiliaryTypeBox,
	fccIdat: newItemDataBox,
	fccGrpl: newContainerBox,
	fccAltr: newEntityToGroupBox,
	fccDinf: newContainerBox,
	fccDref: newDataReferenceBox,
}}

type fileTypeBox struct {
	boxHeader
	majorBrand       fourCC
	minorVersion     uint32
	compatibleBrands []fourCC
}

// hasBrand reports whether brand is the major or a compatible brand.
func (b *fileTypeBox) hasBrand(brand fourCC) bool {
	if b.majorBrand == brand {
		return true
	}
	for _, c := range b.compatibleBrands {
		if c == brand {
			return true
		}
	}
	return false
}

func newFileTypeBox(p *boxParser, h boxHeader) box {
	b := &fileTypeBox{boxHeader: h}
	b.majorBrand = p.r.readFourCC()
	b.minorVersion = p.r.read4()
	for p.remaining(h) >= 4 {
		b.compatibleBrands = append(b.compatibleBrands, p.r.readFourCC())
	}
	return b
}

type metaBox struct {
	boxHeader
	fullBox
	children []box
}

func newMetaBox(p *boxParser, h boxHeader) box {
	b := &metaBox{boxHeader: h, fullBox: readFullBox(p.r)}
	b.children = p.parseChildren(h)
	return b
}

type handlerBox struct {
	boxHeader
	fullBox
	handlerType fourCC // "pict" for images.
	name        string
}

func newHandlerBox(p *boxParser, h boxHeader) box {
	b := &handlerBox{boxHeader: h, fullBox: readFullBox(p.r)}
	p.r.read4() // pre_defined
	b.handlerType = p.r.readFourCC()
	p.r.skipBits(3 * 32) // reserved
	b.name = p.readString(h)
	return b
}

type primaryItemBox struct {
	boxHeader
	fullBox
	itemID uint32
}

func newPrimaryItemBox(p *boxParser, h boxHeader) box {
	b := &primaryItemBox{boxHeader: h, fullBox: readFullBox(p.r)}
	if b.version == 0 {
		b.itemID = uint32(p.r.read2())
	} else {
		b.itemID = p.r.read4()
	}
	return b
}

// itemExtent is one (offset, length) run of an item's payload.
type itemExtent struct {
	index  uint64
	offset uint64
	length uint64
}

// itemLocation describes where the payload of one item lives.
type itemLocation struct {
	itemID             uint32
	constructionMethod uint8
	dataReferenceIndex uint16
	baseOffset         uint64
	extents            []itemExtent
}

// totalLength returns the sum of the extent lengths.
func (l itemLocation) totalLength() uint64 {
	var n uint64
	for _, e := range l.extents {
		n += e.length
	}
	return n
}

type itemLocationBox struct {
	boxHeader
	fullBox
	items []itemLocation
}

func newItemLocationBox(p *boxParser, h boxHeader) box {
	b := &itemLocationBox{boxHeader: h, fullBox: readFullBox(p.r)}
	if b.version > 2 {
		p.fail("unsupported iloc version %d", b.version)
	}

	b1 := p.r.read1()
	offsetSize := int(b1 >> 4)
	lengthSize := int(b1 & 0x0f)
	b2 := p.r.read1()
	baseOffsetSize := int(b2 >> 4)
	var indexSize int
	if b.version >= 1 {
		indexSize = int(b2 & 0x0f)
	}

	var count uint32
	if b.version < 2 {
		count = uint32(p.r.read2())
	} else {
		count = p.r.read4()
	}

	for range count {
		var loc itemLocation
		if b.version < 2 {
			loc.itemID = uint32(p.r.read2())
		} else {
			loc.itemID = p.r.read4()
		}
		if b.version >= 1 {
			loc.constructionMethod = uint8(p.r.read2() & 0x0f)
		}
		loc.dataReferenceIndex = p.r.read2()
		loc.baseOffset = p.r.readUintN(baseOffsetSize)

		extentCount := p.r.read2()
		for range extentCount {
			var e itemExtent
			if indexSize > 0 {
				e.index = p.r.readUintN(indexSize)
			}
			e.offset = p.r.readUintN(offsetSize)
			e.length = p.r.readUintN(lengthSize)
			loc.extents = append(loc.extents, e)
		}
		b.items = append(b.items, loc)
	}
	return b
}

type itemInfoBox struct {
	boxHeader
	fullBox
	entries []*itemInfoEntry
}

func newItemInfoBox(p *boxParser, h boxHeader) box {
	b := &itemInfoBox{boxHeader: h, fullBox: readFullBox(p.r)}
	if b.version == 0 {
		p.r.read2()
	} else {
		p.r.read4()
	}
	for _, c := range p.parseChildren(h) {
		if e, ok := c.(*itemInfoEntry); ok {
			b.entries = append(b.entries, e)
		}
	}
	return b
}

type itemInfoEntry struct {
	boxHeader
	fullBox
	itemID          uint32
	protectionIndex uint16
	itemType        fourCC
	name            string

	// Set for mime items.
	contentType     string
	contentEncoding string

	// Set for uri items.
	uriType string
}

// hidden reports whether the item is marked as not intended to be displayed.
func (e *itemInfoEntry) hidden() bool {
	return e.flags&1 != 0
}

var (
	itemTypeMime = fourCC{'m', 'i', 'm', 'e'}
	itemTypeURI  = fourCC{'u', 'r', 'i', ' '}
)

func newItemInfoEntry(p *boxParser, h boxHeader) box {
	e := &itemInfoEntry{boxHeader: h, fullBox: readFullBox(p.r)}
	switch e.version {
	case 0, 1:
		e.itemID = uint32(p.r.read2())
		e.protectionIndex = p.r.read2()
		e.name = p.readString(h)
		e.contentType = p.readString(h)
		e.contentEncoding = p.readString(h)
		// Version 1 extensions are ignored.
	case 2, 3:
		if e.version == 2 {
			e.itemID = uint32(p.r.read2())
		} else {
			e.itemID = p.r.read4()
		}
		e.protectionIndex = p.r.read2()
		e.itemType = p.r.readFourCC()
		e.name = p.readString(h)
		switch e.itemType {
		case itemTypeMime:
			e.contentType = p.readString(h)
			if p.remaining(h) > 0 {
				e.contentEncoding = p.readString(h)
			}
		case itemTypeURI:
			e.uriType = p.readString(h)
		}
	default:
		p.warnf("heic: infe version %d not supported, skipping", e.version)
	}
	return e
}

// itemReference is one typed reference from an item to other items.
type itemReference struct {
	referenceType fourCC
	fromItemID    uint32
	toItemIDs     []uint32
}

type itemReferenceBox struct {
	boxHeader
	fullBox
	references []itemReference
}

func newItemReferenceBox(p *boxParser, h boxHeader) box {
	b := &itemReferenceBox{boxHeader: h, fullBox: readFullBox(p.r)}
	readID := func() uint32 {
		if b.version == 0 {
			return uint32(p.r.read2())
		}
		return p.r.read4()
	}
	// The children are SingleItemTypeReferenceBoxes whose box type is the
	// reference type; their layout depends on the iref version, so they are
	// read here rather than through the registry.
	for p.remaining(h) >= boxHeaderSize {
		start := p.r.bytePosition()
		size := int64(p.r.read4())
		refType := p.r.readFourCC()
		if size < boxHeaderSize || start+size > h.end() {
			p.fail("iref child %q at offset %d has invalid size %d", refType, start, size)
		}
		ref := itemReference{referenceType: refType, fromItemID: readID()}
		count := p.r.read2()
		for range count {
			ref.toItemIDs = append(ref.toItemIDs, readID())
		}
		if p.r.bytePosition() > start+size {
			p.fail("iref child %q at offset %d is too short for %d references", refType, start, count)
		}
		p.r.setBytePosition(start + size)
		b.references = append(b.references, ref)
	}
	return b
}

// propertyAssociation links an item to a 1-based index in ipco.
type propertyAssociation struct {
	essential bool
	index     uint16
}

type itemPropertyAssociationEntry struct {
	itemID       uint32
	associations []propertyAssociation
}

type itemPropertyAssociationBox struct {
	boxHeader
	fullBox
	entries []itemPropertyAssociationEntry
}

func newItemPropertyAssociationBox(p *boxParser, h boxHeader) box {
	b := &itemPropertyAssociationBox{boxHeader: h, fullBox: readFullBox(p.r)}
	count := p.r.read4()
	for range count {
		var e itemPropertyAssociationEntry
		if b.version < 1 {
			e.itemID = uint32(p.r.read2())
		} else {
			e.itemID = p.r.read4()
		}
		n := p.r.read1()
		for range n {
			var a propertyAssociation
			if b.flags&1 != 0 {
				v := p.r.read2()
				a.essential = v&0x8000 != 0
				a.index = v & 0x7fff
			} else {
				v := p.r.read1()
				a.essential = v&0x80 != 0
				a.index = uint16(v & 0x7f)
			}
			e.associations = append(e.associations, a)
		}
		b.entries = append(b.entries, e)
	}
	return b
}

type imageSpatialExtentsBox struct {
	boxHeader
	fullBox
	width  uint32
	height uint32
}

func newImageSpatialExtentsBox(p *boxParser, h boxHeader) box {
	b := &imageSpatialExtentsBox{boxHeader: h, fullBox: readFullBox(p.r)}
	b.width = p.r.read4()
	b.height = p.r.read4()
	return b
}

type imageRotationBox struct {
	boxHeader
	angle uint8 // Anti-clockwise, in units of 90 degrees.
}

func newImageRotationBox(p *boxParser, h boxHeader) box {
	b := &imageRotationBox{boxHeader: h}
	p.r.skipBits(6)
	b.angle = uint8(p.r.read(2))
	return b
}

type imageMirrorBox struct {
	boxHeader
	axis uint8 // 0 is the vertical axis, 1 the horizontal axis.
}

func newImageMirrorBox(p *boxParser, h boxHeader) box {
	b := &imageMirrorBox{boxHeader: h}
	p.r.skipBits(7)
	b.axis = uint8(p.r.read(1))
	return b
}

type pixelAspectRatioBox struct {
	boxHeader
	hSpacing uint32
	vSpacing uint32
}

func newPixelAspectRatioBox(p *boxParser, h boxHeader) box {
	b := &pixelAspectRatioBox{boxHeader: h}
	b.hSpacing = p.r.read4()
	b.vSpacing = p.r.read4()
	return b
}

type contentLightLevelBox struct {
	boxHeader
	maxContentLightLevel    uint16
	maxPicAverageLightLevel uint16
}

func newContentLightLevelBox(p *boxParser, h boxHeader) box {
	b := &contentLightLevelBox{boxHeader: h}
	b.maxContentLightLevel = p.r.read2()
	b.maxPicAverageLightLevel = p.r.read2()
	return b
}

type colourInformationBox struct {
	boxHeader
	colourType fourCC

	// nclx
	colourPrimaries         uint16
	transferCharacteristics uint16
	matrixCoefficients      uint16
	fullRange               bool

	// rICC and prof
	iccProfile []byte
}

func newColourInformationBox(p *boxParser, h boxHeader) box {
	b := &colourInformationBox{boxHeader: h}
	b.colourType = p.r.readFourCC()
	switch b.colourType {
	case fccNclx:
		b.colourPrimaries = p.r.read2()
		b.transferCharacteristics = p.r.read2()
		b.matrixCoefficients = p.r.read2()
		b.fullRange = p.r.readFlag()
		p.r.skipBits(7)
	case fccRICC, fccProf:
		b.iccProfile = p.r.readBytes(int(p.remaining(h)))
	}
	return b
}

type pixelInformationBox struct {
	boxHeader
	fullBox
	bitsPerChannel []uint8
}

func newPixelInformationBox(p *boxParser, h boxHeader) box {
	b := &pixelInformationBox{boxHeader: h, fullBox: readFullBox(p.r)}
	n := p.r.read1()
	for range n {
		b.bitsPerChannel = append(b.bitsPerChannel, p.r.read1())
	}
	return b
}

type auxiliaryTypeBox struct {
	boxHeader
	fullBox
	auxType    string
	auxSubtype []byte
}

func newAuxiliaryTypeBox(p *boxParser, h boxHeader) box {
	b := &auxiliaryTypeBox{boxHeader: h, fullBox: readFullBox(p.r)}
	b.auxType = p.readString(h)
	if n := p.remaining(h); n > 0 {
		b.auxSubtype = p.r.readBytes(int(n))
	}
	return b
}

type itemDataBox struct {
	boxHeader
	data []byte
}

func newItemDataBox(p *boxParser, h boxHeader) box {
	return &itemDataBox{boxHeader: h, data: p.r.readBytes(int(h.bodySize()))}
}

// entityToGroupBox is a grouping of items or tracks, e.g. an alternative group.
type entityToGroupBox struct {
	boxHeader
	fullBox
	groupID   uint32
	entityIDs []uint32
}

func newEntityToGroupBox(p *boxParser, h boxHeader) box {
	b := &entityToGroupBox{boxHeader: h, fullBox: readFullBox(p.r)}
	b.groupID = p.r.read4()
	n := p.r.read4()
	if int64(n)*4 > p.remaining(h) {
		p.fail("group %q declares %d entities in %d bytes", h.typ, n, p.remaining(h))
	}
	for range n {
		b.entityIDs = append(b.entityIDs, p.r.read4())
	}
	return b
}

type dataReferenceBox struct {
	boxHeader
	fullBox
	children []box
}

func newDataReferenceBox(p *boxParser, h boxHeader) box {
	b := &dataReferenceBox{boxHeader: h, fullBox: readFullBox(p.r)}
	p.r.read4() // entry_count
	b.children = p.parseChildren(h)
	return b
}
