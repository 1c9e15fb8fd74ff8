// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package heic

import (
	"encoding/binary"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/go-cmp/cmp"
)

func parseTestBox(b []byte, registry *boxRegistry, limitDepth int) (bx box, err error) {
	r := newBytesBitReader(b)
	defer func() {
		if e := errFromRecover(recover(), ErrStructural, r.s.streamErr); e != nil {
			err = e
		}
	}()
	p := newBoxParser(r, registry, limitDepth, nil)
	return p.parseBox(int64(len(b))), nil
}

func TestParseBoxHeader(t *testing.T) {
	c := qt.New(t)

	c.Run("Size smaller than header", func(c *qt.C) {
		_, err := parseTestBox([]byte{0, 0, 0, 4, 'f', 'r', 'e', 'e'}, heifBoxes, 16)
		c.Assert(IsStructural(err), qt.IsTrue)
		c.Assert(err, qt.ErrorMatches, `.*size 4, smaller than its 8 byte header`)

		_, err = parseTestBox(cat(be32(4), []byte("ispe"), make([]byte, 20)), heifBoxes, 16)
		c.Assert(IsStructural(err), qt.IsTrue)
	})

	c.Run("Size past end", func(c *qt.C) {
		b := mkBox("free", make([]byte, 10))
		_, err := parseTestBox(b[:len(b)-2], heifBoxes, 16)
		c.Assert(IsStructural(err), qt.IsTrue)
		c.Assert(err, qt.ErrorMatches, `.*extending past the end.*`)
	})

	c.Run("Truncated header", func(c *qt.C) {
		_, err := parseTestBox([]byte{0, 0, 0, 8, 'f'}, heifBoxes, 16)
		c.Assert(IsStructural(err), qt.IsTrue)
	})

	c.Run("Body too short for its fields", func(c *qt.C) {
		// The ispe box ends after the full box prefix, but the source goes on.
		b := cat(mkFullBox("ispe", 0, 0), make([]byte, 8))
		_, err := parseTestBox(b, heifBoxes, 16)
		c.Assert(IsStructural(err), qt.IsTrue)
		c.Assert(err, qt.ErrorMatches, `.*too short for its fields`)

		// Same, at the end of the source.
		_, err = parseTestBox(mkFullBox("ispe", 0, 0), heifBoxes, 16)
		c.Assert(IsStructural(err), qt.IsTrue)
	})

	c.Run("Extended size", func(c *qt.C) {
		b := cat(be32(1), []byte("free"), binary.BigEndian.AppendUint64(nil, 24), make([]byte, 8))
		bx, err := parseTestBox(b, heifBoxes, 16)
		c.Assert(err, qt.IsNil)
		h := bx.header()
		c.Assert(h.size, qt.Equals, uint64(24))
		c.Assert(h.headerSize, qt.Equals, 16)
		c.Assert(h.bodySize(), qt.Equals, int64(8))
	})

	c.Run("Size zero extends to the end", func(c *qt.C) {
		bx, err := parseTestBox(cat(be32(0), []byte("free"), make([]byte, 5)), heifBoxes, 16)
		c.Assert(err, qt.IsNil)
		c.Assert(bx.header().size, qt.Equals, uint64(13))
	})

	c.Run("UUID", func(c *qt.C) {
		var uuid [16]byte
		for i := range uuid {
			uuid[i] = byte(i + 1)
		}
		bx, err := parseTestBox(mkBox("uuid", uuid[:], []byte{1, 2, 3, 4}), heifBoxes, 16)
		c.Assert(err, qt.IsNil)
		h := bx.header()
		c.Assert(h.userType, qt.Equals, uuid)
		c.Assert(h.headerSize, qt.Equals, 24)
		c.Assert(h.bodyOffset(), qt.Equals, int64(24))
	})

	c.Run("Unknown type", func(c *qt.C) {
		bx, err := parseTestBox(mkBox("abcd", []byte{1, 2, 3}), heifBoxes, 16)
		c.Assert(err, qt.IsNil)
		_, ok := bx.(*opaqueBox)
		c.Assert(ok, qt.IsTrue)
		c.Assert(bx.header().end(), qt.Equals, int64(11))
	})

	c.Run("Nesting limit", func(c *qt.C) {
		nested := func(depth int) []byte {
			b := mkBox("free")
			for range depth {
				b = mkBox("dinf", b)
			}
			return b
		}
		_, err := parseTestBox(nested(4), heifBoxes, 4)
		c.Assert(err, qt.IsNil)
		_, err = parseTestBox(nested(5), heifBoxes, 4)
		c.Assert(IsStructural(err), qt.IsTrue)
		c.Assert(err, qt.ErrorMatches, `.*nested deeper than 4 levels`)
	})
}

func TestBoxRegistry(t *testing.T) {
	c := qt.New(t)

	sps := testSPS{width: 16, height: 16, chromaFormat: 1}.rbsp()
	pps := testPPSRBSP()
	hvcC := hvcCProp(1, sps, pps)

	c.Run("hvcC is bound late", func(c *qt.C) {
		_, found := defaultBoxes.lookup(fccHvcC)
		c.Assert(found, qt.IsFalse)

		bx, err := parseTestBox(hvcC, defaultBoxes, 16)
		c.Assert(err, qt.IsNil)
		_, ok := bx.(*opaqueBox)
		c.Assert(ok, qt.IsTrue)

		bx, err = parseTestBox(hvcC, heifBoxes, 16)
		c.Assert(err, qt.IsNil)
		b, ok := bx.(*hevcConfigBox)
		c.Assert(ok, qt.IsTrue)
		c.Assert(b.config.lengthSize(), qt.Equals, 4)
		c.Assert(b.config.chromaFormatIDC, qt.Equals, uint8(1))
		sets := b.config.parameterSets()
		c.Assert(sets, qt.HasLen, 2)
		c.Assert(sets[0].nalType, qt.Equals, nalSPS)
		c.Assert(sets[0].rbsp, qt.DeepEquals, sps)
		c.Assert(sets[1].nalType, qt.Equals, nalPPS)
		c.Assert(sets[1].rbsp, qt.DeepEquals, pps)
	})

	c.Run("Clone", func(c *qt.C) {
		typ := fourCC{'t', 'e', 's', 't'}
		type testBox struct {
			boxHeader
			v uint32
		}
		r := defaultBoxes.clone()
		r.register(typ, func(p *boxParser, h boxHeader) box {
			return &testBox{boxHeader: h, v: p.r.read4()}
		})
		_, found := defaultBoxes.lookup(typ)
		c.Assert(found, qt.IsFalse)

		bx, err := parseTestBox(mkBox("test", be32(42)), r, 16)
		c.Assert(err, qt.IsNil)
		c.Assert(bx.(*testBox).v, qt.Equals, uint32(42))
	})
}

func TestParseBoxes(t *testing.T) {
	c := qt.New(t)

	parse := func(c *qt.C, b []byte) box {
		c.Helper()
		bx, err := parseTestBox(b, heifBoxes, 16)
		c.Assert(err, qt.IsNil)
		return bx
	}

	c.Run("ftyp", func(c *qt.C) {
		b := parse(c, mkBox("ftyp", []byte("mif1"), be32(0), []byte("heicmiaf"))).(*fileTypeBox)
		c.Assert(b.majorBrand.String(), qt.Equals, "mif1")
		c.Assert(b.hasBrand(fccHeic), qt.IsTrue)
		c.Assert(b.hasBrand(fourCC{'a', 'v', 'i', 'f'}), qt.IsFalse)
	})

	c.Run("Properties", func(c *qt.C) {
		ipco := parse(c, mkBox("ipco",
			ispeProp(640, 480),
			irotProp(3),
			imirProp(1),
			paspProp(4, 3),
			clliProp(1000, 400),
			nclxProp(9, true),
			mkBox("colr", []byte("prof"), []byte("icc")),
			pixiProp(10, 10, 10),
			auxCProp("urn:mpeg:hevc:2015:auxid:1"),
		)).(*containerBox)
		c.Assert(ipco.children, qt.HasLen, 9)

		ispe := ipco.children[0].(*imageSpatialExtentsBox)
		c.Assert([]uint32{ispe.width, ispe.height}, qt.DeepEquals, []uint32{640, 480})
		c.Assert(ipco.children[1].(*imageRotationBox).angle, qt.Equals, uint8(3))
		c.Assert(ipco.children[2].(*imageMirrorBox).axis, qt.Equals, uint8(1))
		pasp := ipco.children[3].(*pixelAspectRatioBox)
		c.Assert([]uint32{pasp.hSpacing, pasp.vSpacing}, qt.DeepEquals, []uint32{4, 3})
		clli := ipco.children[4].(*contentLightLevelBox)
		c.Assert(clli.maxContentLightLevel, qt.Equals, uint16(1000))
		c.Assert(clli.maxPicAverageLightLevel, qt.Equals, uint16(400))
		nclx := ipco.children[5].(*colourInformationBox)
		c.Assert(nclx.colourType, qt.Equals, fccNclx)
		c.Assert(nclx.matrixCoefficients, qt.Equals, uint16(9))
		c.Assert(nclx.fullRange, qt.IsTrue)
		c.Assert(ipco.children[6].(*colourInformationBox).iccProfile, qt.DeepEquals, []byte("icc"))
		c.Assert(ipco.children[7].(*pixelInformationBox).bitsPerChannel, qt.DeepEquals, []uint8{10, 10, 10})
		c.Assert(ipco.children[8].(*auxiliaryTypeBox).auxType, qt.Equals, "urn:mpeg:hevc:2015:auxid:1")
	})

	c.Run("iref", func(c *qt.C) {
		b := parse(c, mkFullBox("iref", 0, 0,
			mkBox("thmb", be16(2), be16(1), be16(1)),
			mkBox("cdsc", be16(3), be16(2), be16(1), be16(2)),
		)).(*itemReferenceBox)
		want := []itemReference{
			{referenceType: refThumbnail, fromItemID: 2, toItemIDs: []uint32{1}},
			{referenceType: fourCC{'c', 'd', 's', 'c'}, fromItemID: 3, toItemIDs: []uint32{1, 2}},
		}
		c.Assert(b.references, qt.CmpEquals(cmp.AllowUnexported(itemReference{})), want)

		_, err := parseTestBox(mkFullBox("iref", 0, 0, be32(6), []byte("thmb"), be16(2), be16(1)), heifBoxes, 16)
		c.Assert(IsStructural(err), qt.IsTrue)
	})

	c.Run("altr", func(c *qt.C) {
		b := parse(c, mkFullBox("altr", 0, 0, be32(7), be32(2), be32(1), be32(2))).(*entityToGroupBox)
		c.Assert(b.groupID, qt.Equals, uint32(7))
		c.Assert(b.entityIDs, qt.DeepEquals, []uint32{1, 2})

		_, err := parseTestBox(mkFullBox("altr", 0, 0, be32(7), be32(1000), be32(1)), heifBoxes, 16)
		c.Assert(IsStructural(err), qt.IsTrue)
	})

	c.Run("infe", func(c *qt.C) {
		b := parse(c, mkFullBox("infe", 2, 1, be16(5), be16(0), []byte("mime"), []byte("XMP\x00"), []byte("application/rdf+xml\x00"))).(*itemInfoEntry)
		c.Assert(b.itemID, qt.Equals, uint32(5))
		c.Assert(b.hidden(), qt.IsTrue)
		c.Assert(b.itemType, qt.Equals, itemTypeMime)
		c.Assert(b.name, qt.Equals, "XMP")
		c.Assert(b.contentType, qt.Equals, "application/rdf+xml")

		// Latin-1 names are converted to UTF-8.
		b = parse(c, mkFullBox("infe", 2, 0, be16(6), be16(0), []byte("hvc1"), []byte{'J', 0xf8, 'l', 0})).(*itemInfoEntry)
		c.Assert(b.name, qt.Equals, "Jøl")
	})

	c.Run("iloc versions", func(c *qt.C) {
		v0 := parse(c, mkFullBox("iloc", 0, 0, []byte{0x44, 0x40}, be16(1),
			be16(1), be16(0), be32(100), be16(2), be32(10), be32(5), be32(20), be32(6))).(*itemLocationBox)
		want := []itemLocation{{
			itemID:     1,
			baseOffset: 100,
			extents:    []itemExtent{{offset: 10, length: 5}, {offset: 20, length: 6}},
		}}
		opts := cmp.AllowUnexported(itemLocation{}, itemExtent{})
		c.Assert(v0.items, qt.CmpEquals(opts), want)
		c.Assert(v0.items[0].totalLength(), qt.Equals, uint64(11))

		v2 := parse(c, mkFullBox("iloc", 2, 0, []byte{0x44, 0x04}, be32(1),
			be32(70000), be16(1), be16(0), be16(1), be32(3), be32(0), be32(9))).(*itemLocationBox)
		want = []itemLocation{{
			itemID:             70000,
			constructionMethod: 1,
			extents:            []itemExtent{{index: 3, length: 9}},
		}}
		c.Assert(v2.items, qt.CmpEquals(opts), want)

		_, err := parseTestBox(mkFullBox("iloc", 3, 0, []byte{0, 0}), heifBoxes, 16)
		c.Assert(IsStructural(err), qt.IsTrue)
	})
}
