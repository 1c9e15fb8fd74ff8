// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package heic

import (
	"image"
	"image/draw"
)

type decodeMode int

const (
	decodeColor decodeMode = iota
	// Luma only, scaled to 8 bits in every channel.
	decodeAlpha
)

// maxDerivationDepth limits chains of grid, iden and auxiliary references.
const maxDerivationDepth = 8

// decode decodes the pixels of f. Nothing is cached; each call decodes anew.
func (f *Frame) decode(mode decodeMode, depth int) (*image.NRGBA, error) {
	if depth > maxDerivationDepth {
		return nil, newDecodeErrorf("item %d: derivation chain deeper than %d", f.id, maxDerivationDepth)
	}

	var (
		img *image.NRGBA
		err error
	)
	switch f.itemType {
	case itemTypeHvc1:
		img, err = f.decodeCoded(mode)
	case itemTypeGrid:
		img, err = f.decodeGrid(mode, depth)
	case itemTypeIden:
		img, err = f.decodeIdentity(mode, depth)
	default:
		return nil, newDecodeErrorf("item %d of type %q has no image data", f.id, f.itemType)
	}
	if err != nil {
		return nil, err
	}

	if mode == decodeColor {
		if err := f.applyAlpha(img, depth); err != nil {
			return nil, err
		}
	}
	return img, nil
}

func (f *Frame) decodeCoded(mode decodeMode) (*image.NRGBA, error) {
	cfg, ok := f.hevcConfig()
	if !ok {
		return nil, newDecodeErrorf("item %d has no hvcC property", f.id)
	}
	data, err := f.img.items.itemData(f.img.s, f.id, f.img.opts.LimitItemSize)
	if err != nil {
		return nil, err
	}
	pic, err := decodeHEVC(cfg, data, f.img.opts.SliceDecoder, f.img.opts.Warnf)
	if err != nil {
		return nil, err
	}

	w, h := pic.width(), pic.height()
	if err := f.checkPixels(w, h); err != nil {
		return nil, err
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))

	if mode == decodeAlpha {
		for y := range h {
			for x := range w {
				yv, _, _ := pic.sample(x, y)
				a := scaleTo8(yv, pic.bitDepthY)
				i := img.PixOffset(x, y)
				img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = a, a, a, a
			}
		}
		return img, nil
	}

	// Without an nclx property, assume BT.601 limited range.
	matrix, fullRange := uint16(2), false
	if nclx, ok := f.nclx(); ok {
		matrix, fullRange = nclx.matrixCoefficients, nclx.fullRange
	}
	conv := newYCbCrConverter(matrix, fullRange, pic.bitDepthY, pic.bitDepthC)
	for y := range h {
		for x := range w {
			r, g, b := conv.rgb(pic.sample(x, y))
			i := img.PixOffset(x, y)
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r, g, b, 0xff
		}
	}
	return img, nil
}

// checkPixels reports a decode error if a w by h output exceeds
// Options.LimitPixels.
func (f *Frame) checkPixels(w, h int) error {
	if limit := f.img.opts.LimitPixels; uint64(w)*uint64(h) > limit {
		return newDecodeErrorf("item %d: %dx%d pixels exceed the limit of %d", f.id, w, h, limit)
	}
	return nil
}

// imageGrid is the payload of a grid item.
type imageGrid struct {
	rows, columns int
	width, height int
}

func parseImageGrid(data []byte) (g imageGrid, err error) {
	r := newBytesBitReader(data)
	defer func() {
		if e := errFromRecover(recover(), ErrDecode, r.s.streamErr); e != nil {
			err = e
		}
	}()
	if version := r.read1(); version != 0 {
		return g, newDecodeErrorf("unsupported grid version %d", version)
	}
	flags := r.read1()
	g.rows = int(r.read1()) + 1
	g.columns = int(r.read1()) + 1
	fieldSize := 2
	if flags&1 != 0 {
		fieldSize = 4
	}
	g.width = int(r.readUintN(fieldSize))
	g.height = int(r.readUintN(fieldSize))
	if g.width == 0 || g.height == 0 {
		return g, newDecodeErrorf("empty grid output size %dx%d", g.width, g.height)
	}
	return g, nil
}

// decodeGrid stitches the dimg tiles of a grid item, row by row, and crops
// the result to the grid output size.
func (f *Frame) decodeGrid(mode decodeMode, depth int) (*image.NRGBA, error) {
	data, err := f.img.items.itemData(f.img.s, f.id, f.img.opts.LimitItemSize)
	if err != nil {
		return nil, err
	}
	g, err := parseImageGrid(data)
	if err != nil {
		return nil, err
	}
	tiles := f.img.items.references(f.id, refDerivedImage)
	if len(tiles) != g.rows*g.columns {
		return nil, newDecodeErrorf("grid item %d has %d tiles, want %dx%d", f.id, len(tiles), g.rows, g.columns)
	}

	if err := f.checkPixels(g.width, g.height); err != nil {
		return nil, err
	}

	out := image.NewNRGBA(image.Rect(0, 0, g.width, g.height))
	var tileW, tileH int
	for i, id := range tiles {
		tf, ok := f.img.frames[id]
		if !ok {
			return nil, newDecodeErrorf("grid item %d references unknown tile %d", f.id, id)
		}
		tile, err := tf.decode(mode, depth+1)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			tileW, tileH = tile.Bounds().Dx(), tile.Bounds().Dy()
			if tileW*g.columns < g.width || tileH*g.rows < g.height {
				return nil, newDecodeErrorf("grid item %d: %dx%d tiles of %dx%d do not cover %dx%d",
					f.id, g.columns, g.rows, tileW, tileH, g.width, g.height)
			}
		}
		row, col := i/g.columns, i%g.columns
		dst := image.Rect(col*tileW, row*tileH, (col+1)*tileW, (row+1)*tileH).Intersect(out.Bounds())
		draw.Draw(out, dst, tile, image.Point{}, draw.Src)
	}
	return out, nil
}

// decodeIdentity decodes the single source of an iden item.
func (f *Frame) decodeIdentity(mode decodeMode, depth int) (*image.NRGBA, error) {
	refs := f.img.items.references(f.id, refDerivedImage)
	if len(refs) != 1 {
		return nil, newDecodeErrorf("iden item %d has %d sources, want 1", f.id, len(refs))
	}
	src, ok := f.img.frames[refs[0]]
	if !ok {
		return nil, newDecodeErrorf("iden item %d references unknown item %d", f.id, refs[0])
	}
	return src.decode(mode, depth+1)
}

// applyAlpha replaces the alpha channel of img with the first alpha
// auxiliary image of f, if any. Without one, img stays opaque.
func (f *Frame) applyAlpha(img *image.NRGBA, depth int) error {
	for _, id := range f.img.items.referencingItems(f.id, refAuxiliary) {
		af, ok := f.img.frames[id]
		if !ok || af.auxType != AuxiliaryTypeAlpha {
			continue
		}
		alpha, err := af.decode(decodeAlpha, depth+1)
		if err != nil {
			return err
		}
		if alpha.Bounds() != img.Bounds() {
			f.img.opts.Warnf("heic: ignoring alpha item %d of size %v for item %d of size %v",
				id, alpha.Bounds().Size(), f.id, img.Bounds().Size())
			return nil
		}
		for i := 3; i < len(img.Pix); i += 4 {
			img.Pix[i] = alpha.Pix[i]
		}
		return nil
	}
	return nil
}
