// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package heic

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"slices"
	"time"
)

const (
	defaultLimitItemSize = 200 << 20
	defaultLimitBoxDepth = 16
	defaultLimitPixels   = 1 << 27
)

// Options contains the options for Load.
type Options struct {
	// The Reader (typically a *os.File) to read the image from.
	// It must not be used by others while a method of the Image runs.
	R io.ReadSeeker

	// Warnf will be called for each warning.
	Warnf func(string, ...any)

	// SliceDecoder is the entropy decoding stage for HEVC slice data.
	// Without one, the pixel methods fail with a decode error.
	SliceDecoder SliceDecoder

	// LimitItemSize is the maximum size in bytes of an item payload.
	// Default value is 200 MiB.
	LimitItemSize uint64

	// LimitBoxDepth is the maximum nesting depth of boxes.
	// Default value is 16.
	LimitBoxDepth int

	// LimitPixels is the maximum number of pixels of a decoded frame,
	// grid output sizes included.
	// Default value is 1 << 27.
	LimitPixels uint64

	// If set, the Canon and Nikon maker note parsers of goexif are registered
	// before the first EXIF block is decoded. The registration is global.
	ParseMakerNotes bool

	// Timeout is the maximum time Load will spend on parsing the container.
	// Mostly useful for testing.
	// If set to 0, Load will not time out.
	Timeout time.Duration
}

// heifBrands are the ftyp brands of HEIF image files.
var heifBrands = []fourCC{
	fccHeic,
	{'h', 'e', 'i', 'x'},
	{'h', 'e', 'i', 'm'},
	{'h', 'e', 'i', 's'},
	{'m', 'i', 'f', '1'},
	{'m', 's', 'f', '1'},
}

// Image is a loaded HEIF container.
// The model is immutable after Load, but the methods that read item payloads
// share the byte source and must not be called concurrently; use Clone to get
// an Image with its own source.
type Image struct {
	opts  Options
	s     *streamReader
	ftyp  *fileTypeBox
	items *itemRegistry

	frames    map[uint32]*Frame
	allFrames []*Frame
	public    []*Frame
}

// Load reads the box structure of a HEIF file.
// The pixels are decoded on demand.
func Load(opts Options) (img *Image, err error) {
	if opts.R == nil {
		return nil, errors.New("heic: no reader provided")
	}
	if opts.Warnf == nil {
		opts.Warnf = func(string, ...any) {}
	}
	if opts.LimitItemSize == 0 {
		opts.LimitItemSize = defaultLimitItemSize
	}
	if opts.LimitBoxDepth == 0 {
		opts.LimitBoxDepth = defaultLimitBoxDepth
	}
	if opts.LimitPixels == 0 {
		opts.LimitPixels = defaultLimitPixels
	}

	if opts.Timeout <= 0 {
		return load(opts)
	}

	type result struct {
		img *Image
		err error
	}
	resc := make(chan result, 1)
	go func() {
		img, err := load(opts)
		resc <- result{img, err}
	}()
	select {
	case <-time.After(opts.Timeout):
		return nil, fmt.Errorf("heic: timed out after %s", opts.Timeout)
	case res := <-resc:
		return res.img, res.err
	}
}

func load(opts Options) (img *Image, err error) {
	s, err := newStreamReader(opts.R)
	if err != nil {
		return nil, newStructuralError(err)
	}
	ftyp, meta, err := readTopLevel(s, opts)
	if err != nil {
		return nil, err
	}
	if ftyp == nil {
		return nil, newStructuralErrorf("no ftyp box")
	}
	if !slices.ContainsFunc(heifBrands, ftyp.hasBrand) {
		return nil, newStructuralErrorf("unsupported brand %q", ftyp.majorBrand)
	}
	if meta == nil {
		return nil, newStructuralErrorf("no meta box")
	}

	items, err := newItemRegistry(meta, opts.Warnf)
	if err != nil {
		return nil, err
	}

	img = &Image{
		opts:  opts,
		s:     s,
		ftyp:  ftyp,
		items: items,
	}
	img.buildFrames()
	return img, nil
}

// readTopLevel scans the top-level boxes until the meta box.
func readTopLevel(s *streamReader, opts Options) (ftyp *fileTypeBox, meta *metaBox, err error) {
	defer func() {
		if e := errFromRecover(recover(), ErrStructural, s.streamErr); e != nil {
			ftyp, meta, err = nil, nil, e
		}
	}()

	r := newBitReader(s)
	p := newBoxParser(r, heifBoxes, opts.LimitBoxDepth, opts.Warnf)
	for meta == nil {
		pos := r.bytePosition()
		if pos >= s.size {
			break
		}
		if s.size-pos < boxHeaderSize {
			opts.Warnf("heic: ignoring %d trailing bytes", s.size-pos)
			break
		}
		switch b := p.parseBox(s.size).(type) {
		case *fileTypeBox:
			if ftyp == nil {
				ftyp = b
			}
		case *metaBox:
			meta = b
		}
	}
	return ftyp, meta, nil
}

// buildFrames creates a frame per item and attaches the EXIF blocks.
func (img *Image) buildFrames() {
	img.frames = make(map[uint32]*Frame, len(img.items.ids))
	img.allFrames = make([]*Frame, 0, len(img.items.ids))
	for _, id := range img.items.ids {
		f := newFrame(img, id)
		img.frames[id] = f
		img.allFrames = append(img.allFrames, f)
	}

	for _, f := range img.allFrames {
		if f.itemType != itemTypeExif {
			continue
		}
		h := &exifHandle{
			itemID: f.id,
			opts:   &img.opts,
		}
		id := f.id
		h.load = func() ([]byte, error) {
			return img.items.itemData(img.s, id, img.opts.LimitItemSize)
		}
		for _, target := range img.items.derivedFrom(f.id) {
			if tf, ok := img.frames[target]; ok {
				tf.exif = h
			}
		}
	}

	img.public = filterFrames(img.allFrames, img.items.alternativeGroups())
}

// filterFrames returns the frames meant to be shown: not hidden, not a
// thumbnail and not a tone map, with only the first remaining member of each
// alternative group kept.
func filterFrames(frames []*Frame, groups []*entityToGroupBox) []*Frame {
	var out []*Frame
	for _, f := range frames {
		if f.Hidden() || f.derivativeType == refThumbnail || f.itemType == itemTypeTmap {
			continue
		}
		out = append(out, f)
	}

	for _, g := range groups {
		kept := false
		for _, id := range g.entityIDs {
			i := slices.IndexFunc(out, func(f *Frame) bool { return f.id == id })
			if i < 0 {
				continue
			}
			if !kept {
				kept = true
				continue
			}
			out = slices.Delete(out, i, i+1)
		}
	}
	return out
}

// Frames returns the frames meant to be shown, in declaration order.
func (img *Image) Frames() []*Frame {
	return slices.Clone(img.public)
}

// AllFrames returns a frame for every item, in declaration order.
func (img *Image) AllFrames() []*Frame {
	return slices.Clone(img.allFrames)
}

// Frame returns the frame of item id. An unknown id is a range error.
func (img *Image) Frame(id uint32) (*Frame, error) {
	f, ok := img.frames[id]
	if !ok {
		return nil, newRangeErrorf("no item with ID %d", id)
	}
	return f, nil
}

// DefaultFrame returns the frame of the primary item, whether or not it is
// among Frames.
func (img *Image) DefaultFrame() *Frame {
	return img.frames[img.items.primaryID]
}

// Width returns the width of the default frame.
func (img *Image) Width() int {
	return img.DefaultFrame().Width()
}

// Height returns the height of the default frame.
func (img *Image) Height() int {
	return img.DefaultFrame().Height()
}

// Exif returns the EXIF block of the default frame, or nil if there is none.
func (img *Image) Exif() (*Exif, error) {
	return img.DefaultFrame().Exif()
}

// Brands returns the major brand followed by the compatible brands.
func (img *Image) Brands() []string {
	brands := []string{img.ftyp.majorBrand.String()}
	for _, b := range img.ftyp.compatibleBrands {
		brands = append(brands, b.String())
	}
	return brands
}

// GetByteArray returns pixels of the default frame, see Frame.GetByteArray.
func (img *Image) GetByteArray(format PixelFormat, rect image.Rectangle) ([]byte, error) {
	return img.DefaultFrame().GetByteArray(format, rect)
}

// GetInt32Array returns pixels of the default frame, see Frame.GetInt32Array.
func (img *Image) GetInt32Array(format PixelFormat, rect image.Rectangle) ([]int32, error) {
	return img.DefaultFrame().GetInt32Array(format, rect)
}

// Clone returns an Image with the same model reading from r, which must hold
// the same bytes. The two can be used from different goroutines.
func (img *Image) Clone(r io.ReadSeeker) (*Image, error) {
	s, err := newStreamReader(r)
	if err != nil {
		return nil, newStructuralError(err)
	}
	if s.size != img.s.size {
		return nil, newStructuralErrorf("clone source has %d bytes, want %d", s.size, img.s.size)
	}
	opts := img.opts
	opts.R = r
	c := &Image{
		opts:  opts,
		s:     s,
		ftyp:  img.ftyp,
		items: img.items,
	}
	c.buildFrames()
	return c, nil
}

// CanLoad reports whether r starts with an ftyp box advertising the heic
// brand. The position of r is restored. It never panics.
func CanLoad(r io.ReadSeeker) (ok bool) {
	if r == nil {
		return false
	}
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return false
	}
	defer r.Seek(pos, io.SeekStart)
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	s, err := newStreamReader(r)
	if err != nil {
		return false
	}
	p := newBoxParser(newBitReader(s), defaultBoxes, 1, nil)
	ftyp, isFtyp := p.parseBox(s.size).(*fileTypeBox)
	return isFtyp && ftyp.hasBrand(fccHeic)
}

// DecodeConfig returns the size of the default frame of the image in r.
func DecodeConfig(r io.ReadSeeker) (image.Config, error) {
	img, err := Load(Options{R: r})
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{
		ColorModel: color.NRGBAModel,
		Width:      img.Width(),
		Height:     img.Height(),
	}, nil
}
