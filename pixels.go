package heic

import (
	"image"
	"math"
)

// GetByteArray returns the pixels of rect in format f, row major.
// The zero rectangle selects the whole frame.
// It returns nil and no error for frames without image data.
func (f *Frame) GetByteArray(format PixelFormat, rect image.Rectangle) ([]byte, error) {
	img, rect, err := f.pixelsFor(format, rect)
	if img == nil || err != nil {
		return nil, err
	}
	return emitBytes(img, format, rect), nil
}

// GetInt32Array is like GetByteArray, but packs each pixel into one int32
// with the bytes of the format from the most significant end: RGB24 becomes
// 0x00RRGGBB and RGBA32 0xRRGGBBAA.
func (f *Frame) GetInt32Array(format PixelFormat, rect image.Rectangle) ([]int32, error) {
	img, rect, err := f.pixelsFor(format, rect)
	if img == nil || err != nil {
		return nil, err
	}
	return emitInt32s(img, format, rect), nil
}

// Image decodes the frame into an image with non-premultiplied alpha.
// It returns nil and no error for frames without image data.
func (f *Frame) Image() (*image.NRGBA, error) {
	if !f.HasImageData() {
		return nil, nil
	}
	return f.decode(decodeColor, 0)
}

func (f *Frame) pixelsFor(format PixelFormat, rect image.Rectangle) (*image.NRGBA, image.Rectangle, error) {
	if format.channels() == nil {
		return nil, rect, newRangeErrorf("unknown pixel format %d", format)
	}
	if !f.HasImageData() {
		return nil, rect, nil
	}
	img, err := f.decode(decodeColor, 0)
	if err != nil {
		return nil, rect, err
	}
	rect, err = resolveRect(img.Bounds(), rect)
	if err != nil {
		return nil, rect, err
	}
	return img, rect, nil
}

// resolveRect validates rect against bounds. The zero rectangle means bounds.
func resolveRect(bounds, rect image.Rectangle) (image.Rectangle, error) {
	if rect == (image.Rectangle{}) {
		return bounds, nil
	}
	if rect.Empty() || !rect.In(bounds) {
		return rect, newRangeErrorf("rectangle %v is outside the frame bounds %v", rect, bounds)
	}
	return rect, nil
}

func emitBytes(img *image.NRGBA, format PixelFormat, rect image.Rectangle) []byte {
	ch := format.channels()
	out := make([]byte, 0, rect.Dx()*rect.Dy()*len(ch))
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		row := img.Pix[img.PixOffset(rect.Min.X, y):]
		for x := range rect.Dx() {
			px := row[x*4 : x*4+4]
			for _, c := range ch {
				out = append(out, px[c])
			}
		}
	}
	return out
}

func emitInt32s(img *image.NRGBA, format PixelFormat, rect image.Rectangle) []int32 {
	ch := format.channels()
	out := make([]int32, 0, rect.Dx()*rect.Dy())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		row := img.Pix[img.PixOffset(rect.Min.X, y):]
		for x := range rect.Dx() {
			px := row[x*4 : x*4+4]
			var v uint32
			for _, c := range ch {
				v = v<<8 | uint32(px[c])
			}
			out = append(out, int32(v))
		}
	}
	return out
}

// ycbcrConverter converts samples of one bit depth and colour description
// to 8-bit RGB.
type ycbcrConverter struct {
	identity bool // GBR stored as Y=G, Cb=B, Cr=R.

	yOffset, yScale float64
	cOffset, cScale float64

	// R = Y + crR*Cr, G = Y + cbG*Cb + crG*Cr, B = Y + cbB*Cb.
	crR, cbG, crG, cbB float64
}

// newYCbCrConverter returns a converter for the given matrix_coefficients.
// Unknown matrices fall back to BT.601.
func newYCbCrConverter(matrix uint16, fullRange bool, bitDepthY, bitDepthC int) *ycbcrConverter {
	maxY := float64(int(1)<<bitDepthY - 1)
	maxC := float64(int(1)<<bitDepthC - 1)
	c := &ycbcrConverter{}
	if fullRange {
		c.yOffset, c.yScale = 0, 1/maxY
		c.cOffset, c.cScale = float64(int(1)<<(bitDepthC-1)), 1/maxC
	} else {
		c.yOffset = float64(int(16) << (bitDepthY - 8))
		c.yScale = 1 / float64(int(219)<<(bitDepthY-8))
		c.cOffset = float64(int(128) << (bitDepthC - 8))
		c.cScale = 1 / float64(int(224)<<(bitDepthC-8))
	}

	var kr, kb float64
	switch matrix {
	case 0:
		c.identity = true
		return c
	case 1:
		kr, kb = 0.2126, 0.0722 // BT.709
	case 9, 10:
		kr, kb = 0.2627, 0.0593 // BT.2020
	default:
		kr, kb = 0.299, 0.114 // BT.601
	}
	kg := 1 - kr - kb
	c.crR = 2 * (1 - kr)
	c.cbB = 2 * (1 - kb)
	c.cbG = -kb * c.cbB / kg
	c.crG = -kr * c.crR / kg
	return c
}

func (c *ycbcrConverter) rgb(yv, cb, cr uint16) (r, g, b uint8) {
	y := (float64(yv) - c.yOffset) * c.yScale
	u := (float64(cb) - c.cOffset) * c.cScale
	v := (float64(cr) - c.cOffset) * c.cScale
	if c.identity {
		// Identity matrices carry the chroma channels unshifted.
		u += c.cOffset * c.cScale
		v += c.cOffset * c.cScale
		return to8(v), to8(y), to8(u)
	}
	return to8(y + c.crR*v), to8(y + c.cbG*u + c.crG*v), to8(y + c.cbB*u)
}

// to8 maps [0, 1] to [0, 255], clamping.
func to8(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

// scaleTo8 maps a sample of the given bit depth to 8 bits.
func scaleTo8(v uint16, bitDepth int) uint8 {
	if bitDepth == 8 {
		return uint8(v)
	}
	maxVal := uint32(1)<<bitDepth - 1
	return uint8((uint32(v)*255 + maxVal/2) / maxVal)
}
