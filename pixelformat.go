package heic

// PixelFormat is the memory layout of emitted pixels.
type PixelFormat int

//go:generate stringer -type=PixelFormat

const (
	// RGB24 is 3 bytes per pixel: red, green, blue.
	RGB24 PixelFormat = iota
	// RGBA32 is 4 bytes per pixel: red, green, blue, alpha.
	RGBA32
	// ARGB32 is 4 bytes per pixel: alpha, red, green, blue.
	ARGB32
	// BGRA32 is 4 bytes per pixel: blue, green, red, alpha.
	BGRA32
)

// channel indexes into an NRGBA pixel.
const (
	chR = iota
	chG
	chB
	chA
)

// channels returns the NRGBA channels of f in memory order, or nil for an
// unknown format.
func (f PixelFormat) channels() []int {
	switch f {
	case RGB24:
		return []int{chR, chG, chB}
	case RGBA32:
		return []int{chR, chG, chB, chA}
	case ARGB32:
		return []int{chA, chR, chG, chB}
	case BGRA32:
		return []int{chB, chG, chR, chA}
	default:
		return nil
	}
}

// BytesPerPixel returns the pixel size of f in bytes.
func (f PixelFormat) BytesPerPixel() int {
	return len(f.channels())
}
