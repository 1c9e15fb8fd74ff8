package heic

import "github.com/rwcarlsen/goexif/exif"

// Orientation is the value of the EXIF Orientation tag.
// The irot and imir properties of a frame take precedence over it.
type Orientation int

const (
	OrientationUnspecified Orientation = iota
	OrientationNormal
	OrientationFlipH
	OrientationRotate180
	OrientationFlipV
	OrientationTranspose
	OrientationRotate270
	OrientationTransverse
	OrientationRotate90
)

// Orientation returns the EXIF orientation, or OrientationUnspecified if the
// tag is missing or out of range.
func (e *Exif) Orientation() Orientation {
	t, err := e.x.Get(exif.Orientation)
	if err != nil {
		return OrientationUnspecified
	}
	v, err := t.Int(0)
	if err != nil || v < int(OrientationNormal) || v > int(OrientationRotate90) {
		return OrientationUnspecified
	}
	return Orientation(v)
}

// Transform returns o as the equivalent of the imir and irot properties:
// the image is first mirrored, then rotated anti-clockwise by rotation degrees.
func (o Orientation) Transform() (rotation int, mirror Mirror) {
	switch o {
	case OrientationFlipH:
		return 0, MirrorVertical
	case OrientationRotate180:
		return 180, MirrorNone
	case OrientationFlipV:
		return 0, MirrorHorizontal
	case OrientationTranspose:
		return 90, MirrorVertical
	case OrientationRotate270:
		return 270, MirrorNone
	case OrientationTransverse:
		return 270, MirrorVertical
	case OrientationRotate90:
		return 90, MirrorNone
	}
	return 0, MirrorNone
}
