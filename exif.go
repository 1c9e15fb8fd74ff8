package heic

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/mknote"
	"github.com/rwcarlsen/goexif/tiff"
)

// exifSignature follows the 4 byte TIFF header offset in an Exif item.
var exifSignature = []byte("Exif\x00\x00")

var itemTypeExif = fourCC{'E', 'x', 'i', 'f'}

var registerMakerNotesOnce sync.Once

// ExifDirectory is one of the directories of an EXIF block.
type ExifDirectory int

//go:generate stringer -type=ExifDirectory -trimprefix=ExifDirectory

const (
	ExifDirectoryIFD0 ExifDirectory = iota
	ExifDirectoryExif
	ExifDirectoryGPS
	ExifDirectoryInterop
	ExifDirectoryThumbnail
	// Maker note fields, and any tag not known to the other directories.
	ExifDirectoryMakerNote
)

// exifDirectoryFields lists the fields of each directory except
// ExifDirectoryMakerNote.
var exifDirectoryFields = map[ExifDirectory][]exif.FieldName{
	ExifDirectoryIFD0: {
		exif.ImageWidth, exif.ImageLength, exif.BitsPerSample, exif.Compression,
		exif.PhotometricInterpretation, exif.Orientation, exif.SamplesPerPixel,
		exif.PlanarConfiguration, exif.YCbCrSubSampling, exif.YCbCrPositioning,
		exif.XResolution, exif.YResolution, exif.ResolutionUnit, exif.DateTime,
		exif.ImageDescription, exif.Make, exif.Model, exif.Software, exif.Artist,
		exif.Copyright, exif.XPTitle, exif.XPComment, exif.XPAuthor, exif.XPKeywords,
		exif.XPSubject, exif.ExifIFDPointer, exif.GPSInfoIFDPointer,
		exif.InteroperabilityIFDPointer,
	},
	ExifDirectoryExif: {
		exif.ExifVersion, exif.FlashpixVersion, exif.ColorSpace,
		exif.ComponentsConfiguration, exif.CompressedBitsPerPixel,
		exif.PixelXDimension, exif.PixelYDimension, exif.MakerNote,
		exif.UserComment, exif.RelatedSoundFile, exif.DateTimeOriginal,
		exif.DateTimeDigitized, exif.SubSecTime, exif.SubSecTimeOriginal,
		exif.SubSecTimeDigitized, exif.ImageUniqueID, exif.ExposureTime,
		exif.FNumber, exif.ExposureProgram, exif.SpectralSensitivity,
		exif.ISOSpeedRatings, exif.OECF, exif.ShutterSpeedValue,
		exif.ApertureValue, exif.BrightnessValue, exif.ExposureBiasValue,
		exif.MaxApertureValue, exif.SubjectDistance, exif.MeteringMode,
		exif.LightSource, exif.Flash, exif.FocalLength, exif.SubjectArea,
		exif.FlashEnergy, exif.SpatialFrequencyResponse,
		exif.FocalPlaneXResolution, exif.FocalPlaneYResolution,
		exif.FocalPlaneResolutionUnit, exif.SubjectLocation, exif.ExposureIndex,
		exif.SensingMethod, exif.FileSource, exif.SceneType, exif.CFAPattern,
		exif.CustomRendered, exif.ExposureMode, exif.WhiteBalance,
		exif.DigitalZoomRatio, exif.FocalLengthIn35mmFilm, exif.SceneCaptureType,
		exif.GainControl, exif.Contrast, exif.Saturation, exif.Sharpness,
		exif.DeviceSettingDescription, exif.SubjectDistanceRange, exif.LensMake,
		exif.LensModel,
	},
	ExifDirectoryGPS: {
		exif.GPSVersionID, exif.GPSLatitudeRef, exif.GPSLatitude,
		exif.GPSLongitudeRef, exif.GPSLongitude, exif.GPSAltitudeRef,
		exif.GPSAltitude, exif.GPSTimeStamp, exif.GPSSatelites, exif.GPSStatus,
		exif.GPSMeasureMode, exif.GPSDOP, exif.GPSSpeedRef, exif.GPSSpeed,
		exif.GPSTrackRef, exif.GPSTrack, exif.GPSImgDirectionRef,
		exif.GPSImgDirection, exif.GPSMapDatum, exif.GPSDestLatitudeRef,
		exif.GPSDestLatitude, exif.GPSDestLongitudeRef, exif.GPSDestLongitude,
		exif.GPSDestBearingRef, exif.GPSDestBearing, exif.GPSDestDistanceRef,
		exif.GPSDestDistance, exif.GPSProcessingMethod, exif.GPSAreaInformation,
		exif.GPSDateStamp, exif.GPSDifferential,
	},
	ExifDirectoryInterop: {
		exif.InteroperabilityIndex,
	},
	ExifDirectoryThumbnail: {
		exif.ThumbJPEGInterchangeFormat, exif.ThumbJPEGInterchangeFormatLength,
	},
}

// exifFieldDirectory is the inverse of exifDirectoryFields.
var exifFieldDirectory = func() map[exif.FieldName]ExifDirectory {
	m := make(map[exif.FieldName]ExifDirectory)
	for d, fields := range exifDirectoryFields {
		for _, f := range fields {
			m[f] = d
		}
	}
	return m
}()

// directoryOf returns the directory a field belongs to.
func directoryOf(name exif.FieldName) ExifDirectory {
	if d, ok := exifFieldDirectory[name]; ok {
		return d
	}
	return ExifDirectoryMakerNote
}

// Exif is the decoded EXIF block of an image.
// It is shared by all the frames the EXIF item describes.
type Exif struct {
	raw []byte // The TIFF structure.
	x   *exif.Exif
}

// RawBytes returns the TIFF structure of the EXIF block, starting at the byte
// order mark.
func (e *Exif) RawBytes() []byte {
	return e.raw
}

// Decoded returns the underlying goexif value.
func (e *Exif) Decoded() *exif.Exif {
	return e.x
}

// Tag returns the tag with the given name.
// A missing tag is a range error.
func (e *Exif) Tag(name exif.FieldName) (*tiff.Tag, error) {
	t, err := e.x.Get(name)
	if err != nil {
		if exif.IsTagNotPresentError(err) {
			return nil, newRangeErrorf("EXIF tag %q not present", name)
		}
		return nil, err
	}
	return t, nil
}

// Tags returns all tags.
func (e *Exif) Tags() map[exif.FieldName]*tiff.Tag {
	m := make(map[exif.FieldName]*tiff.Tag)
	e.x.Walk(walkFunc(func(name exif.FieldName, tag *tiff.Tag) error {
		m[name] = tag
		return nil
	}))
	return m
}

// Directory returns the tags of one directory.
func (e *Exif) Directory(d ExifDirectory) map[exif.FieldName]*tiff.Tag {
	m := make(map[exif.FieldName]*tiff.Tag)
	e.x.Walk(walkFunc(func(name exif.FieldName, tag *tiff.Tag) error {
		if directoryOf(name) == d {
			m[name] = tag
		}
		return nil
	}))
	return m
}

func (e *Exif) String() string {
	return e.x.String()
}

// DateTime returns the capture time, see exif.Exif.DateTime.
func (e *Exif) DateTime() (time.Time, error) {
	return e.x.DateTime()
}

// LatLong returns the GPS position, see exif.Exif.LatLong.
func (e *Exif) LatLong() (lat, long float64, err error) {
	return e.x.LatLong()
}

type walkFunc func(name exif.FieldName, tag *tiff.Tag) error

func (f walkFunc) Walk(name exif.FieldName, tag *tiff.Tag) error {
	return f(name, tag)
}

// exifHandle is the shared, lazily decoded EXIF block of one Exif item.
type exifHandle struct {
	itemID uint32
	load   func() ([]byte, error)
	opts   *Options

	once sync.Once
	x    *Exif
	err  error
}

func (h *exifHandle) get() (*Exif, error) {
	h.once.Do(func() {
		data, err := h.load()
		if err != nil {
			h.err = err
			return
		}
		h.x, h.err = decodeExif(data, h.opts)
		if h.err != nil {
			h.opts.Warnf("heic: skipping EXIF item %d: %s", h.itemID, h.err)
		}
	})
	return h.x, h.err
}

// exifTIFFData returns the TIFF structure of an Exif item payload: a 32-bit
// offset to the TIFF header followed by the Exif signature.
func exifTIFFData(data []byte) ([]byte, error) {
	if len(data) < 4+len(exifSignature) {
		return nil, newHeaderMismatchErrorf("EXIF payload of %d bytes is too short", len(data))
	}
	if !bytes.Equal(data[4:4+len(exifSignature)], exifSignature) {
		return nil, newHeaderMismatchErrorf("EXIF payload starts with %q, want %q", data[4:4+len(exifSignature)], exifSignature)
	}
	// The offset counts from the end of the offset field. It normally skips
	// the signature only.
	offset := max(uint64(binary.BigEndian.Uint32(data)), uint64(len(exifSignature)))
	start := 4 + offset
	if start >= uint64(len(data)) {
		return nil, newStructuralErrorf("EXIF TIFF header offset %d is past the end of the payload", offset)
	}
	return data[start:], nil
}

func decodeExif(data []byte, opts *Options) (*Exif, error) {
	tiffData, err := exifTIFFData(data)
	if err != nil {
		return nil, err
	}
	if opts.ParseMakerNotes {
		registerMakerNotesOnce.Do(func() {
			exif.RegisterParsers(mknote.All...)
		})
	}
	x, err := exif.Decode(bytes.NewReader(tiffData))
	if err != nil {
		if x == nil || exif.IsCriticalError(err) {
			return nil, newStructuralError(fmt.Errorf("EXIF: %w", err))
		}
		opts.Warnf("heic: EXIF decoded with errors: %s", err)
	}
	return &Exif{raw: tiffData, x: x}, nil
}
