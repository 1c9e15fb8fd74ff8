// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package heic

import "strings"

// Item types.
var (
	itemTypeHvc1 = fourCC{'h', 'v', 'c', '1'}
	itemTypeGrid = fourCC{'g', 'r', 'i', 'd'}
	itemTypeIden = fourCC{'i', 'd', 'e', 'n'}
	itemTypeTmap = fourCC{'t', 'm', 'a', 'p'}
)

// AuxiliaryType is the role of an auxiliary image, from its auxC URN.
type AuxiliaryType int

//go:generate stringer -type=AuxiliaryType -trimprefix=AuxiliaryType

const (
	AuxiliaryTypeUndefined AuxiliaryType = iota
	AuxiliaryTypeAlpha
	AuxiliaryTypeDepth
	AuxiliaryTypeHDRGainMap
	AuxiliaryTypePortraitEffectsMatte
	AuxiliaryTypeSemanticSkinMatte
	AuxiliaryTypeSemanticHairMatte
	AuxiliaryTypeSemanticTeethMatte
	AuxiliaryTypeSemanticGlassesMatte
	AuxiliaryTypeSemanticSkyMatte
	AuxiliaryTypeLinearThumbnail
	AuxiliaryTypeStyleDeltaMap
)

var auxiliaryTypeURNs = map[string]AuxiliaryType{
	"urn:mpeg:hevc:2015:auxid:1":                        AuxiliaryTypeAlpha,
	"urn:mpeg:mpegB:cicp:systems:auxiliary:alpha":       AuxiliaryTypeAlpha,
	"urn:mpeg:hevc:2015:auxid:2":                        AuxiliaryTypeDepth,
	"urn:mpeg:mpegB:cicp:systems:auxiliary:depth":       AuxiliaryTypeDepth,
	"urn:com:apple:photo:2020:aux:hdrgainmap":           AuxiliaryTypeHDRGainMap,
	"urn:com:apple:photo:2018:aux:portraiteffectsmatte": AuxiliaryTypePortraitEffectsMatte,
	"urn:com:apple:photo:2019:aux:semanticskinmatte":    AuxiliaryTypeSemanticSkinMatte,
	"urn:com:apple:photo:2019:aux:semantichairmatte":    AuxiliaryTypeSemanticHairMatte,
	"urn:com:apple:photo:2019:aux:semanticteethmatte":   AuxiliaryTypeSemanticTeethMatte,
	"urn:com:apple:photo:2020:aux:semanticglassesmatte": AuxiliaryTypeSemanticGlassesMatte,
	"urn:com:apple:photo:2020:aux:semanticskymatte":     AuxiliaryTypeSemanticSkyMatte,
	"tag:apple.com,2023:photo:aux:linearthumbnail":      AuxiliaryTypeLinearThumbnail,
	"tag:apple.com,2023:photo:aux:styledeltamap":        AuxiliaryTypeStyleDeltaMap,
}

// auxiliaryTypeFromURN classifies an auxC URN.
func auxiliaryTypeFromURN(urn string) AuxiliaryType {
	return auxiliaryTypeURNs[strings.TrimSpace(urn)]
}

// Mirror is the axis an image is flipped about before display.
type Mirror int

//go:generate stringer -type=Mirror -trimprefix=Mirror

const (
	MirrorNone Mirror = iota
	// Flipped about the vertical axis, left and right swap.
	MirrorVertical
	// Flipped about the horizontal axis, top and bottom swap.
	MirrorHorizontal
)

// ColorInfo is the content of a colr property.
type ColorInfo struct {
	// "nclx", "rICC" or "prof".
	ColorType string

	ColourPrimaries         uint16
	TransferCharacteristics uint16
	MatrixCoefficients      uint16
	FullRange               bool

	// Set for ICC profiles.
	ICCProfile []byte
}

// ContentLightLevel is the content of a clli property, in candelas per square metre.
type ContentLightLevel struct {
	MaxContentLightLevel    uint16
	MaxPicAverageLightLevel uint16
}

// Frame is one item of an image.
// Frames are created when the image is loaded and never change.
type Frame struct {
	img *Image
	id  uint32

	info  *itemInfoEntry // nil for items without an infe.
	props []box

	itemType       fourCC
	derivativeType fourCC
	auxURN         string
	auxType        AuxiliaryType

	exif *exifHandle
}

func newFrame(img *Image, id uint32) *Frame {
	items := img.items
	f := &Frame{
		img:   img,
		id:    id,
		info:  items.info(id),
		props: items.propertiesFor(id),
	}
	if f.info != nil {
		f.itemType = f.info.itemType
	}
	f.derivativeType, _ = items.firstReferenceType(id)
	if auxC, ok := findBox[*auxiliaryTypeBox](f.props); ok {
		f.auxURN = auxC.auxType
		f.auxType = auxiliaryTypeFromURN(auxC.auxType)
	}
	return f
}

// ID returns the item ID.
func (f *Frame) ID() uint32 {
	return f.id
}

// Width returns the width from the ispe property, 0 if there is none.
func (f *Frame) Width() int {
	if ispe, ok := findBox[*imageSpatialExtentsBox](f.props); ok {
		return int(ispe.width)
	}
	return 0
}

// Height returns the height from the ispe property, 0 if there is none.
func (f *Frame) Height() int {
	if ispe, ok := findBox[*imageSpatialExtentsBox](f.props); ok {
		return int(ispe.height)
	}
	return 0
}

// Hidden reports whether the item is flagged as not intended for display.
func (f *Frame) Hidden() bool {
	return f.info != nil && f.info.hidden()
}

// ItemType returns the item type, e.g. "hvc1", "grid" or "Exif".
func (f *Frame) ItemType() string {
	return f.itemType.String()
}

// Name returns the item name, often empty.
func (f *Frame) Name() string {
	if f.info == nil {
		return ""
	}
	return printableString(f.info.name)
}

// ContentType returns the MIME type of mime items.
func (f *Frame) ContentType() string {
	if f.info == nil {
		return ""
	}
	return f.info.contentType
}

// DerivativeType returns the type of the first reference from this item to
// another, e.g. "thmb" for a thumbnail or "auxl" for an auxiliary image.
// It is empty when the item references nothing.
func (f *Frame) DerivativeType() string {
	if f.derivativeType == (fourCC{}) {
		return ""
	}
	return f.derivativeType.String()
}

// AuxiliaryType returns the role of an auxiliary image.
func (f *Frame) AuxiliaryType() AuxiliaryType {
	return f.auxType
}

// AuxiliaryURN returns the raw auxC type URN, empty if there is none.
func (f *Frame) AuxiliaryURN() string {
	return f.auxURN
}

// Rotation returns the anti-clockwise rotation in degrees to apply for display.
func (f *Frame) Rotation() int {
	if irot, ok := findBox[*imageRotationBox](f.props); ok {
		return int(irot.angle) * 90
	}
	return 0
}

// Mirror returns the mirroring to apply for display.
func (f *Frame) Mirror() Mirror {
	imir, ok := findBox[*imageMirrorBox](f.props)
	if !ok {
		return MirrorNone
	}
	if imir.axis == 0 {
		return MirrorVertical
	}
	return MirrorHorizontal
}

// PixelAspectRatio returns the pixel aspect ratio from the pasp property.
func (f *Frame) PixelAspectRatio() (Rat, bool) {
	pasp, ok := findBox[*pixelAspectRatioBox](f.props)
	if !ok {
		return Rat{}, false
	}
	r, err := NewRat(pasp.hSpacing, pasp.vSpacing)
	if err != nil {
		return Rat{}, false
	}
	return r, true
}

// ContentLightLevel returns the clli property.
func (f *Frame) ContentLightLevel() (ContentLightLevel, bool) {
	clli, ok := findBox[*contentLightLevelBox](f.props)
	if !ok {
		return ContentLightLevel{}, false
	}
	return ContentLightLevel{
		MaxContentLightLevel:    clli.maxContentLightLevel,
		MaxPicAverageLightLevel: clli.maxPicAverageLightLevel,
	}, true
}

// ColorInfo returns the first colr property.
func (f *Frame) ColorInfo() (ColorInfo, bool) {
	colr, ok := findBox[*colourInformationBox](f.props)
	if !ok {
		return ColorInfo{}, false
	}
	return ColorInfo{
		ColorType:               colr.colourType.String(),
		ColourPrimaries:         colr.colourPrimaries,
		TransferCharacteristics: colr.transferCharacteristics,
		MatrixCoefficients:      colr.matrixCoefficients,
		FullRange:               colr.fullRange,
		ICCProfile:              colr.iccProfile,
	}, true
}

// nclx returns the nclx colour information, if any.
func (f *Frame) nclx() (*colourInformationBox, bool) {
	for _, p := range f.props {
		if colr, ok := p.(*colourInformationBox); ok && colr.colourType == fccNclx {
			return colr, true
		}
	}
	return nil, false
}

// BitDepths returns the bits per channel from the pixi property, or from the
// HEVC configuration when there is none.
func (f *Frame) BitDepths() []int {
	if pixi, ok := findBox[*pixelInformationBox](f.props); ok {
		depths := make([]int, len(pixi.bitsPerChannel))
		for i, b := range pixi.bitsPerChannel {
			depths[i] = int(b)
		}
		return depths
	}
	if hvcC, ok := f.hevcConfig(); ok {
		luma := int(hvcC.bitDepthLumaMinus8) + 8
		if hvcC.chromaFormatIDC == 0 {
			return []int{luma}
		}
		chroma := int(hvcC.bitDepthChromaMinus8) + 8
		return []int{luma, chroma, chroma}
	}
	return nil
}

func (f *Frame) hevcConfig() (*hevcDecoderConfig, bool) {
	if b, ok := findBox[*hevcConfigBox](f.props); ok {
		return &b.config, true
	}
	return nil, false
}

// IsPrimary reports whether this is the primary item of the image.
func (f *Frame) IsPrimary() bool {
	return f.id == f.img.items.primaryID
}

// Exif returns the EXIF block describing this frame, or nil if there is none.
// The returned value is shared with the other frames the block describes.
func (f *Frame) Exif() (*Exif, error) {
	if f.exif == nil {
		return nil, nil
	}
	return f.exif.get()
}

// HasImageData reports whether the item holds pixels, as opposed to metadata only.
func (f *Frame) HasImageData() bool {
	switch f.itemType {
	case itemTypeHvc1, itemTypeGrid, itemTypeIden:
		return true
	}
	return false
}
