// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package heic

import (
	"fmt"
	"io"
	"slices"
)

// Reference types between items.
var (
	refThumbnail    = fourCC{'t', 'h', 'm', 'b'}
	refAuxiliary    = fourCC{'a', 'u', 'x', 'l'}
	refDerivedImage = fourCC{'d', 'i', 'm', 'g'}
)

var handlerPict = fourCC{'p', 'i', 'c', 't'}

// itemRegistry indexes the items of a meta box.
// It is built once and never modified.
type itemRegistry struct {
	handlerType fourCC
	primaryID   uint32

	// Item IDs in declaration order: iinf first, then any item only present in iloc.
	ids []uint32

	infos      map[uint32]*itemInfoEntry
	locations  map[uint32]itemLocation
	properties map[uint32][]box
	refs       []itemReference
	groups     []*entityToGroupBox
	idat       []byte
}

func newItemRegistry(meta *metaBox, warnf func(string, ...any)) (*itemRegistry, error) {
	r := &itemRegistry{
		infos:      make(map[uint32]*itemInfoEntry),
		locations:  make(map[uint32]itemLocation),
		properties: make(map[uint32][]box),
	}

	hdlr, ok := findBox[*handlerBox](meta.children)
	if !ok {
		return nil, newStructuralErrorf("meta box has no hdlr box")
	}
	r.handlerType = hdlr.handlerType
	if r.handlerType != handlerPict {
		warnf("heic: unexpected meta handler %q", r.handlerType)
	}

	pitm, ok := findBox[*primaryItemBox](meta.children)
	if !ok {
		return nil, newStructuralErrorf("meta box has no pitm box")
	}
	r.primaryID = pitm.itemID

	iinf, ok := findBox[*itemInfoBox](meta.children)
	if !ok {
		return nil, newStructuralErrorf("meta box has no iinf box")
	}
	for _, e := range iinf.entries {
		if _, found := r.infos[e.itemID]; found {
			warnf("heic: duplicate infe for item %d, keeping the first", e.itemID)
			continue
		}
		r.infos[e.itemID] = e
		r.ids = append(r.ids, e.itemID)
	}

	iloc, ok := findBox[*itemLocationBox](meta.children)
	if !ok {
		return nil, newStructuralErrorf("meta box has no iloc box")
	}
	for _, loc := range iloc.items {
		if _, found := r.locations[loc.itemID]; found {
			continue
		}
		r.locations[loc.itemID] = loc
		if _, found := r.infos[loc.itemID]; !found {
			r.ids = append(r.ids, loc.itemID)
		}
	}

	if iref, ok := findBox[*itemReferenceBox](meta.children); ok {
		r.refs = iref.references
	}

	if idat, ok := findBox[*itemDataBox](meta.children); ok {
		r.idat = idat.data
	}

	for _, c := range meta.children {
		cb, ok := c.(*containerBox)
		if !ok || cb.typ != fccGrpl {
			continue
		}
		for _, g := range cb.children {
			if eg, ok := g.(*entityToGroupBox); ok {
				r.groups = append(r.groups, eg)
			}
		}
	}

	r.resolveProperties(meta, warnf)

	if _, found := r.infos[r.primaryID]; !found {
		if _, found := r.locations[r.primaryID]; !found {
			return nil, newStructuralErrorf("primary item %d not found", r.primaryID)
		}
	}

	return r, nil
}

func (r *itemRegistry) resolveProperties(meta *metaBox, warnf func(string, ...any)) {
	var iprp *containerBox
	for _, c := range meta.children {
		if cb, ok := c.(*containerBox); ok && cb.typ == fccIprp {
			iprp = cb
			break
		}
	}
	if iprp == nil {
		return
	}

	var ipco []box
	for _, c := range iprp.children {
		if cb, ok := c.(*containerBox); ok && cb.typ == fccIpco {
			ipco = cb.children
			break
		}
	}

	for _, c := range iprp.children {
		ipma, ok := c.(*itemPropertyAssociationBox)
		if !ok {
			continue
		}
		for _, e := range ipma.entries {
			for _, a := range e.associations {
				if a.index == 0 {
					// No property.
					continue
				}
				if int(a.index) > len(ipco) {
					warnf("heic: item %d references unknown property index %d", e.itemID, a.index)
					continue
				}
				r.properties[e.itemID] = append(r.properties[e.itemID], ipco[a.index-1])
			}
		}
	}
}

// location returns the location entry for id.
func (r *itemRegistry) location(id uint32) (itemLocation, bool) {
	loc, ok := r.locations[id]
	return loc, ok
}

// info returns the item info entry for id, or nil.
func (r *itemRegistry) info(id uint32) *itemInfoEntry {
	return r.infos[id]
}

// propertiesFor returns the properties associated with id in association order.
func (r *itemRegistry) propertiesFor(id uint32) []box {
	return r.properties[id]
}

// derivedFrom returns the items that id points at through any reference,
// in declaration order and without duplicates.
// For an EXIF item these are the images it describes.
func (r *itemRegistry) derivedFrom(id uint32) []uint32 {
	var ids []uint32
	for _, ref := range r.refs {
		if ref.fromItemID != id {
			continue
		}
		for _, to := range ref.toItemIDs {
			if !slices.Contains(ids, to) {
				ids = append(ids, to)
			}
		}
	}
	return ids
}

// references returns the targets of references of the given type from id.
func (r *itemRegistry) references(id uint32, typ fourCC) []uint32 {
	var ids []uint32
	for _, ref := range r.refs {
		if ref.fromItemID == id && ref.referenceType == typ {
			ids = append(ids, ref.toItemIDs...)
		}
	}
	return ids
}

// referencingItems returns the items with a reference of the given type to id.
func (r *itemRegistry) referencingItems(id uint32, typ fourCC) []uint32 {
	var ids []uint32
	for _, ref := range r.refs {
		if ref.referenceType == typ && slices.Contains(ref.toItemIDs, id) {
			ids = append(ids, ref.fromItemID)
		}
	}
	return ids
}

// firstReferenceType returns the type of the first reference declared from id.
func (r *itemRegistry) firstReferenceType(id uint32) (fourCC, bool) {
	for _, ref := range r.refs {
		if ref.fromItemID == id {
			return ref.referenceType, true
		}
	}
	return fourCC{}, false
}

// alternativeGroups returns the altr groups in declaration order.
func (r *itemRegistry) alternativeGroups() []*entityToGroupBox {
	var groups []*entityToGroupBox
	for _, g := range r.groups {
		if g.typ == fccAltr {
			groups = append(groups, g)
		}
	}
	return groups
}

// itemData reads the payload of item id by concatenating its extents.
func (r *itemRegistry) itemData(s *streamReader, id uint32, limit uint64) ([]byte, error) {
	loc, ok := r.location(id)
	if !ok {
		return nil, newRangeErrorf("item %d has no location", id)
	}
	if loc.totalLength() > limit {
		return nil, newStructuralErrorf("item %d is larger than %d bytes", id, limit)
	}
	if loc.dataReferenceIndex != 0 {
		return nil, newDecodeErrorf("item %d is stored in an external file", id)
	}

	switch loc.constructionMethod {
	case 0:
		return r.fileData(s, loc, limit)
	case 1:
		return r.idatData(loc, limit)
	default:
		return nil, newDecodeErrorf("item %d uses unsupported construction method %d", id, loc.constructionMethod)
	}
}

func (r *itemRegistry) fileData(s *streamReader, loc itemLocation, limit uint64) ([]byte, error) {
	var out []byte
	for _, e := range loc.extents {
		start := loc.baseOffset + e.offset
		length := e.length
		if length == 0 {
			// The extent runs to the end of the file.
			if start > uint64(s.size) {
				return nil, newStructuralErrorf("item %d extent offset %d is past the end of the file", loc.itemID, start)
			}
			length = uint64(s.size) - start
		}
		if uint64(len(out))+length > limit {
			return nil, newStructuralErrorf("item %d is larger than %d bytes", loc.itemID, limit)
		}
		if start+length > uint64(s.size) || start+length < start {
			return nil, newStructuralErrorf("item %d extent [%d, %d) is outside the file", loc.itemID, start, start+length)
		}
		if err := func() error {
			br, err := s.bufferedReader(int64(start), int64(length), limit)
			if err != nil {
				return err
			}
			defer br.Close()
			n := len(out)
			out = slices.Grow(out, int(length))[:n+int(length)]
			_, err = io.ReadFull(br, out[n:])
			return err
		}(); err != nil {
			return nil, newStructuralError(fmt.Errorf("item %d: %w", loc.itemID, err))
		}
	}
	return out, nil
}

func (r *itemRegistry) idatData(loc itemLocation, limit uint64) ([]byte, error) {
	var out []byte
	for _, e := range loc.extents {
		start := loc.baseOffset + e.offset
		length := e.length
		if length == 0 {
			length = uint64(len(r.idat)) - min(start, uint64(len(r.idat)))
		}
		if start+length > uint64(len(r.idat)) || start+length < start {
			return nil, newStructuralErrorf("item %d extent [%d, %d) is outside idat", loc.itemID, start, start+length)
		}
		if uint64(len(out))+length > limit {
			return nil, newStructuralErrorf("item %d is larger than %d bytes", loc.itemID, limit)
		}
		out = append(out, r.idat[start:start+length]...)
	}
	return out, nil
}
