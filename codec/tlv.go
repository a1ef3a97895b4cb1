// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package codec

import "github.com/go-lwm2m/anj/core"

// TLV identifier kinds, packed into bits 7-6 of the type byte.
const (
	tlvKindObjectInstance   = 0
	tlvKindResourceInstance = 1
	tlvKindMultipleResource = 2
	tlvKindResource         = 3
)

func tlvIsContainerKind(k byte) bool {
	return k == tlvKindObjectInstance || k == tlvKindMultipleResource
}

// TLVEncoder implements the tag-length-value binary format (content-format
// 11542): nested identifier headers with embedded or explicit length
// encoding. Container frames (Object Instance, Multiple Resource) reserve
// a fixed 2-byte length field when opened and are back-patched once their
// last child has been written, either because a later entry diverges
// above them or because Finish is called.
type TLVEncoder struct {
	base core.Path
	op   core.OperationKind

	buf      []byte
	drainPos int
	stack    []tlvEncFrame
	prevRel  []core.ID
	finished bool
}

type tlvEncFrame struct {
	id           core.ID
	lenFieldPos  int // offset of the reserved 2-byte length field
	contentStart int // offset where the frame's content begins
}

var _ Encoder = (*TLVEncoder)(nil)

func (e *TLVEncoder) Init(base core.Path, op core.OperationKind, itemCount int) error {
	*e = TLVEncoder{base: base, op: op}
	return nil
}

func (e *TLVEncoder) NewEntry(entry core.Entry) error {
	if entry.Path.OutsideBase(e.base) {
		return core.NewError(core.KindInputArg, "tlv: entry path outside base path")
	}
	relLen := entry.Path.Length() - e.base.Length()
	if relLen < 1 || relLen > 3 {
		return core.NewError(core.KindInputArg, "tlv: entry path must be 1-3 levels below base")
	}
	rel := make([]core.ID, relLen)
	for i := 0; i < relLen; i++ {
		rel[i] = entry.Path.ID(e.base.Length() + i)
	}
	if e.prevRel != nil {
		k := 0
		for k < len(rel) && k < len(e.prevRel) && rel[k] == e.prevRel[k] {
			k++
		}
		if k == len(rel) || (k < len(e.prevRel) && rel[k] < e.prevRel[k]) {
			return core.NewError(core.KindLogic, "tlv: path ids must strictly increase at each level")
		}
	}

	isNullContainer := entry.Value.Type == core.ValueTypeNull
	containerPath := rel[:len(rel)-1]
	if isNullContainer {
		containerPath = rel
	}

	if err := e.closeAndOpen(containerPath); err != nil {
		return err
	}

	if isNullContainer {
		// Immediately close the frame just opened: a zero-length
		// container means an empty object instance.
		f := e.stack[len(e.stack)-1]
		e.stack = e.stack[:len(e.stack)-1]
		patchTLVLength(e.buf, f.lenFieldPos, 0)
		e.prevRel = rel
		return nil
	}

	absDepth := e.base.Length() + len(rel)
	leafKind := byte(tlvKindResource)
	if absDepth == 4 {
		leafKind = tlvKindResourceInstance
	}
	leafID := rel[len(rel)-1]

	val, err := encodeTLVScalar(entry.Value)
	if err != nil {
		return err
	}
	e.buf = appendTLVHeader(e.buf, leafKind, leafID, len(val))
	e.buf = append(e.buf, val...)
	e.prevRel = rel
	return nil
}

// closeAndOpen walks the stack down to the common prefix of path and the
// previously open containers, closing (back-patching) everything deeper,
// then opens fresh container frames for the remaining path segments.
func (e *TLVEncoder) closeAndOpen(path []core.ID) error {
	k := 0
	for k < len(e.stack) && k < len(path) && e.stack[k].id == path[k] {
		k++
	}
	// ordering: at the first diverging level, the new id must exceed the
	// previously open one (no duplicate/decreasing siblings).
	if k < len(e.stack) && k < len(path) && path[k] <= e.stack[k].id {
		return core.NewError(core.KindLogic, "tlv: path ids must strictly increase at each level")
	}

	for len(e.stack) > k {
		top := e.stack[len(e.stack)-1]
		e.stack = e.stack[:len(e.stack)-1]
		patchTLVLength(e.buf, top.lenFieldPos, len(e.buf)-top.contentStart)
	}

	for i := k; i < len(path); i++ {
		kind := byte(tlvKindObjectInstance)
		if e.base.Length()+i+1 == 3 {
			kind = tlvKindMultipleResource
		}
		e.buf = appendTLVHeaderReserved(e.buf, kind, path[i])
		lenFieldPos := len(e.buf) - 2
		e.stack = append(e.stack, tlvEncFrame{id: path[i], lenFieldPos: lenFieldPos, contentStart: len(e.buf)})
	}
	return nil
}

func (e *TLVEncoder) GetPayload(buf []byte) (int, error) {
	// bytes from the outermost open frame's length field onwards are held
	// back until that field has been back-patched.
	end := len(e.buf)
	if len(e.stack) > 0 {
		end = e.stack[0].lenFieldPos
	}
	n := copy(buf, e.buf[e.drainPos:end])
	e.drainPos += n
	if e.drainPos < end {
		return n, core.ErrNeedNextCall
	}
	return n, nil
}

func (e *TLVEncoder) Finish(buf []byte) (int, error) {
	if !e.finished {
		e.finished = true
		for len(e.stack) > 0 {
			top := e.stack[len(e.stack)-1]
			e.stack = e.stack[:len(e.stack)-1]
			patchTLVLength(e.buf, top.lenFieldPos, len(e.buf)-top.contentStart)
		}
	}
	return e.GetPayload(buf)
}

// appendTLVHeader writes a complete leaf header (type byte + id + minimal
// length encoding) with no placeholder: the value length is already known.
func appendTLVHeader(dst []byte, kind byte, id core.ID, length int) []byte {
	idWidth := byte(1)
	if id > 0xFF {
		idWidth = 1
	} else {
		idWidth = 0
	}
	var typeByte byte
	switch {
	case length < 8:
		typeByte = kind<<6 | idWidth<<5 | byte(length)
		dst = append(dst, typeByte)
	case length <= 0xFF:
		typeByte = kind<<6 | idWidth<<5 | 1<<3
		dst = append(dst, typeByte, byte(length))
	case length <= 0xFFFF:
		typeByte = kind<<6 | idWidth<<5 | 2<<3
		dst = append(dst, typeByte, byte(length>>8), byte(length))
	default:
		typeByte = kind<<6 | idWidth<<5 | 3<<3
		dst = append(dst, typeByte, byte(length>>16), byte(length>>8), byte(length))
	}
	return appendTLVID(dst, idWidth, id)
}

// appendTLVHeaderReserved writes a container header with a fixed 2-byte
// length field, reserved as zero and back-patched once the
// container's content length is known.
func appendTLVHeaderReserved(dst []byte, kind byte, id core.ID) []byte {
	idWidth := byte(0)
	if id > 0xFF {
		idWidth = 1
	}
	typeByte := kind<<6 | idWidth<<5 | 2<<3
	dst = append(dst, typeByte)
	dst = appendTLVIDRaw(dst, idWidth, id)
	return append(dst, 0, 0)
}

func appendTLVID(dst []byte, idWidth byte, id core.ID) []byte {
	return appendTLVIDRaw(dst, idWidth, id)
}

func appendTLVIDRaw(dst []byte, idWidth byte, id core.ID) []byte {
	if idWidth == 0 {
		return append(dst, byte(id))
	}
	return append(dst, byte(id>>8), byte(id))
}

func patchTLVLength(buf []byte, lenFieldPos int, length int) {
	buf[lenFieldPos] = byte(length >> 8)
	buf[lenFieldPos+1] = byte(length)
}

// encodeTLVScalar renders a leaf Value's raw bytes per §4.5's fixed-width
// big-endian encoding.
func encodeTLVScalar(v core.Value) ([]byte, error) {
	switch v.Type {
	case core.ValueTypeInt:
		return tlvMinimalInt(v.Int), nil
	case core.ValueTypeUint:
		return tlvMinimalUint(v.Uint), nil
	case core.ValueTypeTime:
		return tlvMinimalInt(v.Time), nil
	case core.ValueTypeDouble:
		return cborAppendFloat64(nil, v.Double)[1:], nil // reuse the 8-byte big-endian bit pattern
	case core.ValueTypeBool:
		if v.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case core.ValueTypeObjLink:
		return []byte{byte(v.ObjLink.ObjectID >> 8), byte(v.ObjLink.ObjectID), byte(v.ObjLink.InstanceID >> 8), byte(v.ObjLink.InstanceID)}, nil
	case core.ValueTypeString:
		return append([]byte(nil), v.String.Data[:v.String.ChunkLength]...), nil
	case core.ValueTypeBytes:
		return append([]byte(nil), v.Bytes.Data[:v.Bytes.ChunkLength]...), nil
	default:
		return nil, core.NewError(core.KindIOType, "tlv: unsupported value type")
	}
}

// tlvMinimalInt/tlvMinimalUint pick the narrowest power-of-two width (1, 2,
// 4 or 8 bytes) that holds the value, per the decoder's "width must be a
// power of two <= 8" rule.
func tlvMinimalInt(v int64) []byte {
	switch {
	case v >= -0x80 && v <= 0x7F:
		return []byte{byte(v)}
	case v >= -0x8000 && v <= 0x7FFF:
		return []byte{byte(v >> 8), byte(v)}
	case v >= -0x80000000 && v <= 0x7FFFFFFF:
		return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	default:
		return []byte{byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32), byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

func tlvMinimalUint(v uint64) []byte {
	switch {
	case v <= 0xFF:
		return []byte{byte(v)}
	case v <= 0xFFFF:
		return []byte{byte(v >> 8), byte(v)}
	case v <= 0xFFFFFFFF:
		return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	default:
		return []byte{byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32), byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

// --- decoder ---

type tlvDecFrame struct {
	id     core.ID
	endPos int
}

type tlvPending struct {
	path     core.Path
	raw      []byte
	resolved *core.Value
}

// TLVDecoder decodes a TLV payload, maintaining a stack of at most 4
// frames (MaxPathLength) mirroring the maximum path depth. Scalar leaves
// carry no type tag on the wire, so GetEntry reports them via
// core.ErrWantTypeDisambiguation until SetType is called.
type TLVDecoder struct {
	base     core.Path
	buf      []byte
	pos      int
	finished bool
	stack    []tlvDecFrame
	pending  *tlvPending
}

var _ Decoder = (*TLVDecoder)(nil)

func (d *TLVDecoder) Init(base core.Path) error {
	d.base = base
	d.buf = d.buf[:0]
	d.pos = 0
	d.finished = false
	d.stack = nil
	d.pending = nil
	return nil
}

func (d *TLVDecoder) FeedPayload(buf []byte, finished bool) error {
	d.buf = append(d.buf, buf...)
	d.finished = d.finished || finished
	return nil
}

func (d *TLVDecoder) SetType(t core.ValueType) error {
	if d.pending == nil {
		return core.NewError(core.KindLogic, "tlv: no pending disambiguation")
	}
	v, err := decodeTLVScalar(t, d.pending.raw)
	if err != nil {
		return err
	}
	d.pending.resolved = &v
	return nil
}

func (d *TLVDecoder) path(id core.ID) core.Path {
	ids := make([]core.ID, 0, MaxPathAppend)
	for i := 0; i < d.base.Length(); i++ {
		ids = append(ids, d.base.ID(i))
	}
	for _, f := range d.stack {
		ids = append(ids, f.id)
	}
	ids = append(ids, id)
	p, _ := core.MakePath(ids...)
	return p
}

// MaxPathAppend bounds the scratch slice built by path(): base depth (<=4)
// plus stack depth (<=4) plus the new leaf, generously sized.
const MaxPathAppend = 9

func (d *TLVDecoder) GetEntry() (core.Entry, error) {
	if d.pending != nil {
		if d.pending.resolved != nil {
			e := core.Entry{Path: d.pending.path, Value: *d.pending.resolved}
			d.pending = nil
			return e, nil
		}
		return core.Entry{Path: d.pending.path}, core.ErrWantTypeDisambiguation
	}

	for {
		for len(d.stack) > 0 && d.pos >= d.stack[len(d.stack)-1].endPos {
			d.stack = d.stack[:len(d.stack)-1]
		}
		if d.pos >= len(d.buf) {
			if !d.finished {
				return core.Entry{}, core.ErrWantNextPayload
			}
			if len(d.stack) > 0 {
				return core.Entry{}, core.NewError(core.KindFormatMismatch, "tlv: unterminated frame")
			}
			return core.Entry{}, core.ErrEOF
		}

		headerStart := d.pos
		b := d.buf[d.pos]
		if b == 0xFF {
			return core.Entry{}, core.NewError(core.KindFormatMismatch, "tlv: reserved type byte 0xFF")
		}
		kind := (b >> 6) & 0x3
		idWidth := (b >> 5) & 0x1
		lenType := (b >> 3) & 0x3
		embLen := int(b & 0x7)
		d.pos++

		idBytes := 1
		if idWidth == 1 {
			idBytes = 2
		}
		if d.pos+idBytes > len(d.buf) {
			if !d.finished {
				d.pos = headerStart
				return core.Entry{}, core.ErrWantNextPayload
			}
			return core.Entry{}, core.NewError(core.KindFormatMismatch, "tlv: truncated identifier")
		}
		var id int
		if idWidth == 0 {
			id = int(d.buf[d.pos])
			d.pos++
		} else {
			id = int(d.buf[d.pos])<<8 | int(d.buf[d.pos+1])
			d.pos += 2
		}

		var length int
		switch lenType {
		case 0:
			length = embLen
		case 1:
			if d.pos+1 > len(d.buf) {
				if !d.finished {
					d.pos = headerStart
					return core.Entry{}, core.ErrWantNextPayload
				}
				return core.Entry{}, core.NewError(core.KindFormatMismatch, "tlv: truncated length")
			}
			length = int(d.buf[d.pos])
			d.pos++
		case 2:
			if d.pos+2 > len(d.buf) {
				if !d.finished {
					d.pos = headerStart
					return core.Entry{}, core.ErrWantNextPayload
				}
				return core.Entry{}, core.NewError(core.KindFormatMismatch, "tlv: truncated length")
			}
			length = int(d.buf[d.pos])<<8 | int(d.buf[d.pos+1])
			d.pos += 2
		case 3:
			if d.pos+3 > len(d.buf) {
				if !d.finished {
					d.pos = headerStart
					return core.Entry{}, core.ErrWantNextPayload
				}
				return core.Entry{}, core.NewError(core.KindFormatMismatch, "tlv: truncated length")
			}
			length = int(d.buf[d.pos])<<16 | int(d.buf[d.pos+1])<<8 | int(d.buf[d.pos+2])
			d.pos += 3
		}

		path := d.path(core.ID(id))

		if tlvIsContainerKind(kind) {
			if length == 0 {
				return core.Entry{Path: path, Value: core.NullValue()}, nil
			}
			if len(d.stack) >= core.MaxPathLength {
				return core.Entry{}, core.NewError(core.KindFormatMismatch, "tlv: nesting exceeds maximum path depth")
			}
			d.stack = append(d.stack, tlvDecFrame{id: core.ID(id), endPos: d.pos + length})
			continue
		}

		if length == 0 {
			return core.Entry{Path: path, Value: core.BytesValue(nil)}, nil
		}
		if d.pos+length > len(d.buf) {
			if !d.finished {
				d.pos = headerStart
				return core.Entry{}, core.ErrWantNextPayload
			}
			return core.Entry{}, core.NewError(core.KindFormatMismatch, "tlv: truncated value")
		}
		raw := d.buf[d.pos : d.pos+length]
		d.pos += length
		d.pending = &tlvPending{path: path, raw: raw}
		return core.Entry{Path: path}, core.ErrWantTypeDisambiguation
	}
}

func decodeTLVScalar(t core.ValueType, raw []byte) (core.Value, error) {
	switch t {
	case core.ValueTypeInt, core.ValueTypeTime:
		n, err := tlvDecodeBigEndianInt(raw)
		if err != nil {
			return core.Value{}, err
		}
		if t == core.ValueTypeTime {
			return core.TimeValue(n), nil
		}
		return core.IntValue(n), nil
	case core.ValueTypeUint:
		n, err := tlvDecodeBigEndianUint(raw)
		if err != nil {
			return core.Value{}, err
		}
		return core.UintValue(n), nil
	case core.ValueTypeDouble:
		switch len(raw) {
		case 4:
			v, _, err := decodeCBORItem(append([]byte{cborMajorSimple<<5 | cborAddFloat32}, raw...), 0)
			return v, err
		case 8:
			v, _, err := decodeCBORItem(append([]byte{cborMajorSimple<<5 | cborAddFloat64}, raw...), 0)
			return v, err
		default:
			return core.Value{}, core.NewError(core.KindFormatMismatch, "tlv: double width must be 4 or 8")
		}
	case core.ValueTypeBool:
		if len(raw) != 1 || raw[0] > 1 {
			return core.Value{}, core.NewError(core.KindFormatMismatch, "tlv: bad bool encoding")
		}
		return core.BoolValue(raw[0] == 1), nil
	case core.ValueTypeObjLink:
		if len(raw) != 4 {
			return core.Value{}, core.NewError(core.KindFormatMismatch, "tlv: object link width must be 4")
		}
		oid := core.ID(raw[0])<<8 | core.ID(raw[1])
		iid := core.ID(raw[2])<<8 | core.ID(raw[3])
		return core.ObjLinkValue(oid, iid), nil
	case core.ValueTypeBytes:
		return core.BytesValue(raw), nil
	case core.ValueTypeString:
		return core.StringValue(string(raw)), nil
	default:
		return core.Value{}, core.NewError(core.KindIOType, "tlv: unsupported target type")
	}
}

func tlvDecodeBigEndianInt(raw []byte) (int64, error) {
	if !isPow2LE8(len(raw)) {
		return 0, core.NewError(core.KindFormatMismatch, "tlv: int width must be a power of two <= 8")
	}
	var u uint64
	for _, b := range raw {
		u = u<<8 | uint64(b)
	}
	shift := uint(64 - 8*len(raw))
	return int64(u<<shift) >> shift, nil
}

func tlvDecodeBigEndianUint(raw []byte) (uint64, error) {
	if !isPow2LE8(len(raw)) {
		return 0, core.NewError(core.KindFormatMismatch, "tlv: uint width must be a power of two <= 8")
	}
	var u uint64
	for _, b := range raw {
		u = u<<8 | uint64(b)
	}
	return u, nil
}

func isPow2LE8(n int) bool {
	switch n {
	case 1, 2, 4, 8:
		return true
	default:
		return false
	}
}
