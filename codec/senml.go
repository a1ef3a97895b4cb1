// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package codec

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-lwm2m/anj/core"
)

// SenML-CBOR integer map keys, per RFC 8428 plus the object-link extension
// carried under the reserved text key "vlo".
const (
	senmlKeyBaseTime = -2
	senmlKeyBaseName = -1
	senmlKeyName     = 0
	senmlKeyValue    = 2
	senmlKeyString   = 3
	senmlKeyBool     = 4
	senmlKeyTime     = 6
	senmlKeyDataValue = 8
)

const senmlKeyObjLink = "vlo"

// SenMLEncoder implements the SenML-CBOR format (content-format 112): a
// CBOR array of maps, one per entry. Each map carries the entry's full path
// as its name; no base-name is emitted.
type SenMLEncoder struct {
	base core.Path
	op   core.OperationKind

	buf      []byte
	drainPos int
	prevName string
	started  bool
	finished bool
}

var _ Encoder = (*SenMLEncoder)(nil)

func (e *SenMLEncoder) Init(base core.Path, op core.OperationKind, itemCount int) error {
	*e = SenMLEncoder{base: base, op: op}
	e.buf = cborAppendArrayHead(e.buf, itemCount)
	return nil
}

func (e *SenMLEncoder) NewEntry(entry core.Entry) error {
	if entry.Path.OutsideBase(e.base) {
		return core.NewError(core.KindInputArg, "senml: entry path outside base path")
	}
	name := entry.Path.String()

	fieldCount := 1 // name is always present (base-name factoring is an optional optimization we skip for simplicity)
	if entry.Value.Type != core.ValueTypeNull {
		fieldCount++
	}
	e.buf = cborAppendMapHead(e.buf, fieldCount)
	e.buf = cborAppendInt(e.buf, senmlKeyName)
	e.buf = cborAppendTextHead(e.buf, len(name))
	e.buf = append(e.buf, name...)

	switch entry.Value.Type {
	case core.ValueTypeNull:
		// name-only map: a composite-read query spec or an empty
		// object instance.
	case core.ValueTypeInt:
		e.buf = cborAppendInt(e.buf, senmlKeyValue)
		e.buf = cborAppendInt(e.buf, entry.Value.Int)
	case core.ValueTypeUint:
		e.buf = cborAppendInt(e.buf, senmlKeyValue)
		e.buf = cborAppendUint(e.buf, entry.Value.Uint)
	case core.ValueTypeDouble:
		e.buf = cborAppendInt(e.buf, senmlKeyValue)
		e.buf = cborAppendFloat64(e.buf, entry.Value.Double)
	case core.ValueTypeBool:
		e.buf = cborAppendInt(e.buf, senmlKeyBool)
		e.buf = cborAppendBool(e.buf, entry.Value.Bool)
	case core.ValueTypeString:
		e.buf = cborAppendInt(e.buf, senmlKeyString)
		e.buf = cborAppendTextHead(e.buf, entry.Value.String.ChunkLength)
		e.buf = append(e.buf, entry.Value.String.Data[:entry.Value.String.ChunkLength]...)
	case core.ValueTypeBytes:
		e.buf = cborAppendInt(e.buf, senmlKeyDataValue)
		e.buf = cborAppendBytesHead(e.buf, entry.Value.Bytes.ChunkLength)
		e.buf = append(e.buf, entry.Value.Bytes.Data[:entry.Value.Bytes.ChunkLength]...)
	case core.ValueTypeTime:
		e.buf = cborAppendInt(e.buf, senmlKeyTime)
		e.buf = cborAppendInt(e.buf, entry.Value.Time)
	case core.ValueTypeObjLink:
		s := strconv.Itoa(int(entry.Value.ObjLink.ObjectID)) + ":" + strconv.Itoa(int(entry.Value.ObjLink.InstanceID))
		e.buf = cborAppendTextHead(e.buf, len(senmlKeyObjLink))
		e.buf = append(e.buf, senmlKeyObjLink...)
		e.buf = cborAppendTextHead(e.buf, len(s))
		e.buf = append(e.buf, s...)
	default:
		return core.NewError(core.KindIOType, "senml: unsupported value type")
	}
	return nil
}

func (e *SenMLEncoder) GetPayload(buf []byte) (int, error) {
	n := copy(buf, e.buf[e.drainPos:])
	e.drainPos += n
	if e.drainPos < len(e.buf) {
		return n, core.ErrNeedNextCall
	}
	return n, nil
}

func (e *SenMLEncoder) Finish(buf []byte) (int, error) { return e.GetPayload(buf) }

// --- decoder ---

// SenMLDecoder decodes a SenML-CBOR payload. Name handling is sticky: a
// base-name persists across entries until a new one appears; a map with
// no name uses the last base-name alone. See §4.6.
type SenMLDecoder struct {
	base     core.Path
	buf      []byte
	pos      int
	finished bool

	baseName string
	baseTime int64

	entryCount    int
	entryCountSet bool
	indefinite    bool
	entriesSeen   int

	pending *senmlPending

	chunkQueue []core.Value
	chunkPath  core.Path
}

type senmlPending struct {
	path core.Path
	raw  rawSenMLValue
}

// rawSenMLValue captures a still-to-be-typed decoded CBOR value plus which
// SenML key it arrived under, since int/uint and double share key 2 and
// §4.6's numeric coercion rules depend on knowing the wire representation.
type rawSenMLValue struct {
	key   int
	value core.Value
}

var _ Decoder = (*SenMLDecoder)(nil)
var _ EntryCount = (*SenMLDecoder)(nil)

func (d *SenMLDecoder) Init(base core.Path) error {
	d.base = base
	d.buf = d.buf[:0]
	d.pos = 0
	d.finished = false
	d.baseName = ""
	d.baseTime = 0
	d.entryCount = 0
	d.entryCountSet = false
	d.indefinite = false
	d.entriesSeen = 0
	d.pending = nil
	d.chunkQueue = nil
	d.chunkPath = core.Path{}
	return nil
}

func (d *SenMLDecoder) FeedPayload(buf []byte, finished bool) error {
	d.buf = append(d.buf, buf...)
	d.finished = d.finished || finished
	return nil
}

// Count reports the outer array's declared entry count. It is only valid
// once the first entry has been successfully parsed (so the array header
// has been consumed) and the array used definite-length framing.
func (d *SenMLDecoder) Count() (int, error) {
	if d.indefinite {
		return 0, core.ErrFormatMismatch
	}
	if !d.entryCountSet {
		return 0, core.NewError(core.KindLogic, "senml: count not yet known, decode an entry first")
	}
	return d.entryCount, nil
}

func (d *SenMLDecoder) ensureArrayHeader() error {
	if d.entryCountSet || d.indefinite {
		return nil
	}
	head, ok := cborPeekHead(d.buf[d.pos:])
	if !ok {
		return core.ErrWantNextPayload
	}
	if head.Major != cborMajorArray {
		return core.NewError(core.KindFormatMismatch, "senml: payload is not a CBOR array")
	}
	d.pos += head.HeadLen
	if head.Info == cborAddIndefinite {
		d.indefinite = true
	} else {
		d.entryCount = int(head.Arg)
		d.entryCountSet = true
	}
	return nil
}

func (d *SenMLDecoder) SetType(t core.ValueType) error {
	if d.pending == nil {
		return core.NewError(core.KindLogic, "senml: no pending disambiguation")
	}
	v, err := coerceSenMLValue(d.pending.raw, t)
	if err != nil {
		return err
	}
	d.pending.raw.value = v
	d.pending.raw.key = -999 // mark resolved
	return nil
}

func (d *SenMLDecoder) GetEntry() (core.Entry, error) {
	if len(d.chunkQueue) > 0 {
		v := d.chunkQueue[0]
		d.chunkQueue = d.chunkQueue[1:]
		return core.Entry{Path: d.chunkPath, Value: v}, nil
	}
	if d.pending != nil {
		if d.pending.raw.key == -999 {
			e := core.Entry{Path: d.pending.path, Value: d.pending.raw.value}
			d.pending = nil
			return e, nil
		}
		return core.Entry{Path: d.pending.path}, core.ErrWantTypeDisambiguation
	}

	if err := d.ensureArrayHeader(); err != nil {
		return core.Entry{}, err
	}

	for {
		if d.indefinite {
			if d.pos >= len(d.buf) {
				if !d.finished {
					return core.Entry{}, core.ErrWantNextPayload
				}
				return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: unterminated indefinite array")
			}
			if d.buf[d.pos] == 0xFF {
				d.pos++
				return core.Entry{}, core.ErrEOF
			}
		} else {
			if d.entriesSeen >= d.entryCount {
				return core.Entry{}, core.ErrEOF
			}
		}

		entry, err := d.decodeOneMap()
		if errors.Is(err, core.ErrWantTypeDisambiguation) {
			d.entriesSeen++
			return entry, err
		}
		if err != nil {
			return core.Entry{}, err
		}
		d.entriesSeen++
		return entry, nil
	}
}

// decodeOneMap parses one SenML map, resolves its path against the sticky
// base-name, and either returns the entry directly (value types that
// carry their own unambiguous CBOR representation: bool, string, bytes,
// time, object-link, null) or stashes it as pending for SetType (keys 2
// covers int/uint/double, which all share the numeric CBOR major types).
func (d *SenMLDecoder) decodeOneMap() (core.Entry, error) {
	head, ok := cborPeekHead(d.buf[d.pos:])
	if !ok {
		return core.Entry{}, core.ErrWantNextPayload
	}
	if head.Major != cborMajorMap {
		return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: array element must be a map")
	}
	d.pos += head.HeadLen
	nPairs := int(head.Arg)
	if head.Info == cborAddIndefinite {
		return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: indefinite maps are not supported")
	}

	var name string
	haveName, haveBaseName := false, false
	var numeric *core.Value
	var haveBool, boolVal bool
	var stringChunks []core.Value
	var bytesChunks []core.Value
	var haveTime bool
	var timeVal int64
	var haveObjLink bool
	var objLinkVal string

	for i := 0; i < nPairs; i++ {
		keyHead, ok := cborPeekHead(d.buf[d.pos:])
		if !ok {
			return core.Entry{}, core.ErrWantNextPayload
		}

		if keyHead.Major == cborMajorText {
			// only the reserved "vlo" text key is recognised.
			v, next, err := decodeCBORItem(d.buf, d.pos)
			if err != nil {
				return core.Entry{}, err
			}
			d.pos = next
			if v.Type != core.ValueTypeString || v.String.Data == nil {
				return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: bad text key")
			}
			key := string(v.String.Data[:v.String.ChunkLength])
			val, next, err := decodeCBORItem(d.buf, d.pos)
			if err != nil {
				return core.Entry{}, err
			}
			d.pos = next
			if key == senmlKeyObjLink {
				if haveObjLink {
					return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: duplicate vlo key")
				}
				if val.Type != core.ValueTypeString {
					return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: vlo must be a string")
				}
				objLinkVal = string(val.String.Data[:val.String.ChunkLength])
				haveObjLink = true
			}
			continue
		}

		if keyHead.Major != cborMajorUint && keyHead.Major != cborMajorNegInt {
			return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: map key must be integer or text")
		}
		keyVal, next, err := decodeCBORItem(d.buf, d.pos)
		if err != nil {
			return core.Entry{}, err
		}
		d.pos = next
		key, err := keyVal.AsInt()
		if err != nil {
			return core.Entry{}, err
		}

		switch key {
		case senmlKeyBaseName:
			if haveBaseName {
				return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: duplicate base-name")
			}
			v, next, err := decodeCBORItem(d.buf, d.pos)
			if err != nil {
				return core.Entry{}, err
			}
			d.pos = next
			if v.Type != core.ValueTypeString {
				return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: base-name must be a string")
			}
			d.baseName = string(v.String.Data[:v.String.ChunkLength])
			haveBaseName = true
		case senmlKeyBaseTime:
			v, next, err := decodeCBORItem(d.buf, d.pos)
			if err != nil {
				return core.Entry{}, err
			}
			d.pos = next
			i, err := v.AsInt()
			if err != nil {
				return core.Entry{}, err
			}
			d.baseTime = i
		case senmlKeyName:
			if haveName {
				return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: duplicate name")
			}
			v, next, err := decodeCBORItem(d.buf, d.pos)
			if err != nil {
				return core.Entry{}, err
			}
			d.pos = next
			if v.Type != core.ValueTypeString {
				return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: name must be a string")
			}
			name = string(v.String.Data[:v.String.ChunkLength])
			haveName = true
		case senmlKeyValue:
			v, next, err := decodeCBORItem(d.buf, d.pos)
			if err != nil {
				return core.Entry{}, err
			}
			d.pos = next
			if v.Type != core.ValueTypeInt && v.Type != core.ValueTypeUint && v.Type != core.ValueTypeDouble {
				return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: value key holds a non-numeric CBOR item")
			}
			numeric = &v
		case senmlKeyString:
			chunks, next, err := decodeCBORItemChunks(d.buf, d.pos)
			if err != nil {
				return core.Entry{}, err
			}
			d.pos = next
			for _, c := range chunks {
				if c.Type != core.ValueTypeString {
					return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: string-value key must hold a text string")
				}
			}
			stringChunks = chunks
		case senmlKeyBool:
			v, next, err := decodeCBORItem(d.buf, d.pos)
			if err != nil {
				return core.Entry{}, err
			}
			d.pos = next
			if v.Type != core.ValueTypeBool {
				return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: bool-value key must hold a CBOR bool")
			}
			boolVal = v.Bool
			haveBool = true
		case senmlKeyTime:
			v, next, err := decodeCBORItem(d.buf, d.pos)
			if err != nil {
				return core.Entry{}, err
			}
			d.pos = next
			i, err := v.AsInt()
			if err != nil {
				return core.Entry{}, err
			}
			timeVal = i
			haveTime = true
		case senmlKeyDataValue:
			chunks, next, err := decodeCBORItemChunks(d.buf, d.pos)
			if err != nil {
				return core.Entry{}, err
			}
			d.pos = next
			for _, c := range chunks {
				if c.Type != core.ValueTypeBytes {
					return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: data-value key must hold CBOR bytes")
				}
			}
			bytesChunks = chunks
		default:
			_, next, err := decodeCBORItem(d.buf, d.pos)
			if err != nil {
				return core.Entry{}, err
			}
			d.pos = next
		}
	}

	fullName := d.baseName
	if haveName {
		fullName += name
	}
	path, err := parseSenMLPath(fullName)
	if err != nil {
		return core.Entry{}, err
	}
	if path.OutsideBase(d.base) {
		return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: path outside base path")
	}

	switch {
	case numeric != nil:
		d.pending = &senmlPending{path: path, raw: rawSenMLValue{key: senmlKeyValue, value: *numeric}}
		return core.Entry{Path: path}, core.ErrWantTypeDisambiguation
	case stringChunks != nil:
		first := stringChunks[0]
		if len(stringChunks) > 1 {
			d.chunkQueue = stringChunks[1:]
			d.chunkPath = path
		}
		return core.Entry{Path: path, Value: first}, nil
	case haveBool:
		return core.Entry{Path: path, Value: core.BoolValue(boolVal)}, nil
	case bytesChunks != nil:
		first := bytesChunks[0]
		if len(bytesChunks) > 1 {
			d.chunkQueue = bytesChunks[1:]
			d.chunkPath = path
		}
		return core.Entry{Path: path, Value: first}, nil
	case haveTime:
		return core.Entry{Path: path, Value: core.TimeValue(timeVal)}, nil
	case haveObjLink:
		parts := strings.SplitN(objLinkVal, ":", 2)
		if len(parts) != 2 {
			return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: bad object link")
		}
		oid, e1 := strconv.ParseUint(parts[0], 10, 16)
		iid, e2 := strconv.ParseUint(parts[1], 10, 16)
		if e1 != nil || e2 != nil {
			return core.Entry{}, core.NewError(core.KindFormatMismatch, "senml: bad object link")
		}
		return core.Entry{Path: path, Value: core.ObjLinkValue(core.ID(oid), core.ID(iid))}, nil
	default:
		return core.Entry{Path: path, Value: core.NullValue()}, nil
	}
}

// coerceSenMLValue applies §4.6's numeric coercion rules when the caller
// resolves a want-type-disambiguation for a key-2 numeric value.
func coerceSenMLValue(raw rawSenMLValue, t core.ValueType) (core.Value, error) {
	switch t {
	case core.ValueTypeInt:
		n, err := raw.value.AsInt()
		if err != nil {
			return core.Value{}, core.NewError(core.KindFormatMismatch, err.Error())
		}
		return core.IntValue(n), nil
	case core.ValueTypeUint:
		n, err := raw.value.AsUint()
		if err != nil {
			return core.Value{}, core.NewError(core.KindFormatMismatch, err.Error())
		}
		return core.UintValue(n), nil
	case core.ValueTypeDouble:
		f, err := raw.value.AsDouble()
		if err != nil {
			return core.Value{}, core.NewError(core.KindFormatMismatch, err.Error())
		}
		return core.DoubleValue(f), nil
	default:
		return core.Value{}, core.NewError(core.KindIOType, "senml: target type incompatible with key 2")
	}
}

// parseSenMLPath parses the concatenated base-name+name as a
// slash-separated /o[/i[/r[/ri]]] path.
func parseSenMLPath(s string) (core.Path, error) {
	s = strings.TrimPrefix(s, "/")
	if s == "" {
		return core.MakePath()
	}
	parts := strings.Split(s, "/")
	if len(parts) > core.MaxPathLength {
		return core.Path{}, core.NewError(core.KindFormatMismatch, "senml: path has more than 4 segments")
	}
	ids := make([]core.ID, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil || n >= uint64(core.IDInvalid) {
			return core.Path{}, core.NewError(core.KindFormatMismatch, "senml: bad path segment")
		}
		ids[i] = core.ID(n)
	}
	return core.MakePath(ids...)
}
