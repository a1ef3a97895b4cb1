// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package codec

import (
	"strconv"
	"strings"

	"github.com/go-lwm2m/anj/base64enc"
	"github.com/go-lwm2m/anj/core"
)

// TextEncoder implements the Plain Text format (content-format 0): a
// single scalar value rendered as ASCII, with bytes base64-encoded.
type TextEncoder struct {
	base core.Path
	op   core.OperationKind

	hasEntry bool
	hadEntry bool
	stage    []byte
	stagePos int

	ext       *extWriter
	extIsText bool
}

var _ Encoder = (*TextEncoder)(nil)

// Init resets the encoder. Plain Text carries one value per payload; a
// larger itemCount is accepted (the dispatcher only ever chooses this
// format for itemCount<=1) but every entry after the first is rejected by
// NewEntry with KindLogic.
func (e *TextEncoder) Init(base core.Path, op core.OperationKind, itemCount int) error {
	*e = TextEncoder{base: base, op: op}
	return nil
}

// NewEntry stages the entry's serialized form (or, for an external stream,
// remembers the stream to drive lazily from GetPayload).
func (e *TextEncoder) NewEntry(entry core.Entry) error {
	if e.hasEntry {
		return core.NewError(core.KindLogic, "text: previous entry not drained")
	}
	if e.hadEntry {
		return core.NewError(core.KindLogic, "text: only one value per payload")
	}
	e.hasEntry = true
	e.hadEntry = true
	e.stage = nil
	e.stagePos = 0
	e.ext = nil

	v := entry.Value
	switch v.Type {
	case core.ValueTypeInt:
		e.stage = strconv.AppendInt(nil, v.Int, 10)
	case core.ValueTypeUint:
		e.stage = strconv.AppendUint(nil, v.Uint, 10)
	case core.ValueTypeDouble:
		e.stage = appendShortestDouble(nil, v.Double)
	case core.ValueTypeBool:
		if v.Bool {
			e.stage = []byte{'1'}
		} else {
			e.stage = []byte{'0'}
		}
	case core.ValueTypeObjLink:
		e.stage = []byte(strconv.Itoa(int(v.ObjLink.ObjectID)) + ":" + strconv.Itoa(int(v.ObjLink.InstanceID)))
	case core.ValueTypeTime:
		e.stage = strconv.AppendInt(nil, v.Time, 10)
	case core.ValueTypeString:
		e.stage = append([]byte(nil), v.String.Data[:v.String.ChunkLength]...)
	case core.ValueTypeBytes:
		e.stage = base64enc.Encode(v.Bytes.Data[:v.Bytes.ChunkLength])
	case core.ValueTypeExternalBytes:
		e.ext = newExtWriter(v.External)
		e.extIsText = false
	case core.ValueTypeExternalString:
		e.ext = newExtWriter(v.External)
		e.extIsText = true
	default:
		return core.NewError(core.KindIOType, "text: unsupported value type")
	}
	return nil
}

// GetPayload drains the staged bytes or the external stream into buf.
func (e *TextEncoder) GetPayload(buf []byte) (int, error) {
	if !e.hasEntry {
		return 0, core.NewError(core.KindLogic, "text: no entry staged")
	}
	if e.ext != nil {
		n, done, err := e.ext.fill(buf, !e.extIsText)
		if err != nil {
			return n, err
		}
		if done {
			e.hasEntry = false
			return n, nil
		}
		return n, core.ErrNeedNextCall
	}

	n := copy(buf, e.stage[e.stagePos:])
	e.stagePos += n
	if e.stagePos < len(e.stage) {
		return n, core.ErrNeedNextCall
	}
	e.hasEntry = false
	return n, nil
}

// Finish is a no-op: Plain Text carries no closing framing.
func (e *TextEncoder) Finish(buf []byte) (int, error) { return 0, nil }

func appendShortestDouble(dst []byte, f float64) []byte {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") && !strings.Contains(s, "Inf") && !strings.Contains(s, "NaN") {
		s += ".0"
	}
	return append(dst, s...)
}

// TextDecoder decodes a Plain Text payload (content-format 0) into a
// single entry at the caller's base path, with the target value type
// supplied ahead of time since the wire format carries none.
type TextDecoder struct {
	base core.Path
	typ  core.ValueType

	buf      []byte
	finished bool
	done     bool
}

var _ Decoder = (*TextDecoder)(nil)

// NewTextDecoder builds a decoder that will interpret the payload bytes as
// typ once fully received (Plain Text never emits want-type-disambiguation:
// the caller supplies the type up front, mirroring how a data-model
// handler already knows the resource's declared type).
func NewTextDecoder(typ core.ValueType) *TextDecoder {
	return &TextDecoder{typ: typ}
}

func (d *TextDecoder) Init(base core.Path) error {
	d.base = base
	d.buf = d.buf[:0]
	d.finished = false
	d.done = false
	return nil
}

func (d *TextDecoder) FeedPayload(buf []byte, finished bool) error {
	d.buf = append(d.buf, buf...)
	d.finished = d.finished || finished
	return nil
}

func (d *TextDecoder) SetType(t core.ValueType) error {
	d.typ = t
	return nil
}

func (d *TextDecoder) GetEntry() (core.Entry, error) {
	if d.done {
		return core.Entry{}, core.ErrEOF
	}
	if !d.finished {
		return core.Entry{}, core.ErrWantNextPayload
	}
	d.done = true
	v, err := decodeTextValue(d.typ, d.buf)
	if err != nil {
		return core.Entry{}, err
	}
	return core.Entry{Path: d.base, Value: v}, nil
}

func decodeTextValue(typ core.ValueType, buf []byte) (core.Value, error) {
	s := string(buf)
	switch typ {
	case core.ValueTypeInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return core.Value{}, core.NewError(core.KindFormatMismatch, "text: bad integer")
		}
		return core.IntValue(n), nil
	case core.ValueTypeUint:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return core.Value{}, core.NewError(core.KindFormatMismatch, "text: bad unsigned integer")
		}
		return core.UintValue(n), nil
	case core.ValueTypeDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return core.Value{}, core.NewError(core.KindFormatMismatch, "text: bad double")
		}
		return core.DoubleValue(f), nil
	case core.ValueTypeBool:
		switch s {
		case "0":
			return core.BoolValue(false), nil
		case "1":
			return core.BoolValue(true), nil
		default:
			return core.Value{}, core.NewError(core.KindFormatMismatch, "text: bad bool")
		}
	case core.ValueTypeObjLink:
		parts := strings.SplitN(s, ":", 2)
		if len(parts) != 2 {
			return core.Value{}, core.NewError(core.KindFormatMismatch, "text: bad object link")
		}
		oid, err1 := strconv.ParseUint(parts[0], 10, 16)
		iid, err2 := strconv.ParseUint(parts[1], 10, 16)
		if err1 != nil || err2 != nil {
			return core.Value{}, core.NewError(core.KindFormatMismatch, "text: bad object link")
		}
		return core.ObjLinkValue(core.ID(oid), core.ID(iid)), nil
	case core.ValueTypeTime:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return core.Value{}, core.NewError(core.KindFormatMismatch, "text: bad time")
		}
		return core.TimeValue(n), nil
	case core.ValueTypeString:
		return core.StringValue(s), nil
	case core.ValueTypeBytes:
		if len(buf) == 0 {
			return core.BytesValue(nil), nil
		}
		decoded, err := base64enc.DecodeInPlace(append([]byte(nil), buf...))
		if err != nil {
			return core.Value{}, core.NewError(core.KindFormatMismatch, "text: bad base64")
		}
		return core.BytesValue(decoded), nil
	default:
		return core.Value{}, core.NewError(core.KindIOType, "text: unsupported target type")
	}
}
