// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package codec

import "github.com/go-lwm2m/anj/core"

// CBOREncoder implements the plain CBOR format (content-format 60): one
// CBOR item per payload, used for single-resource reads, writes and Send
// requests (scenario S1).
type CBOREncoder struct {
	base core.Path
	op   core.OperationKind

	hasEntry bool
	stage    []byte
	stagePos int
	ext      *extWriter
	extBytes bool
}

var _ Encoder = (*CBOREncoder)(nil)

func (e *CBOREncoder) Init(base core.Path, op core.OperationKind, itemCount int) error {
	*e = CBOREncoder{base: base, op: op}
	return nil
}

func (e *CBOREncoder) NewEntry(entry core.Entry) error {
	if e.hasEntry {
		return core.NewError(core.KindLogic, "cbor: previous entry not drained")
	}
	e.hasEntry = true
	e.stage = nil
	e.stagePos = 0
	e.ext = nil

	v := entry.Value
	switch v.Type {
	case core.ValueTypeInt:
		e.stage = cborAppendInt(nil, v.Int)
	case core.ValueTypeUint:
		e.stage = cborAppendUint(nil, v.Uint)
	case core.ValueTypeDouble:
		e.stage = cborAppendFloat64(nil, v.Double)
	case core.ValueTypeBool:
		e.stage = cborAppendBool(nil, v.Bool)
	case core.ValueTypeNull:
		e.stage = cborAppendNull(nil)
	case core.ValueTypeTime:
		e.stage = cborAppendTag(nil, cborTagEpochTime)
		e.stage = cborAppendInt(e.stage, v.Time)
	case core.ValueTypeString:
		e.stage = cborAppendTextHead(nil, v.String.ChunkLength)
		e.stage = append(e.stage, v.String.Data[:v.String.ChunkLength]...)
	case core.ValueTypeBytes:
		e.stage = cborAppendBytesHead(nil, v.Bytes.ChunkLength)
		e.stage = append(e.stage, v.Bytes.Data[:v.Bytes.ChunkLength]...)
	case core.ValueTypeExternalBytes, core.ValueTypeExternalString:
		e.ext = newExtWriter(v.External)
		e.extBytes = v.Type == core.ValueTypeExternalBytes
		// the length-prefixed CBOR string header needs the length up
		// front, and an external stream does not report one; this
		// encoder therefore rejects every external stream rather
		// than emitting it as an indefinite-length string.
		return core.NewError(core.KindUnsupportedFormat, "cbor: external streams require a known length")
	default:
		return core.NewError(core.KindIOType, "cbor: unsupported value type")
	}
	return nil
}

func (e *CBOREncoder) GetPayload(buf []byte) (int, error) {
	if !e.hasEntry {
		return 0, core.NewError(core.KindLogic, "cbor: no entry staged")
	}
	n := copy(buf, e.stage[e.stagePos:])
	e.stagePos += n
	if e.stagePos < len(e.stage) {
		return n, core.ErrNeedNextCall
	}
	e.hasEntry = false
	return n, nil
}

func (e *CBOREncoder) Finish(buf []byte) (int, error) { return 0, nil }

// CBORDecoder decodes a single plain-CBOR item (content-format 60) into
// one entry at the caller's base path.
type CBORDecoder struct {
	base     core.Path
	buf      []byte
	finished bool
	done     bool

	chunkQueue []core.Value
}

var _ Decoder = (*CBORDecoder)(nil)

func (d *CBORDecoder) Init(base core.Path) error {
	d.base = base
	d.buf = d.buf[:0]
	d.finished = false
	d.done = false
	d.chunkQueue = nil
	return nil
}

func (d *CBORDecoder) FeedPayload(buf []byte, finished bool) error {
	d.buf = append(d.buf, buf...)
	d.finished = d.finished || finished
	return nil
}

func (d *CBORDecoder) SetType(t core.ValueType) error {
	return core.NewError(core.KindLogic, "cbor: type is not ambiguous")
}

func (d *CBORDecoder) GetEntry() (core.Entry, error) {
	if len(d.chunkQueue) > 0 {
		v := d.chunkQueue[0]
		d.chunkQueue = d.chunkQueue[1:]
		if len(d.chunkQueue) == 0 {
			d.done = true
		}
		return core.Entry{Path: d.base, Value: v}, nil
	}
	if d.done {
		return core.Entry{}, core.ErrEOF
	}
	if !d.finished {
		return core.Entry{}, core.ErrWantNextPayload
	}
	chunks, _, err := decodeCBORItemChunks(d.buf, 0)
	if err != nil {
		return core.Entry{}, err
	}
	first := chunks[0]
	if len(chunks) > 1 {
		d.chunkQueue = chunks[1:]
		return core.Entry{Path: d.base, Value: first}, nil
	}
	d.done = true
	return core.Entry{Path: d.base, Value: first}, nil
}

// decodeCBORItem decodes one complete CBOR item starting at pos, returning
// the Value, the position just past it, and any format error. Indefinite
// byte/text strings are concatenated into a single resident Chunk; tag 1
// (epoch time) and tag 4 (decimal fraction) are interpreted per §4.4.
func decodeCBORItem(buf []byte, pos int) (core.Value, int, error) {
	head, ok := cborPeekHead(buf[pos:])
	if !ok {
		return core.Value{}, pos, core.NewError(core.KindFormatMismatch, "cbor: truncated item")
	}
	pos += head.HeadLen

	switch head.Major {
	case cborMajorUint:
		return core.UintValue(head.Arg), pos, nil
	case cborMajorNegInt:
		return core.IntValue(-1 - int64(head.Arg)), pos, nil
	case cborMajorBytes:
		return decodeCBORString(buf, pos, head, true)
	case cborMajorText:
		return decodeCBORString(buf, pos, head, false)
	case cborMajorArray:
		return core.Value{}, pos, core.NewError(core.KindIOType, "cbor: bare array not supported by this format")
	case cborMajorMap:
		return core.Value{}, pos, core.NewError(core.KindIOType, "cbor: bare map not supported by this format")
	case cborMajorTag:
		return decodeCBORTagged(buf, pos, head.Arg)
	case cborMajorSimple:
		switch head.Info {
		case cborAddFalse:
			return core.BoolValue(false), pos, nil
		case cborAddTrue:
			return core.BoolValue(true), pos, nil
		case cborAddNull, cborAddUndefined:
			return core.NullValue(), pos, nil
		case cborAddFloat16, cborAddFloat32, cborAddFloat64:
			f, err := cborFloatBits(head, buf)
			if err != nil {
				return core.Value{}, pos, err
			}
			return core.DoubleValue(f), pos, nil
		default:
			return core.Value{}, pos, core.NewError(core.KindFormatMismatch, "cbor: unsupported simple value")
		}
	default:
		return core.Value{}, pos, core.NewError(core.KindFormatMismatch, "cbor: unknown major type")
	}
}

func decodeCBORTagged(buf []byte, pos int, tag uint64) (core.Value, int, error) {
	switch tag {
	case cborTagEpochTime:
		v, next, err := decodeCBORItem(buf, pos)
		if err != nil {
			return core.Value{}, pos, err
		}
		i, err := v.AsInt()
		if err != nil {
			return core.Value{}, pos, core.NewError(core.KindFormatMismatch, "cbor: bad epoch time")
		}
		return core.TimeValue(i), next, nil
	case cborTagDecimalFraction:
		head, ok := cborPeekHead(buf[pos:])
		if !ok || head.Major != cborMajorArray || head.Arg != 2 {
			return core.Value{}, pos, core.NewError(core.KindFormatMismatch, "cbor: decimal fraction must be a 2-array")
		}
		pos += head.HeadLen
		expV, next, err := decodeCBORItem(buf, pos)
		if err != nil {
			return core.Value{}, pos, err
		}
		pos = next
		mV, next, err := decodeCBORItem(buf, pos)
		if err != nil {
			return core.Value{}, pos, err
		}
		exp, err1 := expV.AsInt()
		mant, err2 := mV.AsInt()
		if err1 != nil || err2 != nil {
			return core.Value{}, pos, core.NewError(core.KindFormatMismatch, "cbor: decimal fraction operands must be integers")
		}
		return core.DoubleValue(cborDecimalFractionToFloat(exp, mant)), next, nil
	default:
		// unknown tag: decode and discard the tagged item, returning
		// its bare value.
		return decodeCBORItem(buf, pos)
	}
}

// decodeCBORItemChunks is decodeCBORItem's chunk-preserving counterpart: for
// a byte/text string item it returns every concrete chunk as its own Value
// instead of concatenating them, per §4.4's "indefinite-length byte/text
// strings return each concrete chunk as a separate event" rule. Every other
// major type has no chunking concept and comes back as a single-element
// slice.
func decodeCBORItemChunks(buf []byte, pos int) ([]core.Value, int, error) {
	head, ok := cborPeekHead(buf[pos:])
	if !ok {
		return nil, pos, core.NewError(core.KindFormatMismatch, "cbor: truncated item")
	}
	bodyPos := pos + head.HeadLen
	switch head.Major {
	case cborMajorBytes:
		return decodeCBORStringChunks(buf, bodyPos, head, true)
	case cborMajorText:
		return decodeCBORStringChunks(buf, bodyPos, head, false)
	default:
		v, next, err := decodeCBORItem(buf, pos)
		if err != nil {
			return nil, pos, err
		}
		return []core.Value{v}, next, nil
	}
}

// decodeCBORStringChunks decodes a byte/text string item body starting at
// pos (just past its head), returning its wire chunks in order. A
// definite-length string is always a single chunk whose FullLengthHint
// equals its own length; an indefinite-length string yields one chunk per
// concrete segment with Offset tracking progress, and only the terminating
// chunk carries a non-zero FullLengthHint (the running total, now known).
func decodeCBORStringChunks(buf []byte, pos int, head cborValue, isBytes bool) ([]core.Value, int, error) {
	if head.Info != cborAddIndefinite {
		n := int(head.Arg)
		if pos+n > len(buf) {
			return nil, pos, core.NewError(core.KindFormatMismatch, "cbor: truncated string")
		}
		data := buf[pos : pos+n]
		pos += n
		if isBytes {
			return []core.Value{core.BytesValue(data)}, pos, nil
		}
		return []core.Value{core.StringValue(string(data))}, pos, nil
	}

	var chunks []core.Value
	offset := 0
	for {
		if pos >= len(buf) {
			return nil, pos, core.NewError(core.KindFormatMismatch, "cbor: unterminated indefinite string")
		}
		if buf[pos] == 0xFF {
			pos++
			break
		}
		chead, ok := cborPeekHead(buf[pos:])
		if !ok || chead.Info == cborAddIndefinite {
			return nil, pos, core.NewError(core.KindFormatMismatch, "cbor: malformed indefinite string chunk")
		}
		pos += chead.HeadLen
		n := int(chead.Arg)
		if pos+n > len(buf) {
			return nil, pos, core.NewError(core.KindFormatMismatch, "cbor: truncated string chunk")
		}
		data := buf[pos : pos+n]
		pos += n
		chunk := core.Chunk{Data: data, ChunkLength: n, Offset: offset}
		v := core.Value{Type: core.ValueTypeString, String: chunk}
		if isBytes {
			v = core.Value{Type: core.ValueTypeBytes, Bytes: chunk}
		}
		chunks = append(chunks, v)
		offset += n
	}
	if len(chunks) == 0 {
		empty := core.Chunk{}
		v := core.Value{Type: core.ValueTypeString, String: empty}
		if isBytes {
			v = core.Value{Type: core.ValueTypeBytes, Bytes: empty}
		}
		return []core.Value{v}, pos, nil
	}
	last := &chunks[len(chunks)-1]
	if isBytes {
		last.Bytes.FullLengthHint = offset
	} else {
		last.String.FullLengthHint = offset
	}
	return chunks, pos, nil
}

// decodeCBORString is decodeCBORItemChunks' concatenating counterpart, kept
// for contexts where a complete value is needed regardless of wire chunking
// (tag operands, map keys): nested uses where the chunk-by-chunk streaming
// contract does not apply.
func decodeCBORString(buf []byte, pos int, head cborValue, isBytes bool) (core.Value, int, error) {
	if head.Info != cborAddIndefinite {
		n := int(head.Arg)
		if pos+n > len(buf) {
			return core.Value{}, pos, core.NewError(core.KindFormatMismatch, "cbor: truncated string")
		}
		data := buf[pos : pos+n]
		pos += n
		if isBytes {
			return core.BytesValue(data), pos, nil
		}
		return core.StringValue(string(data)), pos, nil
	}

	// indefinite-length: concatenate definite-length chunks until break.
	var out []byte
	for {
		if pos >= len(buf) {
			return core.Value{}, pos, core.NewError(core.KindFormatMismatch, "cbor: unterminated indefinite string")
		}
		if buf[pos] == 0xFF {
			pos++
			break
		}
		chead, ok := cborPeekHead(buf[pos:])
		if !ok || chead.Info == cborAddIndefinite {
			return core.Value{}, pos, core.NewError(core.KindFormatMismatch, "cbor: malformed indefinite string chunk")
		}
		pos += chead.HeadLen
		n := int(chead.Arg)
		if pos+n > len(buf) {
			return core.Value{}, pos, core.NewError(core.KindFormatMismatch, "cbor: truncated string chunk")
		}
		out = append(out, buf[pos:pos+n]...)
		pos += n
	}
	if isBytes {
		return core.BytesValue(out), pos, nil
	}
	return core.StringValue(string(out)), pos, nil
}
