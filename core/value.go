// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package core

// ValueType tags the concrete payload carried by a Value.
type ValueType int

// The value types a codec can carry. ValueTypeExternalBytes and
// ValueTypeExternalString never appear on the decode side: they are
// encoder-only, feeding a user callback lazily instead of a resident
// buffer.
const (
	ValueTypeNull ValueType = iota
	ValueTypeInt
	ValueTypeUint
	ValueTypeDouble
	ValueTypeBool
	ValueTypeBytes
	ValueTypeString
	ValueTypeObjLink
	ValueTypeTime
	ValueTypeExternalBytes
	ValueTypeExternalString
)

// ObjLink is an object-link value: an object id paired with an instance id.
type ObjLink struct {
	ObjectID   ID
	InstanceID ID
}

// Chunk describes one piece of a bytes/string value that may be streamed
// across several encode/decode calls. Offset and ChunkLength track progress
// within the logical value; FullLengthHint is 0 when the total length is
// not yet known (the writer-side analogue of an indefinite-length string).
type Chunk struct {
	Data           []byte
	ChunkLength    int
	Offset         int
	FullLengthHint int
}

// ExternalOpenFunc, ExternalGetChunkFunc and ExternalCloseFunc are the three
// lifecycle hooks behind an external data stream. Open may be nil (no setup
// needed); GetChunk is required; Close may be nil (nothing to release).
// GetChunk returns the bytes written into buf, whether more chunks remain,
// and an error.
type ExternalOpenFunc func(arg interface{}) error
type ExternalGetChunkFunc func(arg interface{}, buf []byte, offset int) (n int, more bool, err error)
type ExternalCloseFunc func(arg interface{})

// ExternalStream bundles the three hooks plus the opaque argument passed to
// each of them.
type ExternalStream struct {
	Arg      interface{}
	Open     ExternalOpenFunc
	GetChunk ExternalGetChunkFunc
	Close    ExternalCloseFunc
}

// Value is the tagged union carried on every codec entry: a leaf scalar, a
// chunk of a streamed bytes/string value, or (encoder side only) a
// reference to an external stream that produces bytes lazily.
type Value struct {
	Type     ValueType
	Int      int64
	Uint     uint64
	Double   float64
	Bool     bool
	Bytes    Chunk
	String   Chunk
	ObjLink  ObjLink
	Time     int64
	External ExternalStream
}

// NullValue, IntValue, UintValue, DoubleValue, BoolValue, ObjLinkValue and
// TimeValue are constructors for the scalar variants.
func NullValue() Value                 { return Value{Type: ValueTypeNull} }
func IntValue(v int64) Value           { return Value{Type: ValueTypeInt, Int: v} }
func UintValue(v uint64) Value         { return Value{Type: ValueTypeUint, Uint: v} }
func DoubleValue(v float64) Value      { return Value{Type: ValueTypeDouble, Double: v} }
func BoolValue(v bool) Value           { return Value{Type: ValueTypeBool, Bool: v} }
func ObjLinkValue(o, i ID) Value       { return Value{Type: ValueTypeObjLink, ObjLink: ObjLink{ObjectID: o, InstanceID: i}} }
func TimeValue(v int64) Value          { return Value{Type: ValueTypeTime, Time: v} }

// BytesValue wraps a complete, non-streamed byte slice as a single chunk
// whose FullLengthHint equals its own length.
func BytesValue(b []byte) Value {
	return Value{Type: ValueTypeBytes, Bytes: Chunk{Data: b, ChunkLength: len(b), FullLengthHint: len(b)}}
}

// StringValue wraps a complete, non-streamed string as a single chunk.
func StringValue(s string) Value {
	b := []byte(s)
	return Value{Type: ValueTypeString, String: Chunk{Data: b, ChunkLength: len(b), FullLengthHint: len(b)}}
}

// ExternalBytesValue and ExternalStringValue wrap a lazily-produced stream;
// the encoder drives Open/GetChunk/Close itself.
func ExternalBytesValue(s ExternalStream) Value {
	return Value{Type: ValueTypeExternalBytes, External: s}
}
func ExternalStringValue(s ExternalStream) Value {
	return Value{Type: ValueTypeExternalString, External: s}
}

// AsInt coerces the value to int64 per the numeric coercion rules: an
// unsigned integer that fits, or a float that is exactly representable as
// an integer, converts; anything else is a format mismatch.
func (v Value) AsInt() (int64, error) {
	switch v.Type {
	case ValueTypeInt:
		return v.Int, nil
	case ValueTypeUint:
		if v.Uint > 1<<63-1 {
			return 0, NewError(KindFormatMismatch, "unsigned value does not fit in int64")
		}
		return int64(v.Uint), nil
	case ValueTypeDouble:
		if v.Double != float64(int64(v.Double)) {
			return 0, NewError(KindFormatMismatch, "double is not an exact integer")
		}
		return int64(v.Double), nil
	default:
		return 0, NewError(KindFormatMismatch, "value is not integer-coercible")
	}
}

// AsUint is the unsigned counterpart of AsInt.
func (v Value) AsUint() (uint64, error) {
	switch v.Type {
	case ValueTypeUint:
		return v.Uint, nil
	case ValueTypeInt:
		if v.Int < 0 {
			return 0, NewError(KindFormatMismatch, "negative value is not unsigned-coercible")
		}
		return uint64(v.Int), nil
	case ValueTypeDouble:
		if v.Double < 0 || v.Double != float64(uint64(v.Double)) {
			return 0, NewError(KindFormatMismatch, "double is not an exact unsigned integer")
		}
		return uint64(v.Double), nil
	default:
		return 0, NewError(KindFormatMismatch, "value is not unsigned-coercible")
	}
}

// AsDouble coerces int/uint/double to float64.
func (v Value) AsDouble() (float64, error) {
	switch v.Type {
	case ValueTypeDouble:
		return v.Double, nil
	case ValueTypeInt:
		return float64(v.Int), nil
	case ValueTypeUint:
		return float64(v.Uint), nil
	default:
		return 0, NewError(KindFormatMismatch, "value is not double-coercible")
	}
}

// Entry pairs a Path with the Value found (or to be written) there. It is
// the unit every codec streams in and out.
type Entry struct {
	Path Path
	Value Value
}
