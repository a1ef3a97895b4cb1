// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package core

// AttrFlag marks which fields of an AttrSet are present; a field with its
// flag unset must be ignored regardless of its zero value.
type AttrFlag uint32

const (
	AttrMinPeriod AttrFlag = 1 << iota
	AttrMaxPeriod
	AttrGreaterThan
	AttrLessThan
	AttrStep
	AttrMinEvalPeriod
	AttrMaxEvalPeriod
	AttrConfirmableNotify
	AttrEdge
	AttrEpochMin
	AttrEpochMax
	AttrEndpoint
	AttrLifetime
	AttrBinding
	AttrSMSNumber
	AttrQueueMode
	AttrLwM2MVersion
)

// AttrSet carries the Discover/Register/Bootstrap decoration attributes.
// Presence is tracked by Flags; a zero-valued field with its flag unset
// must not be emitted.
type AttrSet struct {
	Flags AttrFlag

	MinPeriod      int64
	MaxPeriod      int64
	GreaterThan    float64
	LessThan       float64
	Step           float64
	MinEvalPeriod  int64
	MaxEvalPeriod  int64
	ConfirmableNotify bool
	Edge           bool
	EpochMin       int64
	EpochMax       int64

	Endpoint     string
	Lifetime     int64
	Binding      string
	SMSNumber    string
	QueueMode    bool
	LwM2MVersion string
}

// Has reports whether f is present in the set.
func (a AttrSet) Has(f AttrFlag) bool { return a.Flags&f != 0 }

// Set marks f as present, returning the mutated set for chaining.
func (a AttrSet) Set(f AttrFlag) AttrSet {
	a.Flags |= f
	return a
}

// OperationKind names the management operation an output/input context is
// being driven for; it governs which formats are admissible and how the
// dispatcher's heuristic in §4.9 behaves.
type OperationKind int

const (
	OpRead OperationKind = iota
	OpWrite
	OpExecute
	OpCreate
	OpDelete
	OpDiscover
	OpObserve
	OpNotify
	OpSend
	OpBootstrapWrite
	OpBootstrapDiscover
	OpRegister
	OpComposite
)

// IsReadLike reports whether op is one of the operations §4.9's simple-
// format heuristic applies to.
func (op OperationKind) IsReadLike() bool {
	switch op {
	case OpRead, OpObserve, OpNotify, OpComposite:
		return true
	default:
		return false
	}
}

// ContentFormat is the CoAP Content-Format number for one of the wire
// formats this module knows how to encode or decode.
type ContentFormat int

// The content-format numbers fixed by §6.
const (
	FormatUnspecified   ContentFormat = -1
	FormatPlainText     ContentFormat = 0
	FormatOpaque        ContentFormat = 42
	FormatCBOR          ContentFormat = 60
	FormatSenMLCBOR     ContentFormat = 112
	FormatSenMLETCHCBOR ContentFormat = 322
	FormatLinkFormat    ContentFormat = 40
	FormatTLV           ContentFormat = 11542
	FormatLwM2MCBOR     ContentFormat = 11544
)

func (f ContentFormat) String() string {
	switch f {
	case FormatPlainText:
		return "text/plain"
	case FormatOpaque:
		return "application/octet-stream"
	case FormatCBOR:
		return "application/cbor"
	case FormatSenMLCBOR:
		return "application/senml+cbor"
	case FormatSenMLETCHCBOR:
		return "application/senml-etch+cbor"
	case FormatLinkFormat:
		return "application/link-format"
	case FormatTLV:
		return "application/vnd.oma.lwm2m+tlv"
	case FormatLwM2MCBOR:
		return "application/vnd.oma.lwm2m+cbor"
	default:
		return "unspecified"
	}
}
