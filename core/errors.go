// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package core

import "errors"

// Kind classifies the non-fatal and fatal statuses that the codecs and the
// exchange state machine return. A Kind is carried inside a CodecError so
// callers can switch on the category without string matching.
type Kind int

// The kinds defined by the codec and exchange contract. See the package-level
// errors below for the sentinel values most callers compare against with
// errors.Is.
const (
	// KindNone marks a nil/zero Kind; CodecError never reports it.
	KindNone Kind = iota
	// KindInputArg means the caller violated a precondition: wrong path
	// kind, broken ordering, malformed version string.
	KindInputArg
	// KindIOType means the value's type does not fit the selected format
	// or operation.
	KindIOType
	// KindFormatMismatch means the input bytes are syntactically invalid
	// or semantically inconsistent.
	KindFormatMismatch
	// KindUnsupportedFormat means the requested content format is not
	// compiled in, or not allowed for this operation.
	KindUnsupportedFormat
	// KindLogic means the API was called out of the order its contract
	// permits (e.g. NewEntry before the previous entry finished).
	KindLogic
	// KindDepthWarning is non-fatal: a Discover entry exceeded the
	// configured depth. The caller is expected to skip the entry.
	KindDepthWarning
	// KindNeedNextCall is non-fatal: a partial result was produced,
	// call again with the same arguments and an advanced buffer.
	KindNeedNextCall
	// KindWantNextPayload is non-fatal (decoder): feed more input.
	KindWantNextPayload
	// KindWantTypeDisambiguation is non-fatal (decoder): the wire
	// format carries no type for this leaf, the caller must supply one.
	KindWantTypeDisambiguation
	// KindEOF is normal completion of a decoder stream.
	KindEOF
)

func (k Kind) String() string {
	switch k {
	case KindInputArg:
		return "input-arg"
	case KindIOType:
		return "io-type"
	case KindFormatMismatch:
		return "format-mismatch"
	case KindUnsupportedFormat:
		return "unsupported-format"
	case KindLogic:
		return "logic"
	case KindDepthWarning:
		return "depth-warning"
	case KindNeedNextCall:
		return "need-next-call"
	case KindWantNextPayload:
		return "want-next-payload"
	case KindWantTypeDisambiguation:
		return "want-type-disambiguation"
	case KindEOF:
		return "eof"
	default:
		return "none"
	}
}

// CodecError is the single error type returned by every codec and by the
// exchange engine's non-transport failures. Non-fatal kinds (NeedNextCall,
// WantNextPayload, WantTypeDisambiguation, DepthWarning, EOF) are ordinary
// control-flow signals, not failures; callers branch on Kind rather than on
// the message text.
type CodecError struct {
	Kind Kind
	Msg  string
}

func (e *CodecError) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

// Is reports whether target is a CodecError carrying the same Kind, so
// errors.Is(err, core.ErrFormatMismatch) works without exposing the message.
func (e *CodecError) Is(target error) bool {
	t, ok := target.(*CodecError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError builds a CodecError with an associated message, useful when the
// failure needs context beyond the Kind (an offending field name, an index).
func NewError(kind Kind, msg string) *CodecError {
	return &CodecError{Kind: kind, Msg: msg}
}

// Package-level sentinels for the common kinds; compare with errors.Is.
var (
	ErrInputArg               = &CodecError{Kind: KindInputArg}
	ErrIOType                 = &CodecError{Kind: KindIOType}
	ErrFormatMismatch         = &CodecError{Kind: KindFormatMismatch}
	ErrUnsupportedFormat      = &CodecError{Kind: KindUnsupportedFormat}
	ErrLogic                  = &CodecError{Kind: KindLogic}
	ErrDepthWarning           = &CodecError{Kind: KindDepthWarning}
	ErrNeedNextCall           = &CodecError{Kind: KindNeedNextCall}
	ErrWantNextPayload        = &CodecError{Kind: KindWantNextPayload}
	ErrWantTypeDisambiguation = &CodecError{Kind: KindWantTypeDisambiguation}
	ErrEOF                    = &CodecError{Kind: KindEOF}
)

// ExchangeResult is the terminal status handed to a completion callback.
// Zero means success; positive values mirror a CoAP response code; the
// sentinels below cover the cases that never came from the wire.
type ExchangeResult int

// Sentinel ExchangeResult values, chosen outside the CoAP code space
// (CoAP codes fit in a byte) so they can never collide with a real
// response code surfaced from the server.
const (
	ResultSuccess           ExchangeResult = 0
	ResultTimeout           ExchangeResult = -1
	ResultTerminated        ExchangeResult = -2
	ResultTerminatedByPeer  ExchangeResult = -3
	ResultSendACKTimeout    ExchangeResult = -4
	ResultInternalError     ExchangeResult = -5
)

func (r ExchangeResult) Error() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultTimeout:
		return "timeout"
	case ResultTerminated:
		return "terminated"
	case ResultTerminatedByPeer:
		return "terminated-by-server"
	case ResultSendACKTimeout:
		return "send-ack-timeout"
	case ResultInternalError:
		return "internal-error"
	default:
		return "response-code"
	}
}

// ErrInvalidPointer signals a nil-receiver passed into configuration
// validation.
var ErrInvalidPointer = errors.New("invalid pointer")
