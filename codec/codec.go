// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package codec implements the wire-format encoders and decoders for the
// five interchangeable payload formats (Plain Text, Opaque, CBOR,
// SenML-CBOR, hierarchical CBOR), the TLV binary form, and the Register /
// Discover / Bootstrap-Discover link-format payloads, together with the
// output/input context dispatchers that pick one of them per exchange.
//
// Every encoder and decoder is written against caller-supplied buffers and
// must tolerate being handed fewer bytes than a full frame needs: encoders
// return core.ErrNeedNextCall to ask for another GetPayload call against an
// advanced buffer, decoders return core.ErrWantNextPayload to ask for more
// input via FeedPayload. Decoders copy every fed chunk into a buffer of
// their own, so the caller's input buffer is not retained past the
// FeedPayload call that received it.
package codec

import "github.com/go-lwm2m/anj/core"

// Encoder is the streaming interface every output format implements. A
// dispatcher (OutCtx) drives exactly one Encoder at a time.
type Encoder interface {
	// Init primes the encoder for a sequence of itemCount entries rooted
	// at basePath. It is called once per payload.
	Init(basePath core.Path, op core.OperationKind, itemCount int) error

	// NewEntry hands the encoder the next entry to serialize. It is a
	// core.KindLogic error to call NewEntry before GetPayload has fully
	// drained the previous entry's value.
	NewEntry(e core.Entry) error

	// GetPayload fills as much of buf as the current entry's remaining
	// bytes allow, returning the number of bytes written. It returns
	// core.ErrNeedNextCall when the entry is not yet exhausted (call
	// again with an advanced buffer) and nil once the entry is fully
	// written and the encoder is ready for NewEntry (or for Finish, if
	// there are no more entries).
	GetPayload(buf []byte) (int, error)

	// Finish closes out the payload once every entry has been passed to
	// NewEntry and drained; formats that hold output back (hierarchical
	// CBOR's whole tree of nested maps, the TLV stack's back-patched
	// container frames) flush it here. Returns need-next-call semantics identically to
	// GetPayload.
	Finish(buf []byte) (int, error)
}

// Decoder is the streaming interface every input format implements.
type Decoder interface {
	// Init primes the decoder for input rooted at basePath.
	Init(basePath core.Path) error

	// FeedPayload supplies the next chunk of wire bytes. finished marks
	// the last chunk of the payload; the decoder must not expect more
	// input after that call.
	FeedPayload(buf []byte, finished bool) error

	// GetEntry returns the next decoded entry. It returns
	// core.ErrWantNextPayload when FeedPayload must be called again,
	// core.ErrWantTypeDisambiguation when the wire format carries no
	// type for the pending leaf (call SetType then retry), and
	// core.ErrEOF once the payload is exhausted.
	GetEntry() (core.Entry, error)

	// SetType answers a pending want-type-disambiguation by telling the
	// decoder which concrete type to interpret the raw bytes as, then
	// behaves as if GetEntry were called again.
	SetType(t core.ValueType) error
}

// EntryCount is implemented by decoders that can report the number of
// top-level entries ahead of time (only SenML-CBOR, and only when its
// outer array used definite-length framing).
type EntryCount interface {
	Count() (int, error)
}
