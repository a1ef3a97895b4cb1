// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package codec

import "github.com/go-lwm2m/anj/core"

// OpaqueEncoder implements the Opaque format (content-format 42): a raw
// byte value, identical to the Plain Text bytes case minus the base64
// layer.
type OpaqueEncoder struct {
	base core.Path
	op   core.OperationKind

	hasEntry bool
	stage    []byte
	stagePos int
	ext      *extWriter
}

var _ Encoder = (*OpaqueEncoder)(nil)

func (e *OpaqueEncoder) Init(base core.Path, op core.OperationKind, itemCount int) error {
	*e = OpaqueEncoder{base: base, op: op}
	return nil
}

func (e *OpaqueEncoder) NewEntry(entry core.Entry) error {
	if e.hasEntry {
		return core.NewError(core.KindLogic, "opaque: previous entry not drained")
	}
	e.hasEntry = true
	e.stage = nil
	e.stagePos = 0
	e.ext = nil

	switch entry.Value.Type {
	case core.ValueTypeBytes:
		e.stage = append([]byte(nil), entry.Value.Bytes.Data[:entry.Value.Bytes.ChunkLength]...)
	case core.ValueTypeExternalBytes:
		e.ext = newExtWriter(entry.Value.External)
	default:
		return core.NewError(core.KindIOType, "opaque: only bytes values are supported")
	}
	return nil
}

func (e *OpaqueEncoder) GetPayload(buf []byte) (int, error) {
	if !e.hasEntry {
		return 0, core.NewError(core.KindLogic, "opaque: no entry staged")
	}
	if e.ext != nil {
		n, done, err := e.ext.fill(buf, false)
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

func (e *OpaqueEncoder) Finish(buf []byte) (int, error) { return 0, nil }

// OpaqueDecoder decodes an Opaque payload (content-format 42) as a single
// bytes entry at the caller's base path.
type OpaqueDecoder struct {
	base     core.Path
	buf      []byte
	finished bool
	done     bool
}

var _ Decoder = (*OpaqueDecoder)(nil)

func (d *OpaqueDecoder) Init(base core.Path) error {
	d.base = base
	d.buf = d.buf[:0]
	d.finished = false
	d.done = false
	return nil
}

func (d *OpaqueDecoder) FeedPayload(buf []byte, finished bool) error {
	d.buf = append(d.buf, buf...)
	d.finished = d.finished || finished
	return nil
}

func (d *OpaqueDecoder) SetType(t core.ValueType) error {
	return core.NewError(core.KindLogic, "opaque: type is not ambiguous")
}

func (d *OpaqueDecoder) GetEntry() (core.Entry, error) {
	if d.done {
		return core.Entry{}, core.ErrEOF
	}
	if !d.finished {
		return core.Entry{}, core.ErrWantNextPayload
	}
	d.done = true
	return core.Entry{Path: d.base, Value: core.BytesValue(d.buf)}, nil
}
