// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package codec

import (
	"github.com/go-lwm2m/anj/base64enc"
	"github.com/go-lwm2m/anj/core"
)

// extWriter drives the open/get-chunk/close lifecycle of an external data
// stream on behalf of an encoder. Open is called lazily on the first fill,
// Close is guaranteed once the stream is exhausted or abandoned via
// Abort, on every path including error paths, never more than once.
type extWriter struct {
	stream  core.ExternalStream
	opened  bool
	closed  bool
	offset  int
	drained bool
	scratch [348]byte
	scrLen  int
	scrPos  int
	b64     base64enc.Encoder
}

func newExtWriter(s core.ExternalStream) *extWriter {
	return &extWriter{stream: s}
}

func (w *extWriter) ensureOpen() error {
	if w.opened {
		return nil
	}
	w.opened = true
	if w.stream.Open != nil {
		if err := w.stream.Open(w.stream.Arg); err != nil {
			w.closeOnce()
			return core.NewError(core.KindIOType, "external stream open failed")
		}
	}
	return nil
}

func (w *extWriter) closeOnce() {
	if w.closed {
		return
	}
	w.closed = true
	if w.stream.Close != nil {
		w.stream.Close(w.stream.Arg)
	}
}

// fill writes into buf, pulling fresh chunks from the user callback as
// needed, optionally base64-encoding them first. It returns the number of
// bytes written, whether the stream is now fully drained (and closed),
// and any error (which also closes the stream). It never writes past
// len(buf): every intermediate encode step lands in a local scratch array
// first, and only copy (never append) touches the caller's buffer.
func (w *extWriter) fill(buf []byte, base64Encode bool) (int, bool, error) {
	if err := w.ensureOpen(); err != nil {
		return 0, true, err
	}
	total := 0
	for total < len(buf) {
		if w.scrPos < w.scrLen {
			n := copy(buf[total:], w.scratch[w.scrPos:w.scrLen])
			w.scrPos += n
			total += n
			continue
		}
		if w.drained {
			w.closeOnce()
			return total, true, nil
		}

		var chunk [256]byte
		n, more, err := w.stream.GetChunk(w.stream.Arg, chunk[:], w.offset)
		if err != nil {
			w.closeOnce()
			return total, true, core.NewError(core.KindIOType, "external stream read failed")
		}
		w.offset += n
		if !more {
			w.drained = true
		}

		if base64Encode {
			var encBuf [348]byte
			encoded := w.b64.Write(encBuf[:0], chunk[:n])
			if w.drained {
				encoded = w.b64.Finish(encoded)
			}
			w.scrLen = copy(w.scratch[:], encoded)
			w.scrPos = 0
		} else {
			w.scrLen = copy(w.scratch[:], chunk[:n])
			w.scrPos = 0
		}
	}
	return total, false, nil
}

// Abort closes the stream without draining it; used when an encoder is
// torn down mid-stream (error elsewhere in the payload, cancellation).
func (w *extWriter) Abort() {
	w.closeOnce()
}
