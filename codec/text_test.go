// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-lwm2m/anj/core"
)

// drainEncoder runs Init/NewEntry/GetPayload/Finish against tiny buffers so
// the core.ErrNeedNextCall path is actually exercised, not just the
// single-shot happy path.
func drainEncoder(t *testing.T, enc Encoder, base core.Path, op core.OperationKind, entries []core.Entry, chunk int) []byte {
	t.Helper()
	require.NoError(t, enc.Init(base, op, len(entries)))
	var out []byte
	buf := make([]byte, chunk)
	for _, e := range entries {
		require.NoError(t, enc.NewEntry(e))
		for {
			n, err := enc.GetPayload(buf)
			out = append(out, buf[:n]...)
			if err == nil {
				break
			}
			require.ErrorIs(t, err, core.ErrNeedNextCall)
		}
	}
	for {
		n, err := enc.Finish(buf)
		out = append(out, buf[:n]...)
		if err == nil {
			break
		}
		require.ErrorIs(t, err, core.ErrNeedNextCall)
	}
	return out
}

func TestTextEncodeDecodeRoundTripInt(t *testing.T) {
	base, _ := core.MakePath(3, 0, 1)
	var enc TextEncoder
	out := drainEncoder(t, &enc, base, core.OpRead, []core.Entry{{Path: base, Value: core.IntValue(-42)}}, 2)
	require.Equal(t, "-42", string(out))

	dec := NewTextDecoder(core.ValueTypeInt)
	require.NoError(t, dec.Init(base))
	require.NoError(t, dec.FeedPayload(out, true))
	entry, err := dec.GetEntry()
	require.NoError(t, err)
	v, err := entry.Value.AsInt()
	require.NoError(t, err)
	require.Equal(t, int64(-42), v)

	_, err = dec.GetEntry()
	require.ErrorIs(t, err, core.ErrEOF)
}

func TestTextEncodeBytesIsBase64(t *testing.T) {
	base, _ := core.MakePath(3, 0, 1)
	var enc TextEncoder
	out := drainEncoder(t, &enc, base, core.OpRead, []core.Entry{{Path: base, Value: core.BytesValue([]byte("hi"))}}, 3)

	dec := NewTextDecoder(core.ValueTypeBytes)
	require.NoError(t, dec.Init(base))
	require.NoError(t, dec.FeedPayload(out, true))
	entry, err := dec.GetEntry()
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), entry.Value.Bytes.Data)
}

func TestTextDecoderWantsNextPayloadUntilFinished(t *testing.T) {
	base, _ := core.MakePath(3, 0, 1)
	dec := NewTextDecoder(core.ValueTypeInt)
	require.NoError(t, dec.Init(base))
	require.NoError(t, dec.FeedPayload([]byte("1"), false))
	_, err := dec.GetEntry()
	require.ErrorIs(t, err, core.ErrWantNextPayload)

	require.NoError(t, dec.FeedPayload([]byte("23"), true))
	entry, err := dec.GetEntry()
	require.NoError(t, err)
	v, _ := entry.Value.AsInt()
	require.Equal(t, int64(123), v)
}

func TestOpaqueEncodeDecodeRoundTrip(t *testing.T) {
	base, _ := core.MakePath(3, 0, 1)
	var enc OpaqueEncoder
	payload := []byte{0x01, 0x02, 0x03, 0xFF}
	out := drainEncoder(t, &enc, base, core.OpRead, []core.Entry{{Path: base, Value: core.BytesValue(payload)}}, 1)
	require.Equal(t, payload, out)

	var dec OpaqueDecoder
	require.NoError(t, dec.Init(base))
	require.NoError(t, dec.FeedPayload(out, true))
	entry, err := dec.GetEntry()
	require.NoError(t, err)
	require.Equal(t, payload, entry.Value.Bytes.Data)

	_, err = dec.GetEntry()
	require.ErrorIs(t, err, core.ErrEOF)
}

func TestOpaqueDecoderSetTypeRejected(t *testing.T) {
	var dec OpaqueDecoder
	err := dec.SetType(core.ValueTypeInt)
	require.Error(t, err)
}

func TestOpaqueEncoderRejectsNonBytes(t *testing.T) {
	base, _ := core.MakePath(3, 0, 1)
	var enc OpaqueEncoder
	require.NoError(t, enc.Init(base, core.OpRead, 1))
	err := enc.NewEntry(core.Entry{Path: base, Value: core.IntValue(5)})
	require.Error(t, err)
}
