// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-lwm2m/anj/base64enc"
	"github.com/go-lwm2m/anj/core"
)

func chunkedStream(data []byte, chunkSize int) core.ExternalStream {
	offset := 0
	return core.ExternalStream{
		GetChunk: func(arg interface{}, buf []byte, off int) (int, bool, error) {
			n := copy(buf, data[offset:min(offset+chunkSize, len(data))])
			offset += n
			return n, offset < len(data), nil
		},
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func TestOpaqueEncoderDrainsExternalBytesStream(t *testing.T) {
	base, _ := core.MakePath(3, 0, 1)
	data := []byte("the quick brown fox jumps over the lazy dog")

	var enc OpaqueEncoder
	require.NoError(t, enc.Init(base, core.OpRead, 1))
	require.NoError(t, enc.NewEntry(core.Entry{Path: base, Value: core.ExternalBytesValue(chunkedStream(data, 7))}))

	var out []byte
	buf := make([]byte, 5)
	for {
		n, err := enc.GetPayload(buf)
		out = append(out, buf[:n]...)
		if err == nil {
			break
		}
		require.ErrorIs(t, err, core.ErrNeedNextCall)
	}
	require.Equal(t, data, out)
}

func TestTextEncoderDrainsExternalBytesStreamAsBase64(t *testing.T) {
	base, _ := core.MakePath(3, 0, 1)
	data := []byte("stream this as base64")

	var enc TextEncoder
	require.NoError(t, enc.Init(base, core.OpRead, 1))
	require.NoError(t, enc.NewEntry(core.Entry{Path: base, Value: core.ExternalBytesValue(chunkedStream(data, 9))}))

	var out []byte
	buf := make([]byte, 4)
	for {
		n, err := enc.GetPayload(buf)
		out = append(out, buf[:n]...)
		if err == nil {
			break
		}
		require.ErrorIs(t, err, core.ErrNeedNextCall)
	}

	decoded, err := base64enc.DecodeInPlace(out)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}
