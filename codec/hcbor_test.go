// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-lwm2m/anj/core"
)

func TestHCBOREncodeDecodeNestedRoundTrip(t *testing.T) {
	base, _ := core.MakePath(3)
	p1, _ := core.MakePath(3, 0, 1)
	p2, _ := core.MakePath(3, 0, 2)
	p3, _ := core.MakePath(3, 1, 1)

	var enc HCBOREncoder
	out := drainEncoder(t, &enc, base, core.OpRead, []core.Entry{
		{Path: p1, Value: core.IntValue(5)},
		{Path: p2, Value: core.StringValue("yo")},
		{Path: p3, Value: core.BoolValue(true)},
	}, 4)

	var dec HCBORDecoder
	require.NoError(t, dec.Init(base))
	require.NoError(t, dec.FeedPayload(out, true))

	seen := map[string]core.Value{}
	for {
		entry, err := dec.GetEntry()
		if err != nil {
			require.ErrorIs(t, err, core.ErrEOF)
			break
		}
		seen[entry.Path.String()] = entry.Value
	}

	require.Len(t, seen, 3)
	v, err := seen[p1.String()].AsInt()
	require.NoError(t, err)
	require.Equal(t, int64(5), v)
	require.Equal(t, "yo", string(seen[p2.String()].String.Data))
	require.True(t, seen[p3.String()].Bool)
}

func TestHCBOREncoderRejectsExternalStream(t *testing.T) {
	base, _ := core.MakePath(3)
	p1, _ := core.MakePath(3, 0, 1)
	var enc HCBOREncoder
	require.NoError(t, enc.Init(base, core.OpRead, 1))
	err := enc.NewEntry(core.Entry{Path: p1, Value: core.ExternalBytesValue(core.ExternalStream{})})
	require.Error(t, err)
}

func TestHCBORDecoderStreamsChunkedStringLeaf(t *testing.T) {
	// map{1: indefinite text "a"+"b"} under base /3/0, i.e. resource /3/0/1
	wire := []byte{0xA1, 0x01, 0x7F, 0x61, 'a', 0x61, 'b', 0xFF}

	base, _ := core.MakePath(3, 0)
	p1, _ := core.MakePath(3, 0, 1)

	var dec HCBORDecoder
	require.NoError(t, dec.Init(base))
	require.NoError(t, dec.FeedPayload(wire, true))

	first, err := dec.GetEntry()
	require.NoError(t, err)
	require.True(t, first.Path.Equal(p1))
	require.Equal(t, "a", string(first.Value.String.Data))
	require.Equal(t, 0, first.Value.String.Offset)
	require.Equal(t, 0, first.Value.String.FullLengthHint)

	second, err := dec.GetEntry()
	require.NoError(t, err)
	require.True(t, second.Path.Equal(p1))
	require.Equal(t, "b", string(second.Value.String.Data))
	require.Equal(t, 1, second.Value.String.Offset)
	require.Equal(t, 2, second.Value.String.FullLengthHint)

	_, err = dec.GetEntry()
	require.ErrorIs(t, err, core.ErrEOF)
}

func TestHCBORSingleLeafAtBase(t *testing.T) {
	base, _ := core.MakePath(3, 0, 1)

	var enc HCBOREncoder
	out := drainEncoder(t, &enc, base, core.OpRead, []core.Entry{
		{Path: base, Value: core.IntValue(99)},
	}, 3)

	var dec HCBORDecoder
	require.NoError(t, dec.Init(base))
	require.NoError(t, dec.FeedPayload(out, true))
	entry, err := dec.GetEntry()
	require.NoError(t, err)
	v, _ := entry.Value.AsInt()
	require.Equal(t, int64(99), v)

	_, err = dec.GetEntry()
	require.ErrorIs(t, err, core.ErrEOF)
}
