// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-lwm2m/anj/core"
)

func TestSenMLDisambiguationScenario(t *testing.T) {
	wire := []byte{0x81, 0xA2, 0x00, 0x68}
	wire = append(wire, []byte("/13/26/1")...)
	wire = append(wire, 0x02, 0x18, 0x2A)

	base, _ := core.MakePath()
	var dec SenMLDecoder
	require.NoError(t, dec.Init(base))
	require.NoError(t, dec.FeedPayload(wire, true))

	entry, err := dec.GetEntry()
	require.ErrorIs(t, err, core.ErrWantTypeDisambiguation)
	wantPath, _ := core.MakePath(13, 26, 1)
	require.True(t, entry.Path.Equal(wantPath))

	require.NoError(t, dec.SetType(core.ValueTypeInt))
	entry, err = dec.GetEntry()
	require.NoError(t, err)
	v, err := entry.Value.AsInt()
	require.NoError(t, err)
	require.Equal(t, int64(42), v)

	_, err = dec.GetEntry()
	require.ErrorIs(t, err, core.ErrEOF)
}

func TestSenMLEncodeDecodeRoundTripMixedTypes(t *testing.T) {
	base, _ := core.MakePath(3, 0)
	pInt, _ := core.MakePath(3, 0, 1)
	pStr, _ := core.MakePath(3, 0, 2)
	pBool, _ := core.MakePath(3, 0, 3)

	var enc SenMLEncoder
	out := drainEncoder(t, &enc, base, core.OpRead, []core.Entry{
		{Path: pInt, Value: core.IntValue(7)},
		{Path: pStr, Value: core.StringValue("hi")},
		{Path: pBool, Value: core.BoolValue(true)},
	}, 5)

	var dec SenMLDecoder
	require.NoError(t, dec.Init(base))
	require.NoError(t, dec.FeedPayload(out, true))

	e1, err := dec.GetEntry()
	require.ErrorIs(t, err, core.ErrWantTypeDisambiguation)
	require.NoError(t, dec.SetType(core.ValueTypeInt))
	e1, err = dec.GetEntry()
	require.NoError(t, err)
	v, _ := e1.Value.AsInt()
	require.Equal(t, int64(7), v)
	require.True(t, e1.Path.Equal(pInt))

	e2, err := dec.GetEntry()
	require.NoError(t, err)
	require.Equal(t, "hi", string(e2.Value.String.Data))
	require.True(t, e2.Path.Equal(pStr))

	e3, err := dec.GetEntry()
	require.NoError(t, err)
	require.True(t, e3.Value.Bool)
	require.True(t, e3.Path.Equal(pBool))

	_, err = dec.GetEntry()
	require.ErrorIs(t, err, core.ErrEOF)
}

func TestSenMLDecoderStreamsChunkedStringValue(t *testing.T) {
	// one map: {name: "/3/0/1", string-value: indefinite "a"+"b"}
	wire := []byte{0x81, 0xA2, 0x00, 0x66}
	wire = append(wire, []byte("/3/0/1")...)
	wire = append(wire, 0x03, 0x7F, 0x61, 'a', 0x61, 'b', 0xFF)

	base, _ := core.MakePath()
	var dec SenMLDecoder
	require.NoError(t, dec.Init(base))
	require.NoError(t, dec.FeedPayload(wire, true))

	wantPath, _ := core.MakePath(3, 0, 1)

	first, err := dec.GetEntry()
	require.NoError(t, err)
	require.True(t, first.Path.Equal(wantPath))
	require.Equal(t, "a", string(first.Value.String.Data))
	require.Equal(t, 0, first.Value.String.Offset)
	require.Equal(t, 0, first.Value.String.FullLengthHint)

	second, err := dec.GetEntry()
	require.NoError(t, err)
	require.True(t, second.Path.Equal(wantPath))
	require.Equal(t, "b", string(second.Value.String.Data))
	require.Equal(t, 1, second.Value.String.Offset)
	require.Equal(t, 2, second.Value.String.FullLengthHint)

	_, err = dec.GetEntry()
	require.ErrorIs(t, err, core.ErrEOF)
}

func TestSenMLDecoderCountReportsDefiniteArrayLength(t *testing.T) {
	base, _ := core.MakePath(3, 0)
	p, _ := core.MakePath(3, 0, 1)

	var enc SenMLEncoder
	out := drainEncoder(t, &enc, base, core.OpRead, []core.Entry{
		{Path: p, Value: core.IntValue(1)},
	}, 6)

	var dec SenMLDecoder
	require.NoError(t, dec.Init(base))
	require.NoError(t, dec.FeedPayload(out, true))

	_, err := dec.GetEntry()
	require.ErrorIs(t, err, core.ErrWantTypeDisambiguation)
	n, err := dec.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
