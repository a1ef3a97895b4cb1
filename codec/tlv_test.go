// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-lwm2m/anj/core"
)

func TestTLVNestedInstanceDecode(t *testing.T) {
	// object instance 4, resource 5 = int 10, resource 6 = string "Hello, world!"
	wire := append([]byte{0x08, 0x04, 0x13, 0xC1, 0x05, 0x0A, 0xC8, 0x06, 0x0D}, []byte("Hello, world!")...)

	base, _ := core.MakePath(3)
	var dec TLVDecoder
	require.NoError(t, dec.Init(base))
	require.NoError(t, dec.FeedPayload(wire, true))

	entry, err := dec.GetEntry()
	require.ErrorIs(t, err, core.ErrWantTypeDisambiguation)
	wantPath, _ := core.MakePath(3, 4, 5)
	require.True(t, entry.Path.Equal(wantPath))

	require.NoError(t, dec.SetType(core.ValueTypeInt))
	entry, err = dec.GetEntry()
	require.NoError(t, err)
	v, err := entry.Value.AsInt()
	require.NoError(t, err)
	require.Equal(t, int64(10), v)

	entry, err = dec.GetEntry()
	require.ErrorIs(t, err, core.ErrWantTypeDisambiguation)
	wantPath2, _ := core.MakePath(3, 4, 6)
	require.True(t, entry.Path.Equal(wantPath2))

	require.NoError(t, dec.SetType(core.ValueTypeString))
	entry, err = dec.GetEntry()
	require.NoError(t, err)
	require.Equal(t, "Hello, world!", string(entry.Value.String.Data))

	_, err = dec.GetEntry()
	require.ErrorIs(t, err, core.ErrEOF)
}

// feedSplit drains a TLVDecoder fed in two pieces, asserting that every
// GetEntry call made before the split completes asks for more input
// rather than hard-failing, then returns the decoder positioned to
// finish decoding once the remainder is fed.
func feedSplit(t *testing.T, base core.Path, wire []byte, splitAt int) *TLVDecoder {
	t.Helper()
	dec := &TLVDecoder{}
	require.NoError(t, dec.Init(base))
	require.NoError(t, dec.FeedPayload(wire[:splitAt], false))

	_, err := dec.GetEntry()
	require.ErrorIs(t, err, core.ErrWantNextPayload)

	require.NoError(t, dec.FeedPayload(wire[splitAt:], true))
	return dec
}

func TestTLVDecodeToleratesSplitMidIdentifier(t *testing.T) {
	wire := append([]byte{0x08, 0x04, 0x13, 0xC1, 0x05, 0x0A, 0xC8, 0x06, 0x0D}, []byte("Hello, world!")...)
	base, _ := core.MakePath(3)
	dec := feedSplit(t, base, wire, 1) // split right after the outer type byte, before its identifier

	entry, err := dec.GetEntry()
	require.ErrorIs(t, err, core.ErrWantTypeDisambiguation)
	wantPath, _ := core.MakePath(3, 4, 5)
	require.True(t, entry.Path.Equal(wantPath))
	require.NoError(t, dec.SetType(core.ValueTypeInt))
	entry, err = dec.GetEntry()
	require.NoError(t, err)
	v, _ := entry.Value.AsInt()
	require.Equal(t, int64(10), v)
}

func TestTLVDecodeToleratesSplitMidLength(t *testing.T) {
	wire := append([]byte{0x08, 0x04, 0x13, 0xC1, 0x05, 0x0A, 0xC8, 0x06, 0x0D}, []byte("Hello, world!")...)
	base, _ := core.MakePath(3)
	dec := feedSplit(t, base, wire, 2) // split after the outer identifier, before its length byte

	entry, err := dec.GetEntry()
	require.ErrorIs(t, err, core.ErrWantTypeDisambiguation)
	wantPath, _ := core.MakePath(3, 4, 5)
	require.True(t, entry.Path.Equal(wantPath))
	require.NoError(t, dec.SetType(core.ValueTypeInt))
	entry, err = dec.GetEntry()
	require.NoError(t, err)
	v, _ := entry.Value.AsInt()
	require.Equal(t, int64(10), v)
}

func TestTLVDecodeToleratesSplitMidValue(t *testing.T) {
	wire := append([]byte{0x08, 0x04, 0x13, 0xC1, 0x05, 0x0A, 0xC8, 0x06, 0x0D}, []byte("Hello, world!")...)
	base, _ := core.MakePath(3)
	dec := feedSplit(t, base, wire, 5) // split after resource 5's header, before its 1-byte value

	entry, err := dec.GetEntry()
	require.ErrorIs(t, err, core.ErrWantTypeDisambiguation)
	require.NoError(t, dec.SetType(core.ValueTypeInt))
	entry, err = dec.GetEntry()
	require.NoError(t, err)
	v, _ := entry.Value.AsInt()
	require.Equal(t, int64(10), v)

	entry, err = dec.GetEntry()
	require.ErrorIs(t, err, core.ErrWantTypeDisambiguation)
	wantPath2, _ := core.MakePath(3, 4, 6)
	require.True(t, entry.Path.Equal(wantPath2))
	require.NoError(t, dec.SetType(core.ValueTypeString))
	entry, err = dec.GetEntry()
	require.NoError(t, err)
	require.Equal(t, "Hello, world!", string(entry.Value.String.Data))

	_, err = dec.GetEntry()
	require.ErrorIs(t, err, core.ErrEOF)
}

func TestTLVRejectsReservedTypeByte(t *testing.T) {
	base, _ := core.MakePath(3)
	var dec TLVDecoder
	require.NoError(t, dec.Init(base))
	require.NoError(t, dec.FeedPayload([]byte{0xFF}, true))
	_, err := dec.GetEntry()
	require.Error(t, err)
	require.ErrorIs(t, err, core.ErrFormatMismatch)
}

func TestTLVEncodeNestedInstanceRoundTrip(t *testing.T) {
	base, _ := core.MakePath(3)
	p5, _ := core.MakePath(3, 4, 5)
	p6, _ := core.MakePath(3, 4, 6)

	var enc TLVEncoder
	out := drainEncoder(t, &enc, base, core.OpRead, []core.Entry{
		{Path: p5, Value: core.IntValue(10)},
		{Path: p6, Value: core.StringValue("Hello, world!")},
	}, 4)

	var dec TLVDecoder
	require.NoError(t, dec.Init(base))
	require.NoError(t, dec.FeedPayload(out, true))

	entry, err := dec.GetEntry()
	require.ErrorIs(t, err, core.ErrWantTypeDisambiguation)
	require.NoError(t, dec.SetType(core.ValueTypeInt))
	entry, err = dec.GetEntry()
	require.NoError(t, err)
	v, _ := entry.Value.AsInt()
	require.Equal(t, int64(10), v)

	entry, err = dec.GetEntry()
	require.ErrorIs(t, err, core.ErrWantTypeDisambiguation)
	require.NoError(t, dec.SetType(core.ValueTypeString))
	entry, err = dec.GetEntry()
	require.NoError(t, err)
	require.Equal(t, "Hello, world!", string(entry.Value.String.Data))

	_, err = dec.GetEntry()
	require.ErrorIs(t, err, core.ErrEOF)
}

func TestTLVEncoderRejectsDecreasingSiblingID(t *testing.T) {
	base, _ := core.MakePath(3)
	p5, _ := core.MakePath(3, 5)
	p4, _ := core.MakePath(3, 4)

	var enc TLVEncoder
	require.NoError(t, enc.Init(base, core.OpRead, 2))
	require.NoError(t, enc.NewEntry(core.Entry{Path: p5, Value: core.IntValue(1)}))
	err := enc.NewEntry(core.Entry{Path: p4, Value: core.IntValue(2)})
	require.Error(t, err)
}

func TestTLVEmptyObjectInstanceRoundTrip(t *testing.T) {
	base, _ := core.MakePath(3)
	p4, _ := core.MakePath(3, 4)

	var enc TLVEncoder
	out := drainEncoder(t, &enc, base, core.OpRead, []core.Entry{
		{Path: p4, Value: core.NullValue()},
	}, 8)

	var dec TLVDecoder
	require.NoError(t, dec.Init(base))
	require.NoError(t, dec.FeedPayload(out, true))
	entry, err := dec.GetEntry()
	require.NoError(t, err)
	require.Equal(t, core.ValueTypeNull, entry.Value.Type)
	require.True(t, entry.Path.Equal(p4))

	_, err = dec.GetEntry()
	require.ErrorIs(t, err, core.ErrEOF)
}
