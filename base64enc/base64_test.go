// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package base64enc

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for n := 0; n < 40; n++ {
		in := make([]byte, n)
		for i := range in {
			in[i] = byte(i*7 + 1)
		}
		enc := Encode(in)
		require.Len(t, enc, EncodedLen(n))

		buf := append([]byte(nil), enc...)
		dec, err := DecodeInPlace(buf)
		require.NoError(t, err)
		require.Equal(t, in, dec)
	}
}

func TestWriteAcrossArbitraryChunkBoundaries(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	in := make([]byte, 97)
	r.Read(in)

	whole := Encode(in)

	var e Encoder
	var out []byte
	pos := 0
	for pos < len(in) {
		step := 1 + r.Intn(5)
		if pos+step > len(in) {
			step = len(in) - pos
		}
		out = e.Write(out, in[pos:pos+step])
		pos += step
	}
	out = e.Finish(out)

	require.Equal(t, whole, out)
}

func TestEncodedLenInvariant(t *testing.T) {
	for n := 0; n < 10; n++ {
		require.Equal(t, len(Encode(make([]byte, n))), EncodedLen(n))
	}
}

func TestDecodeInPlaceRejectsBadByte(t *testing.T) {
	_, err := DecodeInPlace([]byte("****"))
	require.Error(t, err)
}
