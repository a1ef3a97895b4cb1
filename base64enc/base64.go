// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package base64enc streams a byte sequence into padded base64 text across
// an arbitrary sequence of output chunk sizes, carrying 0-2 bytes of
// unencoded input between calls so a terminating call can still emit the
// correctly padded remainder.
package base64enc

import "errors"

const stdAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var (
	errInvalidLength = errors.New("base64enc: invalid encoded length")
	errInvalidByte   = errors.New("base64enc: invalid byte in encoded input")
)

// Encoder is a streaming base64 encoder. The zero value is ready to use.
type Encoder struct {
	carry    [2]byte
	carryLen int
}

// Reset clears any carried bytes, as if the Encoder were newly constructed.
func (e *Encoder) Reset() {
	e.carryLen = 0
}

// Write consumes as much of in as divides evenly into 3-byte groups
// together with the carry, appends the encoded text to out, and returns
// the extended slice. Bytes left over (0-2 of them) are retained as carry
// for the next Write or Finish.
func (e *Encoder) Write(out []byte, in []byte) []byte {
	buf := make([]byte, 0, e.carryLen+len(in))
	buf = append(buf, e.carry[:e.carryLen]...)
	buf = append(buf, in...)

	full := (len(buf) / 3) * 3
	out = encodeGroups(out, buf[:full])

	rem := buf[full:]
	e.carryLen = copy(e.carry[:], rem)
	return out
}

// Finish flushes any carried bytes as a final, padded 4-byte group (or
// nothing, if no bytes remain) and resets the Encoder.
func (e *Encoder) Finish(out []byte) []byte {
	if e.carryLen == 0 {
		return out
	}
	out = encodeTail(out, e.carry[:e.carryLen])
	e.carryLen = 0
	return out
}

// Encode is a convenience one-shot encode of a complete byte slice,
// equivalent to Write followed by Finish on a fresh Encoder.
func Encode(in []byte) []byte {
	var e Encoder
	out := e.Write(nil, in)
	return e.Finish(out)
}

func encodeGroups(out []byte, in []byte) []byte {
	for i := 0; i+3 <= len(in); i += 3 {
		b0, b1, b2 := in[i], in[i+1], in[i+2]
		out = append(out,
			stdAlphabet[b0>>2],
			stdAlphabet[(b0&0x03)<<4|b1>>4],
			stdAlphabet[(b1&0x0F)<<2|b2>>6],
			stdAlphabet[b2&0x3F],
		)
	}
	return out
}

func encodeTail(out []byte, tail []byte) []byte {
	switch len(tail) {
	case 1:
		b0 := tail[0]
		out = append(out,
			stdAlphabet[b0>>2],
			stdAlphabet[(b0&0x03)<<4],
			'=', '=',
		)
	case 2:
		b0, b1 := tail[0], tail[1]
		out = append(out,
			stdAlphabet[b0>>2],
			stdAlphabet[(b0&0x03)<<4|b1>>4],
			stdAlphabet[(b1&0x0F)<<2],
			'=',
		)
	}
	return out
}

// EncodedLen returns the total output length for n input bytes once the
// stream is terminated: 4*ceil(n/3).
func EncodedLen(n int) int {
	return ((n + 2) / 3) * 4
}

var decodeTable = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(stdAlphabet); i++ {
		t[stdAlphabet[i]] = int8(i)
	}
	return t
}()

// DecodeInPlace decodes padded base64 text held in buf, overwriting buf's
// own storage with the binary result (the decoded form is never longer
// than the encoded one) and returns the decoded prefix. This models the
// in-place mutation the input buffer may need to undergo, per the design
// note on exclusive buffer borrows.
func DecodeInPlace(buf []byte) ([]byte, error) {
	n := len(buf)
	for n > 0 && buf[n-1] == '=' {
		n--
	}
	if n%4 == 1 {
		return nil, errInvalidLength
	}

	w := 0
	var group [4]int8
	gi := 0
	for i := 0; i < n; i++ {
		v := decodeTable[buf[i]]
		if v < 0 {
			return nil, errInvalidByte
		}
		group[gi] = v
		gi++
		if gi == 4 {
			buf[w] = byte(group[0])<<2 | byte(group[1])>>4
			buf[w+1] = byte(group[1])<<4 | byte(group[2])>>2
			buf[w+2] = byte(group[2])<<6 | byte(group[3])
			w += 3
			gi = 0
		}
	}
	switch gi {
	case 0:
	case 2:
		buf[w] = byte(group[0])<<2 | byte(group[1])>>4
		w++
	case 3:
		buf[w] = byte(group[0])<<2 | byte(group[1])>>4
		buf[w+1] = byte(group[1])<<4 | byte(group[2])>>2
		w += 2
	default:
		return nil, errInvalidLength
	}
	return buf[:w], nil
}
