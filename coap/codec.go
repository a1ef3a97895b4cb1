// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package coap

import (
	"errors"
)

const (
	version byte = 1

	optionEndMarker = 0xFF
)

// ErrTruncated marks an input buffer that ends mid-frame; the caller has
// not yet received the whole datagram.
var ErrTruncated = errors.New("coap: truncated message")

// ErrBadVersion marks a header whose version field is not 1.
var ErrBadVersion = errors.New("coap: unsupported protocol version")

// Encode serializes m as a UDP-transport CoAP message (RFC 7252 §3),
// appending to dst. Options must already be present in ascending-number
// order (every builder in this package maintains that invariant).
func Encode(dst []byte, m *Message) []byte {
	tokenLen := len(m.Token)
	if tokenLen > 8 {
		tokenLen = 8
	}
	hdr := version<<6 | byte(m.Type)<<4 | byte(tokenLen)
	dst = append(dst, hdr, byte(m.Code), byte(m.MsgID>>8), byte(m.MsgID))
	dst = append(dst, m.Token[:tokenLen]...)

	lastNumber := 0
	for _, o := range m.Options {
		delta := o.Number - lastNumber
		lastNumber = o.Number
		dst = appendOptionHeader(dst, delta, len(o.Value))
		dst = append(dst, o.Value...)
	}

	if len(m.Payload) > 0 {
		dst = append(dst, optionEndMarker)
		dst = append(dst, m.Payload...)
	}
	return dst
}

// appendOptionHeader writes the option's delta/length nibble pair (with
// 13/14-valued extended encoding per RFC 7252 §3.1) but not its value.
func appendOptionHeader(dst []byte, delta, length int) []byte {
	dn, dext, dextLen := splitOptionField(delta)
	ln, lext, lextLen := splitOptionField(length)
	dst = append(dst, byte(dn<<4|ln))
	dst = appendExtended(dst, dext, dextLen)
	dst = appendExtended(dst, lext, lextLen)
	return dst
}

// splitOptionField encodes one of an option's delta/length fields into its
// 4-bit nibble plus 0, 1 or 2 extended bytes.
func splitOptionField(v int) (nibble int, ext int, extLen int) {
	switch {
	case v < 13:
		return v, 0, 0
	case v < 13+256:
		return 13, v - 13, 1
	default:
		return 14, v - 269, 2
	}
}

func appendExtended(dst []byte, v, n int) []byte {
	switch n {
	case 1:
		return append(dst, byte(v))
	case 2:
		return append(dst, byte(v>>8), byte(v))
	default:
		return dst
	}
}

// Decode parses buf as a UDP-transport CoAP message.
func Decode(buf []byte) (*Message, error) {
	if len(buf) < 4 {
		return nil, ErrTruncated
	}
	if buf[0]>>6 != version {
		return nil, ErrBadVersion
	}
	tokenLen := int(buf[0] & 0x0F)
	m := &Message{
		Type:  Type(buf[0] >> 4 & 0x03),
		Code:  Code(buf[1]),
		MsgID: uint16(buf[2])<<8 | uint16(buf[3]),
	}
	pos := 4
	if tokenLen > 8 {
		return nil, errors.New("coap: token length exceeds 8")
	}
	if pos+tokenLen > len(buf) {
		return nil, ErrTruncated
	}
	m.Token = append([]byte(nil), buf[pos:pos+tokenLen]...)
	pos += tokenLen

	number := 0
	for pos < len(buf) {
		if buf[pos] == optionEndMarker {
			pos++
			m.Payload = append([]byte(nil), buf[pos:]...)
			return m, nil
		}
		dn := int(buf[pos] >> 4)
		ln := int(buf[pos] & 0x0F)
		pos++

		delta, next, err := readExtended(buf, pos, dn)
		if err != nil {
			return nil, err
		}
		pos = next
		length, next, err := readExtended(buf, pos, ln)
		if err != nil {
			return nil, err
		}
		pos = next

		if pos+length > len(buf) {
			return nil, ErrTruncated
		}
		number += delta
		m.Options = append(m.Options, Option{Number: number, Value: append([]byte(nil), buf[pos:pos+length]...)})
		pos += length
	}
	return m, nil
}

// readExtended resolves one delta/length nibble (already split out of the
// option header byte) into its numeric value, consuming 0, 1 or 2 extended
// bytes from buf starting at pos.
func readExtended(buf []byte, pos, nibble int) (value, next int, err error) {
	switch nibble {
	case 13:
		if pos >= len(buf) {
			return 0, pos, ErrTruncated
		}
		return int(buf[pos]) + 13, pos + 1, nil
	case 14:
		if pos+1 >= len(buf) {
			return 0, pos, ErrTruncated
		}
		return int(buf[pos])<<8 | int(buf[pos+1]) + 269, pos + 2, nil
	case 15:
		return 0, pos, errors.New("coap: reserved nibble 15")
	default:
		return nibble, pos, nil
	}
}
