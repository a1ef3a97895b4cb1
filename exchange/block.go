// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package exchange

import "github.com/go-lwm2m/anj/coap"

// blockOption is a decoded Block1/Block2 option value: `(NUM << 4) | (M <<
// 3) | SZX`, per RFC 7959 §2.2.
type blockOption struct {
	Num  uint32
	More bool
	SZX  uint8
}

// szxBlockSize returns the block size in bytes for a given SZX (0..6), per
// RFC 7959: size = 1 << (SZX + 4).
func szxBlockSize(szx uint8) int { return 1 << (uint(szx) + 4) }

// blockSizeToSZX rounds size down to the nearest power-of-two multiple of
// 16 per §4.10 ("rounded down to the nearest power-of-two × 16 with a
// minimum of 16") and returns its SZX encoding. SZX tops out at 6 (1024
// bytes), the largest RFC 7959 allows.
func blockSizeToSZX(size int) uint8 {
	if size < 16 {
		return 0
	}
	szx := uint8(0)
	for szx < 6 && szxBlockSize(szx+1) <= size {
		szx++
	}
	return szx
}

func encodeBlockOption(b blockOption) []byte {
	more := uint32(0)
	if b.More {
		more = 1
	}
	v := b.Num<<4 | more<<3 | uint32(b.SZX)
	return coap.OptUint(v)
}

func decodeBlockOption(raw []byte) blockOption {
	v := coap.OptUintValue(raw)
	return blockOption{
		Num:  v >> 4,
		More: v&0x08 != 0,
		SZX:  uint8(v & 0x07),
	}
}
