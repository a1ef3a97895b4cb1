// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package codec

import "github.com/go-lwm2m/anj/core"

// InCtx is the input-context dispatcher of §4.9: unlike OutCtx it applies
// no heuristic, since an incoming payload always carries an explicit
// Content-Format option (or, for Plain Text interpretation, the caller
// already knows the resource's declared type from the data model).
type InCtx struct {
	Decoder
	Format core.ContentFormat
}

// NewInCtx builds the decoder matching format, failing with
// core.ErrUnsupportedFormat if it is not enabled in cfg or not one this
// codec package knows. plainTextType is only consulted when format is
// core.FormatPlainText, since Plain Text carries no type of its own.
func NewInCtx(cfg BuildConfig, format core.ContentFormat, plainTextType core.ValueType) (*InCtx, error) {
	if !cfg.enabled(format) {
		return nil, core.ErrUnsupportedFormat
	}
	dec, err := newDecoderForFormat(format, plainTextType)
	if err != nil {
		return nil, err
	}
	return &InCtx{Decoder: dec, Format: format}, nil
}

func newDecoderForFormat(format core.ContentFormat, plainTextType core.ValueType) (Decoder, error) {
	switch format {
	case core.FormatPlainText:
		return NewTextDecoder(plainTextType), nil
	case core.FormatOpaque:
		return &OpaqueDecoder{}, nil
	case core.FormatCBOR:
		return &CBORDecoder{}, nil
	case core.FormatSenMLCBOR, core.FormatSenMLETCHCBOR:
		return &SenMLDecoder{}, nil
	case core.FormatLwM2MCBOR:
		return &HCBORDecoder{}, nil
	case core.FormatTLV:
		return &TLVDecoder{}, nil
	default:
		return nil, core.ErrUnsupportedFormat
	}
}
