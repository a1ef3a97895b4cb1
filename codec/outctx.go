// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package codec

import "github.com/go-lwm2m/anj/core"

// BuildConfig reports which optional formats this build carries, mirroring
// the compile-time feature flags of §5.5 ("boundary" config): the
// dispatcher's format-selection table is the union of the formats enabled
// here. A zero-value BuildConfig enables nothing; SimpleTextFormat decides
// which of Plain Text or CBOR §4.9's heuristic reaches for.
type BuildConfig struct {
	CBOR       bool
	SenMLCBOR  bool
	HCBOR      bool
	TLV        bool
	PlainText  bool
	Opaque     bool

	// SimpleTextFormat selects which single-value format the heuristic
	// path picks when PlainText and CBOR are both enabled; it has no
	// effect otherwise.
	SimpleTextFormat core.ContentFormat
}

// DefaultBuildConfig enables every format, matching a build with no
// compile-time feature flags disabled.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		CBOR: true, SenMLCBOR: true, HCBOR: true, TLV: true, PlainText: true, Opaque: true,
		SimpleTextFormat: core.FormatPlainText,
	}
}

func (c BuildConfig) enabled(f core.ContentFormat) bool {
	switch f {
	case core.FormatPlainText:
		return c.PlainText
	case core.FormatOpaque:
		return c.Opaque
	case core.FormatCBOR:
		return c.CBOR
	case core.FormatSenMLCBOR, core.FormatSenMLETCHCBOR:
		return c.SenMLCBOR
	case core.FormatLwM2MCBOR:
		return c.HCBOR
	case core.FormatTLV:
		return c.TLV
	default:
		return false
	}
}

// OutCtx is the output-context dispatcher of §4.9: it picks one Encoder
// implementation per payload and exposes it through the common Encoder
// interface, so the caller driving an exchange never needs to know which
// concrete format won.
type OutCtx struct {
	Encoder
	Format core.ContentFormat
}

// NewOutCtx resolves formatHint against op/itemCount per §4.9's heuristic
// and returns a ready-to-Init dispatcher. formatHint is core.FormatUnspecified
// to request the heuristic.
func NewOutCtx(cfg BuildConfig, op core.OperationKind, itemCount int, formatHint core.ContentFormat) (*OutCtx, error) {
	format := formatHint
	if formatHint == core.FormatUnspecified {
		if itemCount <= 1 && op.IsReadLike() {
			format = cfg.SimpleTextFormat
			if !cfg.enabled(format) {
				if cfg.PlainText {
					format = core.FormatPlainText
				} else if cfg.CBOR {
					format = core.FormatCBOR
				} else {
					return nil, core.ErrUnsupportedFormat
				}
			}
		} else {
			format = core.FormatSenMLCBOR
			if !cfg.enabled(format) {
				switch {
				case cfg.HCBOR:
					format = core.FormatLwM2MCBOR
				case cfg.TLV:
					format = core.FormatTLV
				default:
					return nil, core.ErrUnsupportedFormat
				}
			}
		}
	} else if !cfg.enabled(format) {
		return nil, core.ErrUnsupportedFormat
	}

	enc, err := newEncoderForFormat(format)
	if err != nil {
		return nil, err
	}
	return &OutCtx{Encoder: enc, Format: format}, nil
}

func newEncoderForFormat(format core.ContentFormat) (Encoder, error) {
	switch format {
	case core.FormatPlainText:
		return &TextEncoder{}, nil
	case core.FormatOpaque:
		return &OpaqueEncoder{}, nil
	case core.FormatCBOR:
		return &CBOREncoder{}, nil
	case core.FormatSenMLCBOR, core.FormatSenMLETCHCBOR:
		return &SenMLEncoder{}, nil
	case core.FormatLwM2MCBOR:
		return &HCBOREncoder{}, nil
	case core.FormatTLV:
		return &TLVEncoder{}, nil
	default:
		return nil, core.ErrUnsupportedFormat
	}
}
