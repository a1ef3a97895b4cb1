// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package codec

import "github.com/go-lwm2m/anj/core"

// HCBOREncoder implements the hierarchical CBOR format (content-format
// 11544): entries are folded into nested maps keyed by path ID, one map level
// per path depth below the base, factoring a common path prefix the way a
// directory tree folds common ancestors. See §4.7.
//
// The encoder builds the whole tree before emitting any bytes: entries may
// arrive in any order relative to the eventual wire order, and the
// path-factoring rule (two entries sharing a path prefix collapse into one
// nested map at that prefix) can only be decided once every entry is
// known. Init's itemCount is used only to presize the entry slice.
type HCBOREncoder struct {
	base    core.Path
	op      core.OperationKind
	entries []core.Entry

	buf      []byte
	drainPos int
	built    bool
}

var _ Encoder = (*HCBOREncoder)(nil)

func (e *HCBOREncoder) Init(base core.Path, op core.OperationKind, itemCount int) error {
	*e = HCBOREncoder{base: base, op: op}
	if itemCount > 0 {
		e.entries = make([]core.Entry, 0, itemCount)
	}
	return nil
}

func (e *HCBOREncoder) NewEntry(entry core.Entry) error {
	if e.built {
		return core.NewError(core.KindLogic, "hcbor: entries already finalised")
	}
	if entry.Path.OutsideBase(e.base) {
		return core.NewError(core.KindInputArg, "hcbor: entry path outside base path")
	}
	if entry.Value.Type == core.ValueTypeExternalBytes || entry.Value.Type == core.ValueTypeExternalString {
		return core.NewError(core.KindUnsupportedFormat, "hcbor: external streams are not supported")
	}
	e.entries = append(e.entries, entry)
	return nil
}

func (e *HCBOREncoder) build() {
	node := buildHCBORNode(e.base.Length(), e.entries)
	e.buf = appendHCBORNode(nil, node)
	e.built = true
}

func (e *HCBOREncoder) GetPayload(buf []byte) (int, error) {
	if !e.built {
		// nothing is emitted until Finish has seen every entry.
		return 0, nil
	}
	n := copy(buf, e.buf[e.drainPos:])
	e.drainPos += n
	if e.drainPos < len(e.buf) {
		return n, core.ErrNeedNextCall
	}
	return n, nil
}

func (e *HCBOREncoder) Finish(buf []byte) (int, error) {
	if !e.built {
		e.build()
	}
	return e.GetPayload(buf)
}

// hcborNode is either a leaf value or a map of child ID to sub-node,
// mirroring the recursive folding the wire format performs.
type hcborNode struct {
	isLeaf bool
	value  core.Value
	childOrder []core.ID
	children   map[core.ID]*hcborNode
}

func buildHCBORNode(depth int, entries []core.Entry) *hcborNode {
	if len(entries) == 1 && entries[0].Path.Length() == depth {
		return &hcborNode{isLeaf: true, value: entries[0].Value}
	}

	n := &hcborNode{children: make(map[core.ID]*hcborNode)}
	byChild := map[core.ID][]core.Entry{}
	for _, e := range entries {
		id := e.Path.ID(depth)
		if _, ok := byChild[id]; !ok {
			n.childOrder = append(n.childOrder, id)
		}
		byChild[id] = append(byChild[id], e)
	}
	for _, id := range n.childOrder {
		n.children[id] = buildHCBORNode(depth+1, byChild[id])
	}
	return n
}

func appendHCBORNode(dst []byte, n *hcborNode) []byte {
	if n.isLeaf {
		return appendHCBORScalar(dst, n.value)
	}
	dst = cborAppendMapHead(dst, len(n.childOrder))
	for _, id := range n.childOrder {
		dst = cborAppendUint(dst, uint64(id))
		dst = appendHCBORNode(dst, n.children[id])
	}
	return dst
}

func appendHCBORScalar(dst []byte, v core.Value) []byte {
	switch v.Type {
	case core.ValueTypeInt:
		return cborAppendInt(dst, v.Int)
	case core.ValueTypeUint:
		return cborAppendUint(dst, v.Uint)
	case core.ValueTypeDouble:
		return cborAppendFloat64(dst, v.Double)
	case core.ValueTypeBool:
		return cborAppendBool(dst, v.Bool)
	case core.ValueTypeNull:
		return cborAppendNull(dst)
	case core.ValueTypeString:
		dst = cborAppendTextHead(dst, v.String.ChunkLength)
		return append(dst, v.String.Data[:v.String.ChunkLength]...)
	case core.ValueTypeBytes:
		dst = cborAppendBytesHead(dst, v.Bytes.ChunkLength)
		return append(dst, v.Bytes.Data[:v.Bytes.ChunkLength]...)
	case core.ValueTypeTime:
		dst = cborAppendTag(dst, cborTagEpochTime)
		return cborAppendInt(dst, v.Time)
	case core.ValueTypeObjLink:
		// object-link values are not addressable leaves in the object
		// tree the hierarchical format walks (they only ever appear
		// nested under a resource's own scalar slot, handled above);
		// present here only for completeness with the other codecs.
		dst = cborAppendArrayHead(dst, 2)
		dst = cborAppendUint(dst, uint64(v.ObjLink.ObjectID))
		return cborAppendUint(dst, uint64(v.ObjLink.InstanceID))
	default:
		return dst
	}
}

// HCBORDecoder decodes a hierarchical CBOR payload into a flat stream of
// entries, walking the nested maps depth-first and reconstructing each
// leaf's full path from the base plus the map-key chain above it.
type HCBORDecoder struct {
	base     core.Path
	buf      []byte
	finished bool

	entries []core.Entry
	idx     int
	parsed  bool

	pending   *core.Entry
	pendingIdx int
}

var _ Decoder = (*HCBORDecoder)(nil)

func (d *HCBORDecoder) Init(base core.Path) error {
	d.base = base
	d.buf = d.buf[:0]
	d.finished = false
	d.entries = nil
	d.idx = 0
	d.parsed = false
	d.pending = nil
	return nil
}

func (d *HCBORDecoder) FeedPayload(buf []byte, finished bool) error {
	d.buf = append(d.buf, buf...)
	d.finished = d.finished || finished
	return nil
}

func (d *HCBORDecoder) SetType(t core.ValueType) error {
	if d.pending == nil {
		return core.NewError(core.KindLogic, "hcbor: no pending disambiguation")
	}
	v, err := coerceSenMLValue(rawSenMLValue{value: d.pending.Value}, t)
	if err != nil {
		return err
	}
	d.pending.Value = v
	d.entries[d.pendingIdx] = *d.pending
	d.pending = nil
	return nil
}

func (d *HCBORDecoder) GetEntry() (core.Entry, error) {
	if !d.parsed {
		if !d.finished {
			return core.Entry{}, core.ErrWantNextPayload
		}
		entries, err := decodeHCBORTree(d.buf, d.base)
		if err != nil {
			return core.Entry{}, err
		}
		d.entries = entries
		d.parsed = true
	}
	if d.idx >= len(d.entries) {
		return core.Entry{}, core.ErrEOF
	}
	e := d.entries[d.idx]
	if hcborWantsDisambiguation(e.Value) {
		d.pending = &e
		d.pendingIdx = d.idx
		d.idx++
		return core.Entry{Path: e.Path}, core.ErrWantTypeDisambiguation
	}
	d.idx++
	return e, nil
}

// hcborWantsDisambiguation reports whether a decoded scalar's CBOR major
// type alone determines its LwM2M type, or whether the caller must supply
// one. Plain CBOR integers and floats are unambiguous in this format
// (unlike SenML-CBOR's shared key 2): only a CBOR integer that the data
// model expects as a different numeric kind could be in question, and
// since hierarchical CBOR carries no separate type tag, every numeric
// leaf already decodes exactly as written. Hierarchical CBOR therefore
// never actually asks for disambiguation; this hook exists so the decoder
// shares the SenML coercion helper if re-typing is ever required upstream.
func hcborWantsDisambiguation(core.Value) bool { return false }

func decodeHCBORTree(buf []byte, base core.Path) ([]core.Entry, error) {
	var entries []core.Entry
	_, err := decodeHCBORNode(buf, 0, base, &entries)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// decodeHCBORNode decodes one CBOR item at pos as either a map (recursing
// per key into deeper path segments) or a scalar (emitting a leaf entry at
// path), returning the position just past the item.
func decodeHCBORNode(buf []byte, pos int, path core.Path, out *[]core.Entry) (int, error) {
	head, ok := cborPeekHead(buf[pos:])
	if !ok {
		return pos, core.NewError(core.KindFormatMismatch, "hcbor: truncated item")
	}
	if head.Major != cborMajorMap {
		if head.Major == cborMajorBytes || head.Major == cborMajorText {
			chunks, next, err := decodeCBORItemChunks(buf, pos)
			if err != nil {
				return pos, err
			}
			for _, c := range chunks {
				*out = append(*out, core.Entry{Path: path, Value: c})
			}
			return next, nil
		}
		v, next, err := decodeCBORItem(buf, pos)
		if err != nil {
			return pos, err
		}
		*out = append(*out, core.Entry{Path: path, Value: v})
		return next, nil
	}

	pos += head.HeadLen
	nPairs := int(head.Arg)
	indefinite := head.Info == cborAddIndefinite
	for i := 0; indefinite || i < nPairs; i++ {
		if indefinite && pos < len(buf) && buf[pos] == 0xFF {
			pos++
			break
		}
		keyV, next, err := decodeCBORItem(buf, pos)
		if err != nil {
			return pos, err
		}
		pos = next
		keyID, err := keyV.AsUint()
		if err != nil || keyID >= uint64(core.IDInvalid) {
			return pos, core.NewError(core.KindFormatMismatch, "hcbor: bad map key")
		}
		childPath, err := path.Child(core.ID(keyID))
		if err != nil {
			return pos, core.NewError(core.KindFormatMismatch, "hcbor: path nesting exceeds maximum depth")
		}
		pos, err = decodeHCBORNode(buf, pos, childPath, out)
		if err != nil {
			return pos, err
		}
	}
	return pos, nil
}
