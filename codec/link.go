// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package codec

import (
	"strconv"

	"github.com/go-lwm2m/anj/core"
)

// LinkEntry is one path plus its decoration attributes for a link-format
// payload (§4.8). Dim is the multi-instance resource cardinality; it is
// only emitted when DimSet is true.
type LinkEntry struct {
	Path    core.Path
	Version string // "X.Y"; emitted as ver=X.Y when non-empty
	Attrs   core.AttrSet
	Dim     int
	DimSet  bool
}

// securityObjectID and oscoreObjectID are excluded from a Register payload
// per §4.8: a bootstrapped device does not reveal its credential objects
// to the registering server.
const (
	securityObjectID core.ID = 0
	oscoreObjectID   core.ID = 21
)

// LinkEncoder builds the Register, Discover and Bootstrap-Discover
// link-format bodies. The three differ only in configuration: Register
// excludes the security/OSCORE objects and never carries notification
// attributes; Bootstrap-Discover prefixes `</>;lwm2m=X.Y`; Discover honours
// a depth limit and may carry the full attribute set.
type LinkEncoder struct {
	op    core.OperationKind
	depth int // 0 means unlimited

	rootVersion string // Bootstrap-Discover's </>;lwm2m=X.Y prefix

	buf      []byte
	drainPos int
	wrote    bool

	lastPath core.Path
	havePath bool
}

var _ Encoder = (*LinkEncoder)(nil)

// InitLink configures the encoder for one of the three link-format
// operations. depth<=0 means unlimited (Register and Bootstrap-Discover
// never limit depth). rootVersion is only meaningful for
// OpBootstrapDiscover.
func (e *LinkEncoder) InitLink(op core.OperationKind, depth int, rootVersion string) error {
	*e = LinkEncoder{op: op, depth: depth, rootVersion: rootVersion}
	if op == core.OpBootstrapDiscover && rootVersion != "" {
		e.buf = append(e.buf, "</>;lwm2m="+rootVersion...)
		e.wrote = true
	}
	return nil
}

// Init satisfies the Encoder interface; link-format encoders are built via
// InitLink instead, since they need operation-specific configuration the
// common Init signature has no room for.
func (e *LinkEncoder) Init(base core.Path, op core.OperationKind, itemCount int) error {
	return e.InitLink(op, 0, "")
}

// NewEntry satisfies the Encoder interface but always fails with
// KindLogic: link-format entries are added through NewLinkEntry.
func (e *LinkEncoder) NewEntry(entry core.Entry) error {
	return core.NewError(core.KindLogic, "link: use NewLinkEntry, not NewEntry")
}

// NewLinkEntry is the link-format-specific entry point (the Encoder
// interface's NewEntry/core.Entry pairing has no room for attributes or a
// depth/dim annotation). It appends one path with its attributes. Paths
// must arrive in ascending order (§4.8); Register silently excludes the
// Security and OSCORE objects (as opposed to erroring) since the caller is
// expected to iterate over the full object tree.
func (e *LinkEncoder) NewLinkEntry(le LinkEntry) error {
	if e.op == core.OpRegister {
		if le.Path.Length() >= 1 {
			switch le.Path.ObjectID() {
			case securityObjectID, oscoreObjectID:
				return nil
			}
		}
	}

	if e.depth > 0 && le.Path.Length() > e.depth {
		return core.ErrDepthWarning
	}

	if e.havePath && !e.lastPath.Less(le.Path) {
		return core.NewError(core.KindInputArg, "link: paths must be supplied in ascending order")
	}
	e.lastPath = le.Path
	e.havePath = true

	if e.wrote {
		e.buf = append(e.buf, ',')
	}
	e.wrote = true

	e.buf = append(e.buf, '<')
	e.buf = append(e.buf, le.Path.String()...)
	e.buf = append(e.buf, '>')

	if le.Version != "" {
		e.buf = append(e.buf, ";ver="+le.Version...)
	}
	e.appendAttrs(le.Attrs)
	if le.DimSet {
		e.buf = append(e.buf, ";dim="+strconv.Itoa(le.Dim)...)
	}
	return nil
}

func (e *LinkEncoder) appendAttrs(a core.AttrSet) {
	if a.Has(core.AttrMinPeriod) {
		e.buf = append(e.buf, ";pmin="+strconv.FormatInt(a.MinPeriod, 10)...)
	}
	if a.Has(core.AttrMaxPeriod) {
		e.buf = append(e.buf, ";pmax="+strconv.FormatInt(a.MaxPeriod, 10)...)
	}
	if a.Has(core.AttrGreaterThan) {
		e.buf = append(e.buf, ";gt="+formatLinkFloat(a.GreaterThan)...)
	}
	if a.Has(core.AttrLessThan) {
		e.buf = append(e.buf, ";lt="+formatLinkFloat(a.LessThan)...)
	}
	if a.Has(core.AttrStep) {
		e.buf = append(e.buf, ";st="+formatLinkFloat(a.Step)...)
	}
	if a.Has(core.AttrMinEvalPeriod) {
		e.buf = append(e.buf, ";epmin="+strconv.FormatInt(a.MinEvalPeriod, 10)...)
	}
	if a.Has(core.AttrMaxEvalPeriod) {
		e.buf = append(e.buf, ";epmax="+strconv.FormatInt(a.MaxEvalPeriod, 10)...)
	}
	if a.Has(core.AttrEpochMin) {
		e.buf = append(e.buf, ";epochmin="+strconv.FormatInt(a.EpochMin, 10)...)
	}
	if a.Has(core.AttrEpochMax) {
		e.buf = append(e.buf, ";epochmax="+strconv.FormatInt(a.EpochMax, 10)...)
	}
	if a.Has(core.AttrEdge) {
		v := 0
		if a.Edge {
			v = 1
		}
		e.buf = append(e.buf, ";edge="+strconv.Itoa(v)...)
	}
	if a.Has(core.AttrConfirmableNotify) {
		v := 0
		if a.ConfirmableNotify {
			v = 1
		}
		e.buf = append(e.buf, ";con="+strconv.Itoa(v)...)
	}
	if a.Has(core.AttrEndpoint) {
		e.buf = append(e.buf, ";ep="+a.Endpoint...)
	}
	if a.Has(core.AttrLifetime) {
		e.buf = append(e.buf, ";lt="+strconv.FormatInt(a.Lifetime, 10)...)
	}
	if a.Has(core.AttrBinding) {
		e.buf = append(e.buf, ";b="+a.Binding...)
	}
	if a.Has(core.AttrSMSNumber) {
		e.buf = append(e.buf, ";sms="+a.SMSNumber...)
	}
	if a.Has(core.AttrQueueMode) && a.QueueMode {
		e.buf = append(e.buf, ";Q"...)
	}
	if a.Has(core.AttrLwM2MVersion) {
		e.buf = append(e.buf, ";lwm2m="+a.LwM2MVersion...)
	}
}

func formatLinkFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (e *LinkEncoder) GetPayload(buf []byte) (int, error) {
	n := copy(buf, e.buf[e.drainPos:])
	e.drainPos += n
	if e.drainPos < len(e.buf) {
		return n, core.ErrNeedNextCall
	}
	return n, nil
}

func (e *LinkEncoder) Finish(buf []byte) (int, error) { return e.GetPayload(buf) }
