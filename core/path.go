// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package core

import "fmt"

// ID is a single path segment: an object, instance, resource or
// resource-instance identifier.
type ID uint16

// IDInvalid is the sentinel distinct from every legal ID; it marks a
// trailing, unused slot in a Path.
const IDInvalid ID = 0xFFFF

// Level names the position a path segment occupies.
type Level int

// The five levels a Path can report, by its Length.
const (
	LevelRoot Level = iota
	LevelObject
	LevelInstance
	LevelResource
	LevelResourceInstance
)

// MaxPathLength is the deepest a Path can go: Object/Instance/Resource/
// ResourceInstance.
const MaxPathLength = 4

// Path is an ordered tuple of 0 to 4 IDs. Length classifies it as
// root(0), object(1), instance(2), resource(3) or resource-instance(4).
// The zero Path is the root path.
type Path struct {
	ids    [MaxPathLength]ID
	length int
}

// NewPath builds a Path from up to MaxPathLength ids, in order. It panics on
// a malformed invocation (too many ids or an id == IDInvalid) since path
// construction from literal, compile-time-known segments is never expected
// to fail at runtime; use MakePath for a fallible constructor driven by
// untrusted input.
func NewPath(ids ...ID) Path {
	p, err := MakePath(ids...)
	if err != nil {
		panic(err)
	}
	return p
}

// MakePath is the fallible constructor: 0 ≤ len(ids) ≤ 4, and every id must
// be < IDInvalid.
func MakePath(ids ...ID) (Path, error) {
	if len(ids) > MaxPathLength {
		return Path{}, NewError(KindInputArg, "path length exceeds 4")
	}
	var p Path
	for i, id := range ids {
		if id >= IDInvalid {
			return Path{}, NewError(KindInputArg, "path id exceeds the invalid sentinel")
		}
		p.ids[i] = id
	}
	for i := len(ids); i < MaxPathLength; i++ {
		p.ids[i] = IDInvalid
	}
	p.length = len(ids)
	return p, nil
}

// Length reports how many of the four slots are populated.
func (p Path) Length() int { return p.length }

// Level classifies the path by its Length.
func (p Path) Level() Level { return Level(p.length) }

// ID returns the identifier at depth i (0-based); IDInvalid if i is beyond
// Length.
func (p Path) ID(i int) ID {
	if i < 0 || i >= p.length {
		return IDInvalid
	}
	return p.ids[i]
}

// ObjectID, InstanceID, ResourceID and ResourceInstanceID are convenience
// accessors for the four canonical depths.
func (p Path) ObjectID() ID           { return p.ID(0) }
func (p Path) InstanceID() ID         { return p.ID(1) }
func (p Path) ResourceID() ID         { return p.ID(2) }
func (p Path) ResourceInstanceID() ID { return p.ID(3) }

// IsRoot, IsObject, IsInstance, IsResource and IsResourceInstance test
// Length against the corresponding Level.
func (p Path) IsRoot() bool             { return p.length == 0 }
func (p Path) IsObject() bool           { return p.length == 1 }
func (p Path) IsInstance() bool         { return p.length == 2 }
func (p Path) IsResource() bool         { return p.length == 3 }
func (p Path) IsResourceInstance() bool { return p.length == 4 }

// Equal reports whether p and q have the same length and the same IDs at
// every populated depth.
func (p Path) Equal(q Path) bool {
	if p.length != q.length {
		return false
	}
	for i := 0; i < p.length; i++ {
		if p.ids[i] != q.ids[i] {
			return false
		}
	}
	return true
}

// OutsideBase reports whether p lies outside the subtree rooted at base:
// true when p is strictly shorter than base, or when base's own-length
// prefix of p does not match base.
func (p Path) OutsideBase(base Path) bool {
	if p.length < base.length {
		return true
	}
	for i := 0; i < base.length; i++ {
		if p.ids[i] != base.ids[i] {
			return true
		}
	}
	return false
}

// Child extends p by one more id, returning an error if p is already at
// MaxPathLength or the id is invalid.
func (p Path) Child(id ID) (Path, error) {
	if p.length >= MaxPathLength {
		return Path{}, NewError(KindInputArg, "path already at maximum depth")
	}
	if id >= IDInvalid {
		return Path{}, NewError(KindInputArg, "path id exceeds the invalid sentinel")
	}
	q := p
	q.ids[q.length] = id
	q.length++
	return q, nil
}

// Prefix returns the leading n ids of p as a Path of Length n. Panics if n
// is out of [0, p.Length()].
func (p Path) Prefix(n int) Path {
	if n < 0 || n > p.length {
		panic("core: Prefix out of range")
	}
	q, _ := MakePath(p.ids[:n]...)
	return q
}

// Less orders paths lexicographically by ID, shorter-prefix-first: a path
// that is a strict prefix of another sorts before it.
func (p Path) Less(q Path) bool {
	n := p.length
	if q.length < n {
		n = q.length
	}
	for i := 0; i < n; i++ {
		if p.ids[i] != q.ids[i] {
			return p.ids[i] < q.ids[i]
		}
	}
	return p.length < q.length
}

func (p Path) String() string {
	if p.length == 0 {
		return "/"
	}
	s := ""
	for i := 0; i < p.length; i++ {
		s += fmt.Sprintf("/%d", p.ids[i])
	}
	return s
}
