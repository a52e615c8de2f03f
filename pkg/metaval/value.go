// Package metaval implements the tagged-value mapping used for node metadata
// and filter predicates (see Design Note "dynamic dictionaries for metadata").
//
// A Value is a sum type over scalar, list, and nested-mapping values. Filter
// operators ($in, $gte, $lte, $ne) are represented as ordinary Map values keyed
// by the operator name, so the evaluator never needs a separate filter AST.
package metaval

import "sort"

// Kind identifies which alternative of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

// Value is an immutable tagged union: exactly one of the typed fields is
// meaningful, selected by Kind.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []Value
	m    map[string]Value
}

// Null is the zero Value.
var Null = Value{kind: KindNull}

func String(s string) Value { return Value{kind: KindString, str: s} }
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value     { return Value{kind: KindBool, b: b} }

func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

func StringList(items ...string) Value {
	vs := make([]Value, len(items))
	for i, s := range items {
		vs[i] = String(s)
	}
	return Value{kind: KindList, list: vs}
}

func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Equal reports whether two values are the same kind and content.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		// Values of different kinds are never equal.
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindString:
		return a.str == b.str
	case KindNumber:
		return a.num == b.num
	case KindBool:
		return a.b == b.b
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// less provides a total order over comparable (string/number) values, used by
// the $gte/$lte operators. Non-comparable kinds always report false.
func less(a, b Value) bool {
	if a.kind == KindNumber && b.kind == KindNumber {
		return a.num < b.num
	}
	if a.kind == KindString && b.kind == KindString {
		return a.str < b.str
	}
	return false
}

func greaterOrEqual(actual, bound Value) bool {
	return Equal(actual, bound) || less(bound, actual)
}

func lessOrEqual(actual, bound Value) bool {
	return Equal(actual, bound) || less(actual, bound)
}

func contains(list []Value, target Value) bool {
	for _, v := range list {
		if Equal(v, target) {
			return true
		}
	}
	return false
}

// Metadata is the open key->Value mapping carried by every node.
type Metadata map[string]Value

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	cp := make(Metadata, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// Merge returns a new Metadata with patch applied over m (patch wins on key
// collision). Neither input is mutated.
func (m Metadata) Merge(patch Metadata) Metadata {
	out := m.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Drop returns a new Metadata with the listed keys removed.
func (m Metadata) Drop(keys ...string) Metadata {
	out := m.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Keys returns the metadata's keys in sorted order, useful for deterministic
// serialization.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Matches evaluates a single generic (non-permission) filter condition
// against the actual value stored in metadata. expected encodes:
//   - scalar  -> equality
//   - list    -> membership (actual in expected)
//   - map     -> operator set {$in, $gte, $lte, $ne}, all must hold
//
// A missing key (actual is the zero Value with ok=false) never matches.
func Matches(actual Value, actualOK bool, expected Value) bool {
	if !actualOK {
		return false
	}
	switch expected.kind {
	case KindMap:
		for op, bound := range expected.m {
			switch op {
			case "$in":
				items, _ := bound.AsList()
				if !contains(items, actual) {
					return false
				}
			case "$gte":
				if !greaterOrEqual(actual, bound) {
					return false
				}
			case "$lte":
				if !lessOrEqual(actual, bound) {
					return false
				}
			case "$ne":
				if Equal(actual, bound) {
					return false
				}
			}
		}
		return true
	case KindList:
		return contains(expected.list, actual)
	default:
		return Equal(actual, expected)
	}
}
