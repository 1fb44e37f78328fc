// Package gc implements the mark-and-sweep collector over the value
// heap described in spec.md §5.4: every array, dict, string, and
// function object is linked into one intrusive list at allocation
// time; a collection pass marks everything reachable from the root
// set, then sweeps the list freeing anything left unmarked.
package gc

import "noct/internal/value"

// Roots supplies everything the collector must treat as reachable:
// globals, every live frame's temporaries, and any value a native
// call has pinned for the duration of its C/Go-side lifetime.
type Roots interface {
	WalkRoots(visit func(value.Value))
}

// Heap owns every allocation and the interned-string table. Strings
// are interned by content hash so two identical literals share one
// Object; allocation pressure from long-running scripts is what
// collection exists to bound.
type Heap struct {
	head    *value.Object // intrusive linked list of every live allocation
	count   int
	strings map[uint32][]*value.Object // hash -> bucket, content-addressed interning

	threshold int // object count that triggers the next automatic collection
}

func New() *Heap {
	return &Heap{strings: map[uint32][]*value.Object{}, threshold: 1024}
}

func (h *Heap) link(o *value.Object) *value.Object {
	o.Next = h.head
	h.head = o
	h.count++
	return o
}

// Intern returns the shared *value.Object for s, allocating and
// linking a new one on first sight of this content.
func (h *Heap) Intern(s string) *value.Object {
	hash := fnv32a(s)
	for _, o := range h.strings[hash] {
		if o.Str == s {
			return o
		}
	}
	o := &value.Object{Kind: value.ObjString, Str: s, Hash: hash}
	h.strings[hash] = append(h.strings[hash], o)
	return h.link(o)
}

func fnv32a(s string) uint32 {
	const offset32 = 2166136261
	const prime32 = 16777619
	hv := uint32(offset32)
	for i := 0; i < len(s); i++ {
		hv ^= uint32(s[i])
		hv *= prime32
	}
	return hv
}

func (h *Heap) NewArray(elems []value.Value) *value.Object {
	return h.link(&value.Object{Kind: value.ObjArray, Arr: elems})
}

func (h *Heap) NewDict() *value.Object {
	return h.link(&value.Object{Kind: value.ObjDict, Index: map[string]int{}})
}

func (h *Heap) NewFunction(name string, native bool) *value.Object {
	return h.link(&value.Object{Kind: value.ObjFunction, FuncName: name, Native: native})
}

// Count reports the number of live (pre-collection) heap objects.
func (h *Heap) Count() int { return h.count }

// ShouldCollect reports whether the heap has grown enough since the
// last sweep to justify a collection pass.
func (h *Heap) ShouldCollect() bool { return h.count >= h.threshold }

// Collect runs one mark-and-sweep pass rooted at roots. Interned
// strings are re-bucketed using the same Marked bit the sweep just
// computed, then the bit is cleared in a final pass over survivors.
func (h *Heap) Collect(roots Roots) {
	roots.WalkRoots(func(v value.Value) { mark(v) })

	var kept *value.Object
	var tail *value.Object
	live := 0
	for o := h.head; o != nil; {
		next := o.Next
		if o.Marked {
			o.Next = nil
			if tail == nil {
				kept = o
			} else {
				tail.Next = o
			}
			tail = o
			live++
		}
		o = next
	}
	h.head = kept
	h.count = live

	for hash, bucket := range h.strings {
		out := bucket[:0]
		for _, o := range bucket {
			if o.Marked {
				out = append(out, o)
			}
		}
		if len(out) == 0 {
			delete(h.strings, hash)
		} else {
			h.strings[hash] = out
		}
	}
	for o := kept; o != nil; o = o.Next {
		o.Marked = false
	}
	if h.threshold < h.count*2 {
		h.threshold = h.count * 2
	}
}

func mark(v value.Value) {
	if v.Obj == nil || v.Obj.Marked {
		return
	}
	v.Obj.Marked = true
	switch v.Obj.Kind {
	case value.ObjArray:
		for _, e := range v.Obj.Arr {
			mark(e)
		}
	case value.ObjDict:
		for _, e := range v.Obj.DictVals {
			mark(e)
		}
	}
}
