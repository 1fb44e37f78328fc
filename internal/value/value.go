// Package value implements the dynamic value model described in
// spec.md §5: a small tagged union over null/integer/float/string plus
// reference-shared heap objects (array, dict, function), with content
// addressed string interning and insertion-ordered dicts.
package value

import (
	"fmt"
	"strconv"
	"strings"
)

type Kind byte

const (
	Null Kind = iota
	Int
	Float
	String
	Array
	Dict
	Function
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Int:
		return "int"
	case Float:
		return "float"
	case String:
		return "string"
	case Array:
		return "array"
	case Dict:
		return "dict"
	case Function:
		return "function"
	default:
		return "unknown"
	}
}

// ObjectKind distinguishes the shapes of heap-allocated Object, which
// the garbage collector sweeps uniformly via its Marked/Next fields.
type ObjectKind byte

const (
	ObjString ObjectKind = iota
	ObjArray
	ObjDict
	ObjFunction
)

// Object is every heap-allocated value's common header. The
// collector's mark phase walks the root set setting Marked, and its
// sweep phase walks the intrusive Next linked list freeing anything
// left unmarked — the same header shape a tracing GC over
// heterogeneous object kinds needs, just without NaN-boxed pointers.
type Object struct {
	Kind   ObjectKind
	Marked bool
	Next   *Object

	// ObjString
	Str  string
	Hash uint32

	// ObjArray
	Arr []Value

	// ObjDict: parallel slices preserve insertion order; Index gives
	// O(1) lookup by key.
	DictKeys []string
	DictVals []Value
	Index    map[string]int

	// ObjFunction: name of the LIR function or registered native this
	// value refers to. The VM allocates a new Object each time it
	// resolves a function name to a value; like any other heap object
	// it is collected once no root reaches it, while the function
	// itself stays in the VM's function table. The Object header lets
	// it flow through Value uniformly with arrays and dicts.
	FuncName string
	Native   bool
}

// Value is the tagged union passed around the interpreter: Int/Float
// live inline, String/Array/Dict/Function carry a heap pointer.
type Value struct {
	Kind Kind
	I    int32
	F    float32
	Obj  *Object
}

func NullValue() Value            { return Value{Kind: Null} }
func IntValue(i int32) Value      { return Value{Kind: Int, I: i} }
func FloatValue(f float32) Value  { return Value{Kind: Float, F: f} }
func FuncValue(o *Object) Value   { return Value{Kind: Function, Obj: o} }
func StringValue(o *Object) Value { return Value{Kind: String, Obj: o} }
func ArrayValue(o *Object) Value  { return Value{Kind: Array, Obj: o} }
func DictValue(o *Object) Value   { return Value{Kind: Dict, Obj: o} }

func (v Value) IsNull() bool { return v.Kind == Null }

// Truthy implements the language's boolean-coercion rule: null and
// zero-valued numbers are false, empty strings are false, every other
// value (including empty arrays/dicts) is true.
func (v Value) Truthy() bool {
	switch v.Kind {
	case Null:
		return false
	case Int:
		return v.I != 0
	case Float:
		return v.F != 0
	case String:
		return v.Obj != nil && v.Obj.Str != ""
	default:
		return true
	}
}

// Stringify renders a value as the canonical text used by string
// concatenation and by the REPL/print path.
func Stringify(v Value) string {
	switch v.Kind {
	case Null:
		return "null"
	case Int:
		return strconv.FormatInt(int64(v.I), 10)
	case Float:
		// Canonical rendering is C's default "%f" precision (6 digits
		// after the decimal point), per the arithmetic coercion rule:
		// "x" + 1.5 stringifies to "x1.500000", not "x1.5".
		return strconv.FormatFloat(float64(v.F), 'f', 6, 32)
	case String:
		return v.Obj.Str
	case Array:
		parts := make([]string, len(v.Obj.Arr))
		for i, e := range v.Obj.Arr {
			parts[i] = Stringify(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Dict:
		parts := make([]string, len(v.Obj.DictKeys))
		for i, k := range v.Obj.DictKeys {
			parts[i] = fmt.Sprintf("%s: %s", k, Stringify(v.Obj.DictVals[i]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case Function:
		return "<function " + v.Obj.FuncName + ">"
	default:
		return "?"
	}
}

// Equal implements the language's equality rule: numbers compare
// across int/float by value, strings compare by content, every
// compound value (array/dict/function) compares by identity — two
// distinct arrays with identical elements are not equal, matching
// reference-shared compound semantics.
func Equal(a, b Value) bool {
	switch {
	case a.Kind == Int && b.Kind == Int:
		return a.I == b.I
	case a.Kind == Float && b.Kind == Float:
		return a.F == b.F
	case a.Kind == Int && b.Kind == Float:
		return float32(a.I) == b.F
	case a.Kind == Float && b.Kind == Int:
		return a.F == float32(b.I)
	case a.Kind == String && b.Kind == String:
		return a.Obj == b.Obj || a.Obj.Str == b.Obj.Str
	case a.Kind == Null && b.Kind == Null:
		return true
	case a.Kind == Array && b.Kind == Array, a.Kind == Dict && b.Kind == Dict, a.Kind == Function && b.Kind == Function:
		return a.Obj == b.Obj
	default:
		return false
	}
}

// DictGet returns the value stored under key and whether it was present.
func DictGet(o *Object, key string) (Value, bool) {
	i, ok := o.Index[key]
	if !ok {
		return Value{}, false
	}
	return o.DictVals[i], true
}

// DictSet inserts or overwrites key, preserving first-insertion order.
func DictSet(o *Object, key string, v Value) {
	if i, ok := o.Index[key]; ok {
		o.DictVals[i] = v
		return
	}
	o.Index[key] = len(o.DictKeys)
	o.DictKeys = append(o.DictKeys, key)
	o.DictVals = append(o.DictVals, v)
}
