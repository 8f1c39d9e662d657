// Package variant implements the Typed Value: a tagged union used
// uniformly for plug-in property I/O, script variables, and host/script
// exchange (spec §3, §4.2). It is grounded on CVSandbox::XVariant
// (original_source/.../afx_types+) generalized to Go's type system.
package variant

import (
	"fmt"
	"strconv"

	"cvautomation/pkg/pixel"
	"cvautomation/pkg/xerror"
)

// Type tags the kind of value held by a Value.
type Type uint8

// Scalar, composite and array type tags.
const (
	Empty Type = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	UInt8
	UInt16
	UInt32
	UInt64
	Float32
	Float64
	String
	RangeInt
	RangeFloat
	ARGB
	PointInt
	PointFloat
	Size
	ARGBInt
	Image
	Array1D
	Array2D
)

// RangeIntVal is an inclusive integer range.
type RangeIntVal struct{ Min, Max int64 }

// RangeFloatVal is an inclusive floating range.
type RangeFloatVal struct{ Min, Max float64 }

// ARGBVal is a four-byte RGBA color.
type ARGBVal struct{ A, R, G, B uint8 }

// PointIntVal is an integer (x,y) coordinate.
type PointIntVal struct{ X, Y int64 }

// PointFloatVal is a floating (x,y) coordinate.
type PointFloatVal struct{ X, Y float64 }

// SizeVal is a (width,height) pair.
type SizeVal struct{ W, H int64 }

// Value is the tagged union. The zero Value is Empty.
type Value struct {
	typ Type

	b     bool
	i     int64
	u     uint64
	f64   float64
	str   string
	rngI  RangeIntVal
	rngF  RangeFloatVal
	argb  ARGBVal
	ptI   PointIntVal
	ptF   PointFloatVal
	sz    SizeVal
	img   *pixel.Buffer
	array []Value // Array1D, or rows flattened with row length for Array2D.
	cols  int     // number of columns, only meaningful for Array2D.
}

// Type returns the value's current type tag.
func (v Value) Type() Type { return v.typ }

// IsEmpty reports whether v holds no value.
func (v Value) IsEmpty() bool { return v.typ == Empty }

// --- constructors -----------------------------------------------------

func NewEmpty() Value                         { return Value{typ: Empty} }
func NewBool(b bool) Value                    { return Value{typ: Bool, b: b} }
func NewInt8(i int8) Value                    { return Value{typ: Int8, i: int64(i)} }
func NewInt16(i int16) Value                  { return Value{typ: Int16, i: int64(i)} }
func NewInt32(i int32) Value                  { return Value{typ: Int32, i: int64(i)} }
func NewInt64(i int64) Value                  { return Value{typ: Int64, i: i} }
func NewUInt8(u uint8) Value                  { return Value{typ: UInt8, u: uint64(u)} }
func NewUInt16(u uint16) Value                { return Value{typ: UInt16, u: uint64(u)} }
func NewUInt32(u uint32) Value                { return Value{typ: UInt32, u: uint64(u)} }
func NewUInt64(u uint64) Value                { return Value{typ: UInt64, u: u} }
func NewFloat32(f float32) Value              { return Value{typ: Float32, f64: float64(f)} }
func NewFloat64(f float64) Value              { return Value{typ: Float64, f64: f} }
func NewString(s string) Value                { return Value{typ: String, str: s} }
func NewRangeInt(r RangeIntVal) Value         { return Value{typ: RangeInt, rngI: r} }
func NewRangeFloat(r RangeFloatVal) Value     { return Value{typ: RangeFloat, rngF: r} }
func NewARGB(c ARGBVal) Value                 { return Value{typ: ARGB, argb: c} }
func NewPointInt(p PointIntVal) Value         { return Value{typ: PointInt, ptI: p} }
func NewPointFloat(p PointFloatVal) Value     { return Value{typ: PointFloat, ptF: p} }
func NewSize(s SizeVal) Value                 { return Value{typ: Size, sz: s} }
func NewARGBInt(packed int32) Value           { return Value{typ: ARGBInt, i: int64(packed)} }
func NewImage(img *pixel.Buffer) Value        { return Value{typ: Image, img: img} }

// NewArray1D builds a 1-D array value. All elements must share one scalar
// type; callers that need mixed content should wrap elements individually.
func NewArray1D(elems []Value) Value {
	return Value{typ: Array1D, array: elems}
}

// NewArray2D builds a rectangular 2-D array: len(elems) must be a multiple
// of cols, and every row has the same length.
func NewArray2D(elems []Value, cols int) (Value, error) {
	if cols <= 0 || len(elems)%cols != 0 {
		return Value{}, fmt.Errorf("array2d: %v elements not divisible by %v columns: %w",
			len(elems), cols, xerror.InvalidArgument)
	}
	return Value{typ: Array2D, array: elems, cols: cols}, nil
}

// --- accessors ----------------------------------------------------------

func (v Value) Bool() bool                { return v.b }
func (v Value) Int() int64                { return v.i }
func (v Value) UInt() uint64              { return v.u }
func (v Value) Float() float64            { return v.f64 }
func (v Value) String_() string           { return v.str }
func (v Value) RangeInt() RangeIntVal     { return v.rngI }
func (v Value) RangeFloat() RangeFloatVal { return v.rngF }
func (v Value) ARGB() ARGBVal             { return v.argb }
func (v Value) PointInt() PointIntVal     { return v.ptI }
func (v Value) PointFloat() PointFloatVal { return v.ptF }
func (v Value) Size() SizeVal             { return v.sz }
func (v Value) Image() *pixel.Buffer      { return v.img }
func (v Value) Array() []Value            { return v.array }
func (v Value) Columns() int              { return v.cols }

// Row returns row r of a 2-D array.
func (v Value) Row(r int) ([]Value, error) {
	if v.typ != Array2D {
		return nil, fmt.Errorf("row: %w", xerror.IncompatibleTypes)
	}
	if r < 0 || (r+1)*v.cols > len(v.array) {
		return nil, fmt.Errorf("row %v: %w", r, xerror.IndexOutOfBounds)
	}
	return v.array[r*v.cols : (r+1)*v.cols], nil
}

// Copy returns a value-semantic copy of v. Image values are deep-cloned so
// that two holders never alias the same pixel buffer (consistent with the
// Pixel Buffer's single-owner discipline).
func (v Value) Copy() (Value, error) {
	out := v
	if v.typ == Image && v.img != nil {
		clone, err := v.img.Clone()
		if err != nil {
			return Value{}, err
		}
		out.img = clone
	}
	if v.array != nil {
		cp := make([]Value, len(v.array))
		for i, e := range v.array {
			ce, err := e.Copy()
			if err != nil {
				return Value{}, err
			}
			cp[i] = ce
		}
		out.array = cp
	}
	return out, nil
}

func isNumeric(t Type) bool {
	switch t {
	case Bool, Int8, Int16, Int32, Int64, UInt8, UInt16, UInt32, UInt64, Float32, Float64:
		return true
	default:
		return false
	}
}

func (v Value) numericAsFloat() float64 {
	switch v.typ {
	case Bool:
		if v.b {
			return 1
		}
		return 0
	case Int8, Int16, Int32, Int64:
		return float64(v.i)
	case UInt8, UInt16, UInt32, UInt64:
		return float64(v.u)
	case Float32, Float64:
		return v.f64
	default:
		return 0
	}
}

// ChangeType converts v to target, following the total widening/narrowing
// matrix over scalars: all numeric<->numeric, numeric<->string, and
// scalar<->single-element-array conversions succeed (possibly lossily for
// narrowing). image converts only to/from itself. Any other combination
// that crosses into or out of image, or into/out of the structured
// (range/point/size/ARGB) types from an unrelated type, fails with
// IncompatibleTypes.
func (v Value) ChangeType(target Type) (Value, error) {
	if v.typ == target {
		return v, nil
	}

	if v.typ == Image || target == Image {
		return Value{}, fmt.Errorf("image converts only to/from itself: %w", xerror.IncompatibleTypes)
	}

	// scalar -> single-element array
	if target == Array1D && isNumeric(v.typ) || target == Array1D && v.typ == String {
		return NewArray1D([]Value{v}), nil
	}
	// single-element array -> scalar
	if v.typ == Array1D && len(v.array) == 1 {
		return v.array[0].ChangeType(target)
	}

	if isNumeric(v.typ) && isNumeric(target) {
		return numericConvert(v, target), nil
	}

	if v.typ == String && isNumeric(target) {
		return stringToNumeric(v.str, target)
	}
	if isNumeric(v.typ) && target == String {
		return NewString(formatNumeric(v)), nil
	}
	if v.typ == String && target == String {
		return v, nil
	}

	return Value{}, fmt.Errorf("cannot convert %v to %v: %w", v.typ, target, xerror.IncompatibleTypes)
}

func numericConvert(v Value, target Type) Value {
	f := v.numericAsFloat()
	switch target {
	case Bool:
		return NewBool(f != 0)
	case Int8:
		return NewInt8(int8(int64(f)))
	case Int16:
		return NewInt16(int16(int64(f)))
	case Int32:
		return NewInt32(int32(int64(f)))
	case Int64:
		return NewInt64(int64(f))
	case UInt8:
		return NewUInt8(uint8(uint64(int64(f))))
	case UInt16:
		return NewUInt16(uint16(uint64(int64(f))))
	case UInt32:
		return NewUInt32(uint32(uint64(int64(f))))
	case UInt64:
		return NewUInt64(uint64(int64(f)))
	case Float32:
		return NewFloat32(float32(f))
	case Float64:
		return NewFloat64(f)
	default:
		return Value{}
	}
}

func formatNumeric(v Value) string {
	switch v.typ {
	case Bool:
		return strconv.FormatBool(v.b)
	case Int8, Int16, Int32, Int64:
		return strconv.FormatInt(v.i, 10)
	case UInt8, UInt16, UInt32, UInt64:
		return strconv.FormatUint(v.u, 10)
	case Float32:
		return strconv.FormatFloat(v.f64, 'g', -1, 32)
	case Float64:
		return strconv.FormatFloat(v.f64, 'g', -1, 64)
	default:
		return ""
	}
}

func stringToNumeric(s string, target Type) (Value, error) {
	if target == Bool {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("parse bool %q: %w", s, xerror.IncompatibleTypes)
		}
		return NewBool(b), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("parse number %q: %w", s, xerror.IncompatibleTypes)
	}
	return numericConvert(Value{typ: Float64, f64: f}, target), nil
}

func (t Type) String() string {
	names := [...]string{
		"Empty", "Bool", "Int8", "Int16", "Int32", "Int64",
		"UInt8", "UInt16", "UInt32", "UInt64", "Float32", "Float64",
		"String", "RangeInt", "RangeFloat", "ARGB", "PointInt",
		"PointFloat", "Size", "ARGBInt", "Image", "Array1D", "Array2D",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "Unknown"
}
