package bytecode

import (
	"fmt"
	"math"
	"strconv"
)

// ============================================================================
// Boxed values
// ============================================================================

// Value is a tagged machine word as the host VM stores it on its stack.
//
// The tagging is CRuby's: the low bit marks an immediate integer (fixnum),
// and the special constants sit at fixed small words. Heap references are
// not modeled; every value the compiler can produce is an immediate.
type Value uint64

const (
	Qfalse Value = 0x00
	Qnil   Value = 0x08
	Qtrue  Value = 0x14
)

const (
	fixnumFlag = 1

	// FixnumMax and FixnumMin bound the integers a fixnum can hold.
	FixnumMax = math.MaxInt64 >> 1
	FixnumMin = math.MinInt64 >> 1
)

// Fixnum boxes n as (n << 1) | 1. Out-of-range integers wrap.
func Fixnum(n int64) Value {
	return Value(uint64(n)<<1 | fixnumFlag)
}

// Bool boxes b as Qtrue or Qfalse.
func Bool(b bool) Value {
	if b {
		return Qtrue
	}
	return Qfalse
}

// Box converts a host constant to its boxed word. It accepts nil, bool and
// the Go integer types; anything else is an error.
func Box(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Qnil, nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return boxInt(int64(x))
	case int8:
		return Fixnum(int64(x)), nil
	case int16:
		return Fixnum(int64(x)), nil
	case int32:
		return Fixnum(int64(x)), nil
	case int64:
		return boxInt(x)
	case uint8:
		return Fixnum(int64(x)), nil
	case uint16:
		return Fixnum(int64(x)), nil
	case uint32:
		return Fixnum(int64(x)), nil
	default:
		return 0, fmt.Errorf("bytecode: cannot box %T", v)
	}
}

func boxInt(n int64) (Value, error) {
	if n > FixnumMax || n < FixnumMin {
		return 0, fmt.Errorf("bytecode: %d does not fit a fixnum", n)
	}
	return Fixnum(n), nil
}

// IsFixnum reports whether v carries an immediate integer.
func (v Value) IsFixnum() bool {
	return v&fixnumFlag != 0
}

// Int unboxes a fixnum. ok is false for any other value.
func (v Value) Int() (n int64, ok bool) {
	if !v.IsFixnum() {
		return 0, false
	}
	return int64(v) >> 1, true
}

// Truthy reports Ruby truthiness: everything except nil and false.
func (v Value) Truthy() bool {
	return v != Qfalse && v != Qnil
}

// Unbox returns the Go value of v: int64, bool or nil. Words that are none of
// those come back as the raw Value.
func (v Value) Unbox() any {
	if n, ok := v.Int(); ok {
		return n
	}
	switch v {
	case Qnil:
		return nil
	case Qtrue:
		return true
	case Qfalse:
		return false
	}
	return v
}

func (v Value) String() string {
	if n, ok := v.Int(); ok {
		return fmt.Sprintf("%d", n)
	}
	switch v {
	case Qnil:
		return "nil"
	case Qtrue:
		return "true"
	case Qfalse:
		return "false"
	}
	return fmt.Sprintf("#<0x%x>", uint64(v))
}

// ParseValue parses the literal forms accepted by the text assembler: a
// decimal integer, nil, true or false.
func ParseValue(s string) (Value, error) {
	switch s {
	case "nil":
		return Qnil, nil
	case "true":
		return Qtrue, nil
	case "false":
		return Qfalse, nil
	}
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bytecode: bad literal %q", s)
	}
	return boxInt(n)
}
