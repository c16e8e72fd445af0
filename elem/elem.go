// Package elem provides word-level element codecs for the data types the
// orchestrator moves through local memory.
//
// Local memory is word-addressed and each word holds exactly one element:
// a float32 occupies the full 32-bit word, a float16 occupies the low 16
// bits. The codecs convert between float64 reference values (used by the
// compute model and by tests) and the stored word patterns.
package elem

import (
	"math"

	"github.com/x448/float16"
)

// Type identifies the element data type of an operand.
type Type int

const (
	// Float32 is a 4-byte IEEE 754 single-precision element.
	Float32 Type = iota
	// Float16 is a 2-byte IEEE 754 half-precision element.
	Float16
)

// Size returns the element size in bytes as it appears in bulk memory.
func (t Type) Size() int {
	switch t {
	case Float16:
		return 2
	default:
		return 4
	}
}

// String returns the type name.
func (t Type) String() string {
	switch t {
	case Float16:
		return "float16"
	default:
		return "float32"
	}
}

// TypeForSize maps an element byte size to its Type.
// Sizes other than 2 and 4 are not supported and default to Float32.
func TypeForSize(size int) Type {
	if size == 2 {
		return Float16
	}
	return Float32
}

// Encode converts a reference value into the local-memory word pattern.
func (t Type) Encode(v float64) uint32 {
	switch t {
	case Float16:
		return uint32(float16.Fromfloat32(float32(v)).Bits())
	default:
		return math.Float32bits(float32(v))
	}
}

// Decode converts a local-memory word pattern back into a reference value.
func (t Type) Decode(w uint32) float64 {
	switch t {
	case Float16:
		return float64(float16.Frombits(uint16(w)).Float32())
	default:
		return float64(math.Float32frombits(w))
	}
}
