package layout

import (
	"fmt"
	"strings"
)

// DataType is the scalar type of a tensor element.
type DataType int

const (
	Undef DataType = iota
	F32
	S32
	S8
	U8
)

// Size returns the element size in bytes.
func (dt DataType) Size() int {
	switch dt {
	case F32, S32:
		return 4
	case S8, U8:
		return 1
	default:
		return 0
	}
}

func (dt DataType) String() string {
	switch dt {
	case F32:
		return "f32"
	case S32:
		return "s32"
	case S8:
		return "s8"
	case U8:
		return "u8"
	default:
		return "undef"
	}
}

// ParseDataType accepts the short names printed by String.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f32", "float32":
		return F32, nil
	case "s32", "int32":
		return S32, nil
	case "s8", "int8":
		return S8, nil
	case "u8", "uint8":
		return U8, nil
	default:
		return Undef, fmt.Errorf("layout: unknown data type %q (want f32|s32|s8|u8)", s)
	}
}
