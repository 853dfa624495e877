package decoder

import (
	"fmt"
	"strings"

	"github.com/arloliu/mebo/endian"
)

// Type identifies how a field of the data set is encoded on the wire.
type Type int

const (
	Float32 Type = iota
	Float64
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Quality
	Timestamp
)

var typeNames = map[Type]string{
	Float32:   "float32",
	Float64:   "float64",
	Int8:      "int8",
	Int16:     "int16",
	Int32:     "int32",
	Int64:     "int64",
	Uint8:     "uint8",
	Uint16:    "uint16",
	Uint32:    "uint32",
	Quality:   "quality",
	Timestamp: "timestamp",
}

// Width returns the encoded size of the type in bytes.
func (t Type) Width() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Float32, Int32, Uint32, Quality:
		return 4
	case Float64, Int64, Timestamp:
		return 8
	default:
		return 0
	}
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}

	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType maps a configuration name (case-insensitive) to a Type.
func ParseType(s string) (Type, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}

	return 0, fmt.Errorf("decoder: unknown field type %q", s)
}

// Field is one (offset, type) entry of a data-set layout.
type Field struct {
	Offset int
	Type   Type
}

// Layout describes the out-of-band agreed structure of an ASDU payload.
type Layout struct {
	Fields []Field
	Order  endian.EndianEngine
}

// DefaultLayout is two FLOAT32 values at offsets 0 and 4, big-endian as
// fixed by IEC 61850-9-2.
func DefaultLayout() Layout {
	return Layout{
		Fields: []Field{
			{Offset: 0, Type: Float32},
			{Offset: 4, Type: Float32},
		},
		Order: endian.GetBigEndianEngine(),
	}
}

// Required returns the minimum payload length needed to read every field.
func (l Layout) Required() int {
	req := 0
	for _, f := range l.Fields {
		if end := f.Offset + f.Type.Width(); end > req {
			req = end
		}
	}

	return req
}

// Validate rejects layouts that cannot be decoded.
func (l Layout) Validate() error {
	if len(l.Fields) == 0 {
		return fmt.Errorf("decoder: layout has no fields")
	}

	for i, f := range l.Fields {
		if f.Offset < 0 {
			return fmt.Errorf("decoder: field %d has negative offset %d", i, f.Offset)
		}

		if f.Type.Width() == 0 {
			return fmt.Errorf("decoder: field %d has unknown type %v", i, f.Type)
		}
	}

	return nil
}
