// Package decoder turns the raw seqData payload of a sampled-values ASDU
// into numeric samples according to an a priori known data-set layout.
package decoder

import (
	"math"

	"github.com/arloliu/mebo/endian"
)

// Batch holds the samples decoded from one ASDU, in layout order.
type Batch []float64

// Decode extracts one sample per layout field from payload.
//
// declaredLen is the seqData length reported by the transport. Decoding
// never reads past min(declaredLen, len(payload)); if that is shorter than
// the layout requires, Decode returns nil and false. An undersized payload
// is routine on mixed traffic and is not an error.
func Decode(payload []byte, declaredLen int, layout Layout) (Batch, bool) {
	n := declaredLen
	if n > len(payload) {
		n = len(payload)
	}

	if n < 0 || len(layout.Fields) == 0 || n < layout.Required() {
		return nil, false
	}

	order := layout.Order
	if order == nil {
		order = endian.GetBigEndianEngine()
	}

	buf := payload[:n]
	out := make(Batch, 0, len(layout.Fields))

	for _, f := range layout.Fields {
		out = append(out, readField(buf[f.Offset:f.Offset+f.Type.Width()], f.Type, order))
	}

	return out, true
}

func readField(b []byte, t Type, order endian.EndianEngine) float64 {
	switch t {
	case Float32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case Float64:
		return math.Float64frombits(order.Uint64(b))
	case Int8:
		return float64(int8(b[0]))
	case Int16:
		return float64(int16(order.Uint16(b)))
	case Int32:
		return float64(int32(order.Uint32(b)))
	case Int64:
		return float64(int64(order.Uint64(b)))
	case Uint8:
		return float64(b[0])
	case Uint16:
		return float64(order.Uint16(b))
	case Uint32, Quality:
		return float64(order.Uint32(b))
	case Timestamp:
		// UtcTime: 4 bytes seconds, 3 bytes binary fraction, 1 byte quality.
		// Always big-endian per IEC 61850-8-1 regardless of the data order.
		secs := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
		frac := uint32(b[4])<<16 | uint32(b[5])<<8 | uint32(b[6])

		return float64(secs) + float64(frac)/float64(1<<24)
	default:
		return math.NaN()
	}
}
