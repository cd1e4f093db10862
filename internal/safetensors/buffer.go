package safetensors

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/example/go-dnn-primer/internal/memory"
)

// FromBuffer captures a buffer's logical contents as a dense row-major
// tensor. The buffer must not have pending writes.
func FromBuffer(name string, b *memory.Buffer) (Tensor, error) {
	v, err := b.Host()
	if err != nil {
		return Tensor{}, fmt.Errorf("safetensors: %s: %w", name, err)
	}

	desc := b.Desc()

	dtype, err := DTypeOf(desc.DataType)
	if err != nil {
		return Tensor{}, err
	}

	size := desc.DataType.Size()
	data := make([]byte, 0, int(desc.Shape.NumElements())*size)
	strides := desc.Layout.Strides()

	_ = desc.Shape.ForEach(func(idx []int64) error {
		var off int64
		for i, x := range idx {
			off += x * strides[i]
		}

		switch {
		case v.F32 != nil:
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v.F32[off]))
		case v.S32 != nil:
			data = binary.LittleEndian.AppendUint32(data, uint32(v.S32[off]))
		case v.S8 != nil:
			data = append(data, byte(v.S8[off]))
		default:
			data = append(data, v.U8[off])
		}

		return nil
	})

	return Tensor{Name: name, DType: dtype, Shape: desc.Shape.Dims(), Data: data}, nil
}
