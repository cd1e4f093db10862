// Package safetensors reads and writes the safetensors container: an 8-byte
// little-endian header length, a JSON header, then raw tensor bytes.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/example/go-dnn-primer/internal/layout"
)

const (
	DTypeF32 = "F32"
	DTypeI32 = "I32"
	DTypeI8  = "I8"
	DTypeU8  = "U8"

	metadataKey = "__metadata__"
)

// Tensor is one named tensor with its elements in dense row-major order,
// little endian.
type Tensor struct {
	Name  string
	DType string
	Shape []int64
	Data  []byte
}

type headerEntry struct {
	DType   string  `json:"dtype"`
	Shape   []int64 `json:"shape"`
	Offsets [2]int  `json:"data_offsets"`
}

// DTypeOf maps a layout data type to its safetensors name.
func DTypeOf(dt layout.DataType) (string, error) {
	switch dt {
	case layout.F32:
		return DTypeF32, nil
	case layout.S32:
		return DTypeI32, nil
	case layout.S8:
		return DTypeI8, nil
	case layout.U8:
		return DTypeU8, nil
	default:
		return "", fmt.Errorf("safetensors: no dtype for %s", dt)
	}
}

func dtypeBytes(dtype string) (int, error) {
	switch strings.ToUpper(dtype) {
	case DTypeF32, DTypeI32:
		return 4, nil
	case DTypeI8, DTypeU8:
		return 1, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", dtype)
	}
}

// Float32s decodes the tensor's elements widened to float32.
func (t *Tensor) Float32s() ([]float32, error) {
	size, err := dtypeBytes(t.DType)
	if err != nil {
		return nil, fmt.Errorf("safetensors: tensor %q: %w", t.Name, err)
	}

	n, err := shapeElementCount(t.Shape)
	if err != nil {
		return nil, fmt.Errorf("safetensors: tensor %q: %w", t.Name, err)
	}

	if int64(len(t.Data)) < n*int64(size) {
		return nil, fmt.Errorf("safetensors: tensor %q needs %d bytes, got %d", t.Name, n*int64(size), len(t.Data))
	}

	out := make([]float32, n)

	for i := range out {
		switch strings.ToUpper(t.DType) {
		case DTypeF32:
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
		case DTypeI32:
			out[i] = float32(int32(binary.LittleEndian.Uint32(t.Data[i*4:])))
		case DTypeI8:
			out[i] = float32(int8(t.Data[i]))
		case DTypeU8:
			out[i] = float32(t.Data[i])
		}
	}

	return out, nil
}

func decodeHeader(data []byte) (int, map[string]json.RawMessage, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("safetensors: file too short (%d bytes)", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > uint64(len(data)-8) {
		return 0, nil, fmt.Errorf("safetensors: header length %d exceeds file size %d", headerLen, len(data))
	}

	headerEnd := 8 + int(headerLen)

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:headerEnd], &header); err != nil {
		return 0, nil, fmt.Errorf("safetensors: parse header: %w", err)
	}

	return headerEnd, header, nil
}

func validateHeaderEntry(name string, entry headerEntry) error {
	if _, err := dtypeBytes(entry.DType); err != nil {
		return fmt.Errorf("safetensors: tensor %q: %w", name, err)
	}

	if entry.Offsets[0] < 0 || entry.Offsets[1] < entry.Offsets[0] {
		return fmt.Errorf("safetensors: tensor %q has invalid data offsets %v", name, entry.Offsets)
	}

	for _, d := range entry.Shape {
		if d < 0 {
			return fmt.Errorf("safetensors: tensor %q has negative shape dimension in %v", name, entry.Shape)
		}
	}

	return nil
}

func shapeElementCount(shape []int64) (int64, error) {
	total := int64(1)

	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension %d", d)
		}

		if d == 0 {
			return 0, nil
		}

		if total > math.MaxInt64/d {
			return 0, errors.New("shape overflows element count")
		}

		total *= d
	}

	return total, nil
}
