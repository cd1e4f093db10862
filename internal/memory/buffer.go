// Package memory holds Buffers: typed scalar storage paired with exactly one
// layout descriptor.
package memory

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/example/go-dnn-primer/internal/layout"
)

// ErrNotSynchronized is returned when the host touches a buffer whose
// producing step has not been observed by a stream wait.
var ErrNotSynchronized = errors.New("memory: buffer has pending writes; wait on the stream first")

// Elem is the set of Go types backing the supported data types.
type Elem interface {
	float32 | int32 | int8 | uint8
}

// Buffer owns storage for one tensor. The storage length is the layout's
// span, which equals the element count for dense layouts.
type Buffer struct {
	desc layout.Desc
	view View

	mu    sync.Mutex
	fence *Fence
}

// New allocates a zeroed buffer for a resolved descriptor.
func New(desc layout.Desc) (*Buffer, error) {
	if desc.Layout.IsAny() {
		return nil, fmt.Errorf("memory: new: %w", layout.ErrUnresolvedLayout)
	}

	span, err := desc.Span()
	if err != nil {
		return nil, fmt.Errorf("memory: new: %w", err)
	}

	if span <= 0 {
		return nil, fmt.Errorf("memory: new: %w: span %d", layout.ErrInvalidStrides, span)
	}

	if span > int64(^uint(0)>>1) {
		return nil, fmt.Errorf("memory: new: span %d exceeds platform int size", span)
	}

	v := View{Desc: desc}
	n := int(span)

	switch desc.DataType {
	case layout.F32:
		v.F32 = make([]float32, n)
	case layout.S32:
		v.S32 = make([]int32, n)
	case layout.S8:
		v.S8 = make([]int8, n)
	case layout.U8:
		v.U8 = make([]uint8, n)
	default:
		return nil, fmt.Errorf("memory: new: unsupported data type %s", desc.DataType)
	}

	return &Buffer{desc: desc, view: v}, nil
}

// NewFrom allocates a buffer and copies src into its physical storage.
// len(src) must equal the layout span.
func NewFrom[T Elem](desc layout.Desc, src []T) (*Buffer, error) {
	b, err := New(desc)
	if err != nil {
		return nil, err
	}

	if err := Write(b, src); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *Buffer) Desc() layout.Desc { return b.desc }

// Len returns the number of physical elements.
func (b *Buffer) Len() int { return b.view.Len() }

// View returns the raw storage without the synchronization check. It is
// meant for kernels running on a stream, which order themselves after the
// producers of their inputs.
func (b *Buffer) View() View { return b.view }

// Host returns the storage for host access. It fails while a step writing
// the buffer has not been observed by Stream.Wait.
func (b *Buffer) Host() (View, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fence != nil {
		return View{}, fmt.Errorf("%w (producer %q)", ErrNotSynchronized, b.fence.Name())
	}

	return b.view, nil
}

// Attach fences the buffer as the output of an asynchronous step and
// returns the fence it replaced, if any.
func (b *Buffer) Attach(f *Fence) *Fence {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.fence
	b.fence = f

	return prev
}

// Pending returns the fence of the step still producing the buffer.
func (b *Buffer) Pending() *Fence {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.fence
}

// Release drops the fence if it is f. Streams call it after Wait has
// observed f.
func (b *Buffer) Release(f *Fence) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fence == f {
		b.fence = nil
	}
}

// Write copies src into the buffer's physical storage.
func Write[T Elem](b *Buffer, src []T) error {
	v, err := b.Host()
	if err != nil {
		return err
	}

	dst, err := slice[T](v)
	if err != nil {
		return err
	}

	if len(src) != len(dst) {
		return fmt.Errorf("memory: write: %d elements for buffer of %d (%s %s)", len(src), len(dst), b.desc, b.desc.Shape)
	}

	copy(dst, src)

	return nil
}

// Read returns a copy of the buffer's physical storage.
func Read[T Elem](b *Buffer) ([]T, error) {
	v, err := b.Host()
	if err != nil {
		return nil, err
	}

	src, err := slice[T](v)
	if err != nil {
		return nil, err
	}

	return append([]T(nil), src...), nil
}

func slice[T Elem](v View) ([]T, error) {
	var zero T

	var out any

	switch any(zero).(type) {
	case float32:
		out = v.F32
	case int32:
		out = v.S32
	case int8:
		out = v.S8
	case uint8:
		out = v.U8
	}

	s, ok := out.([]T)
	if !ok || s == nil {
		return nil, fmt.Errorf("memory: element type %T does not match buffer type %s", zero, v.Desc.DataType)
	}

	return s, nil
}

// View is the typed storage of a buffer. Exactly one slice is non-nil.
type View struct {
	Desc layout.Desc
	F32  []float32
	S32  []int32
	S8   []int8
	U8   []uint8
}

func (v View) Len() int {
	switch {
	case v.F32 != nil:
		return len(v.F32)
	case v.S32 != nil:
		return len(v.S32)
	case v.S8 != nil:
		return len(v.S8)
	default:
		return len(v.U8)
	}
}

// Load returns the element at a physical offset widened to float32.
func (v View) Load(off int64) float32 {
	switch {
	case v.F32 != nil:
		return v.F32[off]
	case v.S32 != nil:
		return float32(v.S32[off])
	case v.S8 != nil:
		return float32(v.S8[off])
	default:
		return float32(v.U8[off])
	}
}

// Store writes x at a physical offset. Integer destinations round half to
// even and saturate to the type's range.
func (v View) Store(off int64, x float32) {
	switch {
	case v.F32 != nil:
		v.F32[off] = x
	case v.S32 != nil:
		v.S32[off] = int32(saturate(x, math.MinInt32, math.MaxInt32))
	case v.S8 != nil:
		v.S8[off] = int8(saturate(x, math.MinInt8, math.MaxInt8))
	default:
		v.U8[off] = uint8(saturate(x, 0, math.MaxUint8))
	}
}

func saturate(x float32, lo, hi float64) float64 {
	r := math.RoundToEven(float64(x))

	switch {
	case math.IsNaN(r):
		return 0
	case r < lo:
		return lo
	case r > hi:
		return hi
	default:
		return r
	}
}
