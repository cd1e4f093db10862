package layout

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Shape is the logical extent of a tensor, one positive entry per dimension.
// A Shape is treated as immutable: constructors copy their input and Dims
// returns a copy.
type Shape struct {
	dims []int64
}

// NewShape validates dims and returns the corresponding Shape.
func NewShape(dims ...int64) (Shape, error) {
	if len(dims) == 0 {
		return Shape{}, fmt.Errorf("layout: %w: rank must be >= 1", ErrInvalidShape)
	}

	total := int64(1)

	for i, d := range dims {
		if d <= 0 {
			return Shape{}, fmt.Errorf("layout: %w: dims %v has non-positive extent at %d", ErrInvalidShape, dims, i)
		}

		if total > math.MaxInt64/d {
			return Shape{}, fmt.Errorf("layout: %w: dims %v too large", ErrInvalidShape, dims)
		}

		total *= d
	}

	return Shape{dims: append([]int64(nil), dims...)}, nil
}

// MustShape is NewShape for compile-time constant shapes. It panics on error.
func MustShape(dims ...int64) Shape {
	s, err := NewShape(dims...)
	if err != nil {
		panic(err)
	}

	return s
}

func (s Shape) Rank() int { return len(s.dims) }

// Dims returns a copy of the extents.
func (s Shape) Dims() []int64 { return append([]int64(nil), s.dims...) }

// Dim returns the extent of dimension i.
func (s Shape) Dim(i int) int64 { return s.dims[i] }

// NumElements returns the product of the extents.
func (s Shape) NumElements() int64 {
	if len(s.dims) == 0 {
		return 0
	}

	n := int64(1)
	for _, d := range s.dims {
		n *= d
	}

	return n
}

func (s Shape) Equal(o Shape) bool {
	if len(s.dims) != len(o.dims) {
		return false
	}

	for i := range s.dims {
		if s.dims[i] != o.dims[i] {
			return false
		}
	}

	return true
}

// IsZero reports whether s is the zero Shape (no dimensions).
func (s Shape) IsZero() bool { return len(s.dims) == 0 }

// String renders the shape the way problem descriptors are printed, e.g.
// "1x3x13x13".
func (s Shape) String() string {
	parts := make([]string, len(s.dims))
	for i, d := range s.dims {
		parts[i] = strconv.FormatInt(d, 10)
	}

	return strings.Join(parts, "x")
}

// ForEach visits every logical index tuple in row-major order. The idx slice
// is reused between calls; fn must copy it to retain it. Iteration stops at
// the first error returned by fn.
func (s Shape) ForEach(fn func(idx []int64) error) error {
	if len(s.dims) == 0 {
		return nil
	}

	idx := make([]int64, len(s.dims))

	for {
		if err := fn(idx); err != nil {
			return err
		}

		d := len(idx) - 1
		for d >= 0 {
			idx[d]++
			if idx[d] < s.dims[d] {
				break
			}

			idx[d] = 0
			d--
		}

		if d < 0 {
			return nil
		}
	}
}
