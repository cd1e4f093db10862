// Package layout describes how a logical tensor index maps onto physical
// storage. A Layout is either resolved (a stride vector, possibly built from
// a canonical format tag) or unconstrained, meaning the consumer of the
// tensor picks it later.
package layout

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Layout maps logical index tuples to linear physical offsets. The zero
// value is unusable; build one with MakeCanonical, MakeStrided or Any.
type Layout struct {
	strides []int64
	name    string
	any     bool
}

// Any returns the unconstrained layout: the step consuming the tensor
// reports the layout it wants once it has been configured.
func Any() Layout { return Layout{any: true} }

// MakeCanonical resolves a named dimension ordering against shape.
func MakeCanonical(shape Shape, name string) (Layout, error) {
	if strings.EqualFold(strings.TrimSpace(name), "any") {
		return Any(), nil
	}

	order, err := resolveTag(name, shape.Rank())
	if err != nil {
		return Layout{}, err
	}

	return Layout{
		strides: stridesForOrder(shape.dims, order),
		name:    strings.ToLower(strings.TrimSpace(name)),
	}, nil
}

// MakeStrided wraps an explicit stride vector, one entry per dimension.
func MakeStrided(shape Shape, strides []int64) (Layout, error) {
	if len(strides) != shape.Rank() {
		return Layout{}, fmt.Errorf("layout: %w: %d strides for rank %d shape %s", ErrRankMismatch, len(strides), shape.Rank(), shape)
	}

	for i, s := range strides {
		if s < 0 {
			return Layout{}, fmt.Errorf("layout: %w: negative stride %d at dim %d", ErrInvalidStrides, s, i)
		}
	}

	if _, err := span(shape.dims, strides); err != nil {
		return Layout{}, err
	}

	return Layout{strides: append([]int64(nil), strides...)}, nil
}

// IsAny reports whether the layout is still unconstrained.
func (l Layout) IsAny() bool { return l.any }

// Rank is the number of strides; zero for an unconstrained layout.
func (l Layout) Rank() int { return len(l.strides) }

// Strides returns a copy of the resolved stride vector, nil when unconstrained.
func (l Layout) Strides() []int64 {
	if l.any {
		return nil
	}

	return append([]int64(nil), l.strides...)
}

// Name returns the tag the layout was built from, or "" for explicit strides.
func (l Layout) Name() string { return l.name }

// Equal reports whether both layouts resolve to identical stride vectors.
// The construction path does not matter. Unconstrained layouts never compare
// equal, not even to each other.
func Equal(a, b Layout) bool {
	if a.any || b.any {
		return false
	}

	if len(a.strides) != len(b.strides) {
		return false
	}

	for i := range a.strides {
		if a.strides[i] != b.strides[i] {
			return false
		}
	}

	return true
}

func (l Layout) Equal(o Layout) bool { return Equal(l, o) }

// Offset returns sum(indices[i]*strides[i]) after bounds checking every
// index against shape.
func Offset(l Layout, shape Shape, indices []int64) (int64, error) {
	if l.any {
		return 0, fmt.Errorf("layout: offset: %w", ErrUnresolvedLayout)
	}

	if len(l.strides) != shape.Rank() || len(indices) != shape.Rank() {
		return 0, fmt.Errorf("layout: offset: %w: layout rank %d, shape rank %d, %d indices",
			ErrRankMismatch, len(l.strides), shape.Rank(), len(indices))
	}

	var off int64

	for i, idx := range indices {
		if idx < 0 || idx >= shape.dims[i] {
			return 0, fmt.Errorf("layout: offset: %w: index %d = %d for extent %d", ErrIndexOutOfRange, i, idx, shape.dims[i])
		}

		off += idx * l.strides[i]
	}

	return off, nil
}

func (l Layout) Offset(shape Shape, indices []int64) (int64, error) {
	return Offset(l, shape, indices)
}

// Span is the number of physical elements the layout addresses for shape,
// i.e. the largest offset plus one.
func (l Layout) Span(shape Shape) (int64, error) {
	if l.any {
		return 0, fmt.Errorf("layout: span: %w", ErrUnresolvedLayout)
	}

	if len(l.strides) != shape.Rank() {
		return 0, fmt.Errorf("layout: span: %w: layout rank %d, shape rank %d", ErrRankMismatch, len(l.strides), shape.Rank())
	}

	return span(shape.dims, l.strides)
}

// span is 1 + sum((d-1)*stride), refusing results that do not fit an int64.
func span(dims, strides []int64) (int64, error) {
	total := int64(1)

	for i, d := range dims {
		ext := d - 1
		if ext == 0 || strides[i] == 0 {
			continue
		}

		if strides[i] > (math.MaxInt64-total)/ext {
			return 0, fmt.Errorf("layout: %w: stride %d at dim %d overflows the addressable span", ErrInvalidStrides, strides[i], i)
		}

		total += ext * strides[i]
	}

	return total, nil
}

// NonOverlapping reports whether distinct logical indices of shape always
// map to distinct offsets.
func (l Layout) NonOverlapping(shape Shape) bool {
	if l.any || len(l.strides) != shape.Rank() {
		return false
	}

	dims := make([]int, 0, shape.Rank())

	for d, ext := range shape.dims {
		if ext > 1 {
			dims = append(dims, d)
		}
	}

	sort.SliceStable(dims, func(i, j int) bool {
		return l.strides[dims[i]] < l.strides[dims[j]]
	})

	need := int64(1)

	for _, d := range dims {
		if l.strides[d] < need {
			return false
		}

		if l.strides[d] > math.MaxInt64/shape.dims[d] {
			need = math.MaxInt64
			continue
		}

		need = l.strides[d] * shape.dims[d]
	}

	return true
}

// Dense reports whether the layout packs shape without gaps or overlap.
func (l Layout) Dense(shape Shape) bool {
	span, err := l.Span(shape)
	if err != nil {
		return false
	}

	return span == shape.NumElements() && l.NonOverlapping(shape)
}

// Tag recovers the letter-form tag of a dense layout ("acdb"). It returns ""
// when the strides do not describe a dense permutation of shape.
func (l Layout) Tag(shape Shape) string {
	if l.any {
		return "any"
	}

	if len(l.strides) != shape.Rank() || shape.Rank() > MaxRank {
		return ""
	}

	order := make([]int, shape.Rank())
	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if l.strides[a] != l.strides[b] {
			return l.strides[a] > l.strides[b]
		}

		return shape.dims[a] > shape.dims[b]
	})

	want := stridesForOrder(shape.dims, order)
	for i := range want {
		if want[i] != l.strides[i] {
			return ""
		}
	}

	var sb strings.Builder
	for _, d := range order {
		sb.WriteByte(letters[d])
	}

	return sb.String()
}

// String renders the layout without shape context: the construction tag when
// there is one, the stride vector otherwise.
func (l Layout) String() string {
	switch {
	case l.any:
		return "any"
	case l.name != "":
		return l.name
	default:
		return formatStrides(l.strides)
	}
}

func formatStrides(strides []int64) string {
	parts := make([]string, len(strides))
	for i, s := range strides {
		parts[i] = strconv.FormatInt(s, 10)
	}

	return "strides:" + strings.Join(parts, ",")
}
