package layout

import (
	"fmt"
	"sort"
	"strings"
)

// Letter-form tags list dimensions from outermost to innermost: "acdb" on a
// logical NCHW tensor puts N outermost and C innermost (channel-last).
var aliases = map[string]string{
	"x":     "a",
	"nc":    "ab",
	"cn":    "ba",
	"io":    "ab",
	"oi":    "ab",
	"ncw":   "abc",
	"nwc":   "acb",
	"oiw":   "abc",
	"wio":   "cba",
	"nchw":  "abcd",
	"nhwc":  "acdb",
	"chwn":  "bcda",
	"oihw":  "abcd",
	"ohwi":  "acdb",
	"hwio":  "cdba",
	"ihwo":  "bcda",
	"ncdhw": "abcde",
	"ndhwc": "acdeb",
}

const letters = "abcdefghijkl"

// MaxRank is the highest rank a canonical tag can describe.
const MaxRank = len(letters)

// resolveTag maps a format tag name to the dimension order it describes,
// outermost first. The name must be valid for the given rank.
func resolveTag(name string, rank int) ([]int, error) {
	tag := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[tag]; ok {
		tag = alias
	}

	if rank < 1 || rank > MaxRank || len(tag) != rank {
		return nil, fmt.Errorf("layout: %w: %q for rank %d", ErrInvalidLayoutName, name, rank)
	}

	order := make([]int, rank)
	seen := make([]bool, rank)

	for i := 0; i < rank; i++ {
		d := strings.IndexByte(letters, tag[i])
		if d < 0 || d >= rank || seen[d] {
			return nil, fmt.Errorf("layout: %w: %q for rank %d", ErrInvalidLayoutName, name, rank)
		}

		seen[d] = true
		order[i] = d
	}

	return order, nil
}

// stridesForOrder computes dense strides for the given dimension order.
func stridesForOrder(dims []int64, order []int) []int64 {
	strides := make([]int64, len(dims))

	stride := int64(1)
	for i := len(order) - 1; i >= 0; i-- {
		d := order[i]
		strides[d] = stride
		stride *= dims[d]
	}

	return strides
}

// PlainTag returns the row-major tag for the rank ("ab", "abcd", ...).
func PlainTag(rank int) string {
	if rank < 1 || rank > MaxRank {
		return ""
	}

	return letters[:rank]
}

// KnownTags lists the named aliases valid for the rank, sorted by name.
func KnownTags(rank int) []string {
	var out []string

	for name, tag := range aliases {
		if len(tag) == rank {
			out = append(out, name)
		}
	}

	sort.Strings(out)

	return out
}
