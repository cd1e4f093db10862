package layout

import (
	"fmt"
	"strings"
)

// Desc is a memory descriptor: logical shape, element type and layout.
type Desc struct {
	Shape    Shape
	DataType DataType
	Layout   Layout
}

// NewDesc builds a descriptor from a canonical tag ("nhwc", "ab", "any", ...).
func NewDesc(shape Shape, dt DataType, tag string) (Desc, error) {
	l, err := MakeCanonical(shape, tag)
	if err != nil {
		return Desc{}, err
	}

	return Desc{Shape: shape, DataType: dt, Layout: l}, nil
}

// NewStridedDesc builds a descriptor from an explicit stride vector.
func NewStridedDesc(shape Shape, dt DataType, strides []int64) (Desc, error) {
	l, err := MakeStrided(shape, strides)
	if err != nil {
		return Desc{}, err
	}

	return Desc{Shape: shape, DataType: dt, Layout: l}, nil
}

// MustDesc is NewDesc for fixed tutorial descriptors. It panics on error.
func MustDesc(shape Shape, dt DataType, tag string) Desc {
	d, err := NewDesc(shape, dt, tag)
	if err != nil {
		panic(err)
	}

	return d
}

// Equal reports whether shape, data type and resolved layout all match.
func (d Desc) Equal(o Desc) bool {
	return d.Shape.Equal(o.Shape) && d.DataType == o.DataType && Equal(d.Layout, o.Layout)
}

// WithLayout returns a copy of d carrying l.
func (d Desc) WithLayout(l Layout) Desc {
	d.Layout = l
	return d
}

// Span is the number of elements a buffer for d must hold.
func (d Desc) Span() (int64, error) { return d.Layout.Span(d.Shape) }

// Offset maps a logical index to a physical element offset.
func (d Desc) Offset(indices []int64) (int64, error) {
	return Offset(d.Layout, d.Shape, indices)
}

// String renders d in the "f32::acdb" form used by exec logs.
func (d Desc) String() string {
	if d.Layout.IsAny() {
		return d.DataType.String() + "::any"
	}

	if tag := d.Layout.Tag(d.Shape); tag != "" {
		return d.DataType.String() + "::" + tag
	}

	return d.DataType.String() + "::" + formatStrides(d.Layout.strides)
}

// ExternalDesc is the descriptor format exchanged with the primitive
// collaborator: dims, element type and either a format tag or strides.
type ExternalDesc struct {
	Dims      []int64 `json:"dims"`
	DataType  string  `json:"data_type"`
	FormatTag string  `json:"format_tag,omitempty"`
	Strides   []int64 `json:"strides,omitempty"`
}

// Export converts d into the collaborator's descriptor format. Resolved
// layouts always carry strides; the tag is included when one describes them.
func (d Desc) Export() ExternalDesc {
	out := ExternalDesc{
		Dims:     d.Shape.Dims(),
		DataType: d.DataType.String(),
	}

	if d.Layout.IsAny() {
		out.FormatTag = "any"
		return out
	}

	out.Strides = d.Layout.Strides()
	out.FormatTag = d.Layout.Tag(d.Shape)

	return out
}

// Import converts a collaborator descriptor back into a Desc. A non-empty
// format tag takes precedence over strides; when both are present they must
// agree.
func Import(ext ExternalDesc) (Desc, error) {
	shape, err := NewShape(ext.Dims...)
	if err != nil {
		return Desc{}, fmt.Errorf("layout: import: %w", err)
	}

	dt, err := ParseDataType(ext.DataType)
	if err != nil {
		return Desc{}, fmt.Errorf("layout: import: %w", err)
	}

	tag := strings.TrimSpace(ext.FormatTag)

	switch {
	case tag != "":
		d, err := NewDesc(shape, dt, tag)
		if err != nil {
			return Desc{}, fmt.Errorf("layout: import: %w", err)
		}

		if len(ext.Strides) > 0 && !d.Layout.IsAny() {
			alt, err := MakeStrided(shape, ext.Strides)
			if err != nil {
				return Desc{}, fmt.Errorf("layout: import: %w", err)
			}

			if !Equal(d.Layout, alt) {
				return Desc{}, fmt.Errorf("layout: import: %w: tag %q disagrees with strides %v", ErrInvalidStrides, tag, ext.Strides)
			}
		}

		return d, nil
	case len(ext.Strides) > 0:
		d, err := NewStridedDesc(shape, dt, ext.Strides)
		if err != nil {
			return Desc{}, fmt.Errorf("layout: import: %w", err)
		}

		return d, nil
	default:
		return Desc{}, fmt.Errorf("layout: import: %w: neither format tag nor strides given", ErrInvalidLayoutName)
	}
}
