// Package reorder converts buffers between layouts and data types and
// decides, per operand, whether such a conversion is needed at all.
package reorder

import (
	"context"
	"fmt"

	"github.com/example/go-dnn-primer/internal/engine"
	"github.com/example/go-dnn-primer/internal/layout"
	"github.com/example/go-dnn-primer/internal/memory"
)

// Attr carries the optional quantization attributes of a reorder:
// dst = (src - SrcZeroPoint) * Scale + DstZeroPoint.
type Attr struct {
	Scale        float32
	SrcZeroPoint int32
	DstZeroPoint int32
}

// DefaultAttr is a plain conversion. The zero Attr is treated the same way.
func DefaultAttr() Attr { return Attr{Scale: 1} }

func (a Attr) isDefault() bool {
	return a.Scale == 1 && a.SrcZeroPoint == 0 && a.DstZeroPoint == 0
}

type conversion struct{ from, to layout.DataType }

var conversions = map[conversion]bool{
	{layout.F32, layout.S32}: true,
	{layout.F32, layout.S8}:  true,
	{layout.F32, layout.U8}:  true,
	{layout.S32, layout.F32}: true,
	{layout.S8, layout.F32}:  true,
	{layout.U8, layout.F32}:  true,
	{layout.S8, layout.S32}:  true,
	{layout.U8, layout.S32}:  true,
}

// Supported reports whether a reorder from one data type to another exists.
func Supported(from, to layout.DataType) bool {
	return from == to || conversions[conversion{from, to}]
}

// Check validates that src can be reordered into dst.
func Check(src, dst layout.Desc) error {
	if !src.Shape.Equal(dst.Shape) {
		return fmt.Errorf("reorder: %w: %s vs %s", layout.ErrShapeMismatch, src.Shape, dst.Shape)
	}

	if src.Layout.IsAny() || dst.Layout.IsAny() {
		return fmt.Errorf("reorder: %w", layout.ErrUnresolvedLayout)
	}

	if !dst.Layout.NonOverlapping(dst.Shape) {
		return fmt.Errorf("reorder: %w: destination %s aliases distinct elements", layout.ErrInvalidStrides, dst)
	}

	if !Supported(src.DataType, dst.DataType) {
		return fmt.Errorf("reorder: %w: %s -> %s", layout.ErrUnsupportedDatatypeConversion, src.DataType, dst.DataType)
	}

	return nil
}

// Reorder schedules an element-wise copy of src into dst on s. Every
// logical element of src is written to the same logical index of dst; src
// is never modified. dst stays fenced until the stream is waited on.
func Reorder(ctx context.Context, s *engine.Stream, src, dst *memory.Buffer, attr Attr) error {
	if err := Check(src.Desc(), dst.Desc()); err != nil {
		return err
	}

	sd := src.Desc()

	return s.Submit(ctx, engine.Exec{
		Primitive: "reorder",
		Impl:      "ref:any",
		Problem:   sd.Shape.String(),
		Inputs:    []*memory.Buffer{src},
		Outputs:   []*memory.Buffer{dst},
		Run: func(context.Context) error {
			return Run(s.Engine(), src.View(), dst.View(), attr)
		},
	})
}

// Run performs the reorder synchronously on views whose producers have
// already finished.
func Run(eng *engine.Engine, src, dst memory.View, attr Attr) error {
	if err := Check(src.Desc, dst.Desc); err != nil {
		return err
	}

	if attr == (Attr{}) {
		attr = DefaultAttr()
	}

	shape := src.Desc.Shape
	sStrides := src.Desc.Layout.Strides()
	dStrides := dst.Desc.Layout.Strides()
	bitExact := src.Desc.DataType == dst.Desc.DataType && attr.isDefault()

	// Parallelize over the outermost logical dimension.
	eng.ParallelFor(int(shape.Dim(0)), func(lo, hi int) {
		layout.Walk(shape, int64(lo), int64(hi), func(offs []int64) {
			if bitExact {
				copyElem(src, dst, offs[0], offs[1])
				return
			}

			x := (src.Load(offs[0])-float32(attr.SrcZeroPoint))*attr.Scale + float32(attr.DstZeroPoint)
			dst.Store(offs[1], x)
		}, sStrides, dStrides)
	})

	return nil
}

func copyElem(src, dst memory.View, so, do int64) {
	switch {
	case src.F32 != nil:
		dst.F32[do] = src.F32[so]
	case src.S32 != nil:
		dst.S32[do] = src.S32[so]
	case src.S8 != nil:
		dst.S8[do] = src.S8[so]
	default:
		dst.U8[do] = src.U8[so]
	}
}
