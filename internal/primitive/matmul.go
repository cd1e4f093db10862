package primitive

import (
	"context"
	"fmt"

	"github.com/example/go-dnn-primer/internal/engine"
	"github.com/example/go-dnn-primer/internal/layout"
	"github.com/example/go-dnn-primer/internal/memory"
)

// MatMulAttr configures the quantization of a matmul. Scales and zero points
// are passed as runtime arguments at execution.
type MatMulAttr struct {
	// PerColumnScales expects an f32 {N} scales argument; otherwise the
	// scales argument is {1}.
	PerColumnScales bool
	// SrcZeroPoint and DstZeroPoint expect s32 {1} zero point arguments.
	SrcZeroPoint bool
	DstZeroPoint bool
	// ReLU is a fused post-op applied after scaling.
	ReLU bool
}

// MatMulDesc describes C{M,N} = A{M,K} x B{K,N} with M supplied at
// execution. A and C are row-major; B may be unconstrained, in which case
// it resolves to column-major ("ba").
type MatMulDesc struct {
	K, N int64

	SrcType layout.DataType
	Weights layout.Desc
	DstType layout.DataType

	Attr MatMulAttr
}

// MatMul is a quantized integer matrix multiplication:
//
//	C[m,n] = sat(relu(scale[n] * sum_k (A[m,k] - zpA) * B[k,n]) + zpC)
type MatMul struct {
	base

	desc MatMulDesc
}

func NewMatMul(eng *engine.Engine, d MatMulDesc) (*MatMul, error) {
	if d.K <= 0 || d.N <= 0 {
		return nil, fmt.Errorf("primitive: matmul: %w: K=%d N=%d", layout.ErrInvalidShape, d.K, d.N)
	}

	if d.SrcType != layout.U8 && d.SrcType != layout.S8 {
		return nil, fmt.Errorf("primitive: matmul: src must be u8 or s8, got %s", d.SrcType)
	}

	if d.Weights.DataType != layout.S8 {
		return nil, fmt.Errorf("primitive: matmul: weights must be s8, got %s", d.Weights.DataType)
	}

	switch d.DstType {
	case layout.U8, layout.S8, layout.S32, layout.F32:
	default:
		return nil, fmt.Errorf("primitive: matmul: unsupported dst type %s", d.DstType)
	}

	if !d.Weights.Shape.Equal(layout.MustShape(d.K, d.N)) {
		return nil, fmt.Errorf("primitive: matmul weights: %w: %s, want %dx%d", layout.ErrShapeMismatch, d.Weights.Shape, d.K, d.N)
	}

	var err error
	if d.Weights, err = resolve(d.Weights, "ba"); err != nil {
		return nil, fmt.Errorf("primitive: matmul weights: %w", err)
	}

	scales := int64(1)
	if d.Attr.PerColumnScales {
		scales = d.N
	}

	return &MatMul{
		base: base{
			kind:    "matmul",
			problem: fmt.Sprintf("?x%d:%dx%d", d.K, d.K, d.N),
			eng:     eng,
			descs: map[Arg]layout.Desc{
				Weights:      d.Weights,
				Scales:       layout.MustDesc(layout.MustShape(scales), layout.F32, "a"),
				SrcZeroPoint: layout.MustDesc(layout.MustShape(1), layout.S32, "a"),
				DstZeroPoint: layout.MustDesc(layout.MustShape(1), layout.S32, "a"),
			},
		},
		desc: d,
	}, nil
}

// SrcDesc returns the row-major A descriptor for m rows.
func (mm *MatMul) SrcDesc(m int64) (layout.Desc, error) {
	return rowMajor(m, mm.desc.K, mm.desc.SrcType)
}

// DstDesc returns the row-major C descriptor for m rows.
func (mm *MatMul) DstDesc(m int64) (layout.Desc, error) {
	return rowMajor(m, mm.desc.N, mm.desc.DstType)
}

func rowMajor(m, cols int64, dt layout.DataType) (layout.Desc, error) {
	shape, err := layout.NewShape(m, cols)
	if err != nil {
		return layout.Desc{}, fmt.Errorf("primitive: matmul: %w", err)
	}

	return layout.NewStridedDesc(shape, dt, []int64{cols, 1})
}

// Preferred resolves src and dst for the requested row count in addition
// to the fixed operands.
func (mm *MatMul) Preferred(arg string, want layout.Desc) (layout.ExternalDesc, error) {
	switch Arg(arg) {
	case Src, Dst:
		if want.Shape.Rank() != 2 {
			return layout.ExternalDesc{}, fmt.Errorf("primitive: matmul %s: %w", arg, layout.ErrRankMismatch)
		}

		var (
			d   layout.Desc
			err error
		)

		if Arg(arg) == Src {
			d, err = mm.SrcDesc(want.Shape.Dim(0))
		} else {
			d, err = mm.DstDesc(want.Shape.Dim(0))
		}

		if err != nil {
			return layout.ExternalDesc{}, err
		}

		if !d.Shape.Equal(want.Shape) {
			return layout.ExternalDesc{}, fmt.Errorf("primitive: matmul %s: %w: %s vs %s", arg, layout.ErrShapeMismatch, want.Shape, d.Shape)
		}

		return d.Export(), nil
	default:
		return mm.base.Preferred(arg, want)
	}
}

// Execute schedules C = A x B on s. The row count is taken from the src
// buffer.
func (mm *MatMul) Execute(ctx context.Context, s *engine.Stream, args Args) error {
	a, ok := args[Src]
	if !ok || a == nil {
		return fmt.Errorf("primitive: matmul: missing %s argument", Src)
	}

	m := a.Desc().Shape.Dim(0)

	srcDesc, err := mm.SrcDesc(m)
	if err != nil {
		return err
	}

	dstDesc, err := mm.DstDesc(m)
	if err != nil {
		return err
	}

	// Runtime-shaped operands are checked against descriptors for this m.
	call := &base{kind: mm.kind, problem: fmt.Sprintf("%dx%d:%dx%d", m, mm.desc.K, mm.desc.K, mm.desc.N), eng: mm.eng, descs: map[Arg]layout.Desc{
		Src: srcDesc,
		Dst: dstDesc,
	}}

	for k, v := range mm.descs {
		call.descs[k] = v
	}

	need := []Arg{Src, Weights, Scales}
	if mm.desc.Attr.SrcZeroPoint {
		need = append(need, SrcZeroPoint)
	}

	if mm.desc.Attr.DstZeroPoint {
		need = append(need, DstZeroPoint)
	}

	need = append(need, Dst)

	bufs, err := call.bind(args, need...)
	if err != nil {
		return err
	}

	// The kernel runs later on the stream; it reads this snapshot so the
	// caller may reuse args once Execute returns.
	bound := make(Args, len(need))
	for i, arg := range need {
		bound[arg] = bufs[i]
	}

	in, out := bufs[:len(bufs)-1], bufs[len(bufs)-1:]

	return call.submit(ctx, s, in, out, func() error {
		return mm.run(m, bound)
	})
}

func (mm *MatMul) run(m int64, args Args) error {
	d := mm.desc
	a, b, c := args[Src].View(), args[Weights].View(), args[Dst].View()
	scales := args[Scales].View().F32
	bs := d.Weights.Layout.Strides()

	var zpA, zpC int32
	if d.Attr.SrcZeroPoint {
		zpA = args[SrcZeroPoint].View().S32[0]
	}

	if d.Attr.DstZeroPoint {
		zpC = args[DstZeroPoint].View().S32[0]
	}

	mm.eng.ParallelFor(int(m), func(lo, hi int) {
		for i := int64(lo); i < int64(hi); i++ {
			for n := range d.N {
				var acc int32
				for k := range d.K {
					acc += (loadInt(a, i*d.K+k) - zpA) * int32(b.S8[k*bs[0]+n*bs[1]])
				}

				scale := scales[0]
				if d.Attr.PerColumnScales {
					scale = scales[n]
				}

				x := scale * float32(acc)
				if d.Attr.ReLU {
					x = relu(x, 0)
				}

				c.Store(i*d.N+n, x+float32(zpC))
			}
		}
	})

	return nil
}

func loadInt(v memory.View, off int64) int32 {
	if v.U8 != nil {
		return int32(v.U8[off])
	}

	return int32(v.S8[off])
}
