package primitive

import (
	"context"
	"fmt"

	"github.com/example/go-dnn-primer/internal/engine"
	"github.com/example/go-dnn-primer/internal/layout"
)

// Algorithm selects an eltwise function.
type Algorithm string

const (
	ReLU Algorithm = "eltwise_relu"
)

// Eltwise applies an element-wise function. For ReLU, negative inputs are
// multiplied by Alpha (0 gives the plain max(0, x)).
type Eltwise struct {
	base

	alg   Algorithm
	alpha float32
}

// NewEltwise creates an eltwise primitive. An unconstrained src resolves to
// the plain layout; an unconstrained dst follows src.
func NewEltwise(eng *engine.Engine, alg Algorithm, src, dst layout.Desc, alpha float32) (*Eltwise, error) {
	if alg != ReLU {
		return nil, fmt.Errorf("primitive: eltwise: unsupported algorithm %q", alg)
	}

	if !src.Shape.Equal(dst.Shape) {
		return nil, fmt.Errorf("primitive: eltwise: %w: src %s, dst %s", layout.ErrShapeMismatch, src.Shape, dst.Shape)
	}

	if src.DataType != layout.F32 || dst.DataType != layout.F32 {
		return nil, fmt.Errorf("primitive: eltwise: only f32 is supported, got %s -> %s", src.DataType, dst.DataType)
	}

	src, err := resolve(src, layout.PlainTag(src.Shape.Rank()))
	if err != nil {
		return nil, fmt.Errorf("primitive: eltwise: %w", err)
	}

	if dst.Layout.IsAny() {
		dst = dst.WithLayout(src.Layout)
	}

	return &Eltwise{
		base: base{
			kind:    "eltwise",
			problem: src.Shape.String(),
			eng:     eng,
			descs:   map[Arg]layout.Desc{Src: src, Dst: dst},
		},
		alg:   alg,
		alpha: alpha,
	}, nil
}

// Execute schedules dst = relu(src) on s.
func (e *Eltwise) Execute(ctx context.Context, s *engine.Stream, args Args) error {
	bufs, err := e.bind(args, Src, Dst)
	if err != nil {
		return err
	}

	src, dst := bufs[0], bufs[1]
	shape := e.descs[Src].Shape
	sStrides := e.descs[Src].Layout.Strides()
	dStrides := e.descs[Dst].Layout.Strides()

	return e.submit(ctx, s, bufs[:1], bufs[1:], func() error {
		sv, dv := src.View().F32, dst.View().F32

		e.eng.ParallelFor(int(shape.Dim(0)), func(lo, hi int) {
			layout.Walk(shape, int64(lo), int64(hi), func(offs []int64) {
				x := sv[offs[0]]
				dv[offs[1]] = relu(x, e.alpha)
			}, sStrides, dStrides)
		})

		return nil
	})
}

func relu(x, alpha float32) float32 {
	if x >= 0 {
		return x
	}

	if alpha == 0 {
		return 0
	}

	return alpha * x
}
