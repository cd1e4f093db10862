// Package primitive is a reference set of computation steps: eltwise ReLU,
// direct convolution, max pooling and quantized matmul. Kernels address
// memory through layout offsets, so every primitive accepts any resolved
// layout; for unconstrained operands each reports a preferred layout the
// way an optimized library would.
package primitive

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/go-dnn-primer/internal/engine"
	"github.com/example/go-dnn-primer/internal/layout"
	"github.com/example/go-dnn-primer/internal/memory"
)

// Arg names an operand of a primitive.
type Arg string

const (
	Src          Arg = "src"
	Weights      Arg = "weights"
	Bias         Arg = "bias"
	Dst          Arg = "dst"
	Scales       Arg = "scales"
	SrcZeroPoint Arg = "src_zero_point"
	DstZeroPoint Arg = "dst_zero_point"
)

const implReference = "ref:any"

// Args binds buffers to operands for one execution.
type Args map[Arg]*memory.Buffer

// ErrDescMismatch is returned when a bound buffer's descriptor differs from
// the one the primitive was created for.
var ErrDescMismatch = errors.New("primitive: buffer descriptor does not match primitive")

// Primitive is a configured computation step.
type Primitive interface {
	Kind() string
	// Desc returns the resolved descriptor of arg.
	Desc(arg Arg) (layout.Desc, bool)
	// Preferred reports the descriptor for an operand requested as
	// unconstrained. It satisfies reorder.Resolver.
	Preferred(arg string, want layout.Desc) (layout.ExternalDesc, error)
	Execute(ctx context.Context, s *engine.Stream, args Args) error
}

type base struct {
	kind    string
	problem string
	eng     *engine.Engine
	descs   map[Arg]layout.Desc
}

func (b *base) Kind() string { return b.kind }

func (b *base) Desc(arg Arg) (layout.Desc, bool) {
	d, ok := b.descs[arg]
	return d, ok
}

func (b *base) Preferred(arg string, want layout.Desc) (layout.ExternalDesc, error) {
	d, ok := b.descs[Arg(arg)]
	if !ok {
		return layout.ExternalDesc{}, fmt.Errorf("primitive: %s has no %s operand", b.kind, arg)
	}

	if !d.Shape.Equal(want.Shape) {
		return layout.ExternalDesc{}, fmt.Errorf("primitive: %s %s: %w: %s vs %s", b.kind, arg, layout.ErrShapeMismatch, want.Shape, d.Shape)
	}

	return d.Export(), nil
}

// bind checks that every listed operand is bound to a buffer matching its
// descriptor and returns the buffers in the same order.
func (b *base) bind(args Args, need ...Arg) ([]*memory.Buffer, error) {
	out := make([]*memory.Buffer, len(need))

	for i, arg := range need {
		buf, ok := args[arg]
		if !ok || buf == nil {
			return nil, fmt.Errorf("primitive: %s: missing %s argument", b.kind, arg)
		}

		want := b.descs[arg]
		if !buf.Desc().Equal(want) {
			return nil, fmt.Errorf("%w: %s %s is %s, want %s", ErrDescMismatch, b.kind, arg, buf.Desc(), want)
		}

		out[i] = buf
	}

	return out, nil
}

func (b *base) submit(ctx context.Context, s *engine.Stream, in, out []*memory.Buffer, run func() error) error {
	return s.Submit(ctx, engine.Exec{
		Primitive: b.kind,
		Impl:      implReference,
		Problem:   b.problem,
		Inputs:    in,
		Outputs:   out,
		Run:       func(context.Context) error { return run() },
	})
}

// resolve replaces an unconstrained layout with tag.
func resolve(d layout.Desc, tag string) (layout.Desc, error) {
	if !d.Layout.IsAny() {
		return d, nil
	}

	return layout.NewDesc(d.Shape, d.DataType, tag)
}

// channelsLast returns the channel-last tag for a rank-4 or rank-3
// activation or weights tensor, and the plain tag otherwise.
func channelsLast(rank int) string {
	switch rank {
	case 3:
		return "acb"
	case 4:
		return "acdb"
	case 5:
		return "acdeb"
	default:
		return layout.PlainTag(rank)
	}
}
