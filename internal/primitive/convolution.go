package primitive

import (
	"context"
	"fmt"

	"github.com/example/go-dnn-primer/internal/engine"
	"github.com/example/go-dnn-primer/internal/layout"
	"github.com/example/go-dnn-primer/internal/memory"
)

// ConvDesc describes a 2D forward-inference convolution. Src is
// {N, IC, H, W}, Weights {OC, IC, KH, KW}, Dst {N, OC, OH, OW} and the
// optional Bias {OC}; a zero Bias means no bias.
type ConvDesc struct {
	Src     layout.Desc
	Weights layout.Desc
	Bias    layout.Desc
	Dst     layout.Desc

	Strides [2]int64
	PadL    [2]int64
	PadR    [2]int64
}

func (d ConvDesc) hasBias() bool { return !d.Bias.Shape.IsZero() }

// Convolution is a direct (non-transformed) convolution.
type Convolution struct {
	base

	desc ConvDesc
}

// OutputSize returns the spatial output extent for one dimension.
func OutputSize(in, kernel, stride, padL, padR int64) int64 {
	return (in+padL+padR-kernel)/stride + 1
}

// NewConvolution validates d and resolves unconstrained operands: src, dst
// and weights prefer channel-last, bias the plain layout.
func NewConvolution(eng *engine.Engine, d ConvDesc) (*Convolution, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	var err error

	tag := channelsLast(4)

	if d.Src, err = resolve(d.Src, tag); err != nil {
		return nil, fmt.Errorf("primitive: convolution src: %w", err)
	}

	if d.Weights, err = resolve(d.Weights, tag); err != nil {
		return nil, fmt.Errorf("primitive: convolution weights: %w", err)
	}

	if d.Dst, err = resolve(d.Dst, tag); err != nil {
		return nil, fmt.Errorf("primitive: convolution dst: %w", err)
	}

	descs := map[Arg]layout.Desc{Src: d.Src, Weights: d.Weights, Dst: d.Dst}

	if d.hasBias() {
		if d.Bias, err = resolve(d.Bias, "a"); err != nil {
			return nil, fmt.Errorf("primitive: convolution bias: %w", err)
		}

		descs[Bias] = d.Bias
	}

	return &Convolution{
		base: base{
			kind:    "convolution",
			problem: convProblem(d),
			eng:     eng,
			descs:   descs,
		},
		desc: d,
	}, nil
}

func (d ConvDesc) validate() error {
	for _, op := range []struct {
		name string
		desc layout.Desc
	}{{"src", d.Src}, {"weights", d.Weights}, {"dst", d.Dst}} {
		if op.desc.Shape.Rank() != 4 {
			return fmt.Errorf("primitive: convolution %s: %w: want rank 4, got %d", op.name, layout.ErrRankMismatch, op.desc.Shape.Rank())
		}

		if op.desc.DataType != layout.F32 {
			return fmt.Errorf("primitive: convolution %s: only f32 is supported, got %s", op.name, op.desc.DataType)
		}
	}

	for i := range 2 {
		if d.Strides[i] <= 0 || d.PadL[i] < 0 || d.PadR[i] < 0 {
			return fmt.Errorf("primitive: convolution: invalid strides %v or padding %v/%v", d.Strides, d.PadL, d.PadR)
		}
	}

	src, wei, dst := d.Src.Shape, d.Weights.Shape, d.Dst.Shape

	if wei.Dim(1) != src.Dim(1) {
		return fmt.Errorf("primitive: convolution: %w: weights ic %d vs src ic %d", layout.ErrShapeMismatch, wei.Dim(1), src.Dim(1))
	}

	oh := OutputSize(src.Dim(2), wei.Dim(2), d.Strides[0], d.PadL[0], d.PadR[0])
	ow := OutputSize(src.Dim(3), wei.Dim(3), d.Strides[1], d.PadL[1], d.PadR[1])

	want, err := layout.NewShape(src.Dim(0), wei.Dim(0), oh, ow)
	if err != nil {
		return fmt.Errorf("primitive: convolution: %w", err)
	}

	if !dst.Equal(want) {
		return fmt.Errorf("primitive: convolution: %w: dst %s, want %s", layout.ErrShapeMismatch, dst, want)
	}

	if d.hasBias() {
		if d.Bias.DataType != layout.F32 {
			return fmt.Errorf("primitive: convolution bias: only f32 is supported, got %s", d.Bias.DataType)
		}

		if !d.Bias.Shape.Equal(layout.MustShape(wei.Dim(0))) {
			return fmt.Errorf("primitive: convolution bias: %w: %s, want %d", layout.ErrShapeMismatch, d.Bias.Shape, wei.Dim(0))
		}
	}

	return nil
}

func convProblem(d ConvDesc) string {
	src, wei, dst := d.Src.Shape, d.Weights.Shape, d.Dst.Shape

	return fmt.Sprintf("mb%d_ic%doc%d_ih%doh%dkh%dsh%dph%d_iw%dow%dkw%dsw%dpw%d",
		src.Dim(0), src.Dim(1), wei.Dim(0),
		src.Dim(2), dst.Dim(2), wei.Dim(2), d.Strides[0], d.PadL[0],
		src.Dim(3), dst.Dim(3), wei.Dim(3), d.Strides[1], d.PadL[1])
}

// Execute schedules the convolution on s. Accumulation runs in logical
// (ic, kh, kw) order, so results do not depend on the operands' layouts.
func (c *Convolution) Execute(ctx context.Context, s *engine.Stream, args Args) error {
	need := []Arg{Src, Weights}
	if c.desc.hasBias() {
		need = append(need, Bias)
	}

	need = append(need, Dst)

	bufs, err := c.bind(args, need...)
	if err != nil {
		return err
	}

	in, out := bufs[:len(bufs)-1], bufs[len(bufs)-1:]

	return c.submit(ctx, s, in, out, func() error {
		var bias []float32
		if c.desc.hasBias() {
			bias = in[2].View().F32
		}

		c.run(in[0].View(), in[1].View(), bias, out[0].View())

		return nil
	})
}

func (c *Convolution) run(src, wei memory.View, bias []float32, dst memory.View) {
	d := c.desc
	ss, ws, ds := d.Src.Layout.Strides(), d.Weights.Layout.Strides(), d.Dst.Layout.Strides()

	var bs int64
	if bias != nil {
		bs = d.Bias.Layout.Strides()[0]
	}

	n, ic, ih, iw := d.Src.Shape.Dim(0), d.Src.Shape.Dim(1), d.Src.Shape.Dim(2), d.Src.Shape.Dim(3)
	kh, kw := d.Weights.Shape.Dim(2), d.Weights.Shape.Dim(3)
	oh, ow := d.Dst.Shape.Dim(2), d.Dst.Shape.Dim(3)

	c.eng.ParallelFor(int(d.Weights.Shape.Dim(0)), func(lo, hi int) {
		for oc := int64(lo); oc < int64(hi); oc++ {
			for mb := range n {
				for y := range oh {
					for x := range ow {
						var acc float32
						if bias != nil {
							acc = bias[oc*bs]
						}

						for i := range ic {
							for ky := range kh {
								sy := y*d.Strides[0] - d.PadL[0] + ky
								if sy < 0 || sy >= ih {
									continue
								}

								for kx := range kw {
									sx := x*d.Strides[1] - d.PadL[1] + kx
									if sx < 0 || sx >= iw {
										continue
									}

									acc += src.F32[mb*ss[0]+i*ss[1]+sy*ss[2]+sx*ss[3]] *
										wei.F32[oc*ws[0]+i*ws[1]+ky*ws[2]+kx*ws[3]]
								}
							}
						}

						dst.F32[mb*ds[0]+oc*ds[1]+y*ds[2]+x*ds[3]] = acc
					}
				}
			}
		}
	})
}
