package primitive

import (
	"context"
	"fmt"
	"math"

	"github.com/example/go-dnn-primer/internal/engine"
	"github.com/example/go-dnn-primer/internal/layout"
)

// PoolDesc describes 2D max pooling over {N, C, H, W}. Padded positions
// never win the max.
type PoolDesc struct {
	Src layout.Desc
	Dst layout.Desc

	Kernel  [2]int64
	Strides [2]int64
	PadL    [2]int64
	PadR    [2]int64
}

type Pooling struct {
	base

	desc PoolDesc
}

// NewPooling validates d. An unconstrained src resolves to channel-last and
// an unconstrained dst follows src.
func NewPooling(eng *engine.Engine, d PoolDesc) (*Pooling, error) {
	if d.Src.Shape.Rank() != 4 || d.Dst.Shape.Rank() != 4 {
		return nil, fmt.Errorf("primitive: pooling: %w: want rank 4", layout.ErrRankMismatch)
	}

	if d.Src.DataType != layout.F32 || d.Dst.DataType != layout.F32 {
		return nil, fmt.Errorf("primitive: pooling: only f32 is supported, got %s -> %s", d.Src.DataType, d.Dst.DataType)
	}

	for i := range 2 {
		if d.Kernel[i] <= 0 || d.Strides[i] <= 0 || d.PadL[i] < 0 || d.PadR[i] < 0 || d.PadL[i] >= d.Kernel[i] || d.PadR[i] >= d.Kernel[i] {
			return nil, fmt.Errorf("primitive: pooling: invalid kernel %v, strides %v or padding %v/%v", d.Kernel, d.Strides, d.PadL, d.PadR)
		}
	}

	src := d.Src.Shape
	oh := OutputSize(src.Dim(2), d.Kernel[0], d.Strides[0], d.PadL[0], d.PadR[0])
	ow := OutputSize(src.Dim(3), d.Kernel[1], d.Strides[1], d.PadL[1], d.PadR[1])

	want, err := layout.NewShape(src.Dim(0), src.Dim(1), oh, ow)
	if err != nil {
		return nil, fmt.Errorf("primitive: pooling: %w", err)
	}

	if !d.Dst.Shape.Equal(want) {
		return nil, fmt.Errorf("primitive: pooling: %w: dst %s, want %s", layout.ErrShapeMismatch, d.Dst.Shape, want)
	}

	if d.Src, err = resolve(d.Src, channelsLast(4)); err != nil {
		return nil, fmt.Errorf("primitive: pooling src: %w", err)
	}

	if d.Dst.Layout.IsAny() {
		// Keep src's dimension order; strides follow dst's own extents.
		tag := d.Src.Layout.Tag(d.Src.Shape)
		if tag == "" {
			tag = channelsLast(4)
		}

		if d.Dst, err = resolve(d.Dst, tag); err != nil {
			return nil, fmt.Errorf("primitive: pooling dst: %w", err)
		}
	}

	return &Pooling{
		base: base{
			kind: "pooling",
			problem: fmt.Sprintf("mb%dic%d_ih%doh%dkh%dsh%dph%d_iw%dow%dkw%dsw%dpw%d",
				src.Dim(0), src.Dim(1),
				src.Dim(2), oh, d.Kernel[0], d.Strides[0], d.PadL[0],
				src.Dim(3), ow, d.Kernel[1], d.Strides[1], d.PadL[1]),
			eng:   eng,
			descs: map[Arg]layout.Desc{Src: d.Src, Dst: d.Dst},
		},
		desc: d,
	}, nil
}

// Execute schedules dst = max-pool(src) on s.
func (p *Pooling) Execute(ctx context.Context, s *engine.Stream, args Args) error {
	bufs, err := p.bind(args, Src, Dst)
	if err != nil {
		return err
	}

	return p.submit(ctx, s, bufs[:1], bufs[1:], func() error {
		p.run(bufs[0].View().F32, bufs[1].View().F32)
		return nil
	})
}

func (p *Pooling) run(src, dst []float32) {
	d := p.desc
	ss, ds := d.Src.Layout.Strides(), d.Dst.Layout.Strides()
	n, ih, iw := d.Src.Shape.Dim(0), d.Src.Shape.Dim(2), d.Src.Shape.Dim(3)
	oh, ow := d.Dst.Shape.Dim(2), d.Dst.Shape.Dim(3)

	p.eng.ParallelFor(int(d.Src.Shape.Dim(1)), func(lo, hi int) {
		for c := int64(lo); c < int64(hi); c++ {
			for mb := range n {
				for y := range oh {
					for x := range ow {
						best := float32(math.Inf(-1))

						for ky := range d.Kernel[0] {
							sy := y*d.Strides[0] - d.PadL[0] + ky
							if sy < 0 || sy >= ih {
								continue
							}

							for kx := range d.Kernel[1] {
								sx := x*d.Strides[1] - d.PadL[1] + kx
								if sx < 0 || sx >= iw {
									continue
								}

								if v := src[mb*ss[0]+c*ss[1]+sy*ss[2]+sx*ss[3]]; v > best {
									best = v
								}
							}
						}

						dst[mb*ds[0]+c*ds[1]+y*ds[2]+x*ds[3]] = best
					}
				}
			}
		}
	})
}
