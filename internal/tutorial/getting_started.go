package tutorial

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/example/go-dnn-primer/internal/layout"
	"github.com/example/go-dnn-primer/internal/memory"
	"github.com/example/go-dnn-primer/internal/primitive"
	"github.com/example/go-dnn-primer/internal/reorder"
)

// errDescInit means a named layout and its hand-computed strides disagree.
var errDescInit = errors.New("memory descriptor initialization mismatch")

func gettingStarted(ctx context.Context, env *Env, rep *Report) error {
	const n, h, w, c = 1, 13, 13, 3

	const (
		strideN = h * w * c
		strideH = w * c
		strideW = c
		strideC = 1
	)

	// Logical dims are always {N, C, H, W}; the layout decides storage.
	shape := layout.MustShape(n, c, h, w)

	srcDesc, err := layout.NewDesc(shape, layout.F32, "nhwc")
	if err != nil {
		return err
	}

	altDesc, err := layout.NewStridedDesc(shape, layout.F32, []int64{strideN, strideC, strideH, strideW})
	if err != nil {
		return err
	}

	if !srcDesc.Equal(altDesc) {
		return fmt.Errorf("%w: %s vs %s", errDescInit, srcDesc, altDesc)
	}

	image := make([]float32, shape.NumElements())

	err = shape.ForEach(func(idx []int64) error {
		off, err := altDesc.Offset(idx)
		if err != nil {
			return err
		}

		image[off] = float32(-math.Cos(float64(float32(off) / 10)))

		return nil
	})
	if err != nil {
		return err
	}

	src, err := memory.NewFrom(srcDesc, image)
	if err != nil {
		return err
	}

	dst, err := memory.New(srcDesc)
	if err != nil {
		return err
	}

	relu, err := primitive.NewEltwise(env.Engine, primitive.ReLU, srcDesc, srcDesc, 0)
	if err != nil {
		return err
	}

	// Both operands already match, so the reconciler passes them through.
	r := reorder.NewReconciler(env.Stream)

	in, err := r.Input(ctx, reorder.Operand{Arg: string(primitive.Src), Have: src, Want: srcDesc, Resolver: relu})
	if err != nil {
		return err
	}

	plan, err := r.Output(reorder.Operand{Arg: string(primitive.Dst), Have: dst, Want: srcDesc, Resolver: relu})
	if err != nil {
		return err
	}

	if err := relu.Execute(ctx, env.Stream, primitive.Args{primitive.Src: in, primitive.Dst: plan.Buffer}); err != nil {
		return err
	}

	if err := plan.Finish(ctx); err != nil {
		return err
	}

	if err := env.Stream.Wait(); err != nil {
		return err
	}

	rep.Reorders = r.Events()

	got, err := memory.Read[float32](dst)
	if err != nil {
		return err
	}

	err = shape.ForEach(func(idx []int64) error {
		off, err := altDesc.Offset(idx)
		if err != nil {
			return err
		}

		want := max(image[off], 0)
		if got[off] != want {
			return fmt.Errorf("%w: at index(n=%d, c=%d, h=%d, w=%d) expect %v but got %v",
				ErrAccuracyCheck, idx[0], idx[1], idx[2], idx[3], want, got[off])
		}

		rep.Checked++

		return nil
	})
	if err != nil {
		return err
	}

	rep.keep("src", src)
	rep.keep("dst", dst)

	return nil
}
