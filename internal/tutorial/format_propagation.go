package tutorial

import (
	"context"
	"fmt"

	"github.com/example/go-dnn-primer/internal/layout"
	"github.com/example/go-dnn-primer/internal/memory"
	"github.com/example/go-dnn-primer/internal/primitive"
	"github.com/example/go-dnn-primer/internal/reorder"
)

func memoryFormatPropagation(ctx context.Context, env *Env, rep *Report) error {
	const n, h, w, ic, oc, k = 1, 14, 14, 128, 256, 3

	srcShape := layout.MustShape(n, ic, h, w)
	weiShape := layout.MustShape(oc, ic, k, k)
	dstShape := layout.MustShape(n, oc, h, w)

	anyDesc := func(s layout.Shape) layout.Desc {
		return layout.Desc{Shape: s, DataType: layout.F32, Layout: layout.Any()}
	}

	convDesc := primitive.ConvDesc{
		Src:     anyDesc(srcShape),
		Weights: anyDesc(weiShape),
		Dst:     anyDesc(dstShape),
		Strides: [2]int64{1, 1},
		PadL:    [2]int64{1, 1},
		PadR:    [2]int64{1, 1},
	}

	conv, err := primitive.NewConvolution(env.Engine, convDesc)
	if err != nil {
		return err
	}

	convDst, _ := conv.Desc(primitive.Dst)

	poolDesc := primitive.PoolDesc{
		Src:     convDst,
		Dst:     anyDesc(dstShape),
		Kernel:  [2]int64{k, k},
		Strides: [2]int64{1, 1},
		PadL:    [2]int64{1, 1},
		PadR:    [2]int64{1, 1},
	}

	pool, err := primitive.NewPooling(env.Engine, poolDesc)
	if err != nil {
		return err
	}

	// User buffers in plain layouts.
	rng := env.rand()

	srcMem, err := memory.NewFrom(layout.MustDesc(srcShape, layout.F32, "nchw"), uniform(rng, srcShape.NumElements(), -1, 1))
	if err != nil {
		return err
	}

	weiMem, err := memory.NewFrom(layout.MustDesc(weiShape, layout.F32, "oihw"), uniform(rng, weiShape.NumElements(), -1, 1))
	if err != nil {
		return err
	}

	dstMem, err := memory.New(layout.MustDesc(dstShape, layout.F32, "nchw"))
	if err != nil {
		return err
	}

	r := reorder.NewReconciler(env.Stream)

	ins, err := r.Inputs(ctx,
		reorder.Operand{Arg: string(primitive.Src), Have: srcMem, Want: convDesc.Src, Resolver: conv},
		reorder.Operand{Arg: string(primitive.Weights), Have: weiMem, Want: convDesc.Weights, Resolver: conv},
	)
	if err != nil {
		return err
	}

	convDstMem, err := memory.New(convDst)
	if err != nil {
		return err
	}

	plan, err := r.Output(reorder.Operand{Arg: string(primitive.Dst), Have: dstMem, Want: poolDesc.Dst, Resolver: pool})
	if err != nil {
		return err
	}

	err = conv.Execute(ctx, env.Stream, primitive.Args{
		primitive.Src:     ins[0],
		primitive.Weights: ins[1],
		primitive.Dst:     convDstMem,
	})
	if err != nil {
		return err
	}

	if err := pool.Execute(ctx, env.Stream, primitive.Args{primitive.Src: convDstMem, primitive.Dst: plan.Buffer}); err != nil {
		return err
	}

	if err := plan.Finish(ctx); err != nil {
		return err
	}

	// Reference: the same primitives on the user layouts, no reorders.
	// They share no buffers with the pipeline above and run concurrently.
	refDst, err := referenceConvPool(ctx, env, convDesc, poolDesc, srcMem, weiMem)
	if err != nil {
		return err
	}

	if err := env.Stream.Wait(); err != nil {
		return err
	}

	rep.Reorders = r.Events()

	checked, err := compareLogical(dstMem, refDst)
	rep.Checked = checked

	if err != nil {
		return err
	}

	rep.keep("src", srcMem)
	rep.keep("dst", dstMem)

	return nil
}

func referenceConvPool(ctx context.Context, env *Env, cd primitive.ConvDesc, pd primitive.PoolDesc, src, wei *memory.Buffer) (*memory.Buffer, error) {
	cd.Src, cd.Weights = src.Desc(), wei.Desc()
	cd.Dst = layout.MustDesc(cd.Dst.Shape, layout.F32, "nchw")

	conv, err := primitive.NewConvolution(env.Engine, cd)
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}

	pd.Src = cd.Dst
	pd.Dst = layout.MustDesc(pd.Dst.Shape, layout.F32, "nchw")

	pool, err := primitive.NewPooling(env.Engine, pd)
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}

	mid, err := memory.New(cd.Dst)
	if err != nil {
		return nil, err
	}

	out, err := memory.New(pd.Dst)
	if err != nil {
		return nil, err
	}

	if err := conv.Execute(ctx, env.Stream, primitive.Args{primitive.Src: src, primitive.Weights: wei, primitive.Dst: mid}); err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}

	if err := pool.Execute(ctx, env.Stream, primitive.Args{primitive.Src: mid, primitive.Dst: out}); err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}

	return out, nil
}

// compareLogical checks two synchronized f32 buffers element by element at
// every logical index, regardless of their layouts.
func compareLogical(got, want *memory.Buffer) (int64, error) {
	gv, err := got.Host()
	if err != nil {
		return 0, err
	}

	wv, err := want.Host()
	if err != nil {
		return 0, err
	}

	if !gv.Desc.Shape.Equal(wv.Desc.Shape) {
		return 0, fmt.Errorf("%w: %s vs %s", layout.ErrShapeMismatch, gv.Desc.Shape, wv.Desc.Shape)
	}

	var checked int64

	err = gv.Desc.Shape.ForEach(func(idx []int64) error {
		goff, _ := gv.Desc.Offset(idx)
		woff, _ := wv.Desc.Offset(idx)

		if g, w := gv.Load(goff), wv.Load(woff); g != w {
			return fmt.Errorf("%w: at index %v expect %v but got %v", ErrAccuracyCheck, idx, w, g)
		}

		checked++

		return nil
	})

	return checked, err
}
