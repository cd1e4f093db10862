package tutorial

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/example/go-dnn-primer/internal/layout"
	"github.com/example/go-dnn-primer/internal/memory"
	"github.com/example/go-dnn-primer/internal/primitive"
	"github.com/example/go-dnn-primer/internal/reorder"
)

const (
	matmulK       = 96
	matmulN       = 1000
	zeroPointSrc  = 128
	zeroPointDst  = 40
	defaultMatMul = 1
)

func int8MatMul(ctx context.Context, env *Env, rep *Report) error {
	weightsAny := layout.Desc{Shape: layout.MustShape(matmulK, matmulN), DataType: layout.S8, Layout: layout.Any()}

	mm, err := primitive.NewMatMul(env.Engine, primitive.MatMulDesc{
		K:       matmulK,
		N:       matmulN,
		SrcType: layout.U8,
		Weights: weightsAny,
		DstType: layout.U8,
		Attr: primitive.MatMulAttr{
			PerColumnScales: true,
			SrcZeroPoint:    true,
			DstZeroPoint:    true,
			ReLU:            true,
		},
	})
	if err != nil {
		return err
	}

	rng := env.rand()
	r := reorder.NewReconciler(env.Stream)

	// Weights are kept as f32 in a known layout and packed once.
	weightsF32, err := memory.NewFrom(layout.MustDesc(weightsAny.Shape, layout.F32, "ab"), uniform(rng, matmulK*matmulN, 0, 1))
	if err != nil {
		return err
	}

	weights, err := r.Input(ctx, reorder.Operand{Arg: string(primitive.Weights), Have: weightsF32, Want: weightsAny, Resolver: mm})
	if err != nil {
		return err
	}

	if err := env.Stream.Wait(); err != nil {
		return err
	}

	runs := env.MatMulRuns
	if runs <= 0 {
		runs = defaultMatMul
	}

	for _, m := range []int64{1, 100} {
		checked, err := infer(ctx, env, rng, r, mm, weights, m, runs)
		rep.Checked += checked

		if err != nil {
			return fmt.Errorf("M=%d: %w", m, err)
		}
	}

	rep.Reorders = r.Events()
	rep.keep("weights", weights)

	return nil
}

func infer(ctx context.Context, env *Env, rng *rand.Rand, r *reorder.Reconciler, mm *primitive.MatMul, weights *memory.Buffer, m int64, runs int) (int64, error) {
	a := make([]uint8, m*matmulK)
	for i := range a {
		a[i] = uint8(rng.IntN(256))
	}

	aMem, err := memory.NewFrom(layout.MustDesc(layout.MustShape(m, matmulK), layout.U8, "ab"), a)
	if err != nil {
		return 0, err
	}

	cMem, err := memory.New(layout.MustDesc(layout.MustShape(m, matmulN), layout.U8, "ab"))
	if err != nil {
		return 0, err
	}

	scales, err := memory.NewFrom(layout.MustDesc(layout.MustShape(matmulN), layout.F32, "a"), uniform(rng, matmulN, 0, 1))
	if err != nil {
		return 0, err
	}

	zpA, err := memory.NewFrom(layout.MustDesc(layout.MustShape(1), layout.S32, "a"), []int32{zeroPointSrc})
	if err != nil {
		return 0, err
	}

	zpC, err := memory.NewFrom(layout.MustDesc(layout.MustShape(1), layout.S32, "a"), []int32{zeroPointDst})
	if err != nil {
		return 0, err
	}

	// The runtime-shaped operands resolve to row-major, which is what the
	// user buffers already hold.
	srcAny := layout.Desc{Shape: aMem.Desc().Shape, DataType: layout.U8, Layout: layout.Any()}
	dstAny := layout.Desc{Shape: cMem.Desc().Shape, DataType: layout.U8, Layout: layout.Any()}

	src, err := r.Input(ctx, reorder.Operand{Arg: string(primitive.Src), Have: aMem, Want: srcAny, Resolver: mm})
	if err != nil {
		return 0, err
	}

	plan, err := r.Output(reorder.Operand{Arg: string(primitive.Dst), Have: cMem, Want: dstAny, Resolver: mm})
	if err != nil {
		return 0, err
	}

	args := primitive.Args{
		primitive.Src:          src,
		primitive.Weights:      weights,
		primitive.Dst:          plan.Buffer,
		primitive.Scales:       scales,
		primitive.SrcZeroPoint: zpA,
		primitive.DstZeroPoint: zpC,
	}

	for range runs {
		if err := mm.Execute(ctx, env.Stream, args); err != nil {
			return 0, err
		}
	}

	if err := plan.Finish(ctx); err != nil {
		return 0, err
	}

	if err := env.Stream.Wait(); err != nil {
		return 0, err
	}

	c, err := memory.Read[uint8](cMem)
	if err != nil {
		return 0, err
	}

	for i, v := range c {
		if v < zeroPointDst {
			return int64(i), fmt.Errorf("%w: C[%d] = %d is below the dst zero point %d", ErrAccuracyCheck, i, v, zeroPointDst)
		}
	}

	return int64(len(c)), nil
}

func uniform(rng *rand.Rand, n int64, lo, hi float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = lo + (hi-lo)*rng.Float32()
	}

	return out
}
