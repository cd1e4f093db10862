package tutorial

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/example/go-dnn-primer/internal/layout"
	"github.com/example/go-dnn-primer/internal/memory"
	"github.com/example/go-dnn-primer/internal/safetensors"
	"github.com/example/go-dnn-primer/internal/testutil"
)

func newEnv(t *testing.T) *Env {
	t.Helper()

	e, s := testutil.NewCPU(t)

	return &Env{
		Engine:     e,
		Stream:     s,
		Seed:       7,
		MatMulRuns: 2,
	}
}

func runNamed(t *testing.T, env *Env, name string) *Report {
	t.Helper()

	tut, err := Lookup(name)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	rep, err := Run(context.Background(), env, tut)
	if err != nil {
		t.Fatalf("Run(%s): %v", name, err)
	}

	return rep
}

func TestRegistry(t *testing.T) {
	names := Names()
	if strings.Join(names, ",") != "getting-started,int8-matmul,memory-format-propagation" {
		t.Fatalf("Names() = %v", names)
	}

	if len(All()) != 3 {
		t.Fatalf("All() = %d tutorials, want 3", len(All()))
	}

	if _, err := Lookup("nope"); err == nil {
		t.Fatal("Lookup of an unknown name should fail")
	}
}

func TestGettingStarted(t *testing.T) {
	rep := runNamed(t, newEnv(t), "getting-started")

	if rep.Checked != 1*3*13*13 {
		t.Fatalf("checked %d elements, want 507", rep.Checked)
	}

	if len(rep.Reorders) != 0 {
		t.Fatalf("matching layouts must not reorder, got %+v", rep.Reorders)
	}
}

func TestMemoryFormatPropagation(t *testing.T) {
	testutil.RequireLong(t)

	rep := runNamed(t, newEnv(t), "memory-format-propagation")

	if rep.Checked != 256*14*14 {
		t.Fatalf("checked %d elements, want %d", rep.Checked, 256*14*14)
	}

	want := []struct{ arg, from, to string }{
		{"src", "f32::abcd", "f32::acdb"},
		{"weights", "f32::abcd", "f32::acdb"},
		{"dst", "f32::acdb", "f32::abcd"},
	}

	if len(rep.Reorders) != len(want) {
		t.Fatalf("reorders = %+v, want %d", rep.Reorders, len(want))
	}

	for i, w := range want {
		ev := rep.Reorders[i]
		if ev.Arg != w.arg || ev.From != w.from || ev.To != w.to {
			t.Errorf("reorder[%d] = %+v, want %s %s -> %s", i, ev, w.arg, w.from, w.to)
		}
	}
}

func TestInt8MatMul(t *testing.T) {
	rep := runNamed(t, newEnv(t), "int8-matmul")

	if rep.Checked != (1+100)*matmulN {
		t.Fatalf("checked %d elements, want %d", rep.Checked, (1+100)*matmulN)
	}

	if len(rep.Reorders) != 1 || rep.Reorders[0].Arg != "weights" || rep.Reorders[0].To != "s8::ba" {
		t.Fatalf("reorders = %+v, want one weights reorder to s8::ba", rep.Reorders)
	}
}

func TestDumpWritesSafetensors(t *testing.T) {
	env := newEnv(t)
	env.DumpDir = t.TempDir()

	rep := runNamed(t, env, "getting-started")
	if rep.DumpPath == "" {
		t.Fatal("DumpPath not set")
	}

	store, err := safetensors.OpenStore(rep.DumpPath)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	if strings.Join(store.Names(), ",") != "dst,src" {
		t.Fatalf("Names() = %v", store.Names())
	}

	meta := store.Metadata()
	if meta["tutorial"] != "getting-started" || meta["src.layout"] != "f32::acdb" {
		t.Fatalf("metadata = %v", meta)
	}

	dst, err := store.Tensor("dst")
	if err != nil {
		t.Fatalf("Tensor(dst): %v", err)
	}

	vals, err := dst.Float32s()
	if err != nil {
		t.Fatalf("Float32s: %v", err)
	}

	for i, v := range vals {
		if v < 0 {
			t.Fatalf("dst[%d] = %v is negative after ReLU", i, v)
		}
	}
}

func TestCompareLogicalReportsAccuracyFailure(t *testing.T) {
	shape := layout.MustShape(2, 2)

	a, _ := memory.NewFrom(layout.MustDesc(shape, layout.F32, "ab"), []float32{1, 2, 3, 4})
	b, _ := memory.NewFrom(layout.MustDesc(shape, layout.F32, "ba"), []float32{1, 3, 2, 4})

	if n, err := compareLogical(a, b); err != nil || n != 4 {
		t.Fatalf("compareLogical equal = %d, %v", n, err)
	}

	c, _ := memory.NewFrom(layout.MustDesc(shape, layout.F32, "ba"), []float32{1, 3, 2, 5})

	_, err := compareLogical(a, c)
	if !errors.Is(err, ErrAccuracyCheck) {
		t.Fatalf("err = %v, want ErrAccuracyCheck", err)
	}
}
