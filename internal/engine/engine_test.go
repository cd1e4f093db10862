package engine

import (
	"errors"
	"sync"
	"testing"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"", CPU, false},
		{"cpu", CPU, false},
		{" CPU ", CPU, false},
		{"gpu", GPU, false},
		{"tpu", "", true},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseKind(%q) expected error", tt.in)
			}

			continue
		}

		if err != nil || got != tt.want {
			t.Errorf("ParseKind(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestNewRejectsGPU(t *testing.T) {
	_, err := New(GPU, 0, 1)
	if !errors.Is(err, ErrUnsupportedEngine) {
		t.Fatalf("err = %v, want ErrUnsupportedEngine", err)
	}
}

func TestNewRejectsIndexOutOfRange(t *testing.T) {
	if _, err := New(CPU, 1, 1); err == nil {
		t.Fatal("expected index error")
	}
}

func TestNewDefaultsThreads(t *testing.T) {
	e, err := New(CPU, 0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if e.Threads() < 1 {
		t.Fatalf("Threads() = %d, want >= 1", e.Threads())
	}

	if e.ISA() == "" {
		t.Fatal("ISA() should never be empty")
	}
}

func TestParallelForCoversRangeOnce(t *testing.T) {
	for _, workers := range []int{1, 2, 3, 8, 64} {
		const n = 37

		var mu sync.Mutex
		hits := make([]int, n)

		parallelFor(n, workers, func(lo, hi int) {
			mu.Lock()
			defer mu.Unlock()

			for i := lo; i < hi; i++ {
				hits[i]++
			}
		})

		for i, h := range hits {
			if h != 1 {
				t.Fatalf("workers=%d: index %d visited %d times", workers, i, h)
			}
		}
	}
}

func TestParallelForEmpty(t *testing.T) {
	called := false

	parallelFor(0, 4, func(int, int) { called = true })

	if called {
		t.Fatal("fn must not run for n == 0")
	}
}

func TestParallelForRepanicsOnCaller(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("panic in a chunk was swallowed")
		}
	}()

	parallelFor(8, 4, func(lo, _ int) {
		if lo == 0 {
			panic("chunk failed")
		}
	})
}

func TestFeaturesNonEmpty(t *testing.T) {
	if len(Features()) == 0 {
		t.Fatal("Features() returned nothing")
	}
}
