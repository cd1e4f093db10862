// Package engine provides the execution context primitives are dispatched
// against: an Engine value describing the device and a Stream that runs
// steps asynchronously until the caller waits on it.
package engine

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/sourcegraph/conc"
)

// Kind selects the device an engine drives.
type Kind string

const (
	CPU Kind = "cpu"
	GPU Kind = "gpu"
)

// ErrUnsupportedEngine is returned for engine kinds this build cannot drive.
var ErrUnsupportedEngine = errors.New("engine: unsupported engine kind")

// ParseKind accepts "cpu" or "gpu" in any case. An empty string means cpu.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "cpu":
		return CPU, nil
	case "gpu":
		return GPU, nil
	default:
		return "", fmt.Errorf("engine: invalid engine kind %q (expected cpu|gpu)", raw)
	}
}

// Count returns how many engines of kind are available.
func Count(kind Kind) int {
	if kind == CPU {
		return 1
	}

	return 0
}

// Engine is an explicitly passed device handle. It carries the thread
// budget kernels and streams may use.
type Engine struct {
	kind    Kind
	index   int
	threads int
	isa     string
}

// New creates the engine at index for kind. threads <= 0 selects
// runtime.NumCPU().
func New(kind Kind, index, threads int) (*Engine, error) {
	if Count(kind) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEngine, kind)
	}

	if index < 0 || index >= Count(kind) {
		return nil, fmt.Errorf("engine: index %d out of range for %d %s engine(s)", index, Count(kind), kind)
	}

	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	return &Engine{kind: kind, index: index, threads: threads, isa: DetectISA()}, nil
}

func (e *Engine) Kind() Kind   { return e.kind }
func (e *Engine) Threads() int { return e.threads }

// ISA names the most capable instruction set detected on the host.
func (e *Engine) ISA() string { return e.isa }

func (e *Engine) String() string {
	return fmt.Sprintf("%s:%d nthr:%d isa:%s", e.kind, e.index, e.threads, e.isa)
}

// ParallelFor splits [0, n) into at most Threads() contiguous chunks and
// runs fn on each concurrently. It returns once every chunk is done.
func (e *Engine) ParallelFor(n int, fn func(lo, hi int)) {
	parallelFor(n, e.threads, fn)
}

func parallelFor(n, maxWorkers int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}

	if maxWorkers <= 1 || n == 1 {
		fn(0, n)
		return
	}

	if maxWorkers > n {
		maxWorkers = n
	}

	chunk := (n + maxWorkers - 1) / maxWorkers

	// A panicking chunk is re-raised on the caller's goroutine by Wait.
	var wg conc.WaitGroup

	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		wg.Go(func() { fn(lo, hi) })
	}

	wg.Wait()
}
