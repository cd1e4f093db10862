package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/example/go-dnn-primer/internal/memory"
)

// Exec is one step submitted to a stream.
type Exec struct {
	// Primitive is the kind of step ("reorder", "convolution", ...).
	Primitive string
	// Impl names the implementation that runs it.
	Impl string
	// Problem is a short problem descriptor such as "1x3x13x13".
	Problem string

	Inputs  []*memory.Buffer
	Outputs []*memory.Buffer

	Run func(ctx context.Context) error
}

// StreamOptions configures logging for a stream.
type StreamOptions struct {
	Logger *slog.Logger
	// Verbose logs one record per executed step.
	Verbose bool
}

// Stream dispatches steps to goroutines. A step that reads or overwrites a
// buffer still being produced by an earlier step waits for that producer;
// independent steps run concurrently. Outputs stay fenced until Wait.
type Stream struct {
	eng     *Engine
	log     *slog.Logger
	verbose bool

	mu      sync.Mutex
	pool    *pool.ContextPool
	pending []pendingOutput
	submits int
}

type pendingOutput struct {
	buf   *memory.Buffer
	fence *memory.Fence
}

// NewStream creates a stream executing on eng.
func NewStream(eng *Engine, opts StreamOptions) *Stream {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Stream{eng: eng, log: logger, verbose: opts.Verbose}
}

func (s *Stream) Engine() *Engine { return s.eng }

// Submit schedules ex and returns immediately. ctx bounds the whole batch of
// steps up to the next Wait; a step whose context is cancelled before it
// starts is not run.
func (s *Stream) Submit(ctx context.Context, ex Exec) error {
	if ex.Run == nil {
		return fmt.Errorf("engine: submit %s: nil run function", ex.Primitive)
	}

	fence := memory.NewFence(ex.Primitive)

	var deps []*memory.Fence

	for _, in := range ex.Inputs {
		if f := in.Pending(); f != nil {
			deps = append(deps, f)
		}
	}

	s.mu.Lock()

	for _, out := range ex.Outputs {
		if prev := out.Attach(fence); prev != nil {
			deps = append(deps, prev)
		}

		s.pending = append(s.pending, pendingOutput{buf: out, fence: fence})
	}

	if s.pool == nil {
		s.pool = pool.New().WithMaxGoroutines(s.eng.Threads()).WithContext(ctx)
	}

	p := s.pool
	s.submits++
	s.mu.Unlock()

	p.Go(func(ctx context.Context) error {
		return s.run(ctx, ex, fence, deps)
	})

	return nil
}

func (s *Stream) run(ctx context.Context, ex Exec, fence *memory.Fence, deps []*memory.Fence) error {
	for _, dep := range deps {
		select {
		case <-dep.Done():
			if dep.Err() != nil {
				// The producer's own failure is reported by Wait.
				fence.Signal(fmt.Errorf("engine: %s skipped: producer %q failed", ex.Primitive, dep.Name()))
				return nil
			}
		case <-ctx.Done():
			fence.Signal(ctx.Err())
			return fmt.Errorf("engine: %s: %w", ex.Primitive, ctx.Err())
		}
	}

	if err := ctx.Err(); err != nil {
		fence.Signal(err)
		return fmt.Errorf("engine: %s: %w", ex.Primitive, err)
	}

	start := time.Now()
	err := ex.Run(ctx)
	elapsed := time.Since(start)

	fence.Signal(err)

	if s.verbose {
		s.log.Info("exec",
			"engine", string(s.eng.Kind()),
			"primitive", ex.Primitive,
			"impl", ex.Impl,
			"descs", describe(ex),
			"problem", ex.Problem,
			"ms", float64(elapsed.Microseconds())/1000,
		)
	}

	if err != nil {
		return fmt.Errorf("engine: %s: %w", ex.Primitive, err)
	}

	return nil
}

// Wait blocks until every submitted step has finished, releases the fences
// on their outputs and returns the combined step errors.
func (s *Stream) Wait() error {
	s.mu.Lock()
	p := s.pool
	pending := s.pending
	s.pool = nil
	s.pending = nil
	s.mu.Unlock()

	var err error
	if p != nil {
		err = p.Wait()
	}

	for _, po := range pending {
		po.buf.Release(po.fence)
	}

	return err
}

// Submitted returns the number of steps submitted over the stream's lifetime.
func (s *Stream) Submitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.submits
}

func describe(ex Exec) string {
	parts := make([]string, 0, len(ex.Inputs)+len(ex.Outputs))

	for _, in := range ex.Inputs {
		parts = append(parts, "src_"+in.Desc().String())
	}

	for _, out := range ex.Outputs {
		parts = append(parts, "dst_"+out.Desc().String())
	}

	return strings.Join(parts, " ")
}
