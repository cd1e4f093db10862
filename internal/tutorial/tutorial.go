// Package tutorial holds the runnable example pipelines. Each one builds
// descriptors, reconciles user buffers with the layouts its primitives
// want, executes on a stream and verifies the result on the host.
package tutorial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/example/go-dnn-primer/internal/engine"
	"github.com/example/go-dnn-primer/internal/memory"
	"github.com/example/go-dnn-primer/internal/reorder"
	"github.com/example/go-dnn-primer/internal/safetensors"
)

// ErrAccuracyCheck marks a computed result that disagrees with the host
// reference.
var ErrAccuracyCheck = errors.New("tutorial: accuracy check failed")

// Env is what a tutorial runs against.
type Env struct {
	Engine *engine.Engine
	Stream *engine.Stream
	Logger *slog.Logger

	Seed uint64
	// MatMulRuns repeats the int8 matmul execution per problem size.
	MatMulRuns int
	// DumpDir, when set, receives one .safetensors file per run.
	DumpDir string
}

func (e *Env) rand() *rand.Rand {
	return rand.New(rand.NewPCG(e.Seed, e.Seed^0x9e3779b97f4a7c15))
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}

	return e.Logger
}

// Report summarizes one tutorial run.
type Report struct {
	Name     string          `json:"name"`
	Reorders []reorder.Event `json:"reorders"`
	Checked  int64           `json:"checked"`
	Duration time.Duration   `json:"duration_ns"`
	DumpPath string          `json:"dump_path,omitempty"`

	tensors map[string]*memory.Buffer
}

func (r *Report) keep(name string, b *memory.Buffer) {
	if r.tensors == nil {
		r.tensors = make(map[string]*memory.Buffer)
	}

	r.tensors[name] = b
}

// Tutorial is a registered example.
type Tutorial struct {
	Name        string
	Description string

	run func(ctx context.Context, env *Env, rep *Report) error
}

var registry = []Tutorial{
	{
		Name:        "getting-started",
		Description: "ReLU over a channel-last 1x3x13x13 image; named and explicit layouts must agree",
		run:         gettingStarted,
	},
	{
		Name:        "memory-format-propagation",
		Description: "convolution + max pooling with layouts chosen by the primitives and reorders at the edges",
		run:         memoryFormatPropagation,
	},
	{
		Name:        "int8-matmul",
		Description: "u8 x s8 matmul with runtime M, per-column scales, zero points and fused ReLU",
		run:         int8MatMul,
	},
}

// All returns the registered tutorials in run order.
func All() []Tutorial { return append([]Tutorial(nil), registry...) }

// Names returns the registered tutorial names, sorted.
func Names() []string {
	names := make([]string, len(registry))
	for i, t := range registry {
		names[i] = t.Name
	}

	sort.Strings(names)

	return names
}

// Lookup finds a tutorial by name.
func Lookup(name string) (Tutorial, error) {
	for _, t := range registry {
		if t.Name == name {
			return t, nil
		}
	}

	return Tutorial{}, fmt.Errorf("tutorial: unknown tutorial %q (available: %v)", name, Names())
}

// Run executes t and, when env.DumpDir is set, writes its kept buffers.
// Accuracy failures wrap ErrAccuracyCheck.
func Run(ctx context.Context, env *Env, t Tutorial) (*Report, error) {
	rep := &Report{Name: t.Name}
	start := time.Now()

	err := t.run(ctx, env, rep)
	rep.Duration = time.Since(start)

	// Steps left in flight by an early return must not outlive the run.
	if werr := env.Stream.Wait(); err == nil && werr != nil {
		err = werr
	}

	if err != nil {
		return rep, fmt.Errorf("tutorial %s: %w", t.Name, err)
	}

	env.logger().Debug("tutorial finished",
		"name", t.Name,
		"reorders", len(rep.Reorders),
		"checked", rep.Checked,
		"duration", rep.Duration,
	)

	if env.DumpDir != "" && len(rep.tensors) > 0 {
		path, err := dump(env.DumpDir, rep)
		if err != nil {
			return rep, fmt.Errorf("tutorial %s: %w", t.Name, err)
		}

		rep.DumpPath = path
	}

	return rep, nil
}

func dump(dir string, rep *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("dump: %w", err)
	}

	tensors := make([]safetensors.Tensor, 0, len(rep.tensors))
	meta := map[string]string{"tutorial": rep.Name}

	for name, b := range rep.tensors {
		tensor, err := safetensors.FromBuffer(name, b)
		if err != nil {
			return "", fmt.Errorf("dump: %w", err)
		}

		tensors = append(tensors, tensor)
		meta[name+".layout"] = b.Desc().String()
	}

	path := filepath.Join(dir, rep.Name+".safetensors")
	if err := safetensors.WriteFile(path, tensors, meta); err != nil {
		return "", fmt.Errorf("dump: %w", err)
	}

	return path, nil
}
