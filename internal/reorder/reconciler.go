package reorder

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/example/go-dnn-primer/internal/engine"
	"github.com/example/go-dnn-primer/internal/layout"
	"github.com/example/go-dnn-primer/internal/memory"
)

// Resolver reports the descriptor a consumer prefers for an operand it was
// created with an unconstrained layout for.
type Resolver interface {
	Preferred(arg string, want layout.Desc) (layout.ExternalDesc, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(arg string, want layout.Desc) (layout.ExternalDesc, error)

func (f ResolverFunc) Preferred(arg string, want layout.Desc) (layout.ExternalDesc, error) {
	return f(arg, want)
}

// Operand is one buffer a step consumes or produces, together with the
// descriptor the step requires for it.
type Operand struct {
	Arg  string
	Have *memory.Buffer
	Want layout.Desc
	// Resolver is consulted when Want has an unconstrained layout.
	Resolver Resolver
	// Attr applies to the reorder when one is needed.
	Attr Attr
}

// Event records one reorder scheduled by a Reconciler.
type Event struct {
	Arg  string `json:"arg"`
	From string `json:"from"`
	To   string `json:"to"`
}

// Reconciler bridges user buffers and the layouts steps require. It reorders
// only when the held and required layouts differ.
type Reconciler struct {
	stream *engine.Stream

	mu     sync.Mutex
	events []Event
}

func NewReconciler(s *engine.Stream) *Reconciler {
	return &Reconciler{stream: s}
}

// Resolve returns want with an unconstrained layout replaced by the
// resolver's preference. Resolved descriptors are returned unchanged.
func Resolve(arg string, want layout.Desc, r Resolver) (layout.Desc, error) {
	if !want.Layout.IsAny() {
		return want, nil
	}

	if r == nil {
		return layout.Desc{}, fmt.Errorf("reorder: resolve %s: %w: no resolver", arg, layout.ErrUnresolvedLayout)
	}

	ext, err := r.Preferred(arg, want)
	if err != nil {
		return layout.Desc{}, fmt.Errorf("reorder: resolve %s: %w", arg, err)
	}

	got, err := layout.Import(ext)
	if err != nil {
		return layout.Desc{}, fmt.Errorf("reorder: resolve %s: %w", arg, err)
	}

	if got.Layout.IsAny() {
		return layout.Desc{}, fmt.Errorf("reorder: resolve %s: %w: resolver returned any", arg, layout.ErrUnresolvedLayout)
	}

	if !got.Shape.Equal(want.Shape) {
		return layout.Desc{}, fmt.Errorf("reorder: resolve %s: %w: %s vs %s", arg, layout.ErrShapeMismatch, got.Shape, want.Shape)
	}

	if got.DataType != want.DataType {
		return layout.Desc{}, fmt.Errorf("reorder: resolve %s: resolver changed data type %s -> %s", arg, want.DataType, got.DataType)
	}

	return got, nil
}

// Input returns a buffer holding op.Have's data in the required layout. When
// the layouts already match and neither a data type conversion nor a
// quantizing Attr applies, op.Have itself is returned and nothing is
// allocated or copied.
func (r *Reconciler) Input(ctx context.Context, op Operand) (*memory.Buffer, error) {
	want, err := Resolve(op.Arg, op.Want, op.Resolver)
	if err != nil {
		return nil, err
	}

	have := op.Have.Desc()

	if !have.Shape.Equal(want.Shape) {
		return nil, fmt.Errorf("reorder: input %s: %w: have %s, want %s", op.Arg, layout.ErrShapeMismatch, have.Shape, want.Shape)
	}

	if identity(have, want, op.Attr) {
		return op.Have, nil
	}

	tmp, err := memory.New(want)
	if err != nil {
		return nil, fmt.Errorf("reorder: input %s: %w", op.Arg, err)
	}

	if err := Reorder(ctx, r.stream, op.Have, tmp, op.Attr); err != nil {
		return nil, fmt.Errorf("reorder: input %s: %w", op.Arg, err)
	}

	r.record(op.Arg, have, want)

	return tmp, nil
}

// Inputs reconciles every operand and reports all failures together. The
// returned slice is parallel to ops.
func (r *Reconciler) Inputs(ctx context.Context, ops ...Operand) ([]*memory.Buffer, error) {
	out := make([]*memory.Buffer, len(ops))

	var errs error

	for i, op := range ops {
		b, err := r.Input(ctx, op)
		errs = multierr.Append(errs, err)
		out[i] = b
	}

	if errs != nil {
		return nil, errs
	}

	return out, nil
}

// OutputPlan is the buffer a step should write, plus the step that copies it
// back into the caller's buffer when the two differ.
type OutputPlan struct {
	Buffer *memory.Buffer

	r    *Reconciler
	arg  string
	user *memory.Buffer
	attr Attr
}

// Reordered reports whether Finish will schedule a copy.
func (p *OutputPlan) Reordered() bool { return p.Buffer != p.user }

// Finish schedules the reorder from the scratch buffer into the caller's
// buffer. It must be called after the producing step was submitted.
func (p *OutputPlan) Finish(ctx context.Context) error {
	if !p.Reordered() {
		return nil
	}

	if err := Reorder(ctx, p.r.stream, p.Buffer, p.user, p.attr); err != nil {
		return fmt.Errorf("reorder: output %s: %w", p.arg, err)
	}

	p.r.record(p.arg, p.Buffer.Desc(), p.user.Desc())

	return nil
}

// Output plans the destination of a step. op.Have is the caller's buffer and
// op.Want the descriptor the step produces.
func (r *Reconciler) Output(op Operand) (*OutputPlan, error) {
	want, err := Resolve(op.Arg, op.Want, op.Resolver)
	if err != nil {
		return nil, err
	}

	user := op.Have.Desc()

	if !user.Shape.Equal(want.Shape) {
		return nil, fmt.Errorf("reorder: output %s: %w: have %s, want %s", op.Arg, layout.ErrShapeMismatch, user.Shape, want.Shape)
	}

	plan := &OutputPlan{r: r, arg: op.Arg, user: op.Have, attr: op.Attr}

	if identity(want, user, op.Attr) {
		plan.Buffer = op.Have
		return plan, nil
	}

	if err := Check(want, user); err != nil {
		return nil, fmt.Errorf("reorder: output %s: %w", op.Arg, err)
	}

	scratch, err := memory.New(want)
	if err != nil {
		return nil, fmt.Errorf("reorder: output %s: %w", op.Arg, err)
	}

	plan.Buffer = scratch

	return plan, nil
}

// identity reports whether reordering from into to with attr would leave
// every element unchanged.
func identity(from, to layout.Desc, attr Attr) bool {
	if attr != (Attr{}) && !attr.isDefault() {
		return false
	}

	return from.DataType == to.DataType && layout.Equal(from.Layout, to.Layout)
}

// Events returns the reorders scheduled so far, in scheduling order.
func (r *Reconciler) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Event(nil), r.events...)
}

func (r *Reconciler) record(arg string, from, to layout.Desc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, Event{Arg: arg, From: from.String(), To: to.String()})
}
