package memory

import "sync"

// Fence tracks completion of the asynchronous step producing a buffer.
type Fence struct {
	name string
	done chan struct{}
	once sync.Once
	err  error
}

// NewFence returns an unsignalled fence labelled with the producing step.
func NewFence(name string) *Fence {
	return &Fence{name: name, done: make(chan struct{})}
}

// Signal marks the producing step finished. Only the first call has effect.
func (f *Fence) Signal(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the producing step has finished.
func (f *Fence) Done() <-chan struct{} { return f.done }

// Err returns the producing step's error. Valid after Done is closed.
func (f *Fence) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

func (f *Fence) Name() string { return f.name }
