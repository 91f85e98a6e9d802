// Package executor runs a bot's subroutines as a cooperative pipeline. The
// pipeline is flattened depth-first into a fixed priority order; every call
// to RunOnce is one tick that walks the order once. Subroutines steer the
// tick with signals instead of errors: Skip cancels the rest of the current
// branch, Terminate stops the executor for good.
package executor

import "context"

// Signal is a control value returned by a subroutine and interpreted by the
// executor.
type Signal int

const (
	None Signal = iota
	Skip
	Terminate
)

func (s Signal) String() string {
	switch s {
	case Skip:
		return "SKIP"
	case Terminate:
		return "TERMINATE"
	default:
		return "NONE"
	}
}

// Subroutine is one stage of the pipeline.
type Subroutine interface {
	Name() string
	Run(ctx context.Context) (Signal, error)
}

// Parent is implemented by subroutines that own nested stages. Children are
// scheduled before their parent, one level deeper.
type Parent interface {
	Subroutines() []Subroutine
}

type entry struct {
	sub   Subroutine
	level int
}

// Executor owns the flattened pipeline and the running flag.
type Executor struct {
	entries []entry
	running bool
}

// New flattens the given subroutines depth-first. The resulting order is
// the declared order with each parent's children immediately before it.
func New(subs ...Subroutine) *Executor {
	e := &Executor{}
	e.flatten(subs, 0)
	return e
}

func (e *Executor) flatten(subs []Subroutine, level int) {
	for _, sub := range subs {
		if parent, ok := sub.(Parent); ok {
			e.flatten(parent.Subroutines(), level+1)
		}
		e.entries = append(e.entries, entry{sub: sub, level: level})
	}
}

func (e *Executor) Start()        { e.running = true }
func (e *Executor) Stop()         { e.running = false }
func (e *Executor) Running() bool { return e.running }

// RunOnce executes one tick: every scheduled subroutine in priority order.
// A Skip signal at level L cancels the following entries at level >= L up
// to the next shallower entry; the cancellation lasts for this tick only.
// A Terminate signal stops the tick and marks the executor not running.
// The first subroutine error aborts the tick and is returned; the executor
// stays running so the caller decides whether that is fatal.
func (e *Executor) RunOnce(ctx context.Context) error {
	cancelled := make([]bool, len(e.entries))
	for i, ent := range e.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if cancelled[i] {
			continue
		}
		signal, err := ent.sub.Run(ctx)
		if err != nil {
			return err
		}
		switch signal {
		case Terminate:
			e.running = false
			return nil
		case Skip:
			for j := i + 1; j < len(e.entries); j++ {
				if e.entries[j].level < ent.level {
					break
				}
				cancelled[j] = true
			}
		}
	}
	return nil
}

// Len reports the number of scheduled subroutines.
func (e *Executor) Len() int { return len(e.entries) }

// Func adapts a plain function into a Subroutine.
type Func struct {
	SubName string
	RunFunc func(ctx context.Context) (Signal, error)
}

func (f Func) Name() string { return f.SubName }

func (f Func) Run(ctx context.Context) (Signal, error) { return f.RunFunc(ctx) }
