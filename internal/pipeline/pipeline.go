package pipeline

import (
	"context"
	"fmt"
	"log/slog"
)

// Step is one unit of work in a pipeline.
type Step[T any] interface {
	// Do executes the step against state. A returned error is either
	// recovered (see WithRecover) or aborts the pipeline.
	Do(ctx context.Context, state *T) error

	// Name returns the step's name for logging purposes.
	Name() string
}

// StepFunc adapts a function to the Step interface.
type StepFunc[T any] struct {
	StepName string
	Fn       func(ctx context.Context, state *T) error
}

// Do implements Step.
func (s StepFunc[T]) Do(ctx context.Context, state *T) error {
	return s.Fn(ctx, state)
}

// Name implements Step.
func (s StepFunc[T]) Name() string {
	return s.StepName
}

// StepError reports which step aborted the pipeline.
type StepError struct {
	Step string
	Err  error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

// Unwrap returns the step's error.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Pipeline executes steps in order.
//
// Design decision: Steps share one value of type T rather than passing
// results between each other. A refresh step reads what earlier steps
// (or the cache) already found and fills in what is still missing, so a
// skipped step leaves its part of T unset and later steps still run.
// Whether a failure is skipped or aborts the run is decided by the
// WithRecover predicate, not by the steps themselves.
type Pipeline[T any] struct {
	steps []Step[T]

	logger *slog.Logger

	// recoverable decides whether a step error is tolerated.
	// nil means every error aborts.
	recoverable func(error) bool
}

// Option configures a Pipeline.
type Option[T any] func(*Pipeline[T])

// WithLogger sets the logger. The default is slog.Default().
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pipeline[T]) {
		p.logger = logger
	}
}

// WithRecover sets the function that decides whether a failed step is
// skipped (true) or aborts the run (false).
func WithRecover[T any](fn func(error) bool) Option[T] {
	return func(p *Pipeline[T]) {
		p.recoverable = fn
	}
}

// New creates an empty pipeline.
func New[T any](opts ...Option[T]) *Pipeline[T] {
	p := &Pipeline[T]{
		steps: make([]Step[T], 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends a step.
func (p *Pipeline[T]) AddStep(step Step[T]) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps in order.
func (p *Pipeline[T]) AddSteps(steps ...Step[T]) {
	p.steps = append(p.steps, steps...)
}

// Execute runs every step against state in order.
//
// Cancellation is checked between steps only; a running step is bounded by
// its own timeout. The first unrecovered error is returned as a *StepError.
func (p *Pipeline[T]) Execute(ctx context.Context, state *T) error {
	for _, step := range p.steps {
		select {
		case <-ctx.Done():
			p.logger.Warn("pipeline cancelled",
				"step", step.Name(),
				"reason", ctx.Err(),
			)
			return &StepError{Step: step.Name(), Err: ctx.Err()}
		default:
		}

		if err := step.Do(ctx, state); err != nil {
			if p.recoverable != nil && p.recoverable(err) {
				p.logger.Debug("step failed, continuing",
					"step", step.Name(),
					"error", err,
				)
				continue
			}
			p.logger.Debug("step failed, aborting",
				"step", step.Name(),
				"error", err,
			)
			return &StepError{Step: step.Name(), Err: err}
		}
	}
	return nil
}

// StepCount returns the number of steps in the pipeline.
func (p *Pipeline[T]) StepCount() int {
	return len(p.steps)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline[T]) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
