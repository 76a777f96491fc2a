package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// testState is the state threaded through test pipelines.
type testState struct {
	visited []string
}

// mockStep is a test helper that implements the Step interface.
type mockStep struct {
	name      string
	err       error
	callCount int
}

// Do implements Step.Do.
func (m *mockStep) Do(_ context.Context, state *testState) error {
	m.callCount++
	state.visited = append(state.visited, m.name)
	return m.err
}

// Name implements Step.Name.
func (m *mockStep) Name() string {
	return m.name
}

var errTransient = errors.New("transient")

// TestPipelineNew tests the Pipeline constructor.
func TestPipelineNew(t *testing.T) {
	t.Parallel()

	t.Run("creates pipeline with default settings", func(t *testing.T) {
		t.Parallel()

		p := New[testState]()
		if p == nil {
			t.Fatal("expected non-nil pipeline")
		}
		if p.StepCount() != 0 {
			t.Errorf("expected 0 steps, got %d", p.StepCount())
		}
		if p.logger == nil {
			t.Error("expected default logger")
		}
		if p.recoverable != nil {
			t.Error("expected no recover function by default")
		}
	})

	t.Run("applies WithRecover option", func(t *testing.T) {
		t.Parallel()

		p := New(WithRecover[testState](func(error) bool { return true }))
		if p.recoverable == nil {
			t.Error("expected recover function to be set")
		}
	})
}

// TestPipelineAddStep tests adding steps to the pipeline.
func TestPipelineAddStep(t *testing.T) {
	t.Parallel()

	p := New[testState]()
	p.AddStep(&mockStep{name: "first"})
	p.AddSteps(&mockStep{name: "second"}, &mockStep{name: "third"})

	if p.StepCount() != 3 {
		t.Errorf("expected 3 steps, got %d", p.StepCount())
	}
	expected := []string{"first", "second", "third"}
	if !reflect.DeepEqual(p.StepNames(), expected) {
		t.Errorf("StepNames() = %v, expected %v", p.StepNames(), expected)
	}
}

// TestPipelineExecute tests step ordering and error policy.
func TestPipelineExecute(t *testing.T) {
	t.Parallel()

	t.Run("runs all steps in order", func(t *testing.T) {
		t.Parallel()

		p := New[testState]()
		p.AddSteps(&mockStep{name: "a"}, &mockStep{name: "b"}, &mockStep{name: "c"})

		var state testState
		if err := p.Execute(context.Background(), &state); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(state.visited, []string{"a", "b", "c"}) {
			t.Errorf("visited = %v", state.visited)
		}
	})

	t.Run("stops on first error without recover", func(t *testing.T) {
		t.Parallel()

		last := &mockStep{name: "c"}
		p := New[testState]()
		p.AddSteps(&mockStep{name: "a"}, &mockStep{name: "b", err: errTransient}, last)

		var state testState
		err := p.Execute(context.Background(), &state)
		if !errors.Is(err, errTransient) {
			t.Fatalf("expected errTransient, got %v", err)
		}
		var stepErr *StepError
		if !errors.As(err, &stepErr) || stepErr.Step != "b" {
			t.Errorf("expected StepError for step b, got %v", err)
		}
		if last.callCount != 0 {
			t.Error("step after failure should not run")
		}
	})

	t.Run("continues past recovered errors", func(t *testing.T) {
		t.Parallel()

		fatal := errors.New("fatal")
		p := New(WithRecover[testState](func(err error) bool {
			return errors.Is(err, errTransient)
		}))
		p.AddSteps(
			&mockStep{name: "a", err: errTransient},
			&mockStep{name: "b"},
			&mockStep{name: "c", err: fatal},
			&mockStep{name: "d"},
		)

		var state testState
		err := p.Execute(context.Background(), &state)
		if !errors.Is(err, fatal) {
			t.Fatalf("expected fatal error, got %v", err)
		}
		if !reflect.DeepEqual(state.visited, []string{"a", "b", "c"}) {
			t.Errorf("visited = %v", state.visited)
		}
	})

	t.Run("checks cancellation between steps", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		second := &mockStep{name: "b"}
		p := New[testState]()
		p.AddSteps(StepFunc[testState]{
			StepName: "a",
			Fn: func(context.Context, *testState) error {
				cancel()
				return nil
			},
		}, second)

		var state testState
		err := p.Execute(ctx, &state)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if second.callCount != 0 {
			t.Error("step after cancellation should not run")
		}
	})
}

// TestStepFunc tests the function adapter.
func TestStepFunc(t *testing.T) {
	t.Parallel()

	called := false
	step := StepFunc[testState]{
		StepName: "fn",
		Fn: func(context.Context, *testState) error {
			called = true
			return nil
		},
	}

	if step.Name() != "fn" {
		t.Errorf("Name() = %q, expected fn", step.Name())
	}
	if err := step.Do(context.Background(), &testState{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected function to be called")
	}
}
