package analyzer

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of an Analyzer.
type State int32

const (
	Uninitialized State = iota
	Loading
	TrainingClassification
	TrainingRegression
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case TrainingClassification:
		return "training_classification"
	case TrainingRegression:
		return "training_regression"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalText renders the state name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for st := Uninitialized; st <= Failed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// NotReadyError is returned by queries while no trained snapshot is
// available. Err is the failure that left the analyzer in that state, if any.
type NotReadyError struct {
	State State
	Err   error
}

func (e *NotReadyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analyzer not ready (state=%s): %v", e.State, e.Err)
	}
	return fmt.Sprintf("analyzer not ready (state=%s)", e.State)
}

func (e *NotReadyError) Unwrap() error { return e.Err }

// ErrUnknownTask is returned for a task name other than classifier or regressor.
var ErrUnknownTask = errors.New("unknown task")

// Task selects one of the two trained models.
type Task string

const (
	TaskClassifier Task = "classifier"
	TaskRegressor  Task = "regressor"
)

// ParseTask accepts the model name or the task name.
func ParseTask(s string) (Task, error) {
	switch s {
	case "classifier", "classification":
		return TaskClassifier, nil
	case "regressor", "regression":
		return TaskRegressor, nil
	}
	return "", fmt.Errorf("%w: %q (use classifier|regressor)", ErrUnknownTask, s)
}

// stageError tags a pipeline failure with the stage it happened in.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }
