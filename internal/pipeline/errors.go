package pipeline

import (
	"errors"
	"fmt"

	"github.com/kevinmichaelchen/star-catalog/internal/llm"
	"github.com/kevinmichaelchen/star-catalog/internal/store"
	"github.com/kevinmichaelchen/star-catalog/internal/workerpool"
)

type FailureKind string

const (
	KindNetwork           FailureKind = "network"
	KindDecode            FailureKind = "decode"
	KindMalformedResponse FailureKind = "malformed_response"
	KindStorage           FailureKind = "storage"
	KindPanic             FailureKind = "panic"
)

// TaskFailure is one repository's failed fetch or classification. It is
// logged and counted at the task boundary and never aborts a pass.
type TaskFailure struct {
	Repo string
	Kind FailureKind
	Err  error
}

func (e *TaskFailure) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Repo, e.Kind, e.Err)
}

func (e *TaskFailure) Unwrap() error {
	return e.Err
}

// asTaskFailure names the failure of a drained task. Tasks return
// *TaskFailure themselves; anything else is classified here.
func asTaskFailure(f workerpool.Failure) *TaskFailure {
	var tf *TaskFailure
	if errors.As(f.Err, &tf) {
		return tf
	}
	return &TaskFailure{Repo: f.Name, Kind: kindOf(f.Err), Err: f.Err}
}

func kindOf(err error) FailureKind {
	var pe *workerpool.PanicError
	switch {
	case errors.As(err, &pe):
		return KindPanic
	case store.IsStorageError(err):
		return KindStorage
	case errors.Is(err, llm.ErrMalformedResponse):
		return KindMalformedResponse
	default:
		return KindNetwork
	}
}
