// Package errdefs defines the error kinds surfaced by topology lookups,
// remote execution, external tooling and the update pipeline.
package errdefs

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound marks an unresolved lookup.
var ErrNotFound = errors.New("not found")

// ConflictError reports an addition that is already present: an organization
// already in a channel, a consortium already defined, a duplicate channel id
// or role-domain.
type ConflictError struct {
	Kind string
	ID   string
	In   string
}

func (e *ConflictError) Error() string {
	if e.In == "" {
		return fmt.Sprintf("%s %s already exists", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s %s already exists in %s", e.Kind, e.ID, e.In)
}

// Conflict returns a ConflictError for kind/id, optionally scoped to a container.
func Conflict(kind, id, in string) error {
	return &ConflictError{Kind: kind, ID: id, In: in}
}

// TopologyError reports an unresolved host or role lookup or an ambiguous
// dispatch target. It is raised before any remote action.
type TopologyError struct {
	Msg string
	Err error
}

func (e *TopologyError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *TopologyError) Unwrap() error { return e.Err }

// Topology returns a TopologyError with a formatted message.
func Topology(format string, args ...any) error {
	return &TopologyError{Msg: fmt.Sprintf(format, args...)}
}

// TopologyNotFound returns a TopologyError wrapping ErrNotFound.
func TopologyNotFound(format string, args ...any) error {
	return &TopologyError{Msg: fmt.Sprintf(format, args...), Err: ErrNotFound}
}

// RemoteExecutionError carries a failed remote command and its transcript.
type RemoteExecutionError struct {
	Host       string
	Command    string
	ExitStatus int
	Stdout     string
	Stderr     string
	Err        error
}

func (e *RemoteExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] command failed", e.Host)
	if e.ExitStatus != 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitStatus)
	}
	fmt.Fprintf(&b, ": %s", e.Command)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, "\nstderr: %s", s)
	}
	if s := strings.TrimSpace(e.Stdout); s != "" {
		fmt.Fprintf(&b, "\nstdout: %s", s)
	}
	return b.String()
}

func (e *RemoteExecutionError) Unwrap() error { return e.Err }

// AdapterError reports a codec or diff tool failure with its raw output.
type AdapterError struct {
	Op     string
	Output string
	Err    error
}

func (e *AdapterError) Error() string {
	msg := e.Op + " failed"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if s := strings.TrimSpace(e.Output); s != "" {
		msg += "\n" + s
	}
	return msg
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Adapter returns an AdapterError for op.
func Adapter(op string, output []byte, err error) error {
	return &AdapterError{Op: op, Output: string(output), Err: err}
}

// StageError is returned by the update pipeline when a stage aborts the run.
type StageError struct {
	Stage    string
	Artifact string
	Err      error
}

func (e *StageError) Error() string {
	if e.Artifact == "" {
		return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s failed producing %s: %v", e.Stage, e.Artifact, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Cause returns the wrapped error, for pkg/errors.Cause.
func (e *StageError) Cause() error { return e.Err }

// As walks err through both pkg/errors causes and Unwrap chains.
func As[T error](err error) (T, bool) {
	var zero T
	for err != nil {
		if t, ok := err.(T); ok {
			return t, true
		}
		switch x := err.(type) {
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		case interface{ Cause() error }:
			err = x.Cause()
		default:
			return zero, false
		}
	}
	return zero, false
}

func IsConflict(err error) bool {
	_, ok := As[*ConflictError](err)
	return ok
}

func IsTopology(err error) bool {
	_, ok := As[*TopologyError](err)
	return ok
}

func IsRemote(err error) bool {
	_, ok := As[*RemoteExecutionError](err)
	return ok
}

func IsAdapter(err error) bool {
	_, ok := As[*AdapterError](err)
	return ok
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// StageOf returns the failing stage name, or "" when err did not come from a stage.
func StageOf(err error) string {
	if se, ok := As[*StageError](err); ok {
		return se.Stage
	}
	return ""
}
