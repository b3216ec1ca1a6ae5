package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrThreadLookup means a thread referenced by a session token could not be retrieved.
	ErrThreadLookup = errors.New("thread lookup failed")
	// ErrThreadCreation means a new remote thread could not be created.
	ErrThreadCreation = errors.New("thread creation failed")
	// ErrMessageAppend means the user's message was not added to the thread.
	ErrMessageAppend = errors.New("message append failed")
	// ErrRunCreation means the remote refused to start a run.
	ErrRunCreation = errors.New("run creation failed")
	// ErrRunTimeout means a run did not reach a final state before the polling deadline.
	ErrRunTimeout = errors.New("run timed out")
)

// RunError is a run that ended with an error reported by the remote.
type RunError struct {
	RunID   string
	Status  string
	Code    string
	Message string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s %s: %s: %s", e.RunID, e.Status, e.Code, e.Message)
}

// IncompleteRunError is a run that stopped without completing and without an error.
// Only returned when the incomplete policy is "error".
type IncompleteRunError struct {
	RunID  string
	Status string
}

func (e *IncompleteRunError) Error() string {
	return fmt.Sprintf("run %s ended with status %s", e.RunID, e.Status)
}
