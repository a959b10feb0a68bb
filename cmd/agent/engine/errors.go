package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// UnavailableError marks a job as released rather than failed: the engine
// could not be reached, so the job must stay eligible for a later retry
// and no terminal status may be reported.
type UnavailableError struct {
	Workflow string
	Reason   string
	Err      error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine unavailable for %s: %s: %v", e.Workflow, e.Reason, e.Err)
	}
	return fmt.Sprintf("engine unavailable for %s: %s", e.Workflow, e.Reason)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err carries the release-not-fail signal
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// TimeoutError marks a job that exhausted its execution deadline. Unlike
// UnavailableError it is terminal: the job fails with a timeout message.
type TimeoutError struct {
	Workflow string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("workflow %s timed out after %s", e.Workflow, e.After)
}

// IsTimeout reports whether err is a per-job deadline expiry
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// connectionSignatures classify errors surfaced only as strings by the
// transport layer. Typed checks come first; this is the fallback.
var connectionSignatures = []string{
	"connection",
	"refused",
	"websocket",
	"timeout",
	"not available",
}

// IsConnectionError reports whether an error looks like a transport-level
// failure that should evict the cached client and release the job
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	// Deadline expiry is terminal, never a release signal
	if IsTimeout(err) {
		return false
	}
	if IsUnavailable(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range connectionSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
