package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/raphaelgruber/rackpatch/internal/client"
	"github.com/raphaelgruber/rackpatch/internal/models"
)

// Sentinel errors for the write path and bootstrap.
var (
	// ErrUnknownProcess means the process has no template; editing is unavailable.
	ErrUnknownProcess = errors.New("unknown process")

	// ErrIneligibleRack means the rack's type does not run the process.
	ErrIneligibleRack = errors.New("rack not eligible for process")

	// ErrUntranslatableStatus means a code has no backend status id.
	ErrUntranslatableStatus = errors.New("untranslatable status")

	// ErrIdentityUnresolved means no run could be found or created.
	ErrIdentityUnresolved = errors.New("run identity unresolved")

	// ErrNetwork marks a failed or timed-out backend call.
	ErrNetwork = errors.New("network failure")

	// ErrNotBootstrapped means no bootstrap was started before a write.
	ErrNotBootstrapped = errors.New("engine not bootstrapped")

	// ErrBootstrapFailed means both listings failed; no data is available.
	ErrBootstrapFailed = errors.New("bootstrap failed")
)

// Stage names the step of a write that failed.
type Stage string

const (
	StagePrecondition Stage = "precondition"
	StageResolve      Stage = "resolve"
	StageTranslate    Stage = "translate"
	StageUpdate       Stage = "update"
	StageUpsert       Stage = "upsert"
)

// WriteError reports a failed status change with the cell it concerned.
type WriteError struct {
	Key   models.ProgressKey
	Stage Stage
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write su=%s rack=%s process=%q failed at %s: %v",
		e.Key.SiteUnit, e.Key.RackID, e.Key.Process, e.Stage, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the write may succeed.
func (e *WriteError) Retryable() bool {
	return errors.Is(e.Err, ErrNetwork)
}

// networkError tags err as a network failure. Deadline and cancellation
// errors keep their identity for errors.Is.
func networkError(err error) error {
	if err == nil || errors.Is(err, ErrNetwork) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// backendError tags err as a network failure when it came from the
// transport or from a backend response. Anything else, such as a payload
// the client refused to send, is returned unchanged and is not retryable.
func backendError(err error) error {
	if isTransient(err) {
		return networkError(err)
	}
	return err
}

func isTransient(err error) bool {
	var apiErr *client.APIError
	var netErr net.Error
	switch {
	case err == nil:
		return false
	case errors.As(err, &apiErr), errors.As(err, &netErr):
		return true
	case errors.Is(err, io.ErrUnexpectedEOF), isContextError(err):
		return true
	}
	return false
}

func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
