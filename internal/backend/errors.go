package backend

import (
	"context"
	"errors"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
	dockerclient "github.com/docker/docker/client"
)

// Backend error kinds. Classify with errors.Is; callers never inspect raw
// daemon errors.
var (
	// ErrImageUnavailable means the image could not be made present locally.
	ErrImageUnavailable = errors.New("image unavailable")

	// ErrResourceConflict means the resource name is already taken.
	ErrResourceConflict = errors.New("resource conflict")

	// ErrNotFound means the handle does not exist in the backend.
	ErrNotFound = errors.New("not found")

	// ErrTransient covers timeouts and daemon blips worth retrying.
	ErrTransient = errors.New("transient backend error")

	// ErrFatal covers everything the caller cannot recover from.
	ErrFatal = errors.New("fatal backend error")
)

// IsNotFound reports whether err is the backend NotFound kind.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// classify maps a raw daemon error onto the backend error taxonomy, keeping
// the original chained for logs.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case cerrdefs.IsNotFound(err) || dockerclient.IsErrNotFound(err):
		return fmt.Errorf("%s: %w: %v", op, ErrNotFound, err)
	case cerrdefs.IsConflict(err):
		return fmt.Errorf("%s: %w: %v", op, ErrResourceConflict, err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrFatal, err)
	}
}
