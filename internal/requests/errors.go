package requests

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// ErrAlreadyRequested is returned when the user already holds the torrent or is submitting it
// concurrently.
var ErrAlreadyRequested = errors.New("torrent already requested")

// InvalidSubmissionError is returned for a submission that is missing required fields.
type InvalidSubmissionError struct {
	Field  string
	Reason string
}

func (e *InvalidSubmissionError) Error() string {
	return fmt.Sprintf("invalid submission: %s %s", e.Field, e.Reason)
}

// ResolveError is returned when the link does not lead to a torrent identity.
type ResolveError struct {
	Link string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("failed to resolve torrent from %s: %v", e.Link, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// CapacityError is returned when no mount point can hold the download.
type CapacityError struct {
	Required uint64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("no mount point has %s free", humanize.IBytes(e.Required))
}
