// internal/service/pipeline/errors.go

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgconn"

	"medwarehouse/internal/domain/warehouse"
)

var (
	// ErrRunInProgress is returned when a run is requested while
	// another run holds the pipeline lock.
	ErrRunInProgress = warehouse.ErrRunInProgress

	// ErrStageOrdering is returned when the stage graph declares a
	// dependency on a stage that is missing or scheduled later. This is
	// a wiring bug and aborts the run before any stage executes.
	ErrStageOrdering = errors.New("stage depends on a stage not scheduled before it")
)

// transientError marks an error as retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

func (e *transientError) Transient() bool {
	return true
}

// MarkTransient wraps an error so the scheduler retries the stage that
// returned it. A nil error is passed through.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether a stage error is worth retrying. Network
// faults, stage deadline expiries and connection-level database errors
// (SQLSTATE class 08) are transient; everything else fails the stage on
// first occurrence.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var marked interface{ Transient() bool }
	if errors.As(err, &marked) {
		return marked.Transient()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08")
	}

	return false
}

// stageError ties a failure to the stage that produced it for run
// summaries and logs.
func stageError(stage string, err error) error {
	return fmt.Errorf("stage %s: %w", stage, err)
}
