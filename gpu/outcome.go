package gpu

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrFatal marks errors the render loop cannot recover from: device loss, creation
// failures and configuration mismatches detected while building GPU objects.
var ErrFatal = errors.New("fatal graphics error")

// Fatalf builds an error marked with ErrFatal.
func Fatalf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrFatal)
}

// MarkFatal wraps err with msg and marks it with ErrFatal. A nil err stays nil.
func MarkFatal(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrFatal)
}

func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// Outcome is what a low-level presentation result means to the frame loop.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeRetry means the surface is stale or suboptimal: recreate and try again.
	OutcomeRetry
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetry:
		return "retry"
	case OutcomeFatal:
		return "fatal"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}
