package wsprelay

import (
	"errors"
	"fmt"

	"github.com/sammck-go/wspipe/pkg/wspchannel"
)

// ErrNoSinks is returned when a relay would have nowhere to deliver
var ErrNoSinks = errors.New("no sink could be opened")

// UsageError reports invalid command-line arguments or configuration
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string {
	return e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

// NewUsageError creates a UsageError from a format string
func NewUsageError(f string, args ...interface{}) error {
	return &UsageError{Err: fmt.Errorf(f, args...)}
}

// Process exit codes
const (
	ExitOK          = 0
	ExitStartup     = 1
	ExitUsage       = 2
	ExitRelayFailed = 3
)

// ExitCode maps the error returned by Session.Run to a process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitUsage
	}
	var connErr *wspchannel.ConnectionError
	if errors.As(err, &connErr) || errors.Is(err, ErrNoSinks) {
		return ExitStartup
	}
	return ExitRelayFailed
}
