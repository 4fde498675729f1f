package supervisor

import (
	"context"
	"time"
)

// Process is a launched unit as seen by the supervisor.
type Process interface {
	PID() int
	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)
	// Stop asks the process to shut down gracefully.
	Stop() error
	// Kill terminates the process immediately.
	Kill() error
}

// Policy decides what an unexpected exit of a long-running unit means.
type Policy int

const (
	// PolicyDegrade logs the exit and keeps the rest of the group running.
	PolicyDegrade Policy = iota
	// PolicyFatal shuts the whole group down.
	PolicyFatal
)

func (p Policy) String() string {
	if p == PolicyFatal {
		return "fatal"
	}
	return "degrade"
}

// Unit is one supervised process. Long-running units are launched once and
// never restarted; one-shot units are launched on every cadence tick.
type Unit struct {
	Name        string
	LongRunning bool
	Policy      Policy
	LogSink     string
	Launch      func(ctx context.Context) (Process, error)
}

// Config of the supervisor.
type Config struct {
	GracePeriod time.Duration
	Cadence     time.Duration // one-shot units
	StopFile    string        // empty disables the file switch
	StopCheck   time.Duration
}
