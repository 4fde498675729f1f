package domain

import "time"

// UnitStatus is the lifecycle state of a supervised process.
type UnitStatus string

const (
	UnitStarting UnitStatus = "starting"
	UnitRunning  UnitStatus = "running"
	UnitExited   UnitStatus = "exited"
	UnitFailed   UnitStatus = "failed"
)

// Down reports whether the unit is no longer running.
func (s UnitStatus) Down() bool {
	return s == UnitExited || s == UnitFailed
}

// ProcessHandle is the supervisor's record of one launched unit.
type ProcessHandle struct {
	Name      string     `json:"name"`
	PID       int        `json:"pid"`
	StartedAt time.Time  `json:"started_at"`
	LogSink   string     `json:"log_sink"`
	Status    UnitStatus `json:"status"`
	ExitCode  int        `json:"exit_code"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
}
