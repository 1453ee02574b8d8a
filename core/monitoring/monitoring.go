// Package monitoring defines the error reporting contract used by runs.
package monitoring

import "time"

// Tag keys attached to captured run failures.
const (
	TagRunID = "run_id"
	TagStage = "stage"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	// Recover must be deferred directly. It reports the panic and re-panics.
	Recover()
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) Recover()                                  {}
func (NopMonitor) Flush(time.Duration)                       {}

// Capture reports err tagged with the run and the failing stage. A nil
// monitor or error is ignored.
func Capture(m Monitor, err error, runID, stage string) {
	if m == nil || err == nil {
		return
	}
	m.CaptureException(err, map[string]string{TagRunID: runID, TagStage: stage})
}
