// Package runlog composes the operator-facing log lines the pipeline
// appends to a run via the control plane's appendRunLog operation. It is
// deliberately separate from process logging (internal/*'s use of the
// standard log package): these lines are shipped to the control plane and
// rendered in the Port UI, not written to stdout/stderr.
package runlog

import "fmt"

// Line builds one structured log line for stage, with optional detail.
func Line(stage string, detail string) string {
	if detail == "" {
		return stage
	}
	return fmt.Sprintf("%s: %s", stage, detail)
}

// Known stages, matching the pipeline steps the spec requires a log line
// for: received, preparing, sending, outcome, reporting response,
// reporting status, finished.
const (
	StageReceived         = "Received run"
	StagePreparing        = "Preparing request"
	StageSending          = "Sending request"
	StageOutcome          = "Request finished"
	StageReportingResponse = "Reporting response"
	StageReportingStatus  = "Reporting status"
	StageFinished         = "Finished"
)
