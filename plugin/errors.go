package plugin

import (
	"errors"
	"fmt"
)

// Messages printed when an archiving stage gives up.
const (
	msgRecording     = "Recording test results"
	msgResultIsEmpty = "None of the test reports contained any result"
	msgNoReports     = "No test report files were found. Configuration error?"
	msgStaleReports  = "Test reports were found but none of them are new. Did tests run?"
	msgArchiveFailed = "Failed to archive test reports"
)

// AbortError stops the archiver with a message for the build log. The
// archiver treats it as a configuration problem: when an earlier stage
// already failed the build it is not reported at all.
type AbortError struct {
	Message string
}

func (e *AbortError) Error() string { return e.Message }

func abort(format string, args ...interface{}) error {
	return &AbortError{Message: fmt.Sprintf(format, args...)}
}

// EmptyResultError means the reports parsed but held no passed or failed
// test, which usually points at a wrong report path.
type EmptyResultError struct {
	Skipped int
}

func (e *EmptyResultError) Error() string { return msgResultIsEmpty }

// MalformedReportError means a report file exists but could not be read as
// a test report.
type MalformedReportError struct {
	File string
	Err  error
}

func (e *MalformedReportError) Error() string {
	return fmt.Sprintf("bad XML in test report %s: %v", e.File, e.Err)
}

func (e *MalformedReportError) Unwrap() error { return e.Err }

// isAbort reports whether err belongs to the abort kind, which includes an
// empty result.
func isAbort(err error) bool {
	var abortErr *AbortError
	var emptyErr *EmptyResultError
	return errors.As(err, &abortErr) || errors.As(err, &emptyErr)
}
