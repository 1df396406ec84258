package plugin

import "strings"

// BuildStatus is the outcome of a build. Statuses are ordered from best to
// worst so they can be combined with Worse.
type BuildStatus int

const (
	StatusSuccess BuildStatus = iota
	StatusUnstable
	StatusFailure
)

func (s BuildStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusUnstable:
		return "unstable"
	default:
		return "failure"
	}
}

// ParseStatus maps a host status string to a BuildStatus. Anything the host
// reports as broken counts as failure; an empty value means nothing has
// gone wrong yet.
func ParseStatus(s string) BuildStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "success", "passed", "pass", "ok", "running", "pending":
		return StatusSuccess
	case "unstable":
		return StatusUnstable
	default:
		return StatusFailure
	}
}

// Worse returns the worse of the two statuses. A build status never
// improves once set.
func Worse(a, b BuildStatus) BuildStatus {
	if b > a {
		return b
	}
	return a
}
