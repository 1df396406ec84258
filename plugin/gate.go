package plugin

import (
	"github.com/sirupsen/logrus"
)

// Decision is the outcome of the quarantine gate.
type Decision struct {
	Status           BuildStatus
	Remaining        int
	Quarantined      int
	QuarantinedTests []string
}

// Gate decides the build status from a recorded result, letting
// quarantined failures through.
type Gate struct {
	// Logger receives the quarantine log lines. The standard logger is used
	// when it is nil.
	Logger logrus.FieldLogger
}

func (g *Gate) logger() logrus.FieldLogger {
	if g.Logger == nil {
		return logrus.StandardLogger()
	}
	return g.Logger
}

// Decide counts failures that are not quarantined. The build is unstable
// when any remain; it stays successful when the quarantine covers every
// failure. An empty result is an error since it most likely means the
// report pattern matched the wrong files.
func (g *Gate) Decide(result *TestResult, data TestData) (Decision, error) {
	if result.PassCount() == 0 && result.FailCount() == 0 {
		return Decision{Status: StatusFailure}, &EmptyResultError{Skipped: result.SkipCount()}
	}
	if result.FailCount() == 0 {
		return Decision{Status: StatusSuccess}, nil
	}

	logger := g.logger()
	var d Decision
	for _, c := range result.FailedTests() {
		if data.IsQuarantined(c.FullName()) {
			logger.Infof("[Quarantine]: %s failed but is quarantined", c.FullName())
			d.QuarantinedTests = append(d.QuarantinedTests, c.FullName())
			d.Quarantined++
		}
	}

	d.Remaining = result.FailCount() - d.Quarantined
	logger.Infof("[Quarantine]: %d unquarantined failures remaining", d.Remaining)

	if d.Remaining > 0 {
		d.Status = StatusUnstable
	}
	return d, nil
}
