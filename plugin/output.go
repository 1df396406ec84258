package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Step output variables.
const (
	OutputStatus      = "TEST_STATUS"
	OutputPassed      = "TEST_PASSED"
	OutputFailed      = "TEST_FAILED"
	OutputSkipped     = "TEST_SKIPPED"
	OutputQuarantined = "TEST_QUARANTINED"
	OutputRemaining   = "TEST_REMAINING_FAILURES"
)

// Summary is what a run reports to the host once the status is known.
type Summary struct {
	Status   BuildStatus
	Result   *TestResult
	Decision Decision
}

func (s Summary) variables() map[string]string {
	vars := map[string]string{
		OutputStatus: s.Status.String(),
	}
	if s.Result != nil {
		vars[OutputPassed] = strconv.Itoa(s.Result.PassCount())
		vars[OutputFailed] = strconv.Itoa(s.Result.FailCount())
		vars[OutputSkipped] = strconv.Itoa(s.Result.SkipCount())
		vars[OutputQuarantined] = strconv.Itoa(s.Decision.Quarantined)
		vars[OutputRemaining] = strconv.Itoa(s.Decision.Remaining)
	}
	return vars
}

// writeOutputs merges the summary into the host's dotenv output file,
// keeping variables earlier commands of the step wrote there.
func writeOutputs(path string, s Summary) error {
	vars, err := godotenv.Read(path)
	if os.IsNotExist(err) {
		vars = map[string]string{}
	} else if err != nil {
		return errors.Wrapf(err, "failed to read output file %s", path)
	}
	for k, v := range s.variables() {
		vars[k] = v
	}
	if err := godotenv.Write(vars, path); err != nil {
		return errors.Wrapf(err, "failed to write output file %s", path)
	}
	return nil
}

type archive struct {
	Status           string         `json:"status"`
	Passed           int            `json:"passed"`
	Failed           int            `json:"failed"`
	Skipped          int            `json:"skipped"`
	Quarantined      int            `json:"quarantined"`
	QuarantinedTests []string       `json:"quarantinedTests,omitempty"`
	Remaining        int            `json:"remaining"`
	Suites           []*SuiteResult `json:"suites"`
	TestData         TestData       `json:"testData,omitempty"`
}

// writeArchive records the result and its published data as JSON.
func writeArchive(path string, s Summary, data TestData) error {
	a := archive{
		Status:           s.Status.String(),
		Passed:           s.Result.PassCount(),
		Failed:           s.Result.FailCount(),
		Skipped:          s.Result.SkipCount(),
		Quarantined:      s.Decision.Quarantined,
		QuarantinedTests: s.Decision.QuarantinedTests,
		Remaining:        s.Decision.Remaining,
		Suites:           s.Result.Suites,
		TestData:         data,
	}
	out, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create archive directory for %s", path)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return errors.Wrapf(err, "failed to write archive %s", path)
	}
	return nil
}

// renderFailures tabulates failed tests and their quarantine state.
func renderFailures(result *TestResult, data TestData) string {
	t := table.NewWriter()
	t.SetTitle("Failed tests")
	t.AppendHeader(table.Row{"Test", "Quarantined", "By", "Reason"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 120, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Reason", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})
	for _, c := range result.FailedTests() {
		row := table.Row{c.FullName(), "no", "", ""}
		if q := data[c.FullName()].Quarantine; q != nil && q.Quarantined {
			row = table.Row{c.FullName(), "yes", q.By, q.Reason}
		}
		t.AppendRow(row)
	}
	t.AppendFooter(table.Row{"Total", len(result.FailedTests()), "", ""})
	t.SetStyle(table.StyleLight)
	return t.Render()
}
