package plugin

import (
	"bytes"
	"encoding/xml"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// stdio of passing cases is cut down to this many leading and trailing
	// characters unless long stdio is kept.
	halfMaxSize = 500
	// same for failed cases, which are more likely to need their output.
	halfMaxFailingSize = 50000

	// reports are compared against the build start with this much slack
	// for clock differences between the runner and the host.
	freshnessSlack = 3 * time.Second
)

// CaseStatus is the outcome of a single test case.
type CaseStatus int

const (
	CasePassed CaseStatus = iota
	CaseFailed
	CaseSkipped
)

func (s CaseStatus) String() string {
	switch s {
	case CaseFailed:
		return "failed"
	case CaseSkipped:
		return "skipped"
	default:
		return "passed"
	}
}

// MarshalText encodes the status by name.
func (s CaseStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CaseResult is one test case parsed from a report.
type CaseResult struct {
	ClassName  string            `json:"className"`
	Name       string            `json:"name"`
	Status     CaseStatus        `json:"status"`
	Duration   float64           `json:"duration"`
	Message    string            `json:"message,omitempty"`
	Stacktrace string            `json:"stacktrace,omitempty"`
	Stdout     string            `json:"stdout,omitempty"`
	Stderr     string            `json:"stderr,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// FullName identifies the case across reports and publishers.
func (c *CaseResult) FullName() string {
	if c.ClassName == "" {
		return c.Name
	}
	return c.ClassName + "." + c.Name
}

// IsFailed reports whether the case failed or errored.
func (c *CaseResult) IsFailed() bool { return c.Status == CaseFailed }

// SuiteResult is a suite and the report file it was read from.
type SuiteResult struct {
	Name  string        `json:"name"`
	File  string        `json:"file"`
	Cases []*CaseResult `json:"cases"`
}

// TestResult is the set of suites recorded for one build execution. It is
// read-only once returned by the reader.
type TestResult struct {
	Suites []*SuiteResult `json:"suites"`

	passCount int
	failCount int
	skipCount int
	failed    []*CaseResult
}

// PassCount returns the number of passed cases.
func (r *TestResult) PassCount() int { return r.passCount }

// FailCount returns the number of failed cases.
func (r *TestResult) FailCount() int { return r.failCount }

// SkipCount returns the number of skipped cases.
func (r *TestResult) SkipCount() int { return r.skipCount }

// FailedTests returns the failed cases in report order.
func (r *TestResult) FailedTests() []*CaseResult { return r.failed }

// Cases returns every case in report order.
func (r *TestResult) Cases() []*CaseResult {
	var cases []*CaseResult
	for _, suite := range r.Suites {
		cases = append(cases, suite.Cases...)
	}
	return cases
}

// NewTestResult builds a frozen result from suites recorded elsewhere.
func NewTestResult(suites ...*SuiteResult) *TestResult {
	r := &TestResult{Suites: suites}
	r.freeze()
	return r
}

func (r *TestResult) freeze() {
	r.passCount, r.failCount, r.skipCount = 0, 0, 0
	r.failed = nil
	for _, c := range r.Cases() {
		switch c.Status {
		case CaseFailed:
			r.failCount++
			r.failed = append(r.failed, c)
		case CaseSkipped:
			r.skipCount++
		default:
			r.passCount++
		}
	}
}

// reportReader locates report files and turns them into a TestResult.
type reportReader struct {
	pattern       string
	keepLongStdio bool
	buildStarted  time.Time
	converter     *nunitConverter
	logger        logrus.FieldLogger
}

func (r *reportReader) read() (*TestResult, error) {
	files, err := findTestFiles(r.pattern)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, abort(msgNoReports)
	}

	files, err = r.freshFiles(files)
	if err != nil {
		return nil, err
	}
	r.logger.Infof("Found %d test report file(s)", len(files))

	result := &TestResult{}
	for _, file := range files {
		suites, err := r.load(file)
		if err != nil {
			return nil, err
		}
		for _, suite := range suites {
			if err := r.addSuite(result, file, suite); err != nil {
				return nil, err
			}
		}
	}
	result.freeze()
	return result, nil
}

// freshFiles drops reports written before the build started. Without a
// known start time every report is used.
func (r *reportReader) freshFiles(files []string) ([]string, error) {
	if r.buildStarted.IsZero() {
		return files, nil
	}
	threshold := r.buildStarted.Add(-freshnessSlack)

	var fresh []string
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			return nil, errors.WithStack(&MalformedReportError{File: file, Err: err})
		}
		if info.ModTime().Before(threshold) {
			r.logger.Debugf("Ignoring stale test report %s modified at %s", file, info.ModTime().Format(time.RFC3339))
			continue
		}
		fresh = append(fresh, file)
	}
	if len(fresh) == 0 {
		return nil, abort("%s (%s)", msgStaleReports, strings.Join(files, ", "))
	}
	return fresh, nil
}

func (r *reportReader) load(file string) ([]junitTestSuite, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.WithStack(&MalformedReportError{File: file, Err: err})
	}
	if r.converter != nil {
		data, err = r.converter.transform(data)
		if err != nil {
			return nil, errors.WithStack(&MalformedReportError{File: file, Err: err})
		}
	}
	suites, err := decodeReport(data)
	if err != nil {
		return nil, errors.WithStack(&MalformedReportError{File: file, Err: err})
	}
	return suites, nil
}

func (r *reportReader) addSuite(result *TestResult, file string, s junitTestSuite) error {
	suite := &SuiteResult{Name: s.Name, File: file}
	for _, tc := range s.TestCases {
		if tc.Name == "" {
			return abort("Incorrect XML attributes for test results found in %s", r.pattern)
		}
		suite.Cases = append(suite.Cases, r.newCase(s, tc))
	}
	if len(suite.Cases) > 0 {
		result.Suites = append(result.Suites, suite)
	}
	for _, child := range s.TestSuites {
		if err := r.addSuite(result, file, child); err != nil {
			return err
		}
	}
	return nil
}

func (r *reportReader) newCase(s junitTestSuite, tc junitTestCase) *CaseResult {
	c := &CaseResult{
		ClassName: tc.ClassName,
		Name:      tc.Name,
		Duration:  parseDuration(tc.Time),
	}
	if c.ClassName == "" {
		c.ClassName = s.Name
	}

	switch {
	case tc.Failure != nil:
		c.Status = CaseFailed
		c.Message, c.Stacktrace = tc.Failure.Message, strings.TrimSpace(tc.Failure.Body)
	case tc.Error != nil:
		c.Status = CaseFailed
		c.Message, c.Stacktrace = tc.Error.Message, strings.TrimSpace(tc.Error.Body)
	case tc.Skipped != nil:
		c.Status = CaseSkipped
		c.Message = tc.Skipped.Message
	}

	c.Stdout = possiblyTrimStdio(c.IsFailed(), r.keepLongStdio, tc.SystemOut)
	c.Stderr = possiblyTrimStdio(c.IsFailed(), r.keepLongStdio, tc.SystemErr)

	if len(tc.Properties) > 0 {
		c.Properties = make(map[string]string, len(tc.Properties))
		for _, p := range tc.Properties {
			value := p.Value
			if value == "" {
				value = strings.TrimSpace(p.Body)
			}
			c.Properties[p.Name] = value
		}
	}
	return c
}

// findTestFiles locates the test result files based on the comma separated
// patterns provided. Patterns support ** for any number of directories.
func findTestFiles(reportPath string) ([]string, error) {

	if len(strings.TrimSpace(reportPath)) == 0 {
		return nil, abort("Test Report Path should not be empty")
	}

	seen := make(map[string]bool)
	var files []string
	for _, pattern := range strings.Split(reportPath, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, abort("Invalid test report pattern %q: %v", pattern, err)
		}
		for _, match := range matches {
			if !seen[match] {
				seen[match] = true
				files = append(files, match)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// decodeReport reads the suites of a JUnit document rooted at either
// testsuites or testsuite.
func decodeReport(data []byte) ([]junitTestSuite, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, errors.New("no root element")
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "testsuites":
			var doc junitTestSuites
			if err := dec.DecodeElement(&doc, &start); err != nil {
				return nil, err
			}
			return doc.TestSuites, nil
		case "testsuite":
			var suite junitTestSuite
			if err := dec.DecodeElement(&suite, &start); err != nil {
				return nil, err
			}
			return []junitTestSuite{suite}, nil
		default:
			return nil, errors.Errorf("unexpected root element <%s>", start.Name.Local)
		}
	}
}

// possiblyTrimStdio keeps the head and tail of long output.
func possiblyTrimStdio(failed, keepLongStdio bool, stdio string) string {
	if keepLongStdio {
		return stdio
	}
	half := halfMaxSize
	if failed {
		half = halfMaxFailingSize
	}
	runes := []rune(stdio)
	middle := len(runes) - half*2
	if middle <= 0 {
		return stdio
	}
	return string(runes[:half]) + "\n...[truncated " + strconv.Itoa(middle) + " chars]...\n" + string(runes[len(runes)-half:])
}

func parseDuration(s string) float64 {
	d, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
	if err != nil {
		return 0
	}
	return d
}
