package plugin

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
)

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger
}

func TestReadTestResults(t *testing.T) {
	reader := &reportReader{pattern: "../pluginTest/validTestXML/testFailed.xml", logger: discardLogger()}

	result, err := reader.read()
	if err != nil {
		t.Fatalf("read() unexpected error: %v", err)
	}

	if got, want := []int{result.PassCount(), result.FailCount(), result.SkipCount()}, []int{1, 3, 1}; !cmp.Equal(got, want) {
		t.Errorf("read() counts (pass, fail, skip) = %v, want %v", got, want)
	}

	var failed []string
	for _, c := range result.FailedTests() {
		failed = append(failed, c.FullName())
	}
	want := []string{
		"com.example.CartTest.testRemove",
		"com.example.CartTest.testCheckout",
		"com.example.CartTest.testDiscount",
	}
	if diff := cmp.Diff(want, failed); diff != "" {
		t.Errorf("read() failed tests mismatch (-want +got):\n%s", diff)
	}

	checkout := result.FailedTests()[1]
	if checkout.Message != "timed out after 1500ms" {
		t.Errorf("error message = %q", checkout.Message)
	}
	if !strings.HasPrefix(checkout.Stacktrace, "java.util.concurrent.TimeoutException") {
		t.Errorf("error stacktrace = %q", checkout.Stacktrace)
	}
	if checkout.Duration != 1.5 {
		t.Errorf("duration = %v, want 1.5", checkout.Duration)
	}

	discount := result.FailedTests()[2]
	if diff := cmp.Diff(map[string]string{"quarantined": "true"}, discount.Properties); diff != "" {
		t.Errorf("properties mismatch (-want +got):\n%s", diff)
	}
}

func TestReadTestResultsMultiplePatterns(t *testing.T) {
	reader := &reportReader{
		pattern: "../pluginTest/validTestXML/testPassed.xml, ../pluginTest/validTestXML/*.xml",
		logger:  discardLogger(),
	}

	result, err := reader.read()
	if err != nil {
		t.Fatalf("read() unexpected error: %v", err)
	}
	if len(result.Suites) != 2 {
		t.Errorf("read() suites = %d, want 2 without duplicates", len(result.Suites))
	}
	if result.PassCount() != 3 || result.FailCount() != 3 {
		t.Errorf("read() counts = %d passed, %d failed, want 3 and 3", result.PassCount(), result.FailCount())
	}
}

func TestReadTestResultsErrors(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		wantAbort bool
		wantMsg   string
	}{
		{
			name:      "noFiles",
			pattern:   "../pluginTest/emptyTestFolder/*.xml",
			wantAbort: true,
			wantMsg:   msgNoReports,
		},
		{
			name:      "missingName",
			pattern:   "../pluginTest/badAttributes/*.xml",
			wantAbort: true,
			wantMsg:   "Incorrect XML attributes for test results found in ../pluginTest/badAttributes/*.xml",
		},
		{
			name:    "malformed",
			pattern: "../pluginTest/malformed/*.xml",
			wantMsg: "bad XML in test report ../pluginTest/malformed/broken.xml",
		},
		{
			name:    "notJUnit",
			pattern: "../pluginTest/nunit/result.xml",
			wantMsg: "unexpected root element <test-run>",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reader := &reportReader{pattern: tc.pattern, logger: discardLogger()}
			_, err := reader.read()
			if err == nil {
				t.Fatal("read() expected error")
			}
			if isAbort(err) != tc.wantAbort {
				t.Errorf("read() abort = %v, want %v: %v", isAbort(err), tc.wantAbort, err)
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("read() error = %q, want it to contain %q", err, tc.wantMsg)
			}
			var malformed *MalformedReportError
			if !tc.wantAbort && !errors.As(err, &malformed) {
				t.Errorf("read() expected MalformedReportError, got %T", err)
			}
		})
	}
}

func TestFreshFiles(t *testing.T) {
	dir := t.TempDir()
	started := time.Now()

	stale := filepath.Join(dir, "stale.xml")
	fresh := filepath.Join(dir, "fresh.xml")
	slack := filepath.Join(dir, "slack.xml")
	for _, file := range []string{stale, fresh, slack} {
		if err := os.WriteFile(file, []byte("<testsuite/>"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	setModTime(t, stale, started.Add(-time.Hour))
	setModTime(t, slack, started.Add(-time.Second))
	setModTime(t, fresh, started.Add(time.Second))

	reader := &reportReader{buildStarted: started, logger: discardLogger()}

	got, err := reader.freshFiles([]string{fresh, slack, stale})
	if err != nil {
		t.Fatalf("freshFiles() unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{fresh, slack}, got); diff != "" {
		t.Errorf("freshFiles() mismatch (-want +got):\n%s", diff)
	}

	_, err = reader.freshFiles([]string{stale})
	if !isAbort(err) || !strings.HasPrefix(err.Error(), msgStaleReports) {
		t.Errorf("freshFiles() expected stale report abort, got: %v", err)
	}

	reader.buildStarted = time.Time{}
	got, err = reader.freshFiles([]string{stale})
	if err != nil || len(got) != 1 {
		t.Errorf("freshFiles() without a start time = %v, %v", got, err)
	}
}

func setModTime(t *testing.T, file string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(file, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeReport(t *testing.T) {
	nested := `<?xml version="1.0"?>
<testsuites>
  <testsuite name="outer">
    <testcase name="a" classname="pkg.Outer"/>
    <testsuite name="inner">
      <testcase name="b"/>
    </testsuite>
  </testsuite>
</testsuites>`

	suites, err := decodeReport([]byte(nested))
	if err != nil {
		t.Fatalf("decodeReport() unexpected error: %v", err)
	}

	result := &TestResult{}
	reader := &reportReader{logger: discardLogger()}
	for _, s := range suites {
		if err := reader.addSuite(result, "nested.xml", s); err != nil {
			t.Fatal(err)
		}
	}
	result.freeze()

	var names []string
	for _, c := range result.Cases() {
		names = append(names, c.FullName())
	}
	if diff := cmp.Diff([]string{"pkg.Outer.a", "inner.b"}, names); diff != "" {
		t.Errorf("case names mismatch (-want +got):\n%s", diff)
	}

	for _, doc := range []string{"", "   ", "<?xml version=\"1.0\"?>"} {
		if _, err := decodeReport([]byte(doc)); err == nil {
			t.Errorf("decodeReport(%q) expected error", doc)
		}
	}
}

func TestPossiblyTrimStdio(t *testing.T) {
	long := strings.Repeat("a", 400) + strings.Repeat("b", 400) + strings.Repeat("c", 400)
	trimmed := strings.Repeat("a", 400) + strings.Repeat("b", 100) +
		"\n...[truncated 200 chars]...\n" +
		strings.Repeat("b", 100) + strings.Repeat("c", 400)

	tests := []struct {
		name   string
		failed bool
		keep   bool
		input  string
		want   string
	}{
		{name: "short", input: "hello", want: "hello"},
		{name: "exactLimit", input: strings.Repeat("x", 1000), want: strings.Repeat("x", 1000)},
		{name: "longPassing", input: long, want: trimmed},
		{name: "longFailing", failed: true, input: long, want: long},
		{name: "keepLongStdio", keep: true, input: long, want: long},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := possiblyTrimStdio(tc.failed, tc.keep, tc.input)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("possiblyTrimStdio() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
