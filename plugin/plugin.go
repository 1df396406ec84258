package plugin

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DisplayName is the name the plugin is registered under.
const DisplayName = "Publish JUnit test result report (with quarantine)"

// Report formats.
const (
	FormatJUnit = "junit"
	FormatNUnit = "nunit"
)

var (
	// ErrFailed is returned when the test results fail the build.
	ErrFailed = errors.New("test results failed the build")
	// ErrUnstable is returned for unquarantined failures when unstable
	// builds are configured to fail the step.
	ErrUnstable = errors.New("test results left the build unstable")
)

// Args provides plugin execution arguments.
type Args struct {
	// Level defines the plugin log level.
	Level string `envconfig:"PLUGIN_LOG_LEVEL"`

	// TestResults is a comma separated list of report glob patterns.
	TestResults        string   `envconfig:"PLUGIN_TEST_RESULTS"`
	KeepLongStdio      bool     `envconfig:"PLUGIN_KEEP_LONG_STDIO"`
	TestDataPublishers []string `envconfig:"PLUGIN_TEST_DATA_PUBLISHERS"`
	ReportFormat       string   `envconfig:"PLUGIN_REPORT_FORMAT" default:"junit"`
	NUnitStylesheet    string   `envconfig:"PLUGIN_NUNIT_STYLESHEET" default:"/docs/conversionStyleSheet.xsl"`
	FailOnUnstable     bool     `envconfig:"PLUGIN_FAIL_ON_UNSTABLE"`
	ArchivePath        string   `envconfig:"PLUGIN_ARCHIVE_PATH"`

	// Provided by the host.
	BuildStatus  string `envconfig:"DRONE_BUILD_STATUS"`
	BuildStarted int64  `envconfig:"DRONE_BUILD_STARTED"`
	OutputFile   string `envconfig:"DRONE_OUTPUT"`
}

// Exec executes the plugin.
func Exec(ctx context.Context, args Args) error {

	logger := logrus.
		WithField("PLUGIN_TEST_RESULTS", args.TestResults).
		WithField("PLUGIN_REPORT_FORMAT", args.ReportFormat).
		WithField("PLUGIN_TEST_DATA_PUBLISHERS", strings.Join(args.TestDataPublishers, ",")).
		WithField("DRONE_BUILD_STATUS", args.BuildStatus)

	logger.Info(DisplayName)

	// A bad publisher list is a step configuration error. It fails the step
	// whatever the prior status was.
	publishers, err := ParsePublishers(args.TestDataPublishers, logger)
	if err != nil {
		logger.WithError(err).Error("Invalid test data publishers")
		writeSummary(args.OutputFile, Summary{Status: StatusFailure}, logger)
		return err
	}

	summary, err := perform(ctx, args, publishers, logger)
	writeSummary(args.OutputFile, summary, logger)
	if err != nil {
		return err
	}

	logger.Info("Plugin execution completed successfully")
	return nil
}

func writeSummary(path string, summary Summary, logger *logrus.Entry) {
	if path == "" {
		return
	}
	if err := writeOutputs(path, summary); err != nil {
		logger.WithError(err).Warn("Failed to write step outputs")
	}
}

// perform records the test results and settles the build status. Archiving
// errors end here as a failed status; they are never passed up raw.
func perform(ctx context.Context, args Args, publishers []TestDataPublisher, logger *logrus.Entry) (Summary, error) {
	prior := ParseStatus(args.BuildStatus)
	logger.Info(msgRecording)

	result, data, decision, err := record(ctx, args, publishers, logger)
	if err == nil && args.ArchivePath != "" {
		s := Summary{Status: Worse(prior, decision.Status), Result: result, Decision: decision}
		err = writeArchive(args.ArchivePath, s, data)
	}
	if err != nil {
		if isAbort(err) {
			if prior == StatusFailure {
				// most likely the build failed before it got to the tests,
				// don't add a confusing message.
				return Summary{Status: prior}, nil
			}
			logger.Error(err.Error())
			return Summary{Status: StatusFailure}, ErrFailed
		}
		logger.Errorf("%s\n%+v", msgArchiveFailed, err)
		return Summary{Status: StatusFailure}, ErrFailed
	}

	summary := Summary{
		Status:   Worse(prior, decision.Status),
		Result:   result,
		Decision: decision,
	}
	logger.Infof("Tests passed: %d, failed: %d, skipped: %d", result.PassCount(), result.FailCount(), result.SkipCount())

	// only failures found in these results fail the step, not an unstable
	// status left by an earlier stage.
	if decision.Status == StatusUnstable && args.FailOnUnstable {
		logger.Errorf("%d unquarantined test failure(s), failing the build as PLUGIN_FAIL_ON_UNSTABLE is set to true", decision.Remaining)
		return summary, ErrUnstable
	}
	return summary, nil
}

// record parses the reports, runs the publishers and only then lets the
// gate decide.
func record(ctx context.Context, args Args, publishers []TestDataPublisher, logger *logrus.Entry) (*TestResult, TestData, Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, Decision{}, errors.WithStack(err)
	}

	reader := &reportReader{
		pattern:       os.ExpandEnv(args.TestResults),
		keepLongStdio: args.KeepLongStdio,
		logger:        logger,
	}
	if args.BuildStarted > 0 {
		reader.buildStarted = time.Unix(args.BuildStarted, 0)
	}

	switch strings.ToLower(args.ReportFormat) {
	case "", FormatJUnit:
	case FormatNUnit:
		stylesheet := args.NUnitStylesheet
		if stylesheet == "" {
			stylesheet = DefaultStylesheet
		}
		converter, err := newNUnitConverter(stylesheet)
		if err != nil {
			return nil, nil, Decision{}, err
		}
		defer converter.Close()
		reader.converter = converter
	default:
		return nil, nil, Decision{}, abort("Unsupported report format %q", args.ReportFormat)
	}

	result, err := reader.read()
	if err != nil {
		return nil, nil, Decision{}, err
	}

	data, err := publishAll(ctx, publishers, result)
	if err != nil {
		return nil, nil, Decision{}, err
	}

	gate := &Gate{Logger: logger}
	decision, err := gate.Decide(result, data)
	if err != nil {
		return nil, nil, Decision{}, err
	}

	if result.FailCount() > 0 {
		logger.Info("\n" + renderFailures(result, data))
	}
	return result, data, decision, nil
}
