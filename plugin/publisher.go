package plugin

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Quarantine marks a test as known to be flaky.
type Quarantine struct {
	Quarantined bool   `json:"quarantined"`
	By          string `json:"by,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// CaseData is the extra data publishers attach to one test case.
type CaseData struct {
	Quarantine *Quarantine `json:"quarantine,omitempty"`
}

// TestData maps case full names to published data.
type TestData map[string]CaseData

// IsQuarantined reports whether the named case carries a quarantine flag.
func (d TestData) IsQuarantined(fullName string) bool {
	q := d[fullName].Quarantine
	return q != nil && q.Quarantined
}

// merge joins other into d. A case stays quarantined once any publisher
// flagged it.
func (d TestData) merge(other TestData) {
	for name, data := range other {
		current := d[name]
		if current.Quarantine == nil || !current.Quarantine.Quarantined {
			current.Quarantine = data.Quarantine
		}
		d[name] = current
	}
}

// TestDataPublisher attaches data to the cases of a recorded result before
// the build status is decided.
type TestDataPublisher interface {
	Name() string
	TestData(ctx context.Context, result *TestResult) (TestData, error)
}

// Publisher kinds accepted in the publisher list.
const (
	PublisherQuarantineFile = "quarantine-file"
	PublisherJUnitProperty  = "junit-property"
)

// ParsePublishers builds publishers from kind:argument entries.
func ParsePublishers(specs []string, logger logrus.FieldLogger) ([]TestDataPublisher, error) {
	var publishers []TestDataPublisher
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		kind, arg, _ := strings.Cut(spec, ":")
		arg = strings.TrimSpace(arg)
		switch strings.TrimSpace(kind) {
		case PublisherQuarantineFile:
			if arg == "" {
				return nil, errors.Errorf("test data publisher %q needs a file path", spec)
			}
			publishers = append(publishers, &quarantineFilePublisher{path: os.ExpandEnv(arg), logger: logger})
		case PublisherJUnitProperty:
			if arg == "" {
				arg = "quarantined"
			}
			publishers = append(publishers, &propertyPublisher{property: arg})
		default:
			return nil, errors.Errorf("unknown test data publisher %q", spec)
		}
	}
	return publishers, nil
}

// publishAll runs every publisher in order and joins their data. The gate
// only runs once this returns, so every publisher's data is visible to it.
func publishAll(ctx context.Context, publishers []TestDataPublisher, result *TestResult) (TestData, error) {
	data := TestData{}
	for _, p := range publishers {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		d, err := p.TestData(ctx, result)
		if err != nil {
			return nil, errors.Wrapf(err, "test data publisher %s", p.Name())
		}
		data.merge(d)
	}
	return data, nil
}

type quarantineEntry struct {
	Name   string `yaml:"name" toml:"name"`
	By     string `yaml:"by" toml:"by"`
	Reason string `yaml:"reason" toml:"reason"`
}

type quarantineFile struct {
	Quarantine []quarantineEntry `yaml:"quarantine" toml:"quarantine"`
}

// quarantineFilePublisher flags the tests listed in a YAML or TOML file
// kept in the repository.
type quarantineFilePublisher struct {
	path   string
	logger logrus.FieldLogger
}

func (p *quarantineFilePublisher) Name() string { return PublisherQuarantineFile }

func (p *quarantineFilePublisher) TestData(_ context.Context, _ *TestResult) (TestData, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		p.logger.Warnf("Quarantine file %s not found, no tests are quarantined", p.path)
		return TestData{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read quarantine file %s", p.path)
	}

	file, err := decodeQuarantineFile(p.path, data)
	if err != nil {
		return nil, err
	}

	td := make(TestData, len(file.Quarantine))
	for _, entry := range file.Quarantine {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			continue
		}
		td[name] = CaseData{Quarantine: &Quarantine{Quarantined: true, By: entry.By, Reason: entry.Reason}}
	}
	p.logger.Debugf("Loaded %d quarantined test(s) from %s", len(td), p.path)
	return td, nil
}

func decodeQuarantineFile(path string, data []byte) (*quarantineFile, error) {
	var file quarantineFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &file); err != nil {
			return nil, errors.Wrapf(err, "failed to parse quarantine file %s", path)
		}
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, errors.Wrapf(err, "failed to parse quarantine file %s", path)
		}
	default:
		return nil, errors.Errorf("unsupported quarantine file format %s", path)
	}
	return &file, nil
}

// propertyPublisher flags cases whose report carries a true JUnit property,
// for frameworks that record quarantine next to the test.
type propertyPublisher struct {
	property string
}

func (p *propertyPublisher) Name() string { return PublisherJUnitProperty }

func (p *propertyPublisher) TestData(_ context.Context, result *TestResult) (TestData, error) {
	td := TestData{}
	for _, c := range result.Cases() {
		value, ok := c.Properties[p.property]
		if !ok {
			continue
		}
		quarantined, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil || !quarantined {
			continue
		}
		td[c.FullName()] = CaseData{Quarantine: &Quarantine{
			Quarantined: true,
			Reason:      "marked by JUnit property " + p.property,
		}}
	}
	return td, nil
}
