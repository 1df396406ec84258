package plugin

import (
	"os"

	"github.com/pkg/errors"
	"github.com/wamuir/go-xslt"
)

// DefaultStylesheet is the NUnit to JUnit stylesheet bundled in the image.
const DefaultStylesheet = "/docs/conversionStyleSheet.xsl"

// nunitConverter rewrites NUnit XML reports as JUnit XML.
type nunitConverter struct {
	xs *xslt.Stylesheet
}

func newNUnitConverter(xslFilePath string) (*nunitConverter, error) {
	// Load the XSLT content
	xsltContent, err := os.ReadFile(xslFilePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read XSLT file %s", xslFilePath)
	}

	xs, err := xslt.NewStylesheet(xsltContent)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create stylesheet from %s", xslFilePath)
	}
	return &nunitConverter{xs: xs}, nil
}

// transform applies the stylesheet to one NUnit document.
func (c *nunitConverter) transform(input []byte) ([]byte, error) {
	transformed, err := c.xs.Transform(input)
	if err != nil {
		return nil, errors.Wrap(err, "failed to apply XSLT transformation")
	}
	return transformed, nil
}

func (c *nunitConverter) Close() {
	if c != nil && c.xs != nil {
		c.xs.Close()
	}
}
