package plugin

import (
	"encoding/xml"
)

// JUnit report documents. A report root is either a testsuites element or a
// single testsuite; suites may nest.

type junitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	TestSuites []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name       string           `xml:"name,attr"`
	Timestamp  string           `xml:"timestamp,attr"`
	Time       string           `xml:"time,attr"`
	TestSuites []junitTestSuite `xml:"testsuite"`
	TestCases  []junitTestCase  `xml:"testcase"`
	Properties []junitProperty  `xml:"properties>property"`
	SystemOut  string           `xml:"system-out"`
	SystemErr  string           `xml:"system-err"`
}

type junitTestCase struct {
	Name       string          `xml:"name,attr"`
	ClassName  string          `xml:"classname,attr"`
	Time       string          `xml:"time,attr"`
	Failure    *junitFailure   `xml:"failure"`
	Error      *junitFailure   `xml:"error"`
	Skipped    *junitSkipped   `xml:"skipped"`
	Properties []junitProperty `xml:"properties>property"`
	SystemOut  string          `xml:"system-out"`
	SystemErr  string          `xml:"system-err"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr"`
}

type junitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
	Body  string `xml:",chardata"`
}
