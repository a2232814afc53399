package reporter

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/google/uuid"

	"pkt.systems/postrun/internal/engine"
	"pkt.systems/pslog"
)

type junitTestsuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Errors   int              `xml:"errors,attr"`
	Time     string           `xml:"time,attr"`
	Suites   []junitTestsuite `xml:"testsuite"`
}

type junitTestsuite struct {
	Name      string          `xml:"name,attr"`
	ID        string          `xml:"id,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      string          `xml:"time,attr"`
	Cases     []junitTestcase `xml:"testcase"`
}

type junitTestcase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Error     *junitFailure `xml:"error,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",cdata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

type junitReporter struct {
	opts   FileOptions
	logger pslog.Base
}

func (j *junitReporter) Name() string { return JUnit }

func (j *junitReporter) Done(sum engine.Summary) error {
	data, err := marshalJUnit(sum)
	if err != nil {
		return fmt.Errorf("%s: %w", JUnit, err)
	}
	if err := writeExport(JUnit, j.opts.Export, data); err != nil {
		return err
	}
	j.logger.Info("report written", "reporter", JUnit, "path", j.opts.Export)
	return nil
}

// marshalJUnit renders one testsuite per execution and one testcase per
// assertion. Request and script errors become <error> testcases.
func marshalJUnit(sum engine.Summary) ([]byte, error) {
	root := junitTestsuites{
		Name: sum.Collection,
		Time: seconds(sum.Timings.Duration().Seconds()),
	}
	stamp := sum.Timings.Started.UTC().Format("2006-01-02T15:04:05.000Z")
	for _, ex := range sum.Executions {
		suite := junitTestsuite{
			Name:      ex.FullName(),
			ID:        uuid.NewString(),
			Timestamp: stamp,
		}
		var elapsed float64
		if ex.Response != nil {
			elapsed = ex.Response.ResponseTime.Seconds()
		}
		suite.Time = seconds(elapsed)
		classname := classnameFor(sum.Collection, ex)
		if ex.RequestError != "" {
			msg := stripansi.Strip(ex.RequestError)
			suite.Errors++
			suite.Cases = append(suite.Cases, junitTestcase{
				Name:      "request",
				Classname: classname,
				Time:      suite.Time,
				Error:     &junitFailure{Message: msg, Type: "Error", Body: msg},
			})
		}
		for _, a := range ex.Assertions {
			tc := junitTestcase{Name: a.Name, Classname: classname, Time: suite.Time}
			switch {
			case a.Skipped:
				suite.Skipped++
				tc.Skipped = &junitSkipped{}
			case !a.Passed:
				msg := stripansi.Strip(a.Error)
				suite.Failures++
				tc.Failure = &junitFailure{Message: msg, Type: "AssertionError", Body: msg}
			}
			suite.Cases = append(suite.Cases, tc)
		}
		for _, se := range ex.ScriptErrors {
			msg := stripansi.Strip(se)
			name, _, _ := strings.Cut(msg, ":")
			suite.Errors++
			suite.Cases = append(suite.Cases, junitTestcase{
				Name:      name,
				Classname: classname,
				Time:      suite.Time,
				Error:     &junitFailure{Message: msg, Type: "ScriptError", Body: msg},
			})
		}
		suite.Tests = len(suite.Cases)
		root.Tests += suite.Tests
		root.Failures += suite.Failures
		root.Errors += suite.Errors
		root.Suites = append(root.Suites, suite)
	}
	data, err := xml.MarshalIndent(root, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), data...), nil
}

func classnameFor(collection string, ex engine.Execution) string {
	parts := append([]string{collection}, ex.Path...)
	parts = append(parts, ex.Item)
	return strings.Join(parts, ".")
}

func seconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}
