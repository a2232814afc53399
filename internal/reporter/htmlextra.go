package reporter

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/acarl005/stripansi"

	"pkt.systems/postrun/internal/engine"
	"pkt.systems/pslog"
)

//go:embed templates/default.html.tmpl
var templateFS embed.FS

// DefaultTemplate selects the built-in htmlextra template.
const DefaultTemplate = "default"

// HTMLExtraOptions mirrors the newman-reporter-htmlextra options.
type HTMLExtraOptions struct {
	Export string
	// Template is "default" or a path to an html/template file.
	Template             string
	ShowOnlyFails        bool
	NoSyntaxHighlighting bool
	TestPaging           bool
	BrowserTitle         string
	Title                string
	TitleSize            int
	OmitHeaders          bool
}

type htmlExtra struct {
	opts   HTMLExtraOptions
	logger pslog.Base
}

func (h *htmlExtra) Name() string { return HTMLExtra }

func (h *htmlExtra) Done(sum engine.Summary) error {
	tmpl, err := h.template()
	if err != nil {
		return fmt.Errorf("%s: %w", HTMLExtra, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, newHTMLView(sum, h.opts)); err != nil {
		return fmt.Errorf("%s: render: %w", HTMLExtra, err)
	}
	if err := writeExport(HTMLExtra, h.opts.Export, buf.Bytes()); err != nil {
		return err
	}
	h.logger.Info("report written", "reporter", HTMLExtra, "path", h.opts.Export)
	return nil
}

func (h *htmlExtra) template() (*template.Template, error) {
	name := strings.TrimSpace(h.opts.Template)
	if name == "" || name == DefaultTemplate {
		return template.New("default.html.tmpl").Funcs(htmlFuncs).ParseFS(templateFS, "templates/default.html.tmpl")
	}
	tmpl, err := template.New(filepath.Base(name)).Funcs(htmlFuncs).ParseFiles(name)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	return tmpl, nil
}

var htmlFuncs = template.FuncMap{
	"heading": heading,
	"inc":     func(i int) int { return i + 1 },
}

// heading renders the report title at the configured size (h1..h6).
func heading(size int, title string) template.HTML {
	size = min(max(size, 1), 6)
	tag := "h" + strconv.Itoa(size)
	return template.HTML("<" + tag + ` class="report-title">` + template.HTMLEscapeString(title) + "</" + tag + ">")
}

type htmlView struct {
	BrowserTitle         string
	Title                string
	TitleSize            int
	TestPaging           bool
	NoSyntaxHighlighting bool
	OmitHeaders          bool
	ShowOnlyFails        bool
	Generated            string

	Summary         engine.Summary
	Duration        string
	AverageResponse string
	Skipped         int
	Rows            []htmlStatRow
	Executions      []htmlExecution
	Failures        []htmlFailure
}

type htmlStatRow struct {
	Name   string
	Total  int
	Failed int
}

type htmlHeader struct {
	Key   string
	Value string
}

type htmlExecution struct {
	Index           int
	Name            string
	Failed          bool
	Method          string
	URL             string
	Code            int
	Status          string
	ResponseTime    string
	Size            string
	RequestHeaders  []htmlHeader
	ResponseHeaders []htmlHeader
	RequestBody     template.HTML
	ResponseBody    template.HTML
	RequestError    string
	ScriptErrors    []string
	Console         []string
	Assertions      []engine.Assertion
}

type htmlFailure struct {
	Name    string
	Test    string
	Message string
	Source  string
	At      string
}

func newHTMLView(sum engine.Summary, opts HTMLExtraOptions) htmlView {
	sum = maskSummary(sum)
	v := htmlView{
		BrowserTitle:         opts.BrowserTitle,
		Title:                opts.Title,
		TitleSize:            opts.TitleSize,
		TestPaging:           opts.TestPaging,
		NoSyntaxHighlighting: opts.NoSyntaxHighlighting,
		OmitHeaders:          opts.OmitHeaders,
		ShowOnlyFails:        opts.ShowOnlyFails,
		Generated:            time.Now().UTC().Format(time.RFC1123),
		Summary:              sum,
		Duration:             formatDuration(sum.Timings.Duration()),
		AverageResponse:      formatDuration(sum.Timings.ResponseAverage),
	}
	if v.Title == "" {
		v.Title = sum.Collection
	}
	if v.BrowserTitle == "" {
		v.BrowserTitle = v.Title
	}
	st := sum.Stats
	v.Rows = []htmlStatRow{
		{"Iterations", st.Iterations.Total, st.Iterations.Failed},
		{"Requests", st.Requests.Total, st.Requests.Failed},
		{"Prerequest Scripts", st.PrerequestScripts.Total, st.PrerequestScripts.Failed},
		{"Test Scripts", st.TestScripts.Total, st.TestScripts.Failed},
		{"Assertions", st.Assertions.Total, st.Assertions.Failed},
	}
	for i, ex := range sum.Executions {
		for _, a := range ex.Assertions {
			if a.Skipped {
				v.Skipped++
			}
		}
		if opts.ShowOnlyFails && !ex.Failed() {
			continue
		}
		v.Executions = append(v.Executions, newHTMLExecution(i, ex, opts))
	}
	for _, f := range sum.Failures {
		v.Failures = append(v.Failures, htmlFailure{
			Name:    f.Error.Name,
			Test:    f.Error.Test,
			Message: stripansi.Strip(f.Error.Message),
			Source:  strings.Join(append(slices.Clone(f.Path), f.Source), " / "),
			At:      f.At,
		})
	}
	return v
}

func newHTMLExecution(i int, ex engine.Execution, opts HTMLExtraOptions) htmlExecution {
	he := htmlExecution{
		Index:        i,
		Name:         ex.FullName(),
		Failed:       ex.Failed(),
		Method:       ex.Request.Method,
		URL:          ex.Request.URL,
		RequestError: stripansi.Strip(ex.RequestError),
		Console:      ex.Console,
		RequestBody:  renderBody(ex.Request.Body, !opts.NoSyntaxHighlighting),
	}
	for _, se := range ex.ScriptErrors {
		he.ScriptErrors = append(he.ScriptErrors, stripansi.Strip(se))
	}
	for _, a := range ex.Assertions {
		a.Error = stripansi.Strip(a.Error)
		he.Assertions = append(he.Assertions, a)
	}
	if !opts.OmitHeaders {
		he.RequestHeaders = sortedHeaders(ex.Request.Headers)
	}
	if resp := ex.Response; resp != nil {
		he.Code = resp.Code
		he.Status = resp.Status
		he.ResponseTime = formatDuration(resp.ResponseTime)
		he.Size = formatSize(resp.Size)
		he.ResponseBody = renderBody(resp.Body, !opts.NoSyntaxHighlighting)
		if !opts.OmitHeaders {
			he.ResponseHeaders = sortedHeaders(resp.Headers)
		}
	}
	return he
}

func sortedHeaders(hdrs map[string]string) []htmlHeader {
	keys := make([]string, 0, len(hdrs))
	for k := range hdrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]htmlHeader, 0, len(keys))
	for _, k := range keys {
		out = append(out, htmlHeader{Key: k, Value: hdrs[k]})
	}
	return out
}

// renderBody pretty-prints JSON bodies and, when highlight is set, wraps
// JSON tokens in spans. Everything else is escaped verbatim.
func renderBody(body string, highlight bool) template.HTML {
	if body == "" {
		return ""
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(body), "", "  "); err != nil {
		return template.HTML(template.HTMLEscapeString(body))
	}
	if !highlight {
		return template.HTML(template.HTMLEscapeString(pretty.String()))
	}
	return template.HTML(highlightJSON(pretty.String()))
}

func highlightJSON(src string) string {
	var b strings.Builder
	span := func(class, tok string) {
		b.WriteString(`<span class="tok-` + class + `">`)
		b.WriteString(template.HTMLEscapeString(tok))
		b.WriteString(`</span>`)
	}
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '"':
			j := i + 1
			for j < len(src) && src[j] != '"' {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			j = min(j+1, len(src))
			k := j
			for k < len(src) && (src[k] == ' ' || src[k] == '\t') {
				k++
			}
			if k < len(src) && src[k] == ':' {
				span("key", src[i:j])
			} else {
				span("string", src[i:j])
			}
			i = j
		case c == '-' || (c >= '0' && c <= '9'):
			j := i + 1
			for j < len(src) && strings.IndexByte("0123456789.eE+-", src[j]) >= 0 {
				j++
			}
			span("number", src[i:j])
			i = j
		case strings.HasPrefix(src[i:], "true"), strings.HasPrefix(src[i:], "null"):
			span("literal", src[i:i+4])
			i += 4
		case strings.HasPrefix(src[i:], "false"):
			span("literal", src[i:i+5])
			i += 5
		default:
			b.WriteString(template.HTMLEscapeString(src[i : i+1]))
			i++
		}
	}
	return b.String()
}
