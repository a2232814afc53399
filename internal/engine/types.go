package engine

import (
	"context"
	"net/http"
	"time"

	"pkt.systems/postrun/internal/collection"
	"pkt.systems/pslog"
)

// Engine runs a Postman collection. It is safe to hold and use from multiple
// goroutines; each Run call is independent.
type Engine interface {
	Run(ctx context.Context, opts RunOptions) (Summary, error)
}

// RunOptions controls one collection run.
type RunOptions struct {
	Collection  *collection.Collection
	Environment *collection.Environment
	// Folder restricts the run to one folder or request (name or id). Empty runs everything.
	Folder    string
	Reporters []Reporter
	// Bail stops the run after the first item that produced a failure.
	Bail bool
	// TimeoutRequest bounds each HTTP request; 0 means the engine default,
	// which is no timeout unless WithTimeout set one.
	TimeoutRequest time.Duration
	// DelayRequest is slept between requests (never before the first).
	DelayRequest time.Duration
	// Vars override environment values.
	Vars       map[string]string
	HTTPClient *http.Client
	Logger     pslog.Base
}

// Reporter receives the final summary once the run completes.
type Reporter interface {
	Name() string
	Done(Summary) error
}

// ProgressReporter is implemented by reporters that print as items finish.
type ProgressReporter interface {
	Reporter
	ItemDone(Execution)
}

// Counter is an executed/failed pair.
type Counter struct {
	Total  int `json:"total"`
	Failed int `json:"failed"`
}

// Stats aggregates counters across the run.
type Stats struct {
	Iterations        Counter `json:"iterations"`
	Items             Counter `json:"items"`
	Requests          Counter `json:"requests"`
	PrerequestScripts Counter `json:"prerequestScripts"`
	TestScripts       Counter `json:"testScripts"`
	Assertions        Counter `json:"assertions"`
}

// Timings records run boundaries and response time statistics.
type Timings struct {
	Started         time.Time     `json:"started"`
	Completed       time.Time     `json:"completed"`
	ResponseAverage time.Duration `json:"responseAverage"`
	ResponseMin     time.Duration `json:"responseMin"`
	ResponseMax     time.Duration `json:"responseMax"`
}

// Duration is the wall time of the run.
func (t Timings) Duration() time.Duration {
	if t.Completed.Before(t.Started) {
		return 0
	}
	return t.Completed.Sub(t.Started)
}

// RequestInfo is what was sent.
type RequestInfo struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// ResponseInfo is what came back.
type ResponseInfo struct {
	Code         int               `json:"code"`
	Status       string            `json:"status"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         string            `json:"body,omitempty"`
	Size         int64             `json:"size"`
	ResponseTime time.Duration     `json:"responseTime"`
}

// Assertion is the outcome of one pm.test (or legacy tests[] entry).
type Assertion struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Execution is the record of one item.
type Execution struct {
	ID           string        `json:"id"`
	Item         string        `json:"item"`
	Path         []string      `json:"path,omitempty"`
	Request      RequestInfo   `json:"request"`
	Response     *ResponseInfo `json:"response,omitempty"`
	Assertions   []Assertion   `json:"assertions,omitempty"`
	Console      []string      `json:"console,omitempty"`
	RequestError string        `json:"requestError,omitempty"`
	ScriptErrors []string      `json:"scriptErrors,omitempty"`
	// Failures counts failures attributed to this item.
	Failures int `json:"failures"`
}

// Failed reports whether the item produced any failure.
func (e Execution) Failed() bool { return e.Failures > 0 }

// FullName joins the folder path and item name.
func (e Execution) FullName() string {
	name := e.Item
	for i := len(e.Path) - 1; i >= 0; i-- {
		name = e.Path[i] + " / " + name
	}
	return name
}

// FailureError mirrors the error object newman attaches to a failure.
type FailureError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Test    string `json:"test,omitempty"`
}

// Failure is one entry of the run failure list.
type Failure struct {
	Error  FailureError `json:"error"`
	Source string       `json:"source"`
	Path   []string     `json:"path,omitempty"`
	At     string       `json:"at"`
}

// Summary is the result of a run.
type Summary struct {
	ID          string      `json:"id"`
	Collection  string      `json:"collection"`
	Environment string      `json:"environment,omitempty"`
	Folder      string      `json:"folder,omitempty"`
	Stats       Stats       `json:"stats"`
	Timings     Timings     `json:"timings"`
	Executions  []Execution `json:"executions"`
	Failures    []Failure   `json:"failures"`
}

// Option modifies an Engine at construction time.
type Option func(*engineConfig)

// WithLogger overrides the default logger (pslog console on stdout).
func WithLogger(logger pslog.Base) Option {
	return func(c *engineConfig) { c.logger = logger }
}

// WithHTTPClient sets the HTTP client used when RunOptions does not carry one.
func WithHTTPClient(client *http.Client) Option {
	return func(c *engineConfig) { c.httpClient = client }
}

// WithTimeout sets the default per-request timeout. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(c *engineConfig) { c.timeout = timeout }
}
