// Package engine executes Postman collections: it flattens the item tree,
// runs prerequest and test scripts in a goja sandbox exposing the pm API,
// sends the requests and aggregates a newman-shaped Summary.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"pkt.systems/postrun/internal/collection"
	"pkt.systems/pslog"
)

type engine struct {
	logger     pslog.Base
	httpClient *http.Client
	timeout    time.Duration
}

type engineConfig struct {
	logger     pslog.Base
	httpClient *http.Client
	timeout    time.Duration
}

// New constructs an Engine with optional configuration.
func New(ctx context.Context, opts ...Option) (Engine, error) {
	if ctx == nil {
		return nil, errors.New("nil context")
	}
	cfg := engineConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = pslog.New(os.Stdout)
	}
	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{}
	}
	if cfg.timeout < 0 {
		cfg.timeout = 0
	}
	return &engine{
		logger:     cfg.logger,
		httpClient: cfg.httpClient,
		timeout:    cfg.timeout,
	}, nil
}

// run is the state of one Run call.
type run struct {
	logger  pslog.Base
	client  *http.Client
	timeout time.Duration
	scope   *collection.Scope
	summary *Summary
}

// Run executes the selected items sequentially and hands the summary to
// every reporter. Transport and assertion failures are recorded in the
// summary; the returned error is reserved for conditions that prevent a
// complete run.
func (e *engine) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	if ctx == nil {
		return Summary{}, errors.New("nil context")
	}
	if opts.Collection == nil {
		return Summary{}, errors.New("no collection to run")
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	items, err := opts.Collection.Select(opts.Folder)
	if err != nil {
		return Summary{}, err
	}

	r := &run{logger: e.logger, client: e.httpClient, timeout: e.timeout}
	if opts.Logger != nil {
		r.logger = opts.Logger
	}
	if opts.HTTPClient != nil {
		r.client = opts.HTTPClient
	}
	if opts.TimeoutRequest > 0 {
		r.timeout = opts.TimeoutRequest
	}
	env := opts.Environment.Map()
	maps.Copy(env, opts.Vars)
	r.scope = collection.NewScope(opts.Collection.Variables, env)

	sum := Summary{
		ID:         uuid.NewString(),
		Collection: opts.Collection.Info.Name,
		Folder:     opts.Folder,
		Executions: []Execution{},
		Failures:   []Failure{},
	}
	if opts.Environment != nil {
		sum.Environment = opts.Environment.Name
	}
	r.summary = &sum
	sum.Stats.Iterations.Total = 1
	sum.Timings.Started = time.Now()
	r.logger.Info("run started", "collection", sum.Collection, "environment", sum.Environment, "folder", opts.Folder, "items", len(items))

	for i, item := range items {
		if i > 0 && opts.DelayRequest > 0 {
			select {
			case <-ctx.Done():
				return sum, fmt.Errorf("run cancelled: %w", ctx.Err())
			case <-time.After(opts.DelayRequest):
			}
		}
		exec := r.runItem(ctx, item)
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("run cancelled: %w", err)
		}
		sum.Executions = append(sum.Executions, exec)
		for _, rep := range opts.Reporters {
			if p, ok := rep.(ProgressReporter); ok {
				p.ItemDone(exec)
			}
		}
		if opts.Bail && exec.Failed() {
			r.logger.Warn("bail: stopping after failure", "item", exec.FullName())
			break
		}
	}
	sum.Timings.Completed = time.Now()
	sum.Timings.ResponseAverage, sum.Timings.ResponseMin, sum.Timings.ResponseMax = responseTimes(sum.Executions)
	r.logger.Info("run finished",
		"requests", sum.Stats.Requests.Total,
		"assertions", sum.Stats.Assertions.Total,
		"failures", len(sum.Failures),
		"elapsed", sum.Timings.Duration())

	for _, rep := range opts.Reporters {
		if err := rep.Done(sum); err != nil {
			return sum, fmt.Errorf("reporter %s: %w", rep.Name(), err)
		}
	}
	return sum, nil
}

func (r *run) runItem(ctx context.Context, item collection.RunnableItem) Execution {
	exec := Execution{ID: item.ID, Item: item.Name, Path: item.Path}
	r.summary.Stats.Items.Total++
	defer func() {
		if exec.Failed() {
			r.summary.Stats.Items.Failed++
		}
	}()
	r.scope.SetItem(item.Variables)
	defer r.scope.SetItem(nil)

	d := newDraft(item)
	for _, script := range item.ScriptsFor(collection.ListenPrerequest) {
		r.runScript(ctx, &exec, item, script, d, nil)
	}

	r.summary.Stats.Requests.Total++
	built, err := buildHTTPRequest(ctx, d, item.Auth, r.scope)
	if err != nil {
		r.requestFailed(&exec, err)
		exec.Request = RequestInfo{Method: d.Method, URL: r.scope.Replace(d.URL)}
		return exec
	}
	exec.Request = RequestInfo{
		Method:  built.req.Method,
		URL:     built.req.URL.String(),
		Headers: headerMap(built.req.Header),
		Body:    built.body,
	}
	d.URL = exec.Request.URL

	resp, err := r.send(ctx, built.req)
	if err != nil {
		r.requestFailed(&exec, err)
		return exec
	}
	exec.Response = &ResponseInfo{
		Code:         resp.code,
		Status:       resp.reason,
		Headers:      headerMap(resp.headers),
		Body:         string(resp.body),
		Size:         int64(len(resp.body)),
		ResponseTime: resp.elapsed,
	}
	r.logger.Debug("response", "item", exec.FullName(), "method", exec.Request.Method, "url", exec.Request.URL, "status", resp.code, "elapsed", resp.elapsed)

	for _, script := range item.ScriptsFor(collection.ListenTest) {
		r.runScript(ctx, &exec, item, script, d, resp)
	}
	return exec
}

func (r *run) send(ctx context.Context, req *http.Request) (*responseData, error) {
	ctxTimeout, cancel := ctx, context.CancelFunc(func() {})
	if r.timeout > 0 {
		ctxTimeout, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	start := time.Now()
	resp, err := r.client.Do(req.WithContext(ctxTimeout))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &responseData{
		code:    resp.StatusCode,
		reason:  reasonPhrase(resp),
		headers: resp.Header,
		body:    body,
		elapsed: elapsed,
	}, nil
}

func reasonPhrase(resp *http.Response) string {
	if _, reason, ok := strings.Cut(resp.Status, " "); ok && reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}

func (r *run) requestFailed(exec *Execution, err error) {
	r.summary.Stats.Requests.Failed++
	exec.RequestError = err.Error()
	r.fail(exec, FailureError{Name: "Error", Message: err.Error()}, "request")
	r.logger.Warn("request failed", "item", exec.FullName(), "error", err)
}

func (r *run) runScript(ctx context.Context, exec *Execution, item collection.RunnableItem, script collection.Script, d *draft, resp *responseData) {
	listen := collection.ListenTest
	counter := &r.summary.Stats.TestScripts
	if resp == nil {
		listen = collection.ListenPrerequest
		counter = &r.summary.Stats.PrerequestScripts
	}
	counter.Total++
	sb := &sandbox{listen: listen, item: item, scope: r.scope, draft: d, response: resp, logger: r.logger}
	res := sb.run(ctx, script.Source())
	exec.Console = append(exec.Console, res.console...)
	for _, a := range res.assertions {
		idx := len(exec.Assertions)
		exec.Assertions = append(exec.Assertions, a)
		if a.Skipped {
			continue
		}
		r.summary.Stats.Assertions.Total++
		if a.Passed {
			continue
		}
		r.summary.Stats.Assertions.Failed++
		r.fail(exec, FailureError{Name: "AssertionError", Message: a.Error, Test: a.Name},
			"assertion:"+strconv.Itoa(idx)+" in "+listen+"-script")
	}
	if res.err != nil {
		counter.Failed++
		exec.ScriptErrors = append(exec.ScriptErrors, listen+"-script: "+res.err.Error())
		r.fail(exec, FailureError{Name: res.err.name, Message: res.err.message}, listen+"-script")
	}
}

func (r *run) fail(exec *Execution, fe FailureError, at string) {
	exec.Failures++
	r.summary.Failures = append(r.summary.Failures, Failure{
		Error:  fe,
		Source: exec.Item,
		Path:   exec.Path,
		At:     at,
	})
}

func responseTimes(execs []Execution) (avg, lo, hi time.Duration) {
	var total time.Duration
	n := 0
	for _, ex := range execs {
		if ex.Response == nil {
			continue
		}
		t := ex.Response.ResponseTime
		if n == 0 || t < lo {
			lo = t
		}
		if t > hi {
			hi = t
		}
		total += t
		n++
	}
	if n > 0 {
		avg = total / time.Duration(n)
	}
	return avg, lo, hi
}
