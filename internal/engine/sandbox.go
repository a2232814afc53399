package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"
	"pkt.systems/postrun/internal/collection"
	"pkt.systems/pslog"
)

// responseData is the response as scripts see it.
type responseData struct {
	code    int
	reason  string
	headers http.Header
	body    []byte
	elapsed time.Duration
}

// sandbox runs one script in a fresh goja runtime wired with the pm API.
type sandbox struct {
	listen   string
	item     collection.RunnableItem
	scope    *collection.Scope
	draft    *draft
	response *responseData
	logger   pslog.Base
}

type scriptResult struct {
	assertions []Assertion
	console    []string
	err        *scriptError
}

// scriptError is an uncaught exception raised outside pm.test.
type scriptError struct {
	name    string
	message string
}

func (e *scriptError) Error() string { return e.name + ": " + e.message }

func (s *sandbox) run(ctx context.Context, src string) scriptResult {
	var res scriptResult
	if strings.TrimSpace(src) == "" {
		return res
	}
	vm := goja.New()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt("run cancelled") })
	defer stop()

	registerConsole(vm, &res.console, s.logger)
	tests := vm.NewObject()
	s.registerLegacy(vm, tests)
	if err := vm.Set("pm", s.newPM(vm, &res)); err != nil {
		res.err = toScriptError(err)
		return res
	}

	_, err := vm.RunString(src)
	for _, name := range tests.Keys() {
		a := Assertion{Name: name, Passed: tests.Get(name).ToBoolean()}
		if !a.Passed {
			a.Error = "expected " + inspect(tests.Get(name)) + " to be truthy"
		}
		res.assertions = append(res.assertions, a)
	}
	if err != nil {
		res.err = toScriptError(err)
	}
	return res
}

func toScriptError(err error) *scriptError {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		name, msg := "Error", ex.Value().String()
		if obj, ok := ex.Value().(*goja.Object); ok {
			if n := obj.Get("name"); !isNullish(n) {
				name = n.String()
			}
			if m := obj.Get("message"); !isNullish(m) {
				msg = m.String()
			}
		}
		return &scriptError{name: name, message: msg}
	}
	var syn *goja.CompilerSyntaxError
	if errors.As(err, &syn) {
		return &scriptError{name: "SyntaxError", message: syn.Error()}
	}
	var intr *goja.InterruptedError
	if errors.As(err, &intr) {
		return &scriptError{name: "Error", message: fmt.Sprint(intr.Value())}
	}
	return &scriptError{name: "Error", message: err.Error()}
}

func registerConsole(vm *goja.Runtime, logs *[]string, logger pslog.Base) {
	console := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			if obj, ok := arg.(*goja.Object); ok && obj.ClassName() != "Error" {
				if b, err := json.Marshal(obj.Export()); err == nil {
					parts[i] = string(b)
					continue
				}
			}
			parts[i] = arg.String()
		}
		line := strings.Join(parts, " ")
		*logs = append(*logs, line)
		if logger != nil {
			logger.Debug("js", "msg", line)
		}
		return goja.Undefined()
	}
	for _, name := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(name, logFn)
	}
	_ = vm.Set("console", console)
}

func (s *sandbox) newPM(vm *goja.Runtime, res *scriptResult) *goja.Object {
	pm := vm.NewObject()

	test := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			res.assertions = append(res.assertions, Assertion{Name: name, Skipped: true})
			return pm
		}
		a := Assertion{Name: name, Passed: true}
		if _, err := fn(goja.Undefined()); err != nil {
			a.Passed = false
			a.Error = toScriptError(err).message
		}
		res.assertions = append(res.assertions, a)
		return pm
	}).(*goja.Object)
	_ = test.Set("skip", func(call goja.FunctionCall) goja.Value {
		res.assertions = append(res.assertions, Assertion{Name: call.Argument(0).String(), Skipped: true})
		return pm
	})
	_ = pm.Set("test", test)
	_ = pm.Set("expect", expectFactory(vm))

	_ = pm.Set("environment", s.variableScope(vm, s.scope.Environment, "environment"))
	_ = pm.Set("collectionVariables", s.variableScope(vm, s.scope.Collection, "collection"))
	_ = pm.Set("globals", s.variableScope(vm, s.scope.Globals, "globals"))
	_ = pm.Set("variables", s.variableScope(vm, s.scope.Local, ""))
	_ = pm.Set("iterationData", s.variableScope(vm, map[string]string{}, "iterationData"))

	info := vm.NewObject()
	_ = info.Set("eventName", s.listen)
	_ = info.Set("iteration", 0)
	_ = info.Set("iterationCount", 1)
	_ = info.Set("requestName", s.item.Name)
	_ = info.Set("requestId", s.item.ID)
	_ = pm.Set("info", info)

	_ = pm.Set("request", s.newRequestObject(vm))
	if s.response != nil {
		_ = pm.Set("response", newResponseObject(vm, s.response))
	}
	_ = pm.Set("sendRequest", func(goja.FunctionCall) goja.Value {
		panic(vm.NewGoError(errors.New("pm.sendRequest is not supported")))
	})
	return pm
}

// variableScope exposes one layer of the scope. The "" layer is pm.variables,
// which reads through every layer and writes to the local one.
func (s *sandbox) variableScope(vm *goja.Runtime, layer map[string]string, name string) *goja.Object {
	lookup := func(key string) (string, bool) {
		if name == "" {
			return s.scope.Get(key)
		}
		v, ok := layer[key]
		return v, ok
	}
	obj := vm.NewObject()
	_ = obj.Set("get", func(call goja.FunctionCall) goja.Value {
		if v, ok := lookup(call.Argument(0).String()); ok {
			return vm.ToValue(v)
		}
		return goja.Undefined()
	})
	_ = obj.Set("has", func(call goja.FunctionCall) goja.Value {
		_, ok := lookup(call.Argument(0).String())
		return vm.ToValue(ok)
	})
	_ = obj.Set("set", func(call goja.FunctionCall) goja.Value {
		layer[call.Argument(0).String()] = jsString(call.Argument(1))
		return goja.Undefined()
	})
	_ = obj.Set("unset", func(call goja.FunctionCall) goja.Value {
		delete(layer, call.Argument(0).String())
		return goja.Undefined()
	})
	_ = obj.Set("clear", func(goja.FunctionCall) goja.Value {
		clear(layer)
		return goja.Undefined()
	})
	_ = obj.Set("toObject", func(goja.FunctionCall) goja.Value {
		out := map[string]string{}
		if name == "" {
			for _, l := range s.scope.Layers() {
				maps.Copy(out, l)
			}
		} else {
			maps.Copy(out, layer)
		}
		v, err := toJSValue(vm, out)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return v
	})
	_ = obj.Set("replaceIn", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(s.scope.Replace(call.Argument(0).String()))
	})
	_ = obj.Set("name", name)
	return obj
}

// jsString stores a script value the way it reads back in {{var}} substitution.
func jsString(v goja.Value) string {
	if isNullish(v) {
		return ""
	}
	if obj, ok := v.(*goja.Object); ok {
		if b, err := json.Marshal(obj.Export()); err == nil {
			return string(b)
		}
	}
	return v.String()
}

func (s *sandbox) newRequestObject(vm *goja.Runtime) *goja.Object {
	d := s.draft
	req := vm.NewObject()

	urlObj := vm.NewObject()
	_ = urlObj.Set("toString", func(goja.FunctionCall) goja.Value { return vm.ToValue(d.URL) })
	_ = urlObj.Set("update", func(call goja.FunctionCall) goja.Value {
		d.URL = call.Argument(0).String()
		return goja.Undefined()
	})
	_ = urlObj.Set("getPath", func(goja.FunctionCall) goja.Value {
		if u, err := url.Parse(d.URL); err == nil {
			return vm.ToValue(u.Path)
		}
		return vm.ToValue("")
	})
	_ = urlObj.Set("getQueryString", func(goja.FunctionCall) goja.Value {
		if u, err := url.Parse(d.URL); err == nil {
			return vm.ToValue(u.RawQuery)
		}
		return vm.ToValue("")
	})
	_ = req.DefineAccessorProperty("url",
		vm.ToValue(func(goja.FunctionCall) goja.Value { return urlObj }),
		vm.ToValue(func(call goja.FunctionCall) goja.Value {
			d.URL = call.Argument(0).String()
			return goja.Undefined()
		}), goja.FLAG_TRUE, goja.FLAG_TRUE)
	_ = req.DefineAccessorProperty("method",
		vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(d.Method) }),
		vm.ToValue(func(call goja.FunctionCall) goja.Value {
			d.Method = strings.ToUpper(call.Argument(0).String())
			return goja.Undefined()
		}), goja.FLAG_TRUE, goja.FLAG_TRUE)

	headers := vm.NewObject()
	keyValue := func(call goja.FunctionCall) (string, string) {
		if obj, ok := call.Argument(0).(*goja.Object); ok {
			return obj.Get("key").String(), jsString(obj.Get("value"))
		}
		return call.Argument(0).String(), jsString(call.Argument(1))
	}
	_ = headers.Set("add", func(call goja.FunctionCall) goja.Value {
		k, v := keyValue(call)
		d.addHeader(k, v)
		return goja.Undefined()
	})
	_ = headers.Set("upsert", func(call goja.FunctionCall) goja.Value {
		k, v := keyValue(call)
		d.upsertHeader(k, v)
		return goja.Undefined()
	})
	_ = headers.Set("remove", func(call goja.FunctionCall) goja.Value {
		d.removeHeader(call.Argument(0).String())
		return goja.Undefined()
	})
	_ = headers.Set("get", func(call goja.FunctionCall) goja.Value {
		if v, ok := d.header(call.Argument(0).String()); ok {
			return vm.ToValue(v)
		}
		return goja.Undefined()
	})
	_ = headers.Set("has", func(call goja.FunctionCall) goja.Value {
		_, ok := d.header(call.Argument(0).String())
		return vm.ToValue(ok)
	})
	_ = headers.Set("toObject", func(goja.FunctionCall) goja.Value {
		out := map[string]string{}
		for _, h := range d.Headers {
			out[h.Key] = h.Value
		}
		v, _ := toJSValue(vm, out)
		return v
	})
	_ = req.Set("headers", headers)

	body := vm.NewObject()
	_ = body.DefineAccessorProperty("mode",
		vm.ToValue(func(goja.FunctionCall) goja.Value {
			if d.Body == nil {
				return goja.Undefined()
			}
			return vm.ToValue(d.Body.Mode)
		}), nil, goja.FLAG_TRUE, goja.FLAG_TRUE)
	_ = body.DefineAccessorProperty("raw",
		vm.ToValue(func(goja.FunctionCall) goja.Value {
			if d.Body == nil {
				return goja.Undefined()
			}
			return vm.ToValue(d.Body.Raw)
		}),
		vm.ToValue(func(call goja.FunctionCall) goja.Value {
			s.setRawBody(call.Argument(0).String())
			return goja.Undefined()
		}), goja.FLAG_TRUE, goja.FLAG_TRUE)
	_ = body.Set("update", func(call goja.FunctionCall) goja.Value {
		s.setRawBody(jsString(call.Argument(0)))
		return goja.Undefined()
	})
	_ = req.Set("body", body)
	return req
}

func (s *sandbox) setRawBody(raw string) {
	if s.draft.Body == nil || s.draft.Body.Mode != "raw" {
		s.draft.Body = &collection.Body{Mode: "raw"}
	}
	s.draft.Body.Raw = raw
}

func newResponseObject(vm *goja.Runtime, r *responseData) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("code", r.code)
	_ = obj.Set("status", r.reason)
	_ = obj.Set("responseTime", r.elapsed.Milliseconds())
	_ = obj.Set("responseSize", len(r.body))
	_ = obj.Set("reason", func(goja.FunctionCall) goja.Value { return vm.ToValue(r.reason) })

	headers := vm.NewObject()
	_ = headers.Set("get", func(call goja.FunctionCall) goja.Value {
		if v := r.headers.Values(call.Argument(0).String()); len(v) > 0 {
			return vm.ToValue(strings.Join(v, ", "))
		}
		return goja.Undefined()
	})
	_ = headers.Set("has", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(len(r.headers.Values(call.Argument(0).String())) > 0)
	})
	_ = headers.Set("toObject", func(goja.FunctionCall) goja.Value {
		out := map[string]string{}
		for k, v := range r.headers {
			out[strings.ToLower(k)] = strings.Join(v, ", ")
		}
		v, _ := toJSValue(vm, out)
		return v
	})
	_ = obj.Set("headers", headers)

	textVal := string(r.body)
	_ = obj.Set("text", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(textVal)
	})
	_ = obj.Set("json", func(goja.FunctionCall) goja.Value {
		var target any
		if err := json.Unmarshal(r.body, &target); err != nil {
			panic(namedError(vm, "JSONError", err.Error()))
		}
		v, err := toJSValue(vm, target)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return v
	})
	_ = obj.DefineAccessorProperty("to",
		vm.ToValue(func(goja.FunctionCall) goja.Value { return newResponseAssertion(vm, r) }),
		nil, goja.FLAG_TRUE, goja.FLAG_FALSE)
	return obj
}

// newResponseAssertion backs pm.response.to.*. Each access starts a fresh
// chain so a `not` in one statement does not leak into the next.
func newResponseAssertion(vm *goja.Runtime, r *responseData) *goja.Object {
	c := newChain(vm)
	codeRange := func(name string, ok func(int) bool, desc string) {
		c.getter(name, func() goja.Value {
			c.assert(ok(r.code),
				fmt.Sprintf("expected response code to be %s but found %d", desc, r.code),
				fmt.Sprintf("expected response code to not be %s but found %d", desc, r.code))
			return c.obj
		})
	}
	exact := func(code int) func(int) bool { return func(got int) bool { return got == code } }
	between := func(lo, hi int) func(int) bool { return func(got int) bool { return got >= lo && got <= hi } }
	codeRange("ok", exact(200), "200")
	codeRange("accepted", exact(202), "202")
	codeRange("badRequest", exact(400), "400")
	codeRange("unauthorized", exact(401), "401")
	codeRange("forbidden", exact(403), "403")
	codeRange("notFound", exact(404), "404")
	codeRange("rateLimited", exact(429), "429")
	codeRange("info", between(100, 199), "1XX")
	codeRange("success", between(200, 299), "2XX")
	codeRange("redirection", between(300, 399), "3XX")
	codeRange("clientError", between(400, 499), "4XX")
	codeRange("serverError", between(500, 599), "5XX")
	codeRange("error", between(400, 599), "4XX or 5XX")

	c.getter("json", func() goja.Value {
		var target any
		ok := isJSONContentType(r.headers.Get("Content-Type")) && json.Unmarshal(r.body, &target) == nil
		c.assert(ok, "expected response body to be a valid json", "expected response body to not be a valid json")
		return c.obj
	})
	c.getter("withBody", func() goja.Value {
		c.assert(len(r.body) > 0, "expected response to have content in body", "expected response to not have content in body")
		return c.obj
	})

	c.method(func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		if n, ok := arg.Export().(int64); ok {
			c.assert(int64(r.code) == n,
				fmt.Sprintf("expected response to have status code %d but got %d", n, r.code),
				fmt.Sprintf("expected response to not have status code %d", n))
			return c.obj
		}
		want := arg.String()
		c.assert(strings.EqualFold(r.reason, want),
			fmt.Sprintf("expected response to have status reason '%s' but got '%s'", want, r.reason),
			fmt.Sprintf("expected response to not have status reason '%s'", want))
		return c.obj
	}, "status")

	c.method(func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		values := r.headers.Values(name)
		if len(call.Arguments) < 2 {
			c.assert(len(values) > 0,
				fmt.Sprintf("expected response to have header with key '%s'", name),
				fmt.Sprintf("expected response to not have header with key '%s'", name))
			return c.obj
		}
		want := call.Arguments[1].String()
		got := strings.Join(values, ", ")
		c.assert(len(values) > 0 && got == want,
			fmt.Sprintf("expected '%s' response header to be '%s' but got '%s'", name, want, got),
			fmt.Sprintf("expected '%s' response header to not be '%s'", name, want))
		return c.obj
	}, "header")

	c.method(func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			c.assert(len(r.body) > 0, "expected response to have content in body", "expected response to not have content in body")
			return c.obj
		}
		want := call.Arguments[0]
		if obj, ok := want.(*goja.Object); ok {
			var target any
			_ = json.Unmarshal(r.body, &target)
			got, _ := toJSValue(vm, target)
			c.assert(got != nil && deepEqual(got, obj),
				fmt.Sprintf("expected response body json to equal %s but got %s", inspect(obj), string(r.body)),
				fmt.Sprintf("expected response body json to not equal %s", inspect(obj)))
			return c.obj
		}
		c.assert(string(r.body) == want.String(),
			fmt.Sprintf("expected response body to equal '%s' but got '%s'", want.String(), string(r.body)),
			fmt.Sprintf("expected response body to not equal '%s'", want.String()))
		return c.obj
	}, "body")

	c.method(func(call goja.FunctionCall) goja.Value {
		var target any
		if err := json.Unmarshal(r.body, &target); err != nil {
			c.assert(false, "expected response body to be a valid json", "")
			return c.obj
		}
		if len(call.Arguments) == 0 {
			c.assert(true, "", "expected response body to not be a valid json")
			return c.obj
		}
		path := call.Argument(0).String()
		got, found := jsonPath(target, path)
		if len(call.Arguments) < 2 {
			c.assert(found,
				fmt.Sprintf("expected response body json to have path '%s'", path),
				fmt.Sprintf("expected response body json to not have path '%s'", path))
			return c.obj
		}
		gotVal, _ := toJSValue(vm, got)
		want := call.Arguments[1]
		c.assert(found && gotVal != nil && deepEqual(gotVal, want),
			fmt.Sprintf("expected response body json at '%s' to contain %s", path, inspect(want)),
			fmt.Sprintf("expected response body json at '%s' to not contain %s", path, inspect(want)))
		return c.obj
	}, "jsonBody")
	return c.obj
}

func isJSONContentType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// jsonPath walks a dotted path (`data.items.0.id`) through decoded JSON.
func jsonPath(v any, path string) (any, bool) {
	cur := v
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			var idx int
			if _, err := fmt.Sscanf(part, "%d", &idx); err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// registerLegacy installs the pre-pm globals still found in older collections.
func (s *sandbox) registerLegacy(vm *goja.Runtime, tests *goja.Object) {
	_ = vm.Set("tests", tests)
	postman := vm.NewObject()
	setter := func(layer map[string]string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			layer[call.Argument(0).String()] = jsString(call.Argument(1))
			return goja.Undefined()
		}
	}
	getter := func(layer map[string]string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			if v, ok := layer[call.Argument(0).String()]; ok {
				return vm.ToValue(v)
			}
			return goja.Undefined()
		}
	}
	clearer := func(layer map[string]string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			delete(layer, call.Argument(0).String())
			return goja.Undefined()
		}
	}
	_ = postman.Set("setEnvironmentVariable", setter(s.scope.Environment))
	_ = postman.Set("getEnvironmentVariable", getter(s.scope.Environment))
	_ = postman.Set("clearEnvironmentVariable", clearer(s.scope.Environment))
	_ = postman.Set("setGlobalVariable", setter(s.scope.Globals))
	_ = postman.Set("getGlobalVariable", getter(s.scope.Globals))
	_ = postman.Set("clearGlobalVariable", clearer(s.scope.Globals))
	_ = vm.Set("postman", postman)

	if env, err := toJSValue(vm, s.scope.Environment); err == nil {
		_ = vm.Set("environment", env)
	}
	if globals, err := toJSValue(vm, s.scope.Globals); err == nil {
		_ = vm.Set("globals", globals)
	}

	if s.response == nil {
		return
	}
	r := s.response
	_ = vm.Set("responseBody", string(r.body))
	_ = vm.Set("responseTime", r.elapsed.Milliseconds())
	code := vm.NewObject()
	_ = code.Set("code", r.code)
	_ = code.Set("name", r.reason)
	_ = code.Set("detail", r.reason)
	_ = vm.Set("responseCode", code)
	headers := map[string]string{}
	for k, v := range r.headers {
		headers[k] = strings.Join(v, ", ")
	}
	if hv, err := toJSValue(vm, headers); err == nil {
		_ = vm.Set("responseHeaders", hv)
	}
}

// toJSValue marshals a Go value to JSON and re-parses it inside goja, ensuring
// native JS strings/arrays/objects.
func toJSValue(vm *goja.Runtime, v any) (goja.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	jsonObj := vm.Get("JSON").ToObject(vm)
	parseFn, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return nil, fmt.Errorf("JSON.parse missing")
	}
	return parseFn(jsonObj, vm.ToValue(string(b)))
}
