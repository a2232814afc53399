package engine

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"pkt.systems/postrun/internal/collection"
)

func sampleResponse() *responseData {
	h := http.Header{}
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Request-Id", "r-1")
	return &responseData{
		code:    200,
		reason:  "OK",
		headers: h,
		body:    []byte(`{"movies":[{"id":1,"title":"Alien"},{"id":2,"title":"Heat"}],"total":2}`),
		elapsed: 12 * time.Millisecond,
	}
}

func runSnippet(t *testing.T, src string, scope *collection.Scope, d *draft, resp *responseData) scriptResult {
	t.Helper()
	if scope == nil {
		scope = collection.NewScope(nil, nil)
	}
	if d == nil {
		d = &draft{Method: http.MethodGet, URL: "http://localhost/movies"}
	}
	listen := collection.ListenTest
	if resp == nil {
		listen = collection.ListenPrerequest
	}
	sb := &sandbox{
		listen:   listen,
		item:     collection.RunnableItem{Item: collection.Item{ID: "i-1", Name: "List movies"}},
		scope:    scope,
		draft:    d,
		response: resp,
		logger:   quietLogger(),
	}
	return sb.run(context.Background(), src)
}

func TestExpectChainPasses(t *testing.T) {
	snippets := []string{
		`pm.expect(1).to.equal(1)`,
		`pm.expect({a: 1}).to.eql({a: 1})`,
		`pm.expect({a: 1}).to.deep.equal({a: 1})`,
		`pm.expect([1, 2, 3]).to.have.length.above(2)`,
		`pm.expect([1, 2, 3]).to.have.length(3)`,
		`pm.expect("hello").to.have.lengthOf(5)`,
		`pm.expect("hello").to.include("ell")`,
		`pm.expect([1, 2]).to.contain(2)`,
		`pm.expect({a: 1, b: 2}).to.include({a: 1})`,
		`pm.expect(5).to.be.within(1, 10)`,
		`pm.expect(5).to.be.at.least(5).and.at.most(5)`,
		`pm.expect(0.3).to.be.closeTo(0.1 + 0.2, 0.0001)`,
		`pm.expect(null).to.be.null`,
		`pm.expect(undefined).to.not.exist`,
		`pm.expect(true).to.be.true`,
		`pm.expect(false).to.be.false`,
		`pm.expect(0).to.not.be.ok`,
		`pm.expect("x").to.be.a("string")`,
		`pm.expect(7).to.be.a("number")`,
		`pm.expect([]).to.be.an("array").that.is.empty`,
		`pm.expect({}).to.be.an("object").and.be.empty`,
		`pm.expect({a: {b: 2}}).to.have.property("a").that.has.property("b", 2)`,
		`pm.expect({a: 1}).to.not.have.property("z")`,
		`pm.expect(3).to.be.oneOf([1, 2, 3])`,
		`pm.expect("abc").to.match(/^a/)`,
		`pm.expect("abc").to.have.string("bc")`,
		`pm.expect({a: 1, b: 2}).to.have.all.keys("a", "b")`,
		`pm.expect({a: 1, b: 2}).to.include.keys("a")`,
		`pm.expect({a: 1, b: 2}).to.have.any.keys("b", "z")`,
		`pm.expect([1, 2, 3]).to.have.members([3, 2, 1])`,
		`pm.expect([1, 2, 3]).to.include.members([2])`,
		`pm.expect(new Date()).to.be.an.instanceof(Date)`,
		`pm.expect(4).to.satisfy(function (n) { return n % 2 === 0; })`,
		`pm.expect(2).to.not.equal(3)`,
	}
	for _, src := range snippets {
		res := runSnippet(t, `pm.test("case", function () { `+src+`; });`, nil, nil, nil)
		if res.err != nil {
			t.Fatalf("%s: script error %v", src, res.err)
		}
		if len(res.assertions) != 1 || !res.assertions[0].Passed {
			t.Fatalf("%s: expected pass, got %+v", src, res.assertions)
		}
	}
}

func TestExpectChainFailures(t *testing.T) {
	cases := map[string]string{
		`pm.expect(2).to.be.above(3)`:          "expected 2 to be above 3",
		`pm.expect({a: 1}).to.equal({a: 1})`:   `expected {"a":1} to equal {"a":1}`,
		`pm.expect([1, 2]).to.have.lengthOf(3)`: "expected [1,2] to have a length of 3 but got 2",
		`pm.expect("abc").to.not.include("b")`: "expected 'abc' to not include 'b'",
		`pm.expect(1).to.be.a("string")`:       "expected 1 to be a string",
		`pm.expect({}).to.have.property("id")`: "expected {} to have property 'id'",
		`pm.expect(4).to.be.oneOf([1, 2])`:     "expected 4 to be one of [1,2]",
		`pm.expect(null).to.exist`:             "expected null to exist",
	}
	for src, want := range cases {
		res := runSnippet(t, `pm.test("case", function () { `+src+`; });`, nil, nil, nil)
		if len(res.assertions) != 1 || res.assertions[0].Passed {
			t.Fatalf("%s: expected failure, got %+v", src, res.assertions)
		}
		if got := res.assertions[0].Error; got != want {
			t.Fatalf("%s: want message %q got %q", src, want, got)
		}
	}
}

func TestResponseAssertions(t *testing.T) {
	src := `
pm.test("status", function () { pm.response.to.have.status(200); });
pm.test("reason", function () { pm.response.to.have.status("OK"); });
pm.test("ok", function () { pm.response.to.be.ok; });
pm.test("success", function () { pm.response.to.be.success; });
pm.test("json", function () { pm.response.to.be.json; });
pm.test("not 404", function () { pm.response.to.not.have.status(404); });
pm.test("header", function () { pm.response.to.have.header("X-Request-Id", "r-1"); });
pm.test("json body path", function () { pm.response.to.have.jsonBody("movies.0.title", "Alien"); });
pm.test("headers get", function () { pm.expect(pm.response.headers.get("x-request-id")).to.equal("r-1"); });
pm.test("code", function () { pm.expect(pm.response.code).to.equal(200); });
pm.test("time", function () { pm.expect(pm.response.responseTime).to.be.below(1000); });
pm.test("text", function () { pm.expect(pm.response.text()).to.include("Heat"); });
pm.test("json()", function () { pm.expect(pm.response.json().movies).to.have.lengthOf(2); });
pm.test("client error", function () { pm.response.to.be.clientError; });
`
	res := runSnippet(t, src, nil, nil, sampleResponse())
	if res.err != nil {
		t.Fatalf("script error: %v", res.err)
	}
	if len(res.assertions) != 14 {
		t.Fatalf("expected 14 assertions, got %d", len(res.assertions))
	}
	for _, a := range res.assertions[:13] {
		if !a.Passed {
			t.Fatalf("%s: unexpected failure %s", a.Name, a.Error)
		}
	}
	last := res.assertions[13]
	if last.Passed || last.Error != "expected response code to be 4XX but found 200" {
		t.Fatalf("unexpected client error assertion %+v", last)
	}
}

func TestVariableScopes(t *testing.T) {
	scope := collection.NewScope([]collection.Variable{{Key: "apiVersion", Value: "v1"}}, map[string]string{"baseUrl": "http://localhost"})
	src := `
pm.environment.set("token", "t-1");
pm.collectionVariables.set("retries", 3);
pm.globals.set("obj", {a: 1});
pm.variables.set("local", "yes");
pm.environment.unset("baseUrl");
pm.test("reads", function () {
  pm.expect(pm.variables.get("apiVersion")).to.equal("v1");
  pm.expect(pm.environment.has("baseUrl")).to.be.false;
  pm.expect(pm.variables.replaceIn("{{apiVersion}}/{{local}}")).to.equal("v1/yes");
  pm.expect(pm.environment.toObject()).to.eql({token: "t-1"});
});
postman.setEnvironmentVariable("legacy", "1");
tests["legacy getter"] = postman.getEnvironmentVariable("legacy") === "1";
`
	res := runSnippet(t, src, scope, nil, nil)
	if res.err != nil {
		t.Fatalf("script error: %v", res.err)
	}
	for _, a := range res.assertions {
		if !a.Passed {
			t.Fatalf("%s: %s", a.Name, a.Error)
		}
	}
	if len(res.assertions) != 2 {
		t.Fatalf("expected pm.test and legacy tests entry, got %+v", res.assertions)
	}
	if scope.Environment["token"] != "t-1" || scope.Collection["retries"] != "3" || scope.Globals["obj"] != `{"a":1}` || scope.Local["local"] != "yes" {
		t.Fatalf("scope not updated: %+v", scope)
	}
	if _, ok := scope.Environment["baseUrl"]; ok {
		t.Fatalf("unset did not remove baseUrl")
	}
}

func TestRequestMutation(t *testing.T) {
	d := &draft{Method: http.MethodGet, URL: "{{baseUrl}}/movies", Headers: []collection.Header{{Key: "Accept", Value: "text/plain"}}}
	src := `
pm.request.headers.upsert({key: "accept", value: "application/json"});
pm.request.headers.add({key: "X-Trace", value: "t"});
pm.request.headers.remove("X-Trace");
pm.request.method = "post";
pm.request.url = pm.request.url.toString() + "?page=2";
pm.request.body.update('{"q":1}');
console.log("prepared", pm.request.headers.get("Accept"));
`
	res := runSnippet(t, src, nil, d, nil)
	if res.err != nil {
		t.Fatalf("script error: %v", res.err)
	}
	if d.Method != http.MethodPost || d.URL != "{{baseUrl}}/movies?page=2" {
		t.Fatalf("unexpected draft %+v", d)
	}
	if len(d.Headers) != 1 || d.Headers[0].Value != "application/json" {
		t.Fatalf("unexpected headers %+v", d.Headers)
	}
	if d.Body == nil || d.Body.Raw != `{"q":1}` {
		t.Fatalf("body not updated: %+v", d.Body)
	}
	if len(res.console) != 1 || res.console[0] != "prepared application/json" {
		t.Fatalf("unexpected console %v", res.console)
	}
}

func TestScriptErrors(t *testing.T) {
	res := runSnippet(t, `pm.test("half", function () {}); undefinedThing();`, nil, nil, nil)
	if res.err == nil || res.err.name != "ReferenceError" {
		t.Fatalf("expected ReferenceError, got %+v", res.err)
	}
	if len(res.assertions) != 1 || !res.assertions[0].Passed {
		t.Fatalf("assertions before the throw must be kept: %+v", res.assertions)
	}

	res = runSnippet(t, `pm.test("broken", function () {`, nil, nil, nil)
	if res.err == nil || res.err.name != "SyntaxError" {
		t.Fatalf("expected SyntaxError, got %+v", res.err)
	}

	res = runSnippet(t, `pm.response.json();`, nil, nil, &responseData{code: 200, reason: "OK", headers: http.Header{}, body: []byte("<html>")})
	if res.err == nil || res.err.name != "JSONError" {
		t.Fatalf("expected JSONError, got %+v", res.err)
	}

	res = runSnippet(t, `pm.test("pending");`, nil, nil, nil)
	if len(res.assertions) != 1 || !res.assertions[0].Skipped {
		t.Fatalf("test without callback should be skipped: %+v", res.assertions)
	}
}

func TestScriptInterruptedByContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sb := &sandbox{listen: collection.ListenPrerequest, scope: collection.NewScope(nil, nil), draft: &draft{}, logger: quietLogger()}
	res := sb.run(ctx, `while (true) {}`)
	if res.err == nil || !strings.Contains(res.err.message, "cancelled") {
		t.Fatalf("expected interrupt, got %+v", res.err)
	}
}
