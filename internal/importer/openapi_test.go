package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/pslog"

	"pkt.systems/postrun/internal/collection"
	"pkt.systems/postrun/internal/engine"
)

func quietLogger() pslog.Logger {
	return pslog.NewStructured(&bytes.Buffer{})
}

func importCinema(t *testing.T, mutate func(*Options)) (Result, *collection.Collection, *collection.Environment) {
	t.Helper()
	opts := Options{
		Source:    filepath.Join("testdata", "cinema.yaml"),
		OutputDir: t.TempDir(),
		Logger:    quietLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	res, err := ImportOpenAPI(context.Background(), opts)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	col, err := collection.LoadCollection(res.CollectionPath)
	if err != nil {
		t.Fatalf("load collection: %v", err)
	}
	env, err := collection.LoadEnvironment(res.EnvironmentPath)
	if err != nil {
		t.Fatalf("load environment: %v", err)
	}
	return res, col, env
}

func findItem(items []collection.Item, name string) *collection.Item {
	for i := range items {
		if items[i].Name == name {
			return &items[i]
		}
		if found := findItem(items[i].Items, name); found != nil {
			return found
		}
	}
	return nil
}

func TestImportOpenAPIWritesCollectionAndEnvironment(t *testing.T) {
	res, col, env := importCinema(t, nil)

	if filepath.Base(res.CollectionPath) != "CinemaAbyss.postman_collection.json" {
		t.Fatalf("collection path: %s", res.CollectionPath)
	}
	if filepath.Base(res.EnvironmentPath) != "local.environment.json" {
		t.Fatalf("environment path: %s", res.EnvironmentPath)
	}
	if res.Requests != 5 {
		t.Fatalf("expected 5 requests, got %d", res.Requests)
	}
	if col.Info.Name != "CinemaAbyss" || col.Info.Schema != collection.SchemaV21 {
		t.Fatalf("unexpected info: %+v", col.Info)
	}

	var folders []string
	for _, it := range col.Items {
		folders = append(folders, it.Name)
	}
	if strings.Join(folders, ",") != "movies,payments,health" {
		t.Fatalf("unexpected folders: %v", folders)
	}
	if col.Items[0].Description != "Movie catalogue" {
		t.Fatalf("tag description not carried: %q", col.Items[0].Description)
	}

	vars := env.Map()
	if vars["baseUrl"] != "http://localhost:8000" {
		t.Fatalf("baseUrl: %q", vars["baseUrl"])
	}
	for _, k := range []string{"bearerToken", "apikey"} {
		if vars[k] != placeholder {
			t.Fatalf("expected placeholder for %s, got %q (all: %v)", k, vars[k], vars)
		}
	}
	if env.Scope != "environment" || env.ID == "" {
		t.Fatalf("unexpected environment header: %+v", env)
	}
}

func TestImportOpenAPIRequests(t *testing.T) {
	_, col, _ := importCinema(t, nil)

	get := findItem(col.Items, "getMovie")
	if get == nil || get.Request == nil {
		t.Fatalf("getMovie not imported")
	}
	if get.Request.URL.Raw != "{{baseUrl}}/api/movies/:id" {
		t.Fatalf("raw url: %q", get.Request.URL.Raw)
	}
	if len(get.Request.URL.Variables) != 1 || get.Request.URL.Variables[0].Key != "id" || get.Request.URL.Variables[0].StringValue() != "1" {
		t.Fatalf("path variables: %+v", get.Request.URL.Variables)
	}
	if get.Request.Auth == nil || get.Request.Auth.Type != "bearer" || get.Request.Auth.Param("token") != "{{bearerToken}}" {
		t.Fatalf("bearer auth: %+v", get.Request.Auth)
	}

	list := findItem(col.Items, "List movies")
	if list == nil || len(list.Request.URL.Query) != 1 || !list.Request.URL.Query[0].Disabled {
		t.Fatalf("optional query should be disabled: %+v", list)
	}
	if list.Request.URL.Query[0].Value != "drama" {
		t.Fatalf("enum example not used: %+v", list.Request.URL.Query[0])
	}

	create := findItem(col.Items, "Create movie")
	if create == nil || create.Request.Body == nil || create.Request.Body.Mode != "raw" {
		t.Fatalf("create body: %+v", create)
	}
	if create.Request.Body.Language() != "json" || !strings.Contains(create.Request.Body.Raw, `"title": "Alien"`) {
		t.Fatalf("create raw body: %q", create.Request.Body.Raw)
	}
	var ct string
	for _, h := range create.Request.Header {
		if h.Key == "Content-Type" {
			ct = h.Value
		}
	}
	if ct != "application/json" {
		t.Fatalf("content type: %q", ct)
	}

	pay := findItem(col.Items, "Pay")
	if pay.Request.Auth == nil || pay.Request.Auth.Type != "apikey" {
		t.Fatalf("apikey auth: %+v", pay.Request.Auth)
	}
	if pay.Request.Auth.Param("key") != "X-API-Key" || pay.Request.Auth.Param("in") != "header" {
		t.Fatalf("apikey params: %+v", pay.Request.Auth.APIKey)
	}
	if pay.Request.Body == nil || pay.Request.Body.Mode != "urlencoded" || len(pay.Request.Body.URLEncoded) != 2 {
		t.Fatalf("urlencoded body: %+v", pay.Request.Body)
	}
	for _, p := range pay.Request.Body.URLEncoded {
		if (p.Key == "amount") == p.Disabled {
			t.Fatalf("only required form fields should be enabled: %+v", p)
		}
	}

	health := findItem(col.Items, "Health")
	if health.Request.Auth != nil {
		t.Fatalf("empty security should disable auth: %+v", health.Request.Auth)
	}
}

func TestImportOpenAPIGeneratedTests(t *testing.T) {
	_, col, _ := importCinema(t, nil)
	create := findItem(col.Items, "Create movie")
	src := create.Events[0].Script.Source()
	for _, want := range []string{
		"pm.expect(pm.response.code).to.equal(201);",
		"pm.expect(body).to.have.property('id');",
		"pm.expect(typeof body['title']).to.equal('string');",
		"pm.expect(body['rating']).to.be.at.most(10);",
	} {
		if !strings.Contains(src, want) {
			t.Fatalf("generated script missing %q:\n%s", want, src)
		}
	}
	pay := findItem(col.Items, "Pay")
	if !strings.Contains(pay.Events[0].Script.Source(), "to.be.within(200, 299)") {
		t.Fatalf("operation without a json schema should get the status test:\n%s", pay.Events[0].Script.Source())
	}

	_, col, _ = importCinema(t, func(o *Options) {
		o.GenerateTestsSet = true
		o.GenerateTests = false
	})
	create = findItem(col.Items, "Create movie")
	if strings.Contains(create.Events[0].Script.Source(), "have.property") {
		t.Fatalf("schema tests generated although disabled")
	}
}

func TestImportOpenAPIStrictness(t *testing.T) {
	_, col, _ := importCinema(t, func(o *Options) { o.Strictness = "strict" })
	list := findItem(col.Items, "List movies")
	src := list.Events[0].Script.Source()
	if !strings.Contains(src, "typeof it === 'object' && !Array.isArray(it)") {
		t.Fatalf("strict mode should check array item types:\n%s", src)
	}
	_, col, _ = importCinema(t, func(o *Options) { o.Strictness = "loose" })
	list = findItem(col.Items, "List movies")
	if strings.Contains(list.Events[0].Script.Source(), "typeof it") {
		t.Fatalf("loose mode should not check array items")
	}
}

func TestImportOpenAPIGroupByPathAndInclude(t *testing.T) {
	res, col, _ := importCinema(t, func(o *Options) {
		o.GroupBy = "path"
		o.IncludePaths = []string{"/api/movies"}
		o.CollectionName = "Movies only"
		o.EnvironmentName = "staging"
	})
	if res.Requests != 3 {
		t.Fatalf("include filter: expected 3 requests, got %d", res.Requests)
	}
	if filepath.Base(res.CollectionPath) != "Moviesonly.postman_collection.json" {
		t.Fatalf("collection path: %s", res.CollectionPath)
	}
	if filepath.Base(res.EnvironmentPath) != "staging.environment.json" {
		t.Fatalf("environment path: %s", res.EnvironmentPath)
	}
	var folders []string
	for _, it := range col.Items {
		folders = append(folders, it.Name)
	}
	if strings.Join(folders, ",") != "api,api/movies" {
		t.Fatalf("path folders: %v", folders)
	}
}

// The generated scripts must pass against a server honouring the document.
func TestImportedCollectionRunsGreen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/health":
			_, _ = w.Write([]byte(`{"status":true}`))
		case r.URL.Path == "/api/movies" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`[{"id":1,"title":"Alien","rating":8.5}]`))
		case r.URL.Path == "/api/movies" && r.Method == http.MethodPost:
			var in map[string]any
			_ = json.NewDecoder(r.Body).Decode(&in)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 2, "title": in["title"], "rating": in["rating"]})
		case r.URL.Path == "/api/movies/1":
			_, _ = w.Write([]byte(`{"id":1,"title":"Alien"}`))
		case r.URL.Path == "/api/payments":
			if r.Header.Get("X-API-Key") != placeholder {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	_, col, env := importCinema(t, nil)
	env.Set("baseUrl", srv.URL)

	e, err := engine.New(context.Background(), engine.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	sum, err := e.Run(context.Background(), engine.RunOptions{Collection: col, Environment: env})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sum.Executions) != 5 {
		t.Fatalf("expected 5 executions, got %d", len(sum.Executions))
	}
	if len(sum.Failures) != 0 {
		t.Fatalf("expected a green run, got %+v", sum.Failures)
	}
	if sum.Stats.Assertions.Total != 5 {
		t.Fatalf("expected one assertion per request, got %+v", sum.Stats.Assertions)
	}
}

func TestImportSwagger2(t *testing.T) {
	res, err := ImportOpenAPI(context.Background(), Options{
		Source:    filepath.Join("testdata", "petstore.swagger.json"),
		OutputDir: t.TempDir(),
		Logger:    quietLogger(),
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	col, err := collection.LoadCollection(res.CollectionPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	env, err := collection.LoadEnvironment(res.EnvironmentPath)
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	if got := env.Map()["baseUrl"]; got != "https://petstore.example.com/v1" {
		t.Fatalf("baseUrl: %q", got)
	}
	pet := findItem(col.Items, "showPet")
	if pet == nil {
		t.Fatalf("showPet missing: %+v", col.Items)
	}
	if pet.Request.URL.Raw != "{{baseUrl}}/pets/:petId" {
		t.Fatalf("raw url: %q", pet.Request.URL.Raw)
	}
	if pet.Request.Auth == nil || pet.Request.Auth.Type != "apikey" || pet.Request.Auth.Param("in") != "query" {
		t.Fatalf("query apikey auth: %+v", pet.Request.Auth)
	}
}

func TestImportBlocksFileRefsOutsideSourceTree(t *testing.T) {
	src := filepath.Join("testdata", "refs", "spec", "api.yaml")
	_, err := ImportOpenAPI(context.Background(), Options{Source: src, OutputDir: t.TempDir(), Logger: quietLogger()})
	if err == nil || !strings.Contains(err.Error(), "file ref blocked") {
		t.Fatalf("expected blocked ref error, got %v", err)
	}

	out := t.TempDir()
	res, err := ImportOpenAPI(context.Background(), Options{Source: src, OutputDir: out, AllowFileRefs: true, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("import with file refs: %v", err)
	}
	if _, err := os.Stat(res.CollectionPath); err != nil {
		t.Fatalf("collection not written: %v", err)
	}
}

func TestImportRequiresSourceAndOutput(t *testing.T) {
	if _, err := ImportOpenAPI(context.Background(), Options{OutputDir: t.TempDir()}); err == nil {
		t.Fatalf("expected error without source")
	}
	if _, err := ImportOpenAPI(context.Background(), Options{Source: "x.yaml"}); err == nil {
		t.Fatalf("expected error without output dir")
	}
}

func TestToPostmanRouteAndFileStem(t *testing.T) {
	if got := toPostmanRoute("/a/{b}/c/{d_e}"); got != "/a/:b/c/:d_e" {
		t.Fatalf("route: %s", got)
	}
	if got := fileStem(" My API: v2 "); got != "MyAPI_v2" {
		t.Fatalf("stem: %s", got)
	}
	if got := fileStem("  "); got != "imported" {
		t.Fatalf("empty stem: %s", got)
	}
}

func TestToVarName(t *testing.T) {
	cases := map[string]string{
		"apiKey":        "apikey",
		"X-API-Key":     "xApiKey",
		"petstore_auth": "petstoreAuth",
		"--":            "auth",
	}
	for in, want := range cases {
		if got := toVarName(in); got != want {
			t.Fatalf("toVarName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsSafeLocalRefStaysInsideSourceTree(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "spec")
	cases := map[string]bool{
		filepath.Join(base, "schemas", "movie.yaml"): true,
		filepath.Join(base, "..foo.yaml"):            true,
		filepath.Join(root, "spec-evil", "x.yaml"):   false,
		filepath.Join(root, "outside.yaml"):          false,
		"":                                           false,
	}
	for ref, want := range cases {
		if got := isSafeLocalRef(ref, base, false); got != want {
			t.Fatalf("isSafeLocalRef(%q): want %v got %v", ref, want, got)
		}
	}
	if !isSafeLocalRef(filepath.Join(root, "spec-evil", "x.yaml"), base, true) {
		t.Fatalf("allow-file-refs should permit any local ref")
	}
}
