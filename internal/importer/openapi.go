// Package importer converts OpenAPI 3 and Swagger 2 documents into a
// Postman collection plus a matching environment file.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"
	"pkt.systems/pslog"

	"pkt.systems/postrun/internal/collection"
)

// DefaultEnvironment names the environment file written next to the collection.
const DefaultEnvironment = "local"

var verbs = []string{"get", "post", "put", "patch", "delete", "options", "head", "trace"}

// ImportOpenAPI loads opts.Source and writes
// <OutputDir>/<name>.postman_collection.json and
// <OutputDir>/<environment>.environment.json.
func ImportOpenAPI(ctx context.Context, opts Options) (Result, error) {
	if strings.TrimSpace(opts.Source) == "" {
		return Result{}, errors.New("import: source is required")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return Result{}, errors.New("import: output directory is required")
	}
	doc, err := loadDocument(ctx, &opts)
	if err != nil {
		return Result{}, err
	}
	if !opts.GenerateTestsSet {
		opts.GenerateTests = true
	}

	log := opts.Logger
	if log == nil {
		log = pslog.NewWithOptions(os.Stdout, pslog.Options{Mode: pslog.ModeConsole, MinLevel: pslog.InfoLevel})
	}
	log = log.With("fn", pslog.CurrentFn())

	if verr := doc.Validate(ctx); verr != nil {
		log.Warn("import.openapi.validate.warn", "err", verr)
	}
	log.Info("import.openapi.start", "source", opts.Source, "output", opts.OutputDir)

	baseURL := "https://api.example.com"
	if len(doc.Servers) > 0 && doc.Servers[0].URL != "" {
		baseURL = strings.TrimSuffix(doc.Servers[0].URL, "/")
	}
	name := opts.CollectionName
	if name == "" {
		name = "imported-openapi"
		if doc.Info != nil && doc.Info.Title != "" {
			name = doc.Info.Title
		}
	}
	envName := opts.EnvironmentName
	if envName == "" {
		envName = DefaultEnvironment
	}

	b := &builder{
		opts:      opts,
		doc:       doc,
		log:       log,
		level:     parseStrictness(opts.Strictness),
		sourceDir: filepath.Dir(opts.Source),
		env:       map[string]string{"baseUrl": baseURL},
		folders:   map[string]*collection.Item{},
	}
	var routes []string
	if doc.Paths != nil {
		routes = doc.Paths.InMatchingOrder()
	}
	slices.Sort(routes)
	for _, route := range routes {
		if !shouldIncludePath(route, opts.IncludePaths) {
			continue
		}
		b.addPath(route, doc.Paths.Value(route))
	}

	col := collection.Collection{
		Info: collection.Info{
			PostmanID: uuid.NewString(),
			Name:      name,
			Schema:    collection.SchemaV21,
		},
		Items: b.items(),
	}
	if doc.Info != nil {
		col.Info.Description = doc.Info.Description
	}
	env := collection.Environment{ID: uuid.NewString(), Name: envName, Scope: "environment"}
	for _, k := range sortedKeys(b.env) {
		env.Set(k, b.env[k])
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return Result{}, err
	}
	res := Result{
		CollectionPath:  filepath.Join(opts.OutputDir, fileStem(name)+".postman_collection.json"),
		EnvironmentPath: filepath.Join(opts.OutputDir, fileStem(envName)+".environment.json"),
		Requests:        b.count,
	}
	if err := writeValidated(res.CollectionPath, col, collection.ValidateCollection); err != nil {
		return Result{}, fmt.Errorf("write collection: %w", err)
	}
	if err := writeValidated(res.EnvironmentPath, env, collection.ValidateEnvironment); err != nil {
		return Result{}, fmt.Errorf("write environment: %w", err)
	}
	log.Debug("import.openapi.env.write", "path", res.EnvironmentPath, "vars", len(b.env))
	log.Info("import.openapi.done", "collection", res.CollectionPath, "requests", res.Requests)
	return res, nil
}

// writeValidated checks v against the embedded schema before writing it.
func writeValidated(path string, v any, validate func([]byte) error) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := validate(data); err != nil {
		return err
	}
	return collection.WriteFile(path, v)
}

type builder struct {
	opts      Options
	doc       *openapi3.T
	log       pslog.Logger
	level     StrictnessLevel
	sourceDir string
	env       map[string]string

	root    []collection.Item
	folders map[string]*collection.Item
	order   []string
	names   map[string]int
	count   int
}

func (b *builder) addPath(route string, item *openapi3.PathItem) {
	if item == nil {
		return
	}
	for _, verb := range verbs {
		op := item.GetOperation(strings.ToUpper(verb))
		if op == nil {
			continue
		}
		params := append(openapi3.Parameters{}, item.Parameters...)
		params = append(params, op.Parameters...)
		req := b.request(route, verb, op, params)
		name := b.uniqueName(b.operationName(route, verb, op))
		entry := collection.Item{
			ID:          uuid.NewString(),
			Name:        name,
			Description: op.Description,
			Request:     req,
			Events: []collection.Event{{
				Listen: collection.ListenTest,
				Script: collection.Script{Type: "text/javascript", Exec: b.testScript(op, name, route)},
			}},
		}
		b.place(b.folderFor(route, op), entry)
		b.count++
		b.log.Info("import.openapi.op.write", "op", name, "path", route, "verb", strings.ToUpper(verb))
	}
}

func (b *builder) operationName(route, verb string, op *openapi3.Operation) string {
	switch {
	case op.Summary != "":
		return op.Summary
	case op.OperationID != "":
		return op.OperationID
	default:
		return strings.ToUpper(verb) + " " + route
	}
}

func (b *builder) uniqueName(name string) string {
	if b.names == nil {
		b.names = map[string]int{}
	}
	b.names[name]++
	if n := b.names[name]; n > 1 {
		return fmt.Sprintf("%s (%d)", name, n)
	}
	return name
}

func (b *builder) folderFor(route string, op *openapi3.Operation) string {
	var folder string
	switch b.opts.GroupBy {
	case "path":
		folder = strings.Trim(path.Dir(route), "/")
		if folder == "" || folder == "." {
			folder = strings.Trim(route, "/")
		}
		folder = pathParamRe.ReplaceAllString(folder, ":$1")
	default:
		if len(op.Tags) > 0 {
			folder = op.Tags[0]
		}
	}
	if folder == "." || folder == "/" {
		return ""
	}
	return folder
}

func (b *builder) place(folder string, entry collection.Item) {
	if folder == "" {
		b.root = append(b.root, entry)
		return
	}
	f, ok := b.folders[folder]
	if !ok {
		f = &collection.Item{ID: uuid.NewString(), Name: folder, Items: []collection.Item{}}
		if tag := b.doc.Tags.Get(folder); tag != nil {
			f.Description = tag.Description
		}
		b.folders[folder] = f
		b.order = append(b.order, folder)
	}
	f.Items = append(f.Items, entry)
}

func (b *builder) items() []collection.Item {
	out := make([]collection.Item, 0, len(b.order)+len(b.root))
	for _, name := range b.order {
		out = append(out, *b.folders[name])
	}
	return append(out, b.root...)
}

func (b *builder) request(route, verb string, op *openapi3.Operation, params openapi3.Parameters) *collection.Request {
	pmRoute := toPostmanRoute(route)
	u := collection.URL{
		Raw:  "{{baseUrl}}" + pmRoute,
		Host: []string{"{{baseUrl}}"},
		Path: strings.Split(strings.Trim(pmRoute, "/"), "/"),
	}
	req := &collection.Request{Method: strings.ToUpper(verb), Description: op.Description}

	var query []string
	for _, pref := range params {
		if pref == nil || pref.Value == nil {
			continue
		}
		p := pref.Value
		value := paramExample(p)
		switch p.In {
		case openapi3.ParameterInPath:
			u.Variables = append(u.Variables, collection.Variable{Key: p.Name, Value: value, Type: "string"})
		case openapi3.ParameterInQuery:
			u.Query = append(u.Query, collection.QueryParam{Key: p.Name, Value: value, Disabled: !p.Required})
			if p.Required {
				query = append(query, p.Name+"="+value)
			}
		case openapi3.ParameterInHeader:
			req.Header = append(req.Header, collection.Header{Key: p.Name, Value: value, Disabled: !p.Required})
		}
	}

	auth, hdrs, qs, envAdd := requestAuth(firstSecurity(op, b.doc), b.doc)
	req.Auth = auth
	req.Header = append(req.Header, hdrs...)
	for _, q := range qs {
		u.Query = append(u.Query, q)
		query = append(query, q.Key+"="+q.Value)
	}
	maps.Copy(b.env, envAdd)
	if len(query) > 0 {
		u.Raw += "?" + strings.Join(query, "&")
	}
	req.URL = u

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		body, contentType := requestBody(op.RequestBody.Value.Content, b.sourceDir, b.opts)
		req.Body = body
		if contentType != "" {
			req.Header = append(req.Header, collection.Header{Key: "Content-Type", Value: contentType})
		}
		if body != nil && body.Mode == "raw" && body.Raw == "" {
			b.log.Debug("import.openapi.request.example.missing", "path", route, "ct", contentType)
		}
	}
	return req
}

func (b *builder) testScript(op *openapi3.Operation, name, route string) []string {
	if !b.opts.GenerateTests {
		return defaultTestScript()
	}
	if lines := buildSchemaTests(op, b.doc, b.level, b.log); len(lines) > 0 {
		b.log.Debug("import.openapi.tests.schema", "op", name, "path", route)
		return lines
	}
	b.log.Debug("import.openapi.tests.default", "op", name, "path", route)
	return defaultTestScript()
}

func paramExample(p *openapi3.Parameter) string {
	if p.Example != nil {
		return scalarString(p.Example)
	}
	for _, name := range sortedKeys(p.Examples) {
		if ex := p.Examples[name]; ex != nil && ex.Value != nil && ex.Value.Value != nil {
			return scalarString(ex.Value.Value)
		}
	}
	if v, ok := synthesizeExample(p.Schema); ok {
		return scalarString(v)
	}
	return ""
}

func shouldIncludePath(route string, includes []string) bool {
	if len(includes) == 0 {
		return true
	}
	for _, p := range includes {
		if p == route || strings.HasPrefix(route, p) {
			return true
		}
	}
	return false
}

var pathParamRe = regexp.MustCompile(`\{([^}]+)\}`)

// toPostmanRoute rewrites {id} path templates to Postman's :id form.
func toPostmanRoute(route string) string {
	return pathParamRe.ReplaceAllString(route, ":$1")
}
