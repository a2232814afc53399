package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/oasdiff/yaml"
)

// loadDocument reads the source (file or URL) and returns an OpenAPI 3
// document, converting Swagger 2 on the way. opts.Source is made absolute
// and opts.BaseLocation is set for later example resolution.
func loadDocument(ctx context.Context, opts *Options) (*openapi3.T, error) {
	var (
		data     []byte
		err      error
		location *url.URL
	)
	if isURL(opts.Source) {
		client := http.DefaultClient
		if opts.Insecure {
			client = insecureHTTPClient()
		}
		data, err = fetchWithClient(opts.Source, client)
		location = mustParse(opts.Source)
	} else {
		if !filepath.IsAbs(opts.Source) {
			if abs, errAbs := filepath.Abs(opts.Source); errAbs == nil {
				opts.Source = abs
			}
		}
		data, err = os.ReadFile(opts.Source)
		location = &url.URL{Path: filepath.ToSlash(opts.Source)}
	}
	if err != nil {
		return nil, fmt.Errorf("load openapi source: %w", err)
	}
	opts.BaseLocation = location

	data = normalizeExampleValues(data)

	var doc *openapi3.T
	if isSwagger2Data(data) {
		doc, err = loadSwaggerAsV3(ctx, data, location, *opts)
	} else {
		doc, err = loadOpenAPIv3(ctx, data, location, *opts)
	}
	if err != nil {
		return nil, fmt.Errorf("load openapi: %w", err)
	}
	return doc, nil
}

// normalizeExampleValues hoists vendor example fields (exampleValue,
// x-example) into the standard example slots.
func normalizeExampleValues(data []byte) []byte {
	var obj any
	if err := yaml.Unmarshal(data, &obj); err != nil {
		return data
	}
	obj = fixExampleValue(obj, "")
	out, err := json.Marshal(obj)
	if err != nil {
		return data
	}
	return out
}

func fixExampleValue(node any, parentKey string) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			switch k {
			case "exampleValue":
				fixed := fixExampleValue(val, k)
				if _, ok := out["example"]; !ok {
					out["example"] = fixed
				}
				if parentKey == "examples" {
					if _, ok := out["value"]; !ok {
						out["value"] = fixed
					}
				}
			case "x-example":
				if _, ok := out["example"]; !ok {
					out["example"] = fixExampleValue(val, k)
				}
			default:
				out[k] = fixExampleValue(val, k)
			}
		}
		return out
	case []any:
		for i := range v {
			v[i] = fixExampleValue(v[i], parentKey)
		}
		return v
	default:
		return v
	}
}

func isSwagger2Data(data []byte) bool {
	lower := bytes.ToLower(data)
	hasKey := bytes.Contains(lower, []byte(`"swagger"`)) || bytes.Contains(lower, []byte("swagger:"))
	return hasKey && bytes.Contains(lower, []byte("2.0"))
}

func newLoader(ctx context.Context, opts Options) *openapi3.Loader {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true
	loader.Context = ctx
	client := http.DefaultClient
	if opts.Insecure || opts.AllowRemoteRefs {
		client = insecureHTTPClient()
	}
	loader.ReadFromURIFunc = func(_ *openapi3.Loader, u *url.URL) ([]byte, error) {
		return fetchExternal(u, client, opts)
	}
	return loader
}

func loadOpenAPIv3(ctx context.Context, data []byte, location *url.URL, opts Options) (*openapi3.T, error) {
	loader := newLoader(ctx, opts)
	if location != nil {
		return loader.LoadFromDataWithPath(data, location)
	}
	return loader.LoadFromData(data)
}

func loadSwaggerAsV3(ctx context.Context, data []byte, location *url.URL, opts Options) (*openapi3.T, error) {
	var doc2 openapi2.T
	if err := json.Unmarshal(data, &doc2); err != nil {
		if err2 := yaml.Unmarshal(data, &doc2); err2 != nil {
			return nil, fmt.Errorf("unmarshal swagger: %v / %v", err, err2)
		}
	}
	if doc2.Swagger == "" {
		return nil, fmt.Errorf("invalid swagger: missing swagger field")
	}
	return openapi2conv.ToV3WithLoader(&doc2, newLoader(ctx, opts), location)
}

func fetchExternal(u *url.URL, client *http.Client, opts Options) ([]byte, error) {
	if u.Scheme == "" || u.Scheme == "file" {
		if !allowLocalRef(u, opts) {
			return nil, fmt.Errorf("file ref blocked: %s (use --allow-file-refs)", u.String())
		}
		return os.ReadFile(u.Path)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported external ref scheme: %s", u.Scheme)
	}
	if !opts.AllowRemoteRefs && !sameOrigin(u, opts.Source) {
		return nil, fmt.Errorf("remote external ref blocked: %s (use --allow-remote-refs)", u.String())
	}
	return fetchWithClient(u.String(), client)
}

func sameOrigin(ref *url.URL, source string) bool {
	srcURL, err := url.Parse(source)
	if err != nil || srcURL.Scheme == "" {
		return false
	}
	return srcURL.Scheme == ref.Scheme && srcURL.Host == ref.Host
}

// allowLocalRef permits a local $ref only when the root source is a local
// file and the ref stays inside its directory tree.
func allowLocalRef(u *url.URL, opts Options) bool {
	if opts.AllowFileRefs {
		return true
	}
	srcURL, err := url.Parse(opts.Source)
	if err != nil || srcURL.Scheme == "http" || srcURL.Scheme == "https" {
		return false
	}
	baseDir := filepath.Clean(filepath.Dir(opts.Source))
	refPath := u.Path
	if !filepath.IsAbs(refPath) {
		refPath = filepath.Join(baseDir, refPath)
	}
	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return false
	}
	refAbs, err := filepath.Abs(filepath.Clean(refPath))
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(baseAbs, refAbs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
