package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"pkt.systems/postrun/internal/collection"
)

// draft is the mutable request that prerequest scripts see. Variables are
// resolved only when the HTTP request is built, so values set by scripts
// take effect.
type draft struct {
	Method  string
	URL     string
	Headers []collection.Header
	Body    *collection.Body
}

func newDraft(item collection.RunnableItem) *draft {
	req := item.Request
	d := &draft{Method: strings.ToUpper(req.Method), URL: req.URL.String()}
	if d.Method == "" {
		d.Method = http.MethodGet
	}
	d.URL = fillPathVariables(d.URL, req.URL.Variables)
	for _, h := range req.Header {
		if h.Disabled || h.Key == "" {
			continue
		}
		d.Headers = append(d.Headers, h)
	}
	if req.Body != nil && !req.Body.Disabled {
		b := *req.Body
		d.Body = &b
	}
	return d
}

var pathVarPattern = regexp.MustCompile(`/:([^/?#]+)`)

// fillPathVariables replaces whole /:key segments with their values.
func fillPathVariables(raw string, vars []collection.Variable) string {
	values := map[string]string{}
	for _, v := range vars {
		if v.Key == "" || v.Disabled {
			continue
		}
		values[v.Key] = v.StringValue()
	}
	if len(values) == 0 {
		return raw
	}
	return pathVarPattern.ReplaceAllStringFunc(raw, func(seg string) string {
		if v, ok := values[seg[2:]]; ok {
			return "/" + v
		}
		return seg
	})
}

func (d *draft) header(name string) (string, bool) {
	for _, h := range d.Headers {
		if strings.EqualFold(h.Key, name) {
			return h.Value, true
		}
	}
	return "", false
}

func (d *draft) addHeader(name, value string) {
	d.Headers = append(d.Headers, collection.Header{Key: name, Value: value})
}

func (d *draft) upsertHeader(name, value string) {
	for i := range d.Headers {
		if strings.EqualFold(d.Headers[i].Key, name) {
			d.Headers[i].Value = value
			return
		}
	}
	d.addHeader(name, value)
}

func (d *draft) removeHeader(name string) {
	out := d.Headers[:0]
	for _, h := range d.Headers {
		if !strings.EqualFold(h.Key, name) {
			out = append(out, h)
		}
	}
	d.Headers = out
}

// builtRequest pairs the outgoing request with a printable copy of its body.
type builtRequest struct {
	req  *http.Request
	body string
}

func buildHTTPRequest(ctx context.Context, d *draft, auth *collection.Auth, scope *collection.Scope) (builtRequest, error) {
	rawURL := scope.Replace(d.URL)
	if names := collection.Unresolved(rawURL); len(names) > 0 {
		return builtRequest{}, fmt.Errorf("unresolved variable(s) in url: %s", strings.Join(names, ", "))
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}

	headers := http.Header{}
	for _, h := range d.Headers {
		headers.Add(h.Key, scope.Replace(h.Value))
	}

	bodyReader, bodyText, contentType, err := buildBody(d.Body, scope)
	if err != nil {
		return builtRequest{}, err
	}
	if contentType != "" && headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", contentType)
	}

	req, err := http.NewRequestWithContext(ctx, d.Method, rawURL, bodyReader)
	if err != nil {
		return builtRequest{}, err
	}
	req.Header = headers
	if err := applyAuth(req, auth, scope); err != nil {
		return builtRequest{}, err
	}
	return builtRequest{req: req, body: bodyText}, nil
}

func applyAuth(req *http.Request, auth *collection.Auth, scope *collection.Scope) error {
	if auth == nil {
		return nil
	}
	switch strings.ToLower(auth.Type) {
	case "", "noauth", "inherit":
		return nil
	case "bearer":
		if req.Header.Get("Authorization") == "" {
			req.Header.Set("Authorization", "Bearer "+scope.Replace(auth.Param("token")))
		}
	case "basic":
		if req.Header.Get("Authorization") == "" {
			creds := scope.Replace(auth.Param("username")) + ":" + scope.Replace(auth.Param("password"))
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
		}
	case "apikey":
		key := scope.Replace(auth.Param("key"))
		value := scope.Replace(auth.Param("value"))
		if key == "" {
			return nil
		}
		if strings.EqualFold(auth.Param("in"), "query") {
			q := req.URL.Query()
			q.Set(key, value)
			req.URL.RawQuery = q.Encode()
			return nil
		}
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	default:
		return fmt.Errorf("unsupported auth type %q", auth.Type)
	}
	return nil
}

func buildBody(b *collection.Body, scope *collection.Scope) (io.Reader, string, string, error) {
	if b == nil {
		return http.NoBody, "", "", nil
	}
	switch strings.ToLower(b.Mode) {
	case "", "none":
		return http.NoBody, "", "", nil
	case "raw":
		text := scope.Replace(b.Raw)
		return strings.NewReader(text), text, rawContentType(b.Language()), nil
	case "urlencoded":
		vals := url.Values{}
		for _, p := range b.URLEncoded {
			if p.Disabled || p.Key == "" {
				continue
			}
			vals.Add(scope.Replace(p.Key), scope.Replace(p.Value))
		}
		enc := vals.Encode()
		return strings.NewReader(enc), enc, "application/x-www-form-urlencoded", nil
	case "formdata":
		return buildMultipart(b.FormData, scope)
	case "graphql":
		if b.GraphQL == nil {
			return http.NoBody, "", "", nil
		}
		payload := map[string]any{"query": scope.Replace(b.GraphQL.Query)}
		if vars := strings.TrimSpace(scope.Replace(b.GraphQL.Variables)); vars != "" {
			var decoded any
			if err := json.Unmarshal([]byte(vars), &decoded); err != nil {
				return nil, "", "", fmt.Errorf("graphql variables: %w", err)
			}
			payload["variables"] = decoded
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, "", "", err
		}
		return bytes.NewReader(data), string(data), "application/json", nil
	case "file":
		return http.NoBody, "", "", fmt.Errorf("body mode file is not supported")
	default:
		return nil, "", "", fmt.Errorf("unknown body mode %q", b.Mode)
	}
}

func rawContentType(language string) string {
	switch language {
	case "json":
		return "application/json"
	case "xml":
		return "application/xml"
	case "html":
		return "text/html"
	case "javascript":
		return "application/javascript"
	case "text":
		return "text/plain"
	}
	return ""
}

func buildMultipart(fields []collection.FormParam, scope *collection.Scope) (io.Reader, string, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		if f.Disabled || f.Key == "" {
			continue
		}
		name := scope.Replace(f.Key)
		if f.Type == "file" {
			src := scope.Replace(formSource(f.Src))
			if src == "" {
				continue
			}
			if err := writeFilePart(w, name, src, f.ContentType); err != nil {
				return nil, "", "", err
			}
			continue
		}
		if f.ContentType != "" {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, name))
			h.Set("Content-Type", f.ContentType)
			pw, err := w.CreatePart(h)
			if err != nil {
				return nil, "", "", err
			}
			if _, err := pw.Write([]byte(scope.Replace(f.Value))); err != nil {
				return nil, "", "", err
			}
			continue
		}
		if err := w.WriteField(name, scope.Replace(f.Value)); err != nil {
			return nil, "", "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", "", err
	}
	return &buf, "", w.FormDataContentType(), nil
}

func writeFilePart(w *multipart.Writer, name, src, contentType string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, name, filepath.Base(src)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	pw, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(pw, f)
	return err
}

// formSource accepts the string and single-element list shapes of src.
func formSource(src any) string {
	switch v := src.(type) {
	case string:
		return v
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func headerMap(h http.Header) map[string]string {
	if h == nil {
		return nil
	}
	out := map[string]string{}
	for k, vals := range h {
		out[k] = strings.Join(vals, ", ")
	}
	return out
}
