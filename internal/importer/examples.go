package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"pkt.systems/postrun/internal/collection"
)

// requestBody picks a media type from the request body content and
// returns the Postman body plus the Content-Type to send with it.
func requestBody(content openapi3.Content, sourceDir string, opts Options) (*collection.Body, string) {
	if len(content) == 0 {
		return nil, ""
	}
	for _, mt := range []string{"application/json", "application/xml", "text/xml"} {
		if media := content.Get(mt); media != nil {
			return rawBody(media, mt, sourceDir, opts), mt
		}
	}
	if media := content.Get("application/x-www-form-urlencoded"); media != nil {
		return &collection.Body{Mode: "urlencoded", URLEncoded: formParams(media)}, "application/x-www-form-urlencoded"
	}
	if media := content.Get("multipart/form-data"); media != nil {
		return &collection.Body{Mode: "formdata", FormData: formParams(media)}, ""
	}
	types := make([]string, 0, len(content))
	for mt := range content {
		types = append(types, mt)
	}
	slices.Sort(types)
	mt := types[0]
	return rawBody(content[mt], mt, sourceDir, opts), mt
}

func rawBody(media *openapi3.MediaType, mediaType, sourceDir string, opts Options) *collection.Body {
	kind := bodyKindFromMediaType(mediaType)
	body := &collection.Body{Mode: "raw", Options: &collection.BodyOptions{}}
	body.Options.Raw.Language = kind
	body.Raw = exampleFromMedia(media, mediaType, sourceDir, opts)
	if body.Raw == "" && kind == "json" {
		body.Raw = "{}"
	}
	return body
}

// exampleFromMedia prefers named examples, then the media example, then
// the schema example, then a synthesized JSON document.
func exampleFromMedia(media *openapi3.MediaType, mediaType, sourceDir string, opts Options) string {
	if media == nil {
		return ""
	}
	names := make([]string, 0, len(media.Examples))
	for name := range media.Examples {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		ex := media.Examples[name]
		if ex == nil || ex.Value == nil {
			continue
		}
		if ex.Value.Value != nil {
			if body := examplePayload(ex.Value.Value, sourceDir, opts, mediaType); body != "" {
				return body
			}
		}
		if ex.Value.ExternalValue != "" {
			if body := loadExternalExample(ex.Value.ExternalValue, sourceDir, opts); body != "" {
				return body
			}
		}
	}
	if media.Example != nil {
		if body := examplePayload(media.Example, sourceDir, opts, mediaType); body != "" {
			return body
		}
	}
	if media.Schema != nil && media.Schema.Value != nil {
		if media.Schema.Value.Example != nil {
			if body := examplePayload(media.Schema.Value.Example, sourceDir, opts, mediaType); body != "" {
				return body
			}
		}
		if bodyKindFromMediaType(mediaType) == "json" {
			if ex, ok := synthesizeExample(media.Schema); ok {
				return marshalExample(ex)
			}
		}
	}
	return ""
}

// formParams lists the schema properties of a form body; required ones
// are enabled, optional ones disabled.
func formParams(media *openapi3.MediaType) []collection.FormParam {
	if media == nil || media.Schema == nil || media.Schema.Value == nil {
		return nil
	}
	s := media.Schema.Value
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	slices.Sort(names)
	params := make([]collection.FormParam, 0, len(names))
	for _, name := range names {
		value := ""
		if ex, ok := synthesizeExample(s.Properties[name]); ok {
			value = scalarString(ex)
		}
		params = append(params, collection.FormParam{
			Key:      name,
			Value:    value,
			Type:     "text",
			Disabled: !slices.Contains(s.Required, name),
		})
	}
	return params
}

func bodyKindFromMediaType(mt string) string {
	mt = strings.ToLower(mt)
	switch {
	case strings.Contains(mt, "json"):
		return "json"
	case strings.Contains(mt, "xml"):
		return "xml"
	default:
		return "text"
	}
}

func examplePayload(v any, sourceDir string, opts Options, mediaType string) string {
	isXML := strings.Contains(strings.ToLower(mediaType), "xml")
	if s, ok := v.(string); ok {
		if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "file://") || fileExists(filepath.Join(sourceDir, s)) || filepath.IsAbs(s) {
			if body := loadExternalExample(s, sourceDir, opts); body != "" {
				if !isXML && json.Valid([]byte(body)) {
					var buf bytes.Buffer
					if err := json.Indent(&buf, []byte(body), "", "  "); err == nil {
						return buf.String()
					}
				}
				return body
			}
		}
		if isXML || bodyKindFromMediaType(mediaType) == "text" {
			return strings.TrimSpace(s)
		}
	}
	if isXML {
		// Objects are not marshalled to XML; only string examples are used.
		return ""
	}
	return marshalExample(v)
}

func marshalExample(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

func loadExternalExample(ref string, sourceDir string, opts Options) string {
	if after, ok := strings.CutPrefix(ref, "file://"); ok {
		ref = after
	}
	base := opts.BaseLocation
	if base != nil && base.Scheme != "" && base.Host != "" {
		if u, err := base.Parse(ref); err == nil {
			ref = u.String()
		}
	} else if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") && !filepath.IsAbs(ref) {
		ref = filepath.Join(sourceDir, ref)
	}

	if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Host != "" {
		same := base != nil && (base.Scheme == "http" || base.Scheme == "https") &&
			base.Scheme == u.Scheme && base.Host == u.Host
		if !same && !opts.AllowRemoteRefs {
			return ""
		}
		client := http.DefaultClient
		if opts.Insecure {
			client = insecureHTTPClient()
		}
		resp, err := client.Get(ref)
		if err != nil {
			return ""
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return ""
		}
		return string(b)
	}

	path := ref
	if !filepath.IsAbs(path) && base != nil && base.Path != "" {
		path = filepath.Clean(filepath.Join(filepath.Dir(base.Path), ref))
	}
	if !isSafeLocalRef(path, filepath.Dir(opts.Source), opts.AllowFileRefs) {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(b)
}

// synthesizeExample builds a minimal value from the schema: required
// object fields only, one array element, zero values for scalars.
func synthesizeExample(sref *openapi3.SchemaRef) (any, bool) {
	if sref == nil || sref.Value == nil {
		return nil, false
	}
	s := sref.Value
	if s.Example != nil {
		return s.Example, true
	}
	if len(s.Enum) > 0 {
		return s.Enum[0], true
	}
	switch firstType(s) {
	case "object":
		obj := map[string]any{}
		for name, prop := range s.Properties {
			if prop == nil || prop.Value == nil {
				continue
			}
			if len(s.Required) > 0 && !slices.Contains(s.Required, name) {
				continue
			}
			if ex, ok := synthesizeExample(prop); ok {
				obj[name] = ex
			}
		}
		return obj, true
	case "array":
		if s.Items != nil {
			if ex, ok := synthesizeExample(s.Items); ok {
				return []any{ex}, true
			}
		}
		return []any{}, true
	case "integer", "number":
		return 0, true
	case "boolean":
		return true, true
	default:
		return "string", true
	}
}

func scalarString(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case nil:
		return ""
	case map[string]any, []any:
		return marshalExample(vv)
	default:
		return fmt.Sprint(vv)
	}
}

func firstType(s *openapi3.Schema) string {
	if s == nil || s.Type == nil || len(*s.Type) == 0 {
		return ""
	}
	return (*s.Type)[0]
}
