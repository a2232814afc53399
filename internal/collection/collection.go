// Package collection models Postman v2.1 collections and environments.
//
// Decoding is tolerant of the shapes exported by Postman and newman: a
// request may be a bare URL string, a URL may be a string or an object,
// and script bodies may be a single string or a list of lines.
package collection

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaV21 is the schema URL written into collections produced by this module.
const SchemaV21 = "https://schema.getpostman.com/json/collection/v2.1.0/collection.json"

// Info describes the collection.
type Info struct {
	PostmanID   string `json:"_postman_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Schema      string `json:"schema"`
}

// Collection is a parsed Postman collection.
type Collection struct {
	Info      Info       `json:"info"`
	Items     []Item     `json:"item"`
	Events    []Event    `json:"event,omitempty"`
	Variables []Variable `json:"variable,omitempty"`
	Auth      *Auth      `json:"auth,omitempty"`
}

// Item is either a request or a folder (when Items is non-empty or Request is nil).
type Item struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Items       []Item     `json:"item,omitempty"`
	Request     *Request   `json:"request,omitempty"`
	Events      []Event    `json:"event,omitempty"`
	Variables   []Variable `json:"variable,omitempty"`
	Auth        *Auth      `json:"auth,omitempty"`
}

// IsFolder reports whether the item groups other items.
func (i Item) IsFolder() bool {
	return i.Request == nil || i.Items != nil
}

// Request describes one HTTP request.
type Request struct {
	Method      string   `json:"method,omitempty"`
	URL         URL      `json:"url"`
	Header      []Header `json:"header,omitempty"`
	Body        *Body    `json:"body,omitempty"`
	Auth        *Auth    `json:"auth,omitempty"`
	Description string   `json:"description,omitempty"`
}

// UnmarshalJSON accepts both the object form and a bare URL string.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*r = Request{Method: "GET", URL: URL{Raw: raw}}
		return nil
	}
	type plain Request
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Request(p)
	if r.Method == "" {
		r.Method = "GET"
	}
	return nil
}

// URL is the request URL. Raw is authoritative when present.
type URL struct {
	Raw       string       `json:"raw,omitempty"`
	Protocol  string       `json:"protocol,omitempty"`
	Host      []string     `json:"host,omitempty"`
	Port      string       `json:"port,omitempty"`
	Path      []string     `json:"path,omitempty"`
	Query     []QueryParam `json:"query,omitempty"`
	Variables []Variable   `json:"variable,omitempty"`
}

// UnmarshalJSON accepts both the object form and a bare string. Host and
// path may themselves be strings in older exports.
func (u *URL) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*u = URL{Raw: raw}
		return nil
	}
	var obj struct {
		Raw       string          `json:"raw"`
		Protocol  string          `json:"protocol"`
		Host      json.RawMessage `json:"host"`
		Port      string          `json:"port"`
		Path      json.RawMessage `json:"path"`
		Query     []QueryParam    `json:"query"`
		Variables []Variable      `json:"variable"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	host, err := stringOrList(obj.Host, ".")
	if err != nil {
		return fmt.Errorf("url host: %w", err)
	}
	path, err := stringOrList(obj.Path, "/")
	if err != nil {
		return fmt.Errorf("url path: %w", err)
	}
	*u = URL{
		Raw:       obj.Raw,
		Protocol:  obj.Protocol,
		Host:      host,
		Port:      obj.Port,
		Path:      path,
		Query:     obj.Query,
		Variables: obj.Variables,
	}
	return nil
}

// String renders the URL, preferring Raw when it is set.
func (u URL) String() string {
	if u.Raw != "" {
		return u.Raw
	}
	var b strings.Builder
	if u.Protocol != "" {
		b.WriteString(u.Protocol)
		b.WriteString("://")
	}
	b.WriteString(strings.Join(u.Host, "."))
	if u.Port != "" {
		b.WriteString(":")
		b.WriteString(u.Port)
	}
	if len(u.Path) > 0 {
		b.WriteString("/")
		b.WriteString(strings.Join(u.Path, "/"))
	}
	var qs []string
	for _, q := range u.Query {
		if q.Disabled {
			continue
		}
		qs = append(qs, q.Key+"="+q.Value)
	}
	if len(qs) > 0 {
		b.WriteString("?")
		b.WriteString(strings.Join(qs, "&"))
	}
	return b.String()
}

// QueryParam is a URL query parameter.
type QueryParam struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Header is a request header.
type Header struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Body is a request body. Mode selects which field is used.
type Body struct {
	Mode       string       `json:"mode"`
	Raw        string       `json:"raw,omitempty"`
	URLEncoded []FormParam  `json:"urlencoded,omitempty"`
	FormData   []FormParam  `json:"formdata,omitempty"`
	GraphQL    *GraphQL     `json:"graphql,omitempty"`
	Options    *BodyOptions `json:"options,omitempty"`
	Disabled   bool         `json:"disabled,omitempty"`
}

// BodyOptions carries per-mode hints such as the raw language.
type BodyOptions struct {
	Raw struct {
		Language string `json:"language,omitempty"`
	} `json:"raw"`
}

// Language returns the raw body language hint (json, xml, text, ...).
func (b Body) Language() string {
	if b.Options == nil {
		return ""
	}
	return strings.ToLower(b.Options.Raw.Language)
}

// FormParam is a urlencoded or multipart field. Type is "text" or "file".
type FormParam struct {
	Key         string `json:"key"`
	Value       string `json:"value,omitempty"`
	Type        string `json:"type,omitempty"`
	Src         any    `json:"src,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Disabled    bool   `json:"disabled,omitempty"`
}

// GraphQL is the graphql body mode payload.
type GraphQL struct {
	Query     string `json:"query"`
	Variables string `json:"variables,omitempty"`
}

// Event attaches a script to a lifecycle hook ("prerequest" or "test").
type Event struct {
	Listen   string `json:"listen"`
	Script   Script `json:"script"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Event listen values.
const (
	ListenPrerequest = "prerequest"
	ListenTest       = "test"
)

// Script holds JavaScript source lines.
type Script struct {
	ID   string   `json:"id,omitempty"`
	Type string   `json:"type,omitempty"`
	Exec []string `json:"exec"`
}

// UnmarshalJSON accepts exec as a string or a list of lines.
func (s *Script) UnmarshalJSON(data []byte) error {
	var obj struct {
		ID   string          `json:"id"`
		Type string          `json:"type"`
		Exec json.RawMessage `json:"exec"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	lines, err := stringOrList(obj.Exec, "")
	if err != nil {
		return fmt.Errorf("script exec: %w", err)
	}
	*s = Script{ID: obj.ID, Type: obj.Type, Exec: lines}
	return nil
}

// Source joins the script lines.
func (s Script) Source() string {
	return strings.Join(s.Exec, "\n")
}

// Variable is a key/value binding at collection, item or url scope.
type Variable struct {
	ID       string `json:"id,omitempty"`
	Key      string `json:"key"`
	Value    any    `json:"value"`
	Type     string `json:"type,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// StringValue renders Value as a string the way scripts observe it.
func (v Variable) StringValue() string {
	return stringify(v.Value)
}

// Auth configures request authentication.
type Auth struct {
	Type   string      `json:"type"`
	Bearer []AuthParam `json:"bearer,omitempty"`
	Basic  []AuthParam `json:"basic,omitempty"`
	APIKey []AuthParam `json:"apikey,omitempty"`
}

// AuthParam is one auth attribute (token, username, key, in, ...).
type AuthParam struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
	Type  string `json:"type,omitempty"`
}

// Param looks up an attribute of the active auth type.
func (a Auth) Param(key string) string {
	var params []AuthParam
	switch strings.ToLower(a.Type) {
	case "bearer":
		params = a.Bearer
	case "basic":
		params = a.Basic
	case "apikey":
		params = a.APIKey
	}
	for _, p := range params {
		if p.Key == key {
			return stringify(p.Value)
		}
	}
	return ""
}

func stringOrList(raw json.RawMessage, sep string) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		if sep == "" {
			return strings.Split(s, "\n"), nil
		}
		return strings.Split(strings.Trim(s, sep), sep), nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func stringify(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case float64, bool, json.Number:
		return fmt.Sprint(vv)
	default:
		b, err := json.Marshal(vv)
		if err != nil {
			return fmt.Sprint(vv)
		}
		return string(b)
	}
}
