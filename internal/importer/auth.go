package importer

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pkt.systems/postrun/internal/collection"
)

const placeholder = "CHANGEME"

func firstSecurity(op *openapi3.Operation, doc *openapi3.T) openapi3.SecurityRequirement {
	if op != nil && op.Security != nil {
		if len(*op.Security) == 0 {
			return nil
		}
		return (*op.Security)[0]
	}
	if doc != nil && len(doc.Security) > 0 {
		return doc.Security[0]
	}
	return nil
}

// requestAuth maps a security requirement onto Postman auth. The first
// scheme (by name) that Postman can express natively becomes the request
// auth; cookie api keys and any further schemes become headers or query
// parameters. env receives a placeholder for every variable referenced.
func requestAuth(sec openapi3.SecurityRequirement, doc *openapi3.T) (auth *collection.Auth, headers []collection.Header, query []collection.QueryParam, env map[string]string) {
	env = map[string]string{}
	if sec == nil || doc == nil || doc.Components == nil || doc.Components.SecuritySchemes == nil {
		return nil, nil, nil, env
	}
	names := make([]string, 0, len(sec))
	for name := range sec {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		sref := doc.Components.SecuritySchemes[name]
		if sref == nil || sref.Value == nil {
			continue
		}
		s := sref.Value
		switch strings.ToLower(s.Type) {
		case "apikey":
			varName := toVarName(name)
			ref := fmt.Sprintf("{{%s}}", varName)
			env[varName] = placeholder
			in := strings.ToLower(s.In)
			switch {
			case in == "cookie":
				headers = append(headers, collection.Header{Key: "Cookie", Value: s.Name + "=" + ref})
			case auth == nil && (in == "header" || in == "query"):
				auth = &collection.Auth{Type: "apikey", APIKey: []collection.AuthParam{
					{Key: "key", Value: s.Name, Type: "string"},
					{Key: "value", Value: ref, Type: "string"},
					{Key: "in", Value: in, Type: "string"},
				}}
			case in == "header":
				headers = append(headers, collection.Header{Key: s.Name, Value: ref})
			case in == "query":
				query = append(query, collection.QueryParam{Key: s.Name, Value: ref})
			}
		case "http":
			switch strings.ToLower(s.Scheme) {
			case "bearer":
				env["bearerToken"] = placeholder
				auth = orBearer(auth, &headers, "{{bearerToken}}")
			case "basic":
				env["basicUsername"] = placeholder
				env["basicPassword"] = placeholder
				if auth == nil {
					auth = &collection.Auth{Type: "basic", Basic: []collection.AuthParam{
						{Key: "username", Value: "{{basicUsername}}", Type: "string"},
						{Key: "password", Value: "{{basicPassword}}", Type: "string"},
					}}
				}
			}
		case "oauth2", "openidconnect":
			env["accessToken"] = placeholder
			auth = orBearer(auth, &headers, "{{accessToken}}")
		}
	}
	return auth, headers, query, env
}

// orBearer returns a bearer auth when none is set yet, otherwise adds the
// token as an Authorization header.
func orBearer(auth *collection.Auth, headers *[]collection.Header, token string) *collection.Auth {
	if auth != nil {
		*headers = append(*headers, collection.Header{Key: "Authorization", Value: "Bearer " + token})
		return auth
	}
	return &collection.Auth{Type: "bearer", Bearer: []collection.AuthParam{{Key: "token", Value: token, Type: "string"}}}
}

var nonAlnumRe = regexp.MustCompile(`[^a-zA-Z0-9]+`)

func toVarName(name string) string {
	name = strings.Trim(nonAlnumRe.ReplaceAllString(strings.TrimSpace(name), "_"), "_")
	if name == "" {
		return "auth"
	}
	parts := strings.Split(name, "_")
	for i := range parts {
		if i == 0 {
			parts[i] = strings.ToLower(parts[i])
		} else {
			parts[i] = titleCase(parts[i])
		}
	}
	return strings.Join(parts, "")
}

func titleCase(s string) string {
	return cases.Title(language.Und).String(strings.ToLower(s))
}
