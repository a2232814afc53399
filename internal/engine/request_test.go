package engine

import (
	"context"
	"io"
	"testing"

	"pkt.systems/postrun/internal/collection"
)

func TestBuildRequestGraphQLAndPathVariables(t *testing.T) {
	item := collection.RunnableItem{Item: collection.Item{Name: "q", Request: &collection.Request{
		Method: "post",
		URL: collection.URL{
			Raw:       "{{baseUrl}}/graphql/:tenant",
			Variables: []collection.Variable{{Key: "tenant", Value: "acme"}},
		},
		Header: []collection.Header{{Key: "X-Off", Value: "1", Disabled: true}},
		Body: &collection.Body{Mode: "graphql", GraphQL: &collection.GraphQL{
			Query:     "query { movie(id: {{id}}) { title } }",
			Variables: `{"limit": 2}`,
		}},
	}}}
	scope := collection.NewScope(nil, map[string]string{"baseUrl": "localhost:9000", "id": "7"})
	built, err := buildHTTPRequest(context.Background(), newDraft(item), nil, scope)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if built.req.Method != "POST" || built.req.URL.String() != "http://localhost:9000/graphql/acme" {
		t.Fatalf("unexpected request line %s %s", built.req.Method, built.req.URL)
	}
	if built.req.Header.Get("X-Off") != "" {
		t.Fatalf("disabled header sent")
	}
	if built.req.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("graphql should default to json, got %q", built.req.Header.Get("Content-Type"))
	}
	body, _ := io.ReadAll(built.req.Body)
	want := `{"query":"query { movie(id: 7) { title } }","variables":{"limit":2}}`
	if string(body) != want || built.body != want {
		t.Fatalf("unexpected graphql payload %s", body)
	}

	overlapping := collection.RunnableItem{Item: collection.Item{Name: "ids", Request: &collection.Request{
		Method: "GET",
		URL: collection.URL{
			Raw: "{{baseUrl}}/movies/:id/:idx?sort=asc",
			Variables: []collection.Variable{
				{Key: "id", Value: "7"},
				{Key: "idx", Value: "3"},
			},
		},
	}}}
	built, err = buildHTTPRequest(context.Background(), newDraft(overlapping), nil, scope)
	if err != nil {
		t.Fatalf("build overlapping: %v", err)
	}
	if got := built.req.URL.String(); got != "http://localhost:9000/movies/7/3?sort=asc" {
		t.Fatalf("path variables should match whole segments, got %s", got)
	}
}

func TestBuildRequestKeepsExplicitContentType(t *testing.T) {
	item := collection.RunnableItem{Item: collection.Item{Name: "x", Request: &collection.Request{
		Method: "PUT",
		URL:    collection.URL{Raw: "http://example.test/x"},
		Header: []collection.Header{{Key: "Content-Type", Value: "application/vnd.api+json"}},
		Body:   &collection.Body{Mode: "raw", Raw: "{}", Options: &collection.BodyOptions{}},
	}}}
	built, err := buildHTTPRequest(context.Background(), newDraft(item), nil, collection.NewScope(nil, nil))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := built.req.Header.Get("Content-Type"); got != "application/vnd.api+json" {
		t.Fatalf("explicit content type overridden: %q", got)
	}
}

func TestBuildRequestUnknownBodyMode(t *testing.T) {
	item := collection.RunnableItem{Item: collection.Item{Name: "x", Request: &collection.Request{
		Method: "POST",
		URL:    collection.URL{Raw: "http://example.test/x"},
		Body:   &collection.Body{Mode: "carrier-pigeon"},
	}}}
	if _, err := buildHTTPRequest(context.Background(), newDraft(item), nil, collection.NewScope(nil, nil)); err == nil {
		t.Fatalf("expected error for unknown body mode")
	}
}
