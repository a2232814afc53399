package collection

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func loadSample(t *testing.T) *Collection {
	t.Helper()
	c, err := LoadCollection(filepath.Join("testdata", "sample.postman_collection.json"))
	if err != nil {
		t.Fatalf("load collection: %v", err)
	}
	return c
}

func TestLoadCollectionTolerantShapes(t *testing.T) {
	c := loadSample(t)
	if c.Info.Name != "CinemaAbyss" {
		t.Fatalf("unexpected name %q", c.Info.Name)
	}
	health := c.Items[0]
	if health.IsFolder() {
		t.Fatalf("health should be a request")
	}
	if health.Request.Method != "GET" || health.Request.URL.String() != "{{baseUrl}}/health" {
		t.Fatalf("string request not expanded: %+v", health.Request)
	}
	if got := c.Events[0].Script.Source(); !strings.Contains(got, "pm.variables.set") {
		t.Fatalf("string exec not decoded: %q", got)
	}
	if !c.Items[1].IsFolder() || len(c.Items[1].Items) != 2 {
		t.Fatalf("movies folder not decoded: %+v", c.Items[1])
	}
	if c.Variables[1].StringValue() != "3" {
		t.Fatalf("numeric variable should stringify, got %q", c.Variables[1].StringValue())
	}
}

func TestLoadEnvironmentSkipsDisabled(t *testing.T) {
	env, err := LoadEnvironment(filepath.Join("testdata", "local.environment.json"))
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	m := env.Map()
	if m["baseUrl"] != "http://localhost:8000" || m["token"] != "secret" {
		t.Fatalf("unexpected env map %v", m)
	}
	if _, ok := m["unused"]; ok {
		t.Fatalf("disabled value should be skipped")
	}
}

func TestParseCollectionRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"not json":     `{`,
		"missing info": `{"item": []}`,
		"bad item":     `{"info":{"name":"x"},"item":[{"name":"a","request":42}]}`,
	}
	for name, raw := range cases {
		if _, err := ParseCollection([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestParseEnvironmentRejectsInvalid(t *testing.T) {
	if _, err := ParseEnvironment([]byte(`{"name":"local"}`)); err == nil {
		t.Fatalf("expected error for environment without values")
	}
}

func TestSelectFlattensWithInheritance(t *testing.T) {
	c := loadSample(t)
	items, err := c.Select("")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 runnable items, got %d", len(items))
	}
	list := items[1]
	if list.Name != "List movies" || strings.Join(list.Path, "/") != "Movies" {
		t.Fatalf("unexpected item %q path %v", list.Name, list.Path)
	}
	if list.Auth == nil || list.Auth.Param("token") != "{{token}}" {
		t.Fatalf("folder auth not inherited: %+v", list.Auth)
	}
	if got := len(list.ScriptsFor(ListenPrerequest)); got != 1 {
		t.Fatalf("expected collection prerequest inherited, got %d", got)
	}
	event := items[3]
	if event.Auth == nil || event.Auth.Type != "noauth" {
		t.Fatalf("request auth should override: %+v", event.Auth)
	}
}

func TestSelectFolderByNameAndID(t *testing.T) {
	c := loadSample(t)
	items, err := c.Select("Movies")
	if err != nil {
		t.Fatalf("select folder: %v", err)
	}
	if len(items) != 2 || items[0].Auth == nil {
		t.Fatalf("unexpected folder selection %+v", items)
	}
	items, err = c.Select("evt-movie")
	if err != nil {
		t.Fatalf("select by id: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Movie event" || items[0].Path[0] != "Events" {
		t.Fatalf("unexpected id selection %+v", items)
	}
}

func TestSelectUnknownFolder(t *testing.T) {
	c := loadSample(t)
	_, err := c.Select("Nope")
	if !errors.Is(err, ErrFolderNotFound) {
		t.Fatalf("expected ErrFolderNotFound, got %v", err)
	}
}

func TestScopePrecedenceAndReplace(t *testing.T) {
	s := NewScope([]Variable{{Key: "host", Value: "collection"}, {Key: "v", Value: "c"}}, map[string]string{"host": "env"})
	s.Globals["g"] = "global"
	s.Local["v"] = "local"
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	got := s.Replace("{{host}}/{{v}}/{{g}}/{{missing}}/{{$timestamp}}")
	want := "env/local/global/{{missing}}/1704164645"
	if got != want {
		t.Fatalf("replace: want %q got %q", want, got)
	}
	if names := Unresolved(got); len(names) != 1 || names[0] != "missing" {
		t.Fatalf("unexpected unresolved %v", names)
	}
	if guid := s.Replace("{{$guid}}"); len(guid) != 36 {
		t.Fatalf("expected uuid, got %q", guid)
	}
}

func TestURLStringFromParts(t *testing.T) {
	u := URL{
		Protocol: "https",
		Host:     []string{"api", "example", "com"},
		Port:     "8443",
		Path:     []string{"v1", "movies"},
		Query:    []QueryParam{{Key: "id", Value: "1"}, {Key: "skip", Value: "x", Disabled: true}},
	}
	if got := u.String(); got != "https://api.example.com:8443/v1/movies?id=1" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestScopeItemLayerIsReplaced(t *testing.T) {
	s := NewScope(nil, map[string]string{"token": "env"})
	s.SetItem([]Variable{{Key: "token", Value: "folder"}, {Key: "off", Value: "x", Disabled: true}})
	if v, _ := s.Get("token"); v != "folder" {
		t.Fatalf("item layer should shadow environment, got %q", v)
	}
	if _, ok := s.Get("off"); ok {
		t.Fatalf("disabled item variable resolved")
	}
	s.Local["token"] = "local"
	if v, _ := s.Get("token"); v != "local" {
		t.Fatalf("local should shadow item layer, got %q", v)
	}
	delete(s.Local, "token")
	s.SetItem(nil)
	if v, _ := s.Get("token"); v != "env" {
		t.Fatalf("cleared item layer should fall back to environment, got %q", v)
	}
}
