package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"pkt.systems/postrun/internal/collection"
)

func TestImportOpenAPICommand(t *testing.T) {
	out := t.TempDir()
	src := filepath.Join("..", "..", "internal", "importer", "testdata", "cinema.yaml")

	if _, err := execute(t, "import", "openapi", "-s", src, "-o", out, "--environment", "ci", "-i", "/health"); err != nil {
		t.Fatalf("import: %v", err)
	}
	col, err := collection.LoadCollection(filepath.Join(out, "CinemaAbyss.postman_collection.json"))
	if err != nil {
		t.Fatalf("load collection: %v", err)
	}
	items, err := col.Select("")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(items) != 1 || items[0].Item.Name != "Health" {
		t.Fatalf("expected only the health request, got %d items", len(items))
	}
	if _, err := os.Stat(filepath.Join(out, "ci.environment.json")); err != nil {
		t.Fatalf("environment not written: %v", err)
	}
}

func TestImportOpenAPICommandValidatesFlags(t *testing.T) {
	for _, args := range [][]string{
		{"import", "openapi", "-o", t.TempDir()},
		{"import", "openapi", "-s", "api.yaml"},
		{"import", "openapi", "-s", "api.yaml", "-o", t.TempDir(), "-g", "color"},
	} {
		_, err := execute(t, args...)
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("%v: expected ConfigurationError, got %v", args, err)
		}
	}
}
