package postrun

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"pkt.systems/pslog"
)

func TestImportAndRunHealthFolder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":true}`))
	}))
	defer srv.Close()

	logger := pslog.NewStructured(&bytes.Buffer{})
	out := t.TempDir()
	res, err := ImportOpenAPI(context.Background(), ImportOptions{
		Source:    filepath.Join("internal", "importer", "testdata", "cinema.yaml"),
		OutputDir: out,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	col, err := LoadCollection(res.CollectionPath)
	if err != nil {
		t.Fatalf("load collection: %v", err)
	}
	env, err := LoadEnvironment(res.EnvironmentPath)
	if err != nil {
		t.Fatalf("load environment: %v", err)
	}
	env.Set("baseUrl", srv.URL)

	eng, err := New(context.Background(), WithLogger(logger))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	jsonPath := filepath.Join(out, "reports", "run.json")
	reps := BuildReporters([]string{"json"}, ReporterConfig{JSON: FileOptions{Export: jsonPath}}, logger)
	sum, err := eng.Run(context.Background(), RunOptions{
		Collection:  col,
		Environment: env,
		Folder:      "health",
		Reporters:   reps,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sum.Executions) != 1 || len(sum.Failures) != 0 {
		t.Fatalf("unexpected summary: %d executions, failures %+v", len(sum.Executions), sum.Failures)
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("read json report: %v", err)
	}
	var decoded Summary
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.Collection != "CinemaAbyss" || len(decoded.Executions) != 1 {
		t.Fatalf("unexpected report: %+v", decoded)
	}
}
