// Package reporter turns an engine.Summary into console output and report
// files. Reporters are selected by id the way newman does it: cli,
// htmlextra, junit and json.
package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/postrun/internal/engine"
	"pkt.systems/pslog"
)

// Reporter ids accepted by Build.
const (
	CLI       = "cli"
	HTMLExtra = "htmlextra"
	JUnit     = "junit"
	JSON      = "json"
)

// Config carries the per-reporter options.
type Config struct {
	CLI       CLIOptions
	HTMLExtra HTMLExtraOptions
	JUnit     FileOptions
	JSON      FileOptions
}

// CLIOptions configures the console reporter.
type CLIOptions struct {
	Out     io.Writer
	NoColor bool
}

// FileOptions configures a reporter that exports a single file.
type FileOptions struct {
	Export string
}

// Build maps reporter ids to reporters. Unknown ids are logged and skipped,
// duplicates are collapsed.
func Build(names []string, cfg Config, logger pslog.Base) []engine.Reporter {
	if logger == nil {
		logger = pslog.New(io.Discard)
	}
	seen := map[string]bool{}
	var out []engine.Reporter
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		switch name {
		case CLI:
			out = append(out, newCLI(cfg.CLI))
		case HTMLExtra:
			out = append(out, &htmlExtra{opts: cfg.HTMLExtra, logger: logger})
		case JUnit:
			out = append(out, &junitReporter{opts: cfg.JUnit, logger: logger})
		case JSON:
			out = append(out, &jsonReporter{opts: cfg.JSON, logger: logger})
		default:
			logger.Warn("unknown reporter, skipping", "reporter", raw)
		}
	}
	return out
}

// writeExport writes data to path, creating the parent directory.
func writeExport(name, path string, data []byte) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%s: no export path", name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
}

// maskHeaders returns a copy of hdrs with credentials masked.
func maskHeaders(hdrs map[string]string) map[string]string {
	if hdrs == nil {
		return nil
	}
	out := make(map[string]string, len(hdrs))
	for k, v := range hdrs {
		if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok {
			v = "********"
		}
		out[k] = v
	}
	return out
}

// maskSummary applies maskHeaders to every execution, leaving the caller's
// summary untouched.
func maskSummary(sum engine.Summary) engine.Summary {
	out := sum
	out.Executions = make([]engine.Execution, len(sum.Executions))
	copy(out.Executions, sum.Executions)
	for i := range out.Executions {
		out.Executions[i].Request.Headers = maskHeaders(out.Executions[i].Request.Headers)
		if resp := out.Executions[i].Response; resp != nil {
			masked := *resp
			masked.Headers = maskHeaders(resp.Headers)
			out.Executions[i].Response = &masked
		}
	}
	return out
}

func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}

func formatSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.2fkB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.2fMB", float64(n)/(1024*1024))
	}
}
