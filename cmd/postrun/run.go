package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"pkt.systems/pslog"

	"pkt.systems/postrun/internal/collection"
	"pkt.systems/postrun/internal/engine"
	"pkt.systems/postrun/internal/reporter"
)

const (
	defaultDir         = "tests/postman"
	collectionSuffix   = ".postman_collection.json"
	environmentSuffix  = ".environment.json"
	requestDelay       = 100 * time.Millisecond
	reportTitle        = "CinemaAbyss API Test Report"
	reportTimestampFmt = "2006-01-02T15:04:05.000Z"
)

// Replaced in tests.
var (
	newEngine = engine.New
	now       = time.Now
)

// runConfig is built once per invocation from the flags.
type runConfig struct {
	Environment string
	Collection  string
	Folder      string
	Reporters   []string
	Bail        bool
	Timeout     time.Duration
	Delay       time.Duration
	Dir         string
	Vars        map[string]string

	Insecure       bool
	CACert         string
	NoProxy        bool
	DisableCookies bool
}

type runPaths struct {
	Collection  string
	Environment string
}

// reportTargets maps a reporter id to its export path.
type reportTargets map[string]string

func addRunFlags(flags *pflag.FlagSet) {
	dir := defaultDir
	if v := strings.TrimSpace(os.Getenv("POSTRUN_DIR")); v != "" {
		dir = v
	}
	flags.StringP("environment", "e", "local", "Environment name (<dir>/<name>.environment.json)")
	flags.StringP("collection", "c", "CinemaAbyss", "Collection name (<dir>/<name>.postman_collection.json)")
	flags.StringP("folder", "f", "", "Run only this folder or request")
	flags.StringP("reporters", "r", "cli,htmlextra,junit", "Comma separated reporters: cli,htmlextra,junit,json")
	flags.BoolP("bail", "b", false, "Stop the run after the first failing request")
	flags.IntP("timeout", "t", 10000, "Per-request timeout (ms)")
	flags.String("dir", dir, "Directory holding the collection and environment files (env POSTRUN_DIR)")
	flags.StringArray("var", nil, "Override environment variable (key=value)")
	flags.Bool("insecure", false, "Skip TLS verification")
	flags.String("cacert", "", "Path to custom CA certificate (PEM)")
	flags.Bool("noproxy", false, "Disable proxy (ignore environment)")
	flags.Bool("disable-cookies", false, "Do not store/send cookies between requests")
}

func runE(cmd *cobra.Command, _ []string) error {
	logger := loggerFromCmd(cmd)

	cfg, err := parseRunConfig(cmd)
	if err != nil {
		return err
	}
	paths, err := resolvePaths(cfg)
	if err != nil {
		return err
	}
	reportsDir, err := ensureReportsDirectory(cfg.Dir)
	if err != nil {
		return err
	}
	targets := buildReportTargets(cfg, reportsDir, now())

	client, err := buildHTTPClient(cfg.Insecure, cfg.CACert, cfg.NoProxy, cfg.DisableCookies)
	if err != nil {
		return &EngineError{Err: err}
	}
	eng, err := newEngine(cmd.Context(),
		engine.WithLogger(logger),
		engine.WithHTTPClient(client),
		engine.WithTimeout(cfg.Timeout))
	if err != nil {
		return &EngineError{Err: err}
	}
	reporters := reporter.Build(cfg.Reporters, reporterConfig(targets, cmd.OutOrStdout()), logger)

	// Errors are printed once by exitCode; reporters log their own exports.
	sum, err := runCollection(cmd.Context(), eng, cfg, paths, reporters, logger)
	if err != nil {
		return err
	}
	if report(cmd.OutOrStdout(), sum) != 0 {
		return errTestsFailed
	}
	return nil
}

func parseRunConfig(cmd *cobra.Command) (runConfig, error) {
	flags := cmd.Flags()
	environment, _ := flags.GetString("environment")
	col, _ := flags.GetString("collection")
	folder, _ := flags.GetString("folder")
	reporters, _ := flags.GetString("reporters")
	bail, _ := flags.GetBool("bail")
	timeoutMS, _ := flags.GetInt("timeout")
	dir, _ := flags.GetString("dir")
	varsList, _ := flags.GetStringArray("var")
	insecure, _ := flags.GetBool("insecure")
	cacert, _ := flags.GetString("cacert")
	noProxy, _ := flags.GetBool("noproxy")
	disableCookies, _ := flags.GetBool("disable-cookies")

	if strings.TrimSpace(environment) == "" {
		return runConfig{}, &ConfigurationError{Err: errors.New("--environment must not be empty")}
	}
	if strings.TrimSpace(col) == "" {
		return runConfig{}, &ConfigurationError{Err: errors.New("--collection must not be empty")}
	}
	if timeoutMS < 0 {
		return runConfig{}, &ConfigurationError{Err: fmt.Errorf("--timeout must be >= 0, got %d", timeoutMS)}
	}
	vars := map[string]string{}
	for _, kv := range varsList {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return runConfig{}, &ConfigurationError{Err: fmt.Errorf("invalid --var %q (want key=value)", kv)}
		}
		vars[key] = value
	}

	return runConfig{
		Environment:    environment,
		Collection:     col,
		Folder:         folder,
		Reporters:      splitReporters(reporters),
		Bail:           bail,
		Timeout:        time.Duration(timeoutMS) * time.Millisecond,
		Delay:          requestDelay,
		Dir:            dir,
		Vars:           vars,
		Insecure:       insecure,
		CACert:         cacert,
		NoProxy:        noProxy,
		DisableCookies: disableCookies,
	}, nil
}

func splitReporters(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolvePaths checks the collection first, then the environment.
func resolvePaths(cfg runConfig) (runPaths, error) {
	paths := runPaths{
		Collection:  filepath.Join(cfg.Dir, cfg.Collection+collectionSuffix),
		Environment: filepath.Join(cfg.Dir, cfg.Environment+environmentSuffix),
	}
	if !isFile(paths.Collection) {
		return runPaths{}, &MissingFileError{Kind: "collection", Path: paths.Collection}
	}
	if !isFile(paths.Environment) {
		return runPaths{}, &MissingFileError{Kind: "environment", Path: paths.Environment}
	}
	return paths, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func ensureReportsDirectory(dir string) (string, error) {
	reports := filepath.Join(dir, "reports")
	if err := os.MkdirAll(reports, 0o755); err != nil {
		return "", fmt.Errorf("create reports directory: %w", err)
	}
	return reports, nil
}

// reportTimestamp renders t as an ISO-8601 UTC timestamp with millisecond
// precision and no colons.
func reportTimestamp(t time.Time) string {
	return strings.ReplaceAll(t.UTC().Format(reportTimestampFmt), ":", "-")
}

func buildReportTargets(cfg runConfig, reportsDir string, at time.Time) reportTargets {
	ts := reportTimestamp(at)
	targets := reportTargets{}
	for _, id := range cfg.Reporters {
		var name string
		switch strings.ToLower(id) {
		case reporter.HTMLExtra:
			name = fmt.Sprintf("report-%s-%s.html", cfg.Environment, ts)
		case reporter.JUnit:
			name = fmt.Sprintf("junit-report-%s-%s.xml", cfg.Environment, ts)
		case reporter.JSON:
			name = fmt.Sprintf("json-report-%s-%s.json", cfg.Environment, ts)
		default:
			continue
		}
		targets[strings.ToLower(id)] = filepath.Join(reportsDir, name)
	}
	return targets
}

func reporterConfig(targets reportTargets, out io.Writer) reporter.Config {
	_, noColor := os.LookupEnv("NO_COLOR")
	return reporter.Config{
		CLI: reporter.CLIOptions{Out: out, NoColor: noColor},
		HTMLExtra: reporter.HTMLExtraOptions{
			Export:               targets[reporter.HTMLExtra],
			Template:             reporter.DefaultTemplate,
			ShowOnlyFails:        false,
			NoSyntaxHighlighting: false,
			TestPaging:           true,
			BrowserTitle:         reportTitle,
			Title:                reportTitle,
			TitleSize:            1,
			OmitHeaders:          false,
		},
		JUnit: reporter.FileOptions{Export: targets[reporter.JUnit]},
		JSON:  reporter.FileOptions{Export: targets[reporter.JSON]},
	}
}

// runCollection loads both files and runs the collection once. Any error
// is an EngineError and the summary must not be used.
func runCollection(ctx context.Context, eng engine.Engine, cfg runConfig, paths runPaths, reporters []engine.Reporter, logger pslog.Base) (engine.Summary, error) {
	col, err := collection.LoadCollection(paths.Collection)
	if err != nil {
		return engine.Summary{}, &EngineError{Err: err}
	}
	env, err := collection.LoadEnvironment(paths.Environment)
	if err != nil {
		return engine.Summary{}, &EngineError{Err: err}
	}
	sum, err := eng.Run(ctx, engine.RunOptions{
		Collection:     col,
		Environment:    env,
		Folder:         cfg.Folder,
		Reporters:      reporters,
		Bail:           cfg.Bail,
		TimeoutRequest: cfg.Timeout,
		DelayRequest:   cfg.Delay,
		Vars:           cfg.Vars,
		Logger:         logger,
	})
	if err != nil {
		return engine.Summary{}, &EngineError{Err: err}
	}
	return sum, nil
}

// report prints the four counters and returns the exit code.
func report(w io.Writer, sum engine.Summary) int {
	fmt.Fprintf(w, "Total requests: %d\n", sum.Stats.Requests.Total)
	fmt.Fprintf(w, "Failed requests: %d\n", sum.Stats.Requests.Failed)
	fmt.Fprintf(w, "Total assertions: %d\n", sum.Stats.Assertions.Total)
	fmt.Fprintf(w, "Failed assertions: %d\n", sum.Stats.Assertions.Failed)
	if len(sum.Failures) > 0 {
		return 1
	}
	return 0
}

func buildHTTPClient(insecure bool, cacert string, noProxy bool, disableCookies bool) (*http.Client, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: insecure} //nolint:gosec // user opted in

	if cacert != "" {
		pemData, err := os.ReadFile(cacert)
		if err != nil {
			return nil, fmt.Errorf("read cacert: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if ok := pool.AppendCertsFromPEM(pemData); !ok {
			return nil, fmt.Errorf("failed to append CA cert")
		}
		tlsConfig.RootCAs = pool
	}

	tr := &http.Transport{
		TLSClientConfig: tlsConfig,
	}
	if !noProxy {
		tr.Proxy = http.ProxyFromEnvironment
	}

	client := &http.Client{Transport: tr}
	if !disableCookies {
		if jar, err := cookiejar.New(nil); err == nil {
			client.Jar = jar
		}
	}
	return client, nil
}
