package postrun

import (
	"context"
	"runtime/debug"

	"pkt.systems/postrun/internal/collection"
	"pkt.systems/postrun/internal/engine"
	"pkt.systems/postrun/internal/reporter"
)

// Public type aliases to the engine and collection packages.
type (
	// Engine runs a collection and returns its summary.
	Engine = engine.Engine
	// RunOptions configure a single run.
	RunOptions = engine.RunOptions
	// Summary is the result of one run.
	Summary = engine.Summary
	// Execution records one request item.
	Execution = engine.Execution
	// Failure is one entry of Summary.Failures.
	Failure = engine.Failure
	// Reporter receives the summary when a run completes.
	Reporter = engine.Reporter

	Collection  = collection.Collection
	Environment = collection.Environment

	// ReporterConfig carries per-reporter options for BuildReporters.
	ReporterConfig = reporter.Config
	// FileOptions configures the junit and json reporters.
	FileOptions = reporter.FileOptions
	// HTMLExtraOptions configures the htmlextra reporter.
	HTMLExtraOptions = reporter.HTMLExtraOptions
)

// Option tweaks engine construction.
type Option = engine.Option

var (
	// WithLogger supplies a custom pslog logger.
	WithLogger = engine.WithLogger
	// WithHTTPClient injects a custom HTTP client.
	WithHTTPClient = engine.WithHTTPClient
	// WithTimeout sets the default per-request timeout.
	WithTimeout = engine.WithTimeout

	// LoadCollection reads and validates a Postman v2.1 collection file.
	LoadCollection = collection.LoadCollection
	// LoadEnvironment reads and validates a Postman environment file.
	LoadEnvironment = collection.LoadEnvironment

	// BuildReporters maps reporter ids (cli, htmlextra, junit, json) to reporters.
	BuildReporters = reporter.Build
)

// New constructs an Engine.
func New(ctx context.Context, opts ...Option) (Engine, error) {
	return engine.New(ctx, opts...)
}

// ModulePath is the import path of this module.
const ModulePath = "pkt.systems/postrun"

const develVersion = "v0.0.0-devel"

// Version returns the version of the main module from the build info, or
// v0.0.0-devel for local builds.
func Version() string {
	return versionFrom(debug.ReadBuildInfo())
}

func versionFrom(info *debug.BuildInfo, ok bool) string {
	if !ok || info == nil {
		return develVersion
	}
	if info.Main.Path == ModulePath && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	for _, dep := range info.Deps {
		if dep.Path == ModulePath && dep.Version != "" {
			return dep.Version
		}
	}
	return develVersion
}
