package importer

import (
	"net/url"

	"pkt.systems/pslog"
)

// Options describes how an OpenAPI document is converted into a Postman
// collection and environment.
type Options struct {
	Source         string
	OutputDir      string
	CollectionName string
	// EnvironmentName names the generated environment file; defaults to "local".
	EnvironmentName  string
	GroupBy          string // tags|path
	Insecure         bool
	AllowRemoteRefs  bool
	AllowFileRefs    bool
	GenerateTests    bool
	GenerateTestsSet bool
	IncludePaths     []string
	// Strictness controls how deep/strict generated schema assertions should be.
	// Values: "loose", "standard" (default), "strict".
	Strictness string
	Logger     pslog.Logger
	// BaseLocation tracks the original spec location (file or URL) for ref resolution.
	BaseLocation *url.URL
}

// Result reports what an import wrote.
type Result struct {
	CollectionPath  string
	EnvironmentPath string
	Requests        int
}
