package postrun

import (
	"context"

	"pkt.systems/postrun/internal/importer"
	"pkt.systems/pslog"
)

// ImportOptions control import of OpenAPI/Swagger documents into a Postman
// collection and environment.
type ImportOptions struct {
	Source          string
	OutputDir       string
	CollectionName  string
	EnvironmentName string
	GroupBy         string // tags|path
	Insecure        bool
	AllowRemoteRefs bool
	AllowFileRefs   bool
	DisableTests    bool
	IncludePaths    []string
	// Strictness is loose, standard (default) or strict.
	Strictness string
	Logger     pslog.Logger
}

// ImportResult reports the files an import wrote.
type ImportResult = importer.Result

// ImportOpenAPI generates a Postman collection from an OpenAPI/Swagger spec.
func ImportOpenAPI(ctx context.Context, opts ImportOptions) (ImportResult, error) {
	return importer.ImportOpenAPI(ctx, importer.Options{
		Source:           opts.Source,
		OutputDir:        opts.OutputDir,
		CollectionName:   opts.CollectionName,
		EnvironmentName:  opts.EnvironmentName,
		GroupBy:          opts.GroupBy,
		Insecure:         opts.Insecure,
		AllowRemoteRefs:  opts.AllowRemoteRefs,
		AllowFileRefs:    opts.AllowFileRefs,
		GenerateTests:    !opts.DisableTests,
		GenerateTestsSet: true,
		IncludePaths:     opts.IncludePaths,
		Strictness:       opts.Strictness,
		Logger:           opts.Logger,
	})
}
