package main

import (
	"errors"

	"github.com/spf13/cobra"

	"pkt.systems/postrun/internal/importer"
)

func newImportCmd() *cobra.Command {
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Generate a collection from other formats (openapi)",
	}

	openapi := &cobra.Command{
		Use:   "openapi",
		Short: "Import from OpenAPI 3 or Swagger 2",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromCmd(cmd)
			src, _ := cmd.Flags().GetString("source")
			outDir, _ := cmd.Flags().GetString("output")
			name, _ := cmd.Flags().GetString("collection-name")
			envName, _ := cmd.Flags().GetString("environment")
			groupBy, _ := cmd.Flags().GetString("group-by")
			insecure, _ := cmd.Flags().GetBool("insecure")
			allowRemoteRefs, _ := cmd.Flags().GetBool("allow-remote-refs")
			allowFileRefs, _ := cmd.Flags().GetBool("allow-file-refs")
			strictness, _ := cmd.Flags().GetString("strictness")
			disableTests, _ := cmd.Flags().GetBool("disable-test-generation")
			includePaths, _ := cmd.Flags().GetStringSlice("include-path")
			if src == "" {
				return &ConfigurationError{Err: errors.New("--source is required")}
			}
			if outDir == "" {
				return &ConfigurationError{Err: errors.New("--output is required")}
			}
			if groupBy != "tags" && groupBy != "path" {
				return &ConfigurationError{Err: errors.New("--group-by must be tags or path")}
			}
			res, err := importer.ImportOpenAPI(cmd.Context(), importer.Options{
				Source:           src,
				OutputDir:        outDir,
				CollectionName:   name,
				EnvironmentName:  envName,
				GroupBy:          groupBy,
				Insecure:         insecure,
				AllowRemoteRefs:  allowRemoteRefs,
				AllowFileRefs:    allowFileRefs,
				Strictness:       strictness,
				GenerateTests:    !disableTests,
				GenerateTestsSet: true,
				IncludePaths:     includePaths,
				Logger:           logger,
			})
			if err != nil {
				return err
			}
			logger.Info("import finished",
				"collection", res.CollectionPath,
				"environment", res.EnvironmentPath,
				"requests", res.Requests)
			return nil
		},
	}

	openapi.Flags().StringP("source", "s", "", "Path or URL to the OpenAPI/Swagger document")
	openapi.Flags().StringP("output", "o", "", "Output directory for the collection and environment")
	openapi.Flags().StringP("collection-name", "n", "", "Name for the imported collection (default: info.title)")
	openapi.Flags().String("environment", importer.DefaultEnvironment, "Name of the generated environment")
	openapi.Flags().Bool("insecure", false, "Skip TLS verification when fetching URL")
	openapi.Flags().StringP("group-by", "g", "tags", "Group by tags|path")
	openapi.Flags().Bool("allow-remote-refs", false, "Allow following remote $refs inside the OpenAPI document")
	openapi.Flags().Bool("allow-file-refs", false, "Allow absolute/local file $refs (blocked by default for security)")
	openapi.Flags().Bool("disable-test-generation", false, "Skip generating response schema-based tests")
	openapi.Flags().String("strictness", "standard", "Schema assertion strictness: loose|standard|strict")
	openapi.Flags().StringSliceP("include-path", "i", nil, "Only import operations whose path starts with one of these prefixes (repeatable)")

	importCmd.AddCommand(openapi)
	return importCmd
}
