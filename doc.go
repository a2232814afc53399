// Package postrun exposes a Go API for running Postman v2.1 collections
// in-process.
//
// Quick start:
//
//	ctx := context.Background()
//	col, _ := postrun.LoadCollection("tests/postman/CinemaAbyss.postman_collection.json")
//	env, _ := postrun.LoadEnvironment("tests/postman/local.environment.json")
//	eng, _ := postrun.New(ctx)
//	sum, _ := eng.Run(ctx, postrun.RunOptions{
//		Collection:  col,
//		Environment: env,
//		Folder:      "Movies",
//	})
//
// Reporters render the same summary the CLI prints:
//
//	reps := postrun.BuildReporters([]string{"cli", "junit"}, postrun.ReporterConfig{
//		JUnit: postrun.FileOptions{Export: "reports/junit.xml"},
//	}, nil)
//	sum, _ := eng.Run(ctx, postrun.RunOptions{Collection: col, Reporters: reps})
//
// Transport knobs mirror the CLI:
//
//	custom := &http.Client{Timeout: 5 * time.Second}
//	eng, _ := postrun.New(ctx, postrun.WithHTTPClient(custom), postrun.WithTimeout(10*time.Second))
//
// Collections can be generated from OpenAPI 3 or Swagger 2 documents with
// ImportOpenAPI.
package postrun
