package main

import (
	"errors"
	"fmt"
)

// errTestsFailed is returned when the run completed with failures.
var errTestsFailed = errors.New("tests failed")

// ConfigurationError is a bad or missing command line option.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// MissingFileError reports a collection or environment file that does not
// exist at its resolved path.
type MissingFileError struct {
	Kind string
	Path string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("%s file not found: %s", e.Kind, e.Path)
}

// EngineError wraps a failure to load the inputs or to complete the run.
type EngineError struct {
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine: %v", e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }
