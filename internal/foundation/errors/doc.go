// Package errors provides the classified error primitives used across assetbuilder.
//
// Stages and the task runner return ClassifiedError values so the CLI can pick an
// exit code and the plumber can decide whether a failure is reported or swallowed.
//
// Example usage:
//
//	err := errors.NewError(errors.CategoryCompile, "sass compilation failed").
//		WithContext("file", path).
//		WithCause(originalErr).
//		Build()
package errors
