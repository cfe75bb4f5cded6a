// Package errors provides the classified error primitives used across pipewright.
//
// Every error that crosses a package boundary is a ClassifiedError carrying a
// category, a severity and a retry strategy. Adapters turn those into CLI exit
// codes and HTTP responses.
//
//	err := errors.NewError(errors.CategoryStorage, "put bundle failed").
//		Retryable().
//		WithContext("key", key).
//		WithCause(originalErr).
//		Build()
package errors
