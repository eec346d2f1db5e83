package errors

import "errors"

var (
	// ErrFetch - error, which signifies that cluster resources could not be retrieved
	ErrFetch = errors.New("fetch failed")
	// ErrInvalidRecord - error, which signifies that a raw resource could not be converted into a typed record
	ErrInvalidRecord = errors.New("invalid record")
	// ErrComputation - error, which signifies that a computed snapshot violates its invariants
	ErrComputation = errors.New("computation failed")
	// ErrConfig - error, which signifies that provided configuration is invalid
	ErrConfig = errors.New("invalid configuration")
)
