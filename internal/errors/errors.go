package errors

import "errors"

// Lookup errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Sync linkage errors.
var (
	ErrAlreadyLinked       = errors.New("document already linked to provider")
	ErrNotLinked           = errors.New("document not linked to a cloud provider")
	ErrProviderUnavailable = errors.New("cloud provider not configured")
)

// Conflict errors.
var (
	ErrAlreadyResolved   = errors.New("conflict already resolved")
	ErrInvalidResolution = errors.New("invalid conflict resolution")
	ErrMergeContent      = errors.New("merge resolution requires merged content")
)

// Coordination errors.
var (
	ErrInvalidRule  = errors.New("invalid coordination rule")
	ErrInactiveRule = errors.New("coordination rule inactive")
)
