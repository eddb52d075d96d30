package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedVersion = errors.New("unsupported gbfs version")
	ErrSchemaNotFound     = errors.New("schema not found")
	ErrSchemaPath         = errors.New("schema path not found")
	ErrInvalidFeedName    = errors.New("invalid feed name")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
)

// UnsupportedVersionError keeps the version string that could not be resolved.
type UnsupportedVersionError struct {
	Version string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnsupportedVersion, e.Version)
}

func (e *UnsupportedVersionError) Is(target error) bool {
	return target == ErrUnsupportedVersion
}

// System diagnostic kinds. The first two come from the parse phase, the rest
// from feed loaders.
const (
	DiagnosticReadError         = "READ_ERROR"
	DiagnosticParseError        = "PARSE_ERROR"
	DiagnosticFileNotFound      = "FILE_NOT_FOUND"
	DiagnosticConnectionError   = "CONNECTION_ERROR"
	DiagnosticUnsupportedScheme = "UNSUPPORTED_SCHEME"
)

// SystemDiagnostic describes a failure to read or decode a file. It is never
// counted as a schema violation.
type SystemDiagnostic struct {
	Kind    string `json:"error"`
	Message string `json:"message"`
}
