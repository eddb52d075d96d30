package domain

import "slices"

// ValidationError is a single leaf schema violation.
type ValidationError struct {
	SchemaPath    string `json:"schemaPath"`
	ViolationPath string `json:"violationPath"`
	Message       string `json:"message"`
	Keyword       string `json:"keyword"`
}

// FileValidationOutcome is the per-file result. Every field is always
// serialized so clients can decode it without guessing.
type FileValidationOutcome struct {
	File         string             `json:"file"`
	Required     bool               `json:"required"`
	Exists       bool               `json:"exists"`
	ErrorsCount  int                `json:"errorsCount"`
	Schema       string             `json:"schema"`
	FileContents *string            `json:"fileContents"`
	Version      string             `json:"version"`
	Errors       []ValidationError  `json:"errors"`
	SystemErrors []SystemDiagnostic `json:"systemErrors"`
}

// MissingFileOutcome builds the outcome for a catalog feed that was not
// submitted. A missing required file counts as exactly one error.
func MissingFileOutcome(feed, version string, required bool, baseSchema string) FileValidationOutcome {
	count := 0
	if required {
		count = 1
	}
	return FileValidationOutcome{
		File:         feed,
		Required:     required,
		Exists:       false,
		ErrorsCount:  count,
		Schema:       baseSchema,
		Version:      version,
		Errors:       []ValidationError{},
		SystemErrors: []SystemDiagnostic{},
	}
}

func (o FileValidationOutcome) SameAs(other FileValidationOutcome) bool {
	if o.File != other.File ||
		o.Required != other.Required ||
		o.Exists != other.Exists ||
		o.ErrorsCount != other.ErrorsCount ||
		o.Version != other.Version {
		return false
	}
	return slices.Equal(o.Errors, other.Errors) && slices.Equal(o.SystemErrors, other.SystemErrors)
}

type ValidationSummary struct {
	Version     string `json:"version"`
	Timestamp   int64  `json:"timestamp"`
	ErrorsCount int    `json:"errorsCount"`
}

func (s ValidationSummary) SameAs(other ValidationSummary) bool {
	return s.Version == other.Version && s.ErrorsCount == other.ErrorsCount
}

type ValidationReport struct {
	Summary ValidationSummary                `json:"summary"`
	Files   map[string]FileValidationOutcome `json:"files"`
}

// SameAs compares two reports ignoring the summary timestamp, the rendered
// schema and the echoed file contents.
func (r ValidationReport) SameAs(other ValidationReport) bool {
	if !r.Summary.SameAs(other.Summary) || len(r.Files) != len(other.Files) {
		return false
	}
	for name, outcome := range r.Files {
		o, ok := other.Files[name]
		if !ok || !outcome.SameAs(o) {
			return false
		}
	}
	return true
}

// FeedNames returns the report's feed names in canonical order, followed by
// any non-canonical names in lexical order.
func (r ValidationReport) FeedNames() []string {
	names := make([]string, 0, len(r.Files))
	for _, feed := range KnownFeeds {
		if _, ok := r.Files[feed]; ok {
			names = append(names, feed)
		}
	}
	var extra []string
	for name := range r.Files {
		if !slices.Contains(KnownFeeds, name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	return append(names, extra...)
}
