package usecase

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

const patchedSchemaURL = "schema.json"

// FileValidator validates one document against its version's patched schema.
type FileValidator struct {
	version *Version
	log     *zap.SugaredLogger
}

func NewFileValidator(version *Version, log *zap.SugaredLogger) *FileValidator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FileValidator{version: version, log: log}
}

// Validate returns nil without error when no schema is registered for the
// feed under this version; the caller drops such files.
func (v *FileValidator) Validate(doc domain.FeedDocument, rc domain.RuleContext) (*domain.FileValidationOutcome, error) {
	schema, err := v.PatchedSchema(doc.Name, rc)
	if errors.Is(err, domain.ErrSchemaNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	schemaText, err := schema.Marshal()
	if err != nil {
		return nil, err
	}

	outcome := &domain.FileValidationOutcome{
		File:         doc.Name,
		Required:     v.version.IsRequired(doc.Name),
		Exists:       true,
		Schema:       string(schemaText),
		FileContents: doc.Contents(),
		Errors:       []domain.ValidationError{},
		SystemErrors: []domain.SystemDiagnostic{},
	}
	if declared, ok := declaredVersion(doc); ok {
		outcome.Version = declared
	}

	if !doc.Parsed() {
		outcome.SystemErrors = append(outcome.SystemErrors, doc.Diagnostics...)
		return outcome, nil
	}

	compiled, err := compileSchema(schemaText)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema for %s: %w", doc.Name, v.version, err)
	}
	outcome.Errors = runValidation(compiled, doc.Value)
	outcome.ErrorsCount = len(outcome.Errors)
	v.log.Debugw("file validated", "feed", doc.Name, "version", v.version.String(), "errors", outcome.ErrorsCount)
	return outcome, nil
}

// PatchedSchema folds the feed's rule patchers over a private copy of the
// base schema.
func (v *FileValidator) PatchedSchema(feed string, rc domain.RuleContext) (domain.SchemaDoc, error) {
	base, err := v.version.BaseSchema(feed)
	if err != nil {
		return nil, err
	}
	schema, err := base.Clone()
	if err != nil {
		return nil, err
	}
	for _, patcher := range v.version.RulePatchers(feed) {
		schema, err = patcher.Patch(schema, rc)
		if err != nil {
			return nil, fmt.Errorf("patch %s schema for %s: %w", feed, v.version, err)
		}
	}
	return schema, nil
}

// compileSchema builds a *santhosh.Schema from raw JSON. Remote references
// are refused and "uri" also accepts relative references.
func compileSchema(schemaJSON []byte) (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	compiler.AssertFormat = true
	compiler.Formats["uri"] = santhosh.Formats["uri-reference"]
	compiler.LoadURL = func(s string) (io.ReadCloser, error) {
		return nil, fmt.Errorf("remote schema %q not allowed", s)
	}
	if err := compiler.AddResource(patchedSchemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile(patchedSchemaURL)
}

// runValidation validates data against a pre-compiled schema and returns
// one entry per leaf violation.
func runValidation(sch *santhosh.Schema, data any) []domain.ValidationError {
	err := sch.Validate(data)
	if err == nil {
		return []domain.ValidationError{}
	}
	var ve *santhosh.ValidationError
	if !errors.As(err, &ve) {
		return []domain.ValidationError{{Message: err.Error()}}
	}
	out := collectValidationErrors(ve)
	slices.SortFunc(out, func(a, b domain.ValidationError) int {
		if c := strings.Compare(a.ViolationPath, b.ViolationPath); c != 0 {
			return c
		}
		if c := strings.Compare(a.SchemaPath, b.SchemaPath); c != 0 {
			return c
		}
		return strings.Compare(a.Message, b.Message)
	})
	return out
}

func collectValidationErrors(ve *santhosh.ValidationError) []domain.ValidationError {
	var out []domain.ValidationError
	for _, cause := range ve.Causes {
		out = append(out, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		out = append(out, domain.ValidationError{
			SchemaPath:    ve.KeywordLocation,
			ViolationPath: ve.InstanceLocation,
			Message:       ve.Message,
			Keyword:       keywordOf(ve.KeywordLocation),
		})
	}
	return out
}

func keywordOf(location string) string {
	segments := strings.Split(location, "/")
	return segments[len(segments)-1]
}
