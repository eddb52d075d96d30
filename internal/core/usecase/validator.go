package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/ports"
)

// Validator runs the whole pipeline for one submission: parse, detect the
// version, validate each file, synthesize missing files and aggregate.
// It holds no per-call state and is safe for concurrent use.
type Validator struct {
	catalog        *Catalog
	defaultVersion string
	observer       ports.ValidationObserver
	log            *zap.SugaredLogger
	now            func() time.Time
}

type ValidatorOption func(*Validator)

func WithDefaultVersion(v string) ValidatorOption {
	return func(val *Validator) {
		if v != "" {
			val.defaultVersion = v
		}
	}
}

func WithObserver(o ports.ValidationObserver) ValidatorOption {
	return func(val *Validator) {
		if o != nil {
			val.observer = o
		}
	}
}

func WithValidatorLogger(log *zap.SugaredLogger) ValidatorOption {
	return func(val *Validator) {
		if log != nil {
			val.log = log
		}
	}
}

func WithClock(now func() time.Time) ValidatorOption {
	return func(val *Validator) {
		if now != nil {
			val.now = now
		}
	}
}

func NewValidator(catalog *Catalog, opts ...ValidatorOption) *Validator {
	v := &Validator{
		catalog:        catalog,
		defaultVersion: DefaultVersion,
		observer:       ports.NopObserver{},
		log:            zap.NewNop().Sugar(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateBytes is Validate over in-memory documents.
func (v *Validator) ValidateBytes(ctx context.Context, feeds map[string][]byte) (domain.ValidationReport, error) {
	readers := make(map[string]io.Reader, len(feeds))
	for name, raw := range feeds {
		readers[name] = bytes.NewReader(raw)
	}
	return v.Validate(ctx, readers)
}

// Validate validates every supplied document. The only call-level failure
// of the pipeline itself is an unsupported version; a bad file never aborts
// the batch.
func (v *Validator) Validate(ctx context.Context, feeds map[string]io.Reader) (domain.ValidationReport, error) {
	started := v.now()

	docs := make(map[string]domain.FeedDocument, len(feeds))
	for name, r := range feeds {
		if err := ctx.Err(); err != nil {
			return domain.ValidationReport{}, err
		}
		docs[name] = parseDocument(name, r)
		if !docs[name].Parsed() {
			v.log.Warnw("feed document not parsed", "feed", name, "diagnostics", docs[name].Diagnostics)
		}
	}

	primary, err := v.catalog.Version(v.primaryVersion(docs))
	if err != nil {
		return domain.ValidationReport{}, err
	}

	rc := newRuleContext(docs)
	outcomes, err := v.validateFiles(ctx, primary, docs, rc)
	if err != nil {
		return domain.ValidationReport{}, err
	}

	resolved := primary
	if authoritative := v.authoritativeVersion(docs, outcomes, primary.String()); authoritative != primary.String() {
		next, err := v.catalog.Version(authoritative)
		switch {
		case err != nil:
			v.log.Warnw("declared version not supported, keeping detected version",
				"declared", authoritative, "version", primary.String())
		default:
			v.log.Infow("version re-detected from validated files",
				"detected", primary.String(), "version", authoritative)
			resolved = next
			outcomes, err = v.validateFiles(ctx, resolved, docs, rc)
			if err != nil {
				return domain.ValidationReport{}, err
			}
		}
	}

	for _, feed := range resolved.FeedNames() {
		if _, ok := outcomes[feed]; ok {
			continue
		}
		text, err := resolved.BaseSchemaText(feed)
		if err != nil {
			return domain.ValidationReport{}, fmt.Errorf("base schema %s for %s: %w", feed, resolved, err)
		}
		outcomes[feed] = domain.MissingFileOutcome(feed, resolved.String(), resolved.IsRequired(feed), text)
	}

	report := domain.ValidationReport{
		Summary: domain.ValidationSummary{
			Version:   resolved.String(),
			Timestamp: v.now().UnixMilli(),
		},
		Files: outcomes,
	}
	for _, outcome := range outcomes {
		report.Summary.ErrorsCount += outcome.ErrorsCount
	}
	v.observer.ObserveReport(report, v.now().Sub(started))
	return report, nil
}

// ValidateFile validates a single document without siblings. Enum rules
// therefore admit nothing and presence rules never apply.
func (v *Validator) ValidateFile(ctx context.Context, feed string, r io.Reader) (domain.FileValidationOutcome, error) {
	if err := domain.ValidateFeedName(feed); err != nil {
		return domain.FileValidationOutcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.FileValidationOutcome{}, err
	}
	doc := parseDocument(feed, r)
	versionString := v.defaultVersion
	if declared, ok := declaredVersion(doc); ok {
		versionString = declared
	}
	version, err := v.catalog.Version(versionString)
	if err != nil {
		return domain.FileValidationOutcome{}, err
	}
	outcome, err := NewFileValidator(version, v.log).Validate(doc, domain.NewRuleContext())
	if err != nil {
		return domain.FileValidationOutcome{}, err
	}
	if outcome == nil {
		v.observer.ObserveIgnoredFeed(version.String(), feed)
		return domain.FileValidationOutcome{}, fmt.Errorf("%w: %s for version %s", domain.ErrSchemaNotFound, feed, version)
	}
	return *outcome, nil
}

func (v *Validator) validateFiles(ctx context.Context, version *Version, docs map[string]domain.FeedDocument, rc domain.RuleContext) (map[string]domain.FileValidationOutcome, error) {
	fv := NewFileValidator(version, v.log)
	outcomes := make(map[string]domain.FileValidationOutcome, len(version.feeds))
	for _, name := range submissionOrder(version, docs) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome, err := fv.Validate(docs[name], rc)
		if err != nil {
			return nil, err
		}
		if outcome == nil {
			v.log.Warnw("no schema for feed, dropped from report", "feed", name, "version", version.String())
			v.observer.ObserveIgnoredFeed(version.String(), name)
			continue
		}
		outcomes[name] = *outcome
	}
	return outcomes, nil
}

// primaryVersion reads the discovery file's version field, falling back to
// the default when the file is absent, unparsed or silent.
func (v *Validator) primaryVersion(docs map[string]domain.FeedDocument) string {
	if declared, ok := discoveryVersion(docs); ok {
		return declared
	}
	return v.defaultVersion
}

// authoritativeVersion reconciles the versions declared by the validated
// files. A single declared version wins. When files disagree the discovery
// file's own version wins if it is among them, otherwise current is kept.
func (v *Validator) authoritativeVersion(docs map[string]domain.FeedDocument, outcomes map[string]domain.FileValidationOutcome, current string) string {
	declared := make([]string, 0)
	for _, outcome := range outcomes {
		if outcome.Version != "" && !slices.Contains(declared, outcome.Version) {
			declared = append(declared, outcome.Version)
		}
	}
	switch len(declared) {
	case 0:
		if discovery, ok := rawVersionField(docs[domain.FeedGBFS]); ok {
			return discovery
		}
		return current
	case 1:
		return declared[0]
	default:
		slices.Sort(declared)
		if discovery, ok := discoveryVersion(docs); ok && slices.Contains(declared, discovery) {
			v.log.Warnw("feeds declare different versions, using discovery version",
				"declared", declared, "version", discovery)
			return discovery
		}
		v.log.Warnw("feeds declare different versions", "declared", declared, "version", current)
		return current
	}
}

// submissionOrder lists the supplied feeds known to version in catalog
// order. Supplied feeds outside the catalog are validated last so that the
// file validator reports them as dropped.
func submissionOrder(version *Version, docs map[string]domain.FeedDocument) []string {
	names := make([]string, 0, len(docs))
	for _, feed := range version.feeds {
		if _, ok := docs[feed]; ok {
			names = append(names, feed)
		}
	}
	var extra []string
	for name := range docs {
		if !version.HasFeed(name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	return append(names, extra...)
}

func newRuleContext(docs map[string]domain.FeedDocument) domain.RuleContext {
	list := make([]domain.FeedDocument, 0, len(docs))
	for _, doc := range docs {
		list = append(list, doc)
	}
	return domain.NewRuleContext(list...)
}

// parseDocument reads and decodes one submitted file. Failures become
// diagnostics on the document and never an error.
func parseDocument(name string, r io.Reader) domain.FeedDocument {
	doc := domain.FeedDocument{Name: name, Diagnostics: []domain.SystemDiagnostic{}}
	if r == nil {
		doc.Diagnostics = append(doc.Diagnostics, domain.SystemDiagnostic{
			Kind:    domain.DiagnosticReadError,
			Message: "no content supplied",
		})
		return doc
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		doc.Diagnostics = append(doc.Diagnostics, domain.SystemDiagnostic{
			Kind:    domain.DiagnosticReadError,
			Message: err.Error(),
		})
		return doc
	}
	if !utf8.Valid(raw) {
		raw = bytes.ToValidUTF8(raw, []byte(string(utf8.RuneError)))
	}
	doc.Raw = raw
	doc.Readable = true
	if err := json.Unmarshal(doc.Body(), &doc.Value); err != nil {
		doc.Value = nil
		doc.Diagnostics = append(doc.Diagnostics, domain.SystemDiagnostic{
			Kind:    domain.DiagnosticParseError,
			Message: err.Error(),
		})
	}
	return doc
}

// declaredVersion returns the version a parsed document declares. Documents
// without a version field predate its introduction and count as 1.0.
func declaredVersion(doc domain.FeedDocument) (string, bool) {
	if !doc.Parsed() {
		return "", false
	}
	obj, ok := doc.Value.(map[string]any)
	if !ok {
		return "", false
	}
	raw, present := obj["version"]
	if !present {
		return legacyVersion, true
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func discoveryVersion(docs map[string]domain.FeedDocument) (string, bool) {
	doc, ok := docs[domain.FeedGBFS]
	if !ok || !doc.Parsed() {
		return "", false
	}
	obj, ok := doc.Value.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := obj["version"].(string)
	return s, ok && s != ""
}

// rawVersionField scans the discovery bytes for a top-level version
// string. It succeeds on documents that failed to decode as a whole, e.g.
// because of trailing garbage.
func rawVersionField(doc domain.FeedDocument) (string, bool) {
	if !doc.Readable || len(doc.Raw) == 0 {
		return "", false
	}
	v, err := jsonparser.GetString(doc.Body(), "version")
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}
