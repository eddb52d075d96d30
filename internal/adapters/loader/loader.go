package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

const (
	DefaultTimeout     = 5 * time.Second
	DefaultConcurrency = 20
	DefaultMaxFileSize = 64 << 20
	ClientName         = "gbfsvalidator"

	clientNameHeader = "Et-Client-Name"
)

var (
	v3Version = regexp.MustCompile(`^3\.\d`)

	errFileTooLarge = errors.New("file too large")
)

type Options struct {
	Timeout     time.Duration
	Concurrency int
	// MaxFileSize caps every fetched file in bytes. Larger files fail with a
	// READ_ERROR instead of being truncated.
	MaxFileSize int64
	Client      *http.Client
}

// Loader fetches a GBFS discovery file and every feed it lists. It reads
// file:// URLs and plain paths from disk and http(s) URLs over the network.
type Loader struct {
	client      *http.Client
	timeout     time.Duration
	concurrency int
	maxFileSize int64
	log         *zap.SugaredLogger
}

func New(opts Options, log *zap.SugaredLogger) *Loader {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Loader{
		client:      opts.Client,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		maxFileSize: opts.MaxFileSize,
		log:         log,
	}
}

type feedRef struct {
	name     string
	url      string
	language string
}

// Load returns the discovery file first, followed by the listed feeds in
// discovery order. Per-file failures are reported in LoadedFile.Errors; only
// context cancellation is returned as an error.
func (l *Loader) Load(ctx context.Context, discoveryURL string) ([]domain.LoadedFile, error) {
	discovery := l.loadFile(ctx, domain.FeedGBFS, discoveryURL, "")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files := []domain.LoadedFile{discovery}
	if discovery.Content == nil {
		return files, nil
	}

	refs, err := discoveryRefs(discovery.Content)
	if err != nil {
		l.log.Warnw("discovery file not usable", "url", discoveryURL, "error", err)
		return files, nil
	}

	loaded := make([]domain.LoadedFile, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			target := resolve(discoveryURL, ref.url)
			f := l.loadFile(gctx, ref.name, target, ref.language)
			f.URL = ref.url
			loaded[i] = f
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	l.log.Debugw("feeds loaded", "url", discoveryURL, "count", len(loaded))
	return append(files, loaded...), nil
}

// discoveryRefs lists data.feeds for 3.x documents and data.{lang}.feeds
// for earlier versions.
func discoveryRefs(content []byte) ([]feedRef, error) {
	version, err := jsonparser.GetString(content, "version")
	if err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, fmt.Errorf("read version: %w", err)
	}

	var refs []feedRef
	collect := func(language string, keys ...string) error {
		_, err := jsonparser.ArrayEach(content, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
			if dataType != jsonparser.Object {
				return
			}
			name, _ := jsonparser.GetString(value, "name")
			u, _ := jsonparser.GetString(value, "url")
			if name == "" || u == "" {
				return
			}
			refs = append(refs, feedRef{name: name, url: u, language: language})
		}, keys...)
		return err
	}

	if v3Version.MatchString(version) {
		if err := collect("", "data", "feeds"); err != nil {
			return nil, fmt.Errorf("read data.feeds: %w", err)
		}
		return refs, nil
	}

	var langErr error
	err = jsonparser.ObjectEach(content, func(key []byte, _ []byte, dataType jsonparser.ValueType, _ int) error {
		if dataType != jsonparser.Object {
			return nil
		}
		lang := string(key)
		if err := collect(lang, "data", lang, "feeds"); err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
			langErr = fmt.Errorf("read data.%s.feeds: %w", lang, err)
		}
		return nil
	}, "data")
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	if langErr != nil {
		return nil, langErr
	}
	return refs, nil
}

func (l *Loader) loadFile(ctx context.Context, name, target, language string) domain.LoadedFile {
	f := domain.LoadedFile{Name: name, URL: target, Language: language}
	content, diag := l.fetch(ctx, target)
	if diag != nil {
		l.log.Warnw("feed fetch failed", "feed", name, "url", target, "kind", diag.Kind, "error", diag.Message)
		f.Errors = []domain.SystemDiagnostic{*diag}
		return f
	}
	f.Content = content
	return f
}

func (l *Loader) fetch(ctx context.Context, target string) ([]byte, *domain.SystemDiagnostic) {
	u, err := url.Parse(target)
	if err != nil {
		return l.readFile(target)
	}
	switch {
	case u.Scheme == "http" || u.Scheme == "https":
		return l.fetchHTTP(ctx, target)
	case u.Scheme == "file":
		return l.readFile(fileURLPath(u))
	case u.Scheme == "" || isWindowsDrive(u.Scheme):
		return l.readFile(target)
	default:
		return nil, &domain.SystemDiagnostic{
			Kind:    domain.DiagnosticUnsupportedScheme,
			Message: "scheme not supported: " + u.Scheme,
		}
	}
}

func (l *Loader) fetchHTTP(ctx context.Context, target string) ([]byte, *domain.SystemDiagnostic) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &domain.SystemDiagnostic{Kind: domain.DiagnosticConnectionError, Message: err.Error()}
	}
	req.Header.Set(clientNameHeader, ClientName)
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &domain.SystemDiagnostic{Kind: domain.DiagnosticConnectionError, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &domain.SystemDiagnostic{
			Kind:    domain.DiagnosticConnectionError,
			Message: fmt.Sprintf("http error fetching file: %s", resp.Status),
		}
	}
	if resp.ContentLength > l.maxFileSize {
		return nil, &domain.SystemDiagnostic{Kind: domain.DiagnosticReadError, Message: l.tooLarge().Error()}
	}
	body, err := l.readLimited(resp.Body)
	if errors.Is(err, errFileTooLarge) {
		return nil, &domain.SystemDiagnostic{Kind: domain.DiagnosticReadError, Message: err.Error()}
	}
	if err != nil {
		return nil, &domain.SystemDiagnostic{Kind: domain.DiagnosticConnectionError, Message: err.Error()}
	}
	return body, nil
}

func (l *Loader) readFile(p string) ([]byte, *domain.SystemDiagnostic) {
	f, err := os.Open(p)
	if err != nil {
		kind := domain.DiagnosticReadError
		if errors.Is(err, os.ErrNotExist) {
			kind = domain.DiagnosticFileNotFound
		}
		return nil, &domain.SystemDiagnostic{Kind: kind, Message: err.Error()}
	}
	defer f.Close()

	body, err := l.readLimited(f)
	if err != nil {
		return nil, &domain.SystemDiagnostic{Kind: domain.DiagnosticReadError, Message: err.Error()}
	}
	return body, nil
}

// readLimited reads one byte past the cap so an oversized file is reported
// instead of silently truncated.
func (l *Loader) readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, l.maxFileSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > l.maxFileSize {
		return nil, l.tooLarge()
	}
	return body, nil
}

func (l *Loader) tooLarge() error {
	return fmt.Errorf("%w: exceeds %d bytes", errFileTooLarge, l.maxFileSize)
}

func fileURLPath(u *url.URL) string {
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	if u.Host != "" && u.Host != "localhost" {
		p = "//" + u.Host + p
	}
	return filepath.FromSlash(p)
}

func isWindowsDrive(scheme string) bool {
	return len(scheme) == 1
}

// resolve makes ref absolute against the discovery location. Absolute
// references are returned unchanged.
func resolve(base, ref string) string {
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	if b.Scheme == "" {
		if filepath.IsAbs(ref) {
			return ref
		}
		return filepath.Join(filepath.Dir(base), filepath.FromSlash(ref))
	}
	if b.Scheme == "file" && !strings.HasPrefix(ref, "/") {
		b.Path = path.Join(path.Dir(b.Path), ref)
		return b.String()
	}
	return b.ResolveReference(r).String()
}
