// Package download fetches app packages for delivery. A streamed HTTP
// download from the internal download service is tried first, with retries,
// and a scraper subprocess serves as the fallback.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Veraticus/appbot/internal/retry"
)

const (
	// MinSize is the smallest payload accepted as a real package. Anything at
	// or below it is an error page in disguise.
	MinSize int64 = 100000
	// MaxSize is the largest file the chat platform accepts.
	MaxSize int64 = 2 << 30

	defaultAttempts = 3
	defaultStep     = 2 * time.Second
)

// File types.
const (
	TypeAPK  = "apk"
	TypeXAPK = "xapk"
)

var (
	// ErrTooSmall means the payload was not larger than MinSize.
	ErrTooSmall = errors.New("downloaded file too small")
	// ErrTooLarge means the payload exceeds MaxSize.
	ErrTooLarge = errors.New("file exceeds size limit")
	// ErrNoArtifact means every strategy failed.
	ErrNoArtifact = errors.New("no artifact available")
)

// TooLargeError carries the size of an oversized payload.
type TooLargeError struct {
	Size int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("file of %s exceeds size limit", humanize.IBytes(uint64(e.Size)))
}

// Is matches ErrTooLarge.
func (e *TooLargeError) Is(target error) bool { return target == ErrTooLarge }

// Artifact is a downloaded package sitting in the spool.
type Artifact struct {
	Path     string
	FileName string
	FileType string
	Source   string
	Size     int64
}

// ParseFileType maps a reported package type to TypeXAPK or TypeAPK.
// Anything other than xapk is delivered as an apk.
func ParseFileType(v string) string {
	if strings.EqualFold(strings.TrimSpace(v), TypeXAPK) {
		return TypeXAPK
	}
	return TypeAPK
}

// MimeType returns the document mime type for the artifact.
func (a *Artifact) MimeType() string {
	if a.FileType == TypeXAPK {
		return "application/octet-stream"
	}
	return "application/vnd.android.package-archive"
}

// Fallback fetches a package by other means and returns a local file path.
type Fallback interface {
	Fetch(ctx context.Context, appID string) (string, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHTTPClient sets the client for the download service.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) { p.client = c }
}

// WithFallback sets the fallback strategy.
func WithFallback(f Fallback) Option {
	return func(p *Pipeline) { p.fallback = f }
}

// WithRetryPolicy overrides the primary strategy's retry policy.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(p *Pipeline) { p.policy = policy }
}

// WithSizeLimits overrides MinSize and MaxSize.
func WithSizeLimits(minSize, maxSize int64) Option {
	return func(p *Pipeline) {
		p.minSize = minSize
		p.maxSize = maxSize
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// Pipeline downloads packages into a spool.
type Pipeline struct {
	client   *http.Client
	fallback Fallback
	spool    *Spool
	logger   *slog.Logger
	apiURL   string
	policy   retry.Policy
	minSize  int64
	maxSize  int64
}

// NewPipeline creates a pipeline against the download service at apiURL.
func NewPipeline(apiURL string, spool *Spool, opts ...Option) *Pipeline {
	p := &Pipeline{
		client:  &http.Client{Timeout: 10 * time.Minute},
		spool:   spool,
		apiURL:  strings.TrimSuffix(apiURL, "/"),
		logger:  slog.Default(),
		minSize: MinSize,
		maxSize: MaxSize,
		policy: retry.Policy{
			MaxAttempts: defaultAttempts,
			Backoff:     retry.Linear(defaultStep),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "download.pipeline"))
	if p.policy.Retryable == nil {
		p.policy.Retryable = func(err error) bool {
			return !errors.Is(err, ErrTooLarge) && !errors.Is(err, context.Canceled)
		}
	}
	return p
}

// Fetch downloads appID and names the result after title. It returns an
// error matching ErrTooLarge for oversized packages and ErrNoArtifact when
// nothing could be fetched.
func (p *Pipeline) Fetch(ctx context.Context, appID, title string) (*Artifact, error) {
	if appID == "" {
		return nil, fmt.Errorf("%w: empty app id", ErrNoArtifact)
	}
	logger := p.logger.With(slog.String("app_id", appID))

	policy := p.policy
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("download attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", policy.MaxAttempts),
			slog.Duration("retry_in", wait),
			slog.Any("error", err))
	}

	var art *Artifact
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		logger.Info("downloading from service", slog.Int("attempt", attempt))
		a, err := p.fetchPrimary(ctx, appID)
		if err != nil {
			return err
		}
		art = a
		return nil
	})
	if err == nil {
		art.FileName = FileName(title, appID, art.FileType)
		return art, nil
	}
	if errors.Is(err, ErrTooLarge) || ctx.Err() != nil {
		return nil, err
	}

	logger.Warn("download service failed, trying fallback", slog.Any("error", err))
	if p.fallback == nil {
		return nil, fmt.Errorf("%w: %w", ErrNoArtifact, err)
	}

	art, fbErr := p.fetchFallback(ctx, appID)
	if fbErr != nil {
		if errors.Is(fbErr, ErrTooLarge) {
			return nil, fbErr
		}
		logger.Error("fallback failed", slog.Any("error", fbErr))
		return nil, fmt.Errorf("%w: %w", ErrNoArtifact, errors.Join(err, fbErr))
	}
	art.FileName = FileName(title, appID, art.FileType)
	return art, nil
}

func (p *Pipeline) fetchPrimary(ctx context.Context, appID string) (*Artifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"/download/"+url.PathEscape(appID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("download service returned status %d", resp.StatusCode)
	}

	fileType := ParseFileType(resp.Header.Get("X-File-Type"))
	source := headerOr(resp.Header, "X-Source", "apkpure")
	total, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if total > p.maxSize {
		return nil, &TooLargeError{Size: total}
	}

	f, err := p.spool.Create(fileType)
	if err != nil {
		return nil, err
	}
	path := f.Name()
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(path)
		}
	}()

	start := time.Now()
	pw := &progressWriter{total: total, logger: p.logger.With(slog.String("app_id", appID))}
	// Read one byte past the limit so an oversized stream is detectable.
	n, err := io.Copy(io.MultiWriter(f, pw), io.LimitReader(resp.Body, p.maxSize+1))
	closeErr := f.Close()
	if err != nil {
		return nil, fmt.Errorf("stream download: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("write spool file: %w", closeErr)
	}
	if n > p.maxSize {
		return nil, &TooLargeError{Size: n}
	}
	if n <= p.minSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooSmall, n)
	}

	elapsed := time.Since(start)
	p.logger.Info("download complete",
		slog.String("app_id", appID),
		slog.String("source", source),
		slog.String("size", humanize.IBytes(uint64(n))),
		slog.String("speed", humanize.IBytes(uint64(float64(n)/max(elapsed.Seconds(), 0.001)))+"/s"))

	keep = true
	return &Artifact{Path: path, FileType: fileType, Source: source, Size: n}, nil
}

func (p *Pipeline) fetchFallback(ctx context.Context, appID string) (*Artifact, error) {
	src, err := p.fallback.Fetch(ctx, appID)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("fallback output: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("fallback output %s is not a file", src)
	}

	fileType := TypeAPK
	if strings.HasSuffix(strings.ToLower(src), "."+TypeXAPK) {
		fileType = TypeXAPK
	}

	path, err := p.spool.Adopt(src)
	if err != nil {
		return nil, err
	}
	if info.Size() > p.maxSize {
		_ = os.Remove(path)
		return nil, &TooLargeError{Size: info.Size()}
	}
	return &Artifact{Path: path, FileType: fileType, Source: "fallback", Size: info.Size()}, nil
}

// Discard removes the artifact's spool file.
func (p *Pipeline) Discard(a *Artifact) {
	if a == nil || a.Path == "" {
		return
	}
	if err := p.spool.Remove(a.Path); err != nil {
		p.logger.Warn("failed to remove artifact", slog.String("path", a.Path), slog.Any("error", err))
	}
}

func headerOr(h http.Header, key, def string) string {
	if v := strings.TrimSpace(h.Get(key)); v != "" {
		return strings.ToLower(v)
	}
	return def
}

var unsafeTitleChars = regexp.MustCompile(`[^\w\s\x{0600}-\x{06FF}-]`)

// FileName builds the delivered document name from the app title. Symbols
// are dropped; Arabic letters are kept. An empty result falls back to appID.
func FileName(title, appID, fileType string) string {
	name := strings.TrimSpace(unsafeTitleChars.ReplaceAllString(title, ""))
	if name == "" {
		name = appID
	}
	return name + "." + fileType
}

// progressWriter logs download progress in quarter steps, or every 25 MiB
// when the length is unknown.
type progressWriter struct {
	logger  *slog.Logger
	total   int64
	written int64
	next    int64
}

const unknownLengthStep = 25 << 20

func (w *progressWriter) Write(b []byte) (int, error) {
	w.written += int64(len(b))
	if w.next == 0 {
		w.next = w.step()
	}
	if w.written >= w.next {
		attrs := []any{slog.String("downloaded", humanize.IBytes(uint64(w.written)))}
		if w.total > 0 {
			attrs = append(attrs,
				slog.String("total", humanize.IBytes(uint64(w.total))),
				slog.Int64("percent", w.written*100/w.total))
		}
		w.logger.Debug("download progress", attrs...)
		for w.next <= w.written {
			w.next += w.step()
		}
	}
	return len(b), nil
}

func (w *progressWriter) step() int64 {
	if w.total > 0 {
		return max(w.total/4, 1)
	}
	return unknownLengthStep
}
