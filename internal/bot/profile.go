package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const maxProfileBytes = 10 << 20

// ProfileImage is the bot's picture, cached on disk after the first download.
// It captions help texts and result lists and becomes the account picture.
type ProfileImage struct {
	client *http.Client
	logger *slog.Logger
	path   string
	url    string
	mu     sync.Mutex
	ready  bool
}

// NewProfileImage caches the image at url under path. A nil client gets a
// 15 second timeout.
func NewProfileImage(path, url string, client *http.Client, logger *slog.Logger) *ProfileImage {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileImage{client: client, logger: logger, path: path, url: url}
}

// Path returns the local image path, downloading it if it is not cached yet.
// It reports false when no image is available; a later call tries again.
func (p *ProfileImage) Path(ctx context.Context) (string, bool) {
	if p == nil || p.path == "" {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return p.path, true
	}
	if info, err := os.Stat(p.path); err == nil && info.Size() > 0 {
		p.ready = true
		return p.path, true
	}
	if p.url == "" {
		return "", false
	}
	if err := p.download(ctx); err != nil {
		p.logger.Warn("profile image unavailable", slog.Any("error", err))
		return "", false
	}
	p.ready = true
	return p.path, true
}

func (p *ProfileImage) download(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch profile image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch profile image: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create asset dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".profile-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, maxProfileBytes))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write profile image: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("profile image is empty")
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("store profile image: %w", err)
	}
	p.logger.Info("profile image cached", slog.String("path", p.path))
	return nil
}
