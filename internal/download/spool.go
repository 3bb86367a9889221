package download

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Spool is the directory shared with the bridge. Artifacts and stickers are
// written here and handed over by path.
type Spool struct {
	dir string
	now func() time.Time
}

// NewSpool creates dir if needed.
func NewSpool(dir string) (*Spool, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve spool dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Spool{dir: abs, now: time.Now}, nil
}

// Dir returns the absolute spool directory.
func (s *Spool) Dir() string { return s.dir }

// Create opens a new uniquely named file with the given extension.
func (s *Spool) Create(ext string) (*os.File, error) {
	ext = strings.TrimPrefix(ext, ".")
	if !validExt(ext) {
		return nil, fmt.Errorf("invalid spool file extension %q", ext)
	}
	name := uuid.NewString()
	if ext != "" {
		name += "." + ext
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	return f, nil
}

// Adopt moves src into the spool as an apk or xapk and returns the new
// path. The source file is gone afterwards, also when it had to be copied
// across filesystems.
func (s *Spool) Adopt(src string) (string, error) {
	dst, err := s.Create(ParseFileType(strings.TrimPrefix(filepath.Ext(src), ".")))
	if err != nil {
		return "", err
	}
	dstPath := dst.Name()
	_ = dst.Close()

	if err := os.Rename(src, dstPath); err == nil {
		return dstPath, nil
	} else if !errors.Is(err, syscall.EXDEV) {
		_ = os.Remove(dstPath)
		return "", fmt.Errorf("move into spool: %w", err)
	}

	if err := copyFile(src, dstPath); err != nil {
		_ = os.Remove(dstPath)
		return "", err
	}
	if err := os.Remove(src); err != nil {
		return dstPath, fmt.Errorf("remove adopted source: %w", err)
	}
	return dstPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open spool file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy into spool: %w", err)
	}
	return out.Close()
}

// Remove deletes a spool file. Paths outside the spool are refused.
func (s *Spool) Remove(path string) error {
	if !s.contains(path) {
		return fmt.Errorf("refusing to remove %s outside spool", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Sweep deletes regular files older than maxAge and returns how many went.
func (s *Spool) Sweep(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(s.dir, e.Name())) == nil {
			removed++
		}
	}
	return removed
}

func (s *Spool) contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(s.dir, abs)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// validExt accepts short alphanumeric extensions only.
func validExt(ext string) bool {
	if len(ext) > 8 {
		return false
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
