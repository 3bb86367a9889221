package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Veraticus/appbot/internal/command"
)

// ScriptFallback runs the scraper helper, which prints the path of the file
// it downloaded as the last line of stdout.
type ScriptFallback struct {
	Interpreter string
	Script      string
	Dir         string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// NewScriptFallback returns a fallback running "python3 <script> <appID>" in dir.
func NewScriptFallback(script, dir string) *ScriptFallback {
	return &ScriptFallback{
		Interpreter: "python3",
		Script:      script,
		Dir:         dir,
		Timeout:     10 * time.Minute,
	}
}

// Fetch runs the helper and returns the file it produced.
func (s *ScriptFallback) Fetch(ctx context.Context, appID string) (string, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	res, err := command.NewCommand(s.Interpreter, s.Script, appID).
		WithDir(s.Dir).
		WithTimeout(s.Timeout).
		WithContext(ctx).
		Run()
	if res.Stderr != "" {
		logger.Debug("fallback helper stderr",
			slog.String("component", "download.fallback"),
			slog.String("app_id", appID),
			slog.String("stderr", res.Stderr))
	}
	if err != nil {
		return "", fmt.Errorf("fallback helper: %w", err)
	}

	path := command.LastLine(res.Stdout)
	if path == "" {
		return "", errors.New("fallback helper printed no path")
	}
	if !filepath.IsAbs(path) && s.Dir != "" {
		path = filepath.Join(s.Dir, path)
	}
	return path, nil
}
