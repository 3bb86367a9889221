package command

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRun(t *testing.T) {
	tests := []struct {
		name       string
		command    string
		args       []string
		wantErr    bool
		wantStdout string
		wantExit   int
	}{
		{
			name:       "simple echo command",
			command:    "echo",
			args:       []string{"hello", "world"},
			wantStdout: "hello world\n",
		},
		{
			name:    "command not found",
			command: "nonexistentcommand123",
			wantErr: true,
		},
		{
			name:     "command with exit code",
			command:  "sh",
			args:     []string{"-c", "exit 3"},
			wantErr:  true,
			wantExit: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Run(context.Background(), tt.command, tt.args...)

			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if res.Stdout != tt.wantStdout {
				t.Errorf("Run() stdout = %q, want %q", res.Stdout, tt.wantStdout)
			}
			if res.ExitCode != tt.wantExit {
				t.Errorf("Run() exit code = %d, want %d", res.ExitCode, tt.wantExit)
			}
		})
	}
}

func TestRun_SeparatesStreams(t *testing.T) {
	res, err := Run(context.Background(), "sh", "-c", "echo 'progress' >&2; echo '/tmp/app.apk'")
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if strings.Contains(res.Stdout, "progress") {
		t.Errorf("stderr leaked into stdout: %q", res.Stdout)
	}
	if res.Stderr != "progress" {
		t.Errorf("Stderr = %q, want %q", res.Stderr, "progress")
	}
}

func TestRun_ExitErrorCarriesStderr(t *testing.T) {
	_, err := Run(context.Background(), "sh", "-c", "echo 'no such app' >&2; exit 1")

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %T: %v", err, err)
	}
	if exitErr.ExitCode != 1 || exitErr.Stderr != "no such app" {
		t.Errorf("unexpected exit error: %+v", exitErr)
	}
	if !strings.Contains(err.Error(), "(exit code 1)") {
		t.Errorf("error message %q should mention the exit code", err.Error())
	}
}

func TestRun_Context(t *testing.T) {
	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := Run(ctx, "sleep", "5"); err == nil {
			t.Error("Run() expected error with canceled context")
		}
	})

	t.Run("respects existing deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := Run(ctx, "sleep", "5")
		elapsed := time.Since(start)

		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Run() error = %v, want deadline exceeded", err)
		}
		if elapsed > 2*time.Second {
			t.Errorf("Run() took %v, expected ~200ms", elapsed)
		}
	})
}

func TestBuilder(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "helper.sh"), []byte("echo \"$APP_MODE:$1\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	res, err := NewCommand("sh", "helper.sh", "com.example").
		WithDir(dir).
		WithEnv("APP_MODE=test").
		WithTimeout(5 * time.Second).
		Run()
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if got := strings.TrimSpace(res.Stdout); got != "test:com.example" {
		t.Errorf("stdout = %q, want %q", got, "test:com.example")
	}
}

func TestBuilder_Timeout(t *testing.T) {
	start := time.Now()
	_, err := NewCommand("sleep", "5").WithTimeout(100 * time.Millisecond).Run()
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout not applied, took %v", time.Since(start))
	}
}

func TestLastLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/tmp/a.apk\n", "/tmp/a.apk"},
		{"downloading...\n50%\n/tmp/a.xapk\n\n", "/tmp/a.xapk"},
		{"  single  ", "single"},
	}
	for _, tt := range tests {
		if got := LastLine(tt.in); got != tt.want {
			t.Errorf("LastLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
