// Package sandbox is the single vetted boundary around unsafe primitives:
// filesystem access, subprocess execution, expression evaluation, network
// egress and OS resource ceilings. Every check fails closed.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Error is a boundary violation. The guarded operation was never attempted.
type Error struct {
	Op     string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("sandbox: %s: %s", e.Op, e.Reason)
}

// Config bounds what sandboxed work may touch.
type Config struct {
	AllowedPaths    []string `json:"allowed_paths"`
	AllowedDomains  []string `json:"allowed_domains"`
	MemoryLimitMB   int      `json:"memory_limit_mb"`
	CPUTimeLimitSec int      `json:"cpu_time_limit_s"`
}

// Sandbox guards unsafe primitives behind allowlist checks and limits.
type Sandbox struct {
	mu       sync.Mutex
	cfg      Config
	tempDirs []string
	logger   *zap.Logger
}

// New creates a sandbox from cfg.
func New(cfg Config, logger *zap.Logger) *Sandbox {
	return &Sandbox{cfg: cfg, logger: logger}
}

// SetAllowedPaths replaces the filesystem allowlist.
func (s *Sandbox) SetAllowedPaths(paths []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.AllowedPaths = paths
}

// SetAllowedDomains replaces the network allowlist.
func (s *Sandbox) SetAllowedDomains(domains []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.AllowedDomains = domains
}

// ValidateFileAccess returns nil iff path resolves under one of the
// configured allowed roots.
func (s *Sandbox) ValidateFileAccess(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return &Error{Op: "file access", Reason: fmt.Sprintf("cannot resolve %q: %v", path, err)}
	}
	abs = filepath.Clean(abs)

	s.mu.Lock()
	roots := s.cfg.AllowedPaths
	s.mu.Unlock()

	for _, root := range roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rootAbs = filepath.Clean(rootAbs)
		if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
			return nil
		}
	}
	return &Error{Op: "file access", Reason: fmt.Sprintf("path %q is outside allowed roots", path)}
}

// CommandResult captures a finished process.
type CommandResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// ExecuteCommand runs command through sh -c with captured output. A
// positive timeout bounds the run; on expiry the process is killed and a
// timeout error returned. The command's semantics are not authorized here,
// only bounded.
func (s *Sandbox) ExecuteCommand(ctx context.Context, command string, timeout time.Duration) (*CommandResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// The command runs in its own process group so expiry kills every
	// descendant, not just the shell; otherwise surviving children hold
	// the output pipes open and Run blocks past the deadline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	err := cmd.Run()

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && ctx.Err() != context.DeadlineExceeded {
		return nil, fmt.Errorf("sandbox: run command: %w", err)
	}

	result := &CommandResult{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("sandbox: command timed out after %s", timeout)
	}

	s.logger.Debug("command executed",
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("timeout", timeout))
	return result, nil
}

// TempDir creates a temp directory tracked for Cleanup.
func (s *Sandbox) TempDir(pattern string) (string, error) {
	dir, err := os.MkdirTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("sandbox: temp dir: %w", err)
	}
	s.mu.Lock()
	s.tempDirs = append(s.tempDirs, dir)
	s.mu.Unlock()
	return dir, nil
}

// Cleanup removes temp state created through the sandbox.
func (s *Sandbox) Cleanup() error {
	s.mu.Lock()
	dirs := s.tempDirs
	s.tempDirs = nil
	s.mu.Unlock()

	var firstErr error
	for _, d := range dirs {
		if err := os.RemoveAll(d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
