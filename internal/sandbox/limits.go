package sandbox

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// SetMemoryLimit applies an address-space rlimit of mb megabytes to the
// process, so a runaway unit is killed by the OS rather than by
// application logic.
func (s *Sandbox) SetMemoryLimit(mb int) error {
	if mb <= 0 {
		return &Error{Op: "memory limit", Reason: fmt.Sprintf("invalid limit %d MB", mb)}
	}
	limit := uint64(mb) * 1024 * 1024
	rl := &unix.Rlimit{Cur: limit, Max: limit}
	if err := unix.Setrlimit(unix.RLIMIT_AS, rl); err != nil {
		return fmt.Errorf("sandbox: setrlimit RLIMIT_AS: %w", err)
	}
	s.logger.Info("memory limit applied", zap.Int("mb", mb))
	return nil
}

// SetCPUTimeLimit applies a CPU-time rlimit in seconds to the process.
func (s *Sandbox) SetCPUTimeLimit(seconds int) error {
	if seconds <= 0 {
		return &Error{Op: "cpu limit", Reason: fmt.Sprintf("invalid limit %d s", seconds)}
	}
	limit := uint64(seconds)
	rl := &unix.Rlimit{Cur: limit, Max: limit}
	if err := unix.Setrlimit(unix.RLIMIT_CPU, rl); err != nil {
		return fmt.Errorf("sandbox: setrlimit RLIMIT_CPU: %w", err)
	}
	s.logger.Info("cpu time limit applied", zap.Int("seconds", seconds))
	return nil
}

// ApplyLimits applies both configured rlimits, skipping unset ones.
func (s *Sandbox) ApplyLimits() error {
	s.mu.Lock()
	memMB, cpuSec := s.cfg.MemoryLimitMB, s.cfg.CPUTimeLimitSec
	s.mu.Unlock()

	if memMB > 0 {
		if err := s.SetMemoryLimit(memMB); err != nil {
			return err
		}
	}
	if cpuSec > 0 {
		if err := s.SetCPUTimeLimit(cpuSec); err != nil {
			return err
		}
	}
	return nil
}
