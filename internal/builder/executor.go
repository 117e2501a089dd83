package builder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/creack/pty"

	"github.com/crestline/release-plane/internal/models"
)

// LogCallback is a function that receives log lines during build execution.
type LogCallback func(line string)

// ExecutorConfig holds toolchain execution configuration.
type ExecutorConfig struct {
	// BuildTimeout bounds a single toolchain invocation.
	BuildTimeout time.Duration
	// NDKHome is the android native toolchain root, required for android targets.
	NDKHome string
}

// DefaultExecutorConfig returns an ExecutorConfig with sensible defaults.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		BuildTimeout: 45 * time.Minute,
	}
}

// Executor runs the toolchain for one target inside a checkout. The command
// runs under a pty so the toolchain line-buffers its progress output, which
// is streamed to the log callback as it appears.
type Executor struct {
	cfg    *ExecutorConfig
	logger *slog.Logger
}

// NewExecutor creates a toolchain executor.
func NewExecutor(cfg *ExecutorConfig, logger *slog.Logger) *Executor {
	if cfg == nil {
		cfg = DefaultExecutorConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cfg: cfg, logger: logger}
}

// ExecResult is the outcome of a toolchain invocation.
type ExecResult struct {
	// Logs is the full captured toolchain output.
	Logs string
	// Duration is the wall time of the invocation.
	Duration time.Duration
}

// Execute runs the stage's build command for its target inside repoPath.
// The target triple is appended to the command; linker and extra environment
// variables are exported the way cross-compiling toolchains expect them.
func (e *Executor) Execute(ctx context.Context, job *models.StageJob, repoPath string, logCallback LogCallback) (*ExecResult, error) {
	if job.Target.Platform == models.PlatformAndroid && e.cfg.NDKHome == "" {
		return nil, fmt.Errorf("android target %s requires ANDROID_NDK_HOME", job.Target.Triple)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.BuildTimeout)
	defer cancel()

	parts := strings.Fields(job.BuildCommand)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty build command")
	}
	args := append(parts[1:], "--target", job.Target.Triple)

	cmd := exec.CommandContext(ctx, parts[0], args...)
	cmd.Dir = repoPath
	cmd.Env = e.buildEnv(job.Target)

	start := time.Now()
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("starting build command: %w", err)
	}
	defer ptmx.Close()

	var logs strings.Builder
	scanner := bufio.NewScanner(ptmx)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		logs.WriteString(line)
		logs.WriteByte('\n')
		if logCallback != nil {
			logCallback(line)
		}
	}
	// The pty returns EIO once the child exits; anything else is a real
	// read failure.
	if serr := scanner.Err(); serr != nil && !errors.Is(serr, io.EOF) && !isPtyClosed(serr) {
		e.logger.Warn("build output read error", "error", serr)
	}

	err = cmd.Wait()
	result := &ExecResult{
		Logs:     logs.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return result, fmt.Errorf("build timed out after %s", e.cfg.BuildTimeout)
		}
		return result, fmt.Errorf("build command failed: %w", err)
	}
	return result, nil
}

// buildEnv assembles the toolchain environment for a target: the inherited
// environment, the target's extra variables, and the cross-linker exported
// through the cargo per-target linker variable.
func (e *Executor) buildEnv(target models.Target) []string {
	env := os.Environ()

	for key, value := range target.Env {
		env = append(env, key+"="+value)
	}

	if target.Linker != "" {
		env = append(env, linkerEnvVar(target.Triple)+"="+target.Linker)
	}

	if target.Platform == models.PlatformAndroid && e.cfg.NDKHome != "" {
		env = append(env, "ANDROID_NDK_HOME="+e.cfg.NDKHome)
	}

	return env
}

// linkerEnvVar returns the cargo per-target linker variable for a triple,
// e.g. CARGO_TARGET_AARCH64_UNKNOWN_LINUX_GNU_LINKER.
func linkerEnvVar(triple string) string {
	normalized := strings.ToUpper(strings.ReplaceAll(triple, "-", "_"))
	return "CARGO_TARGET_" + normalized + "_LINKER"
}

// BinaryPath resolves the compiled binary location for a target inside a
// checkout. binaryDir may contain a {triple} placeholder.
func BinaryPath(repoPath, binaryDir string, target models.Target, program string) string {
	dir := strings.ReplaceAll(binaryDir, "{triple}", target.Triple)
	return filepath.Join(repoPath, filepath.FromSlash(dir), target.BinaryName(program))
}

// isPtyClosed reports whether the error is the EIO a Linux pty returns when
// the child side is closed.
func isPtyClosed(err error) bool {
	return strings.Contains(err.Error(), "input/output error")
}
