// Package builder provides build stage execution for the release pipeline:
// source checkout, cross-compilation, archive packaging, and artifact upload.
package builder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CloneError represents a detailed error from a git clone operation.
type CloneError struct {
	// GitURL is the URL that was being cloned
	GitURL string

	// GitRef is the ref that was being checked out
	GitRef string

	// Stderr contains the git stderr output
	Stderr string

	// ExitCode is the exit code from git
	ExitCode int

	// Err is the underlying error
	Err error
}

// Error implements the error interface.
func (e *CloneError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git clone failed (exit %d): %s", e.ExitCode, strings.TrimSpace(e.Stderr))
	}
	if e.Err != nil {
		return fmt.Sprintf("git clone failed: %v", e.Err)
	}
	return fmt.Sprintf("git clone failed with exit code %d", e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *CloneError) Unwrap() error {
	return e.Err
}

// CloneResult contains the result of a successful clone operation.
type CloneResult struct {
	// RepoPath is the path to the cloned repository
	RepoPath string

	// CommitSHA is the resolved commit SHA after checkout
	CommitSHA string
}

// CloneRepository clones a git repository to the specified destination path.
// Clones are shallow (--depth 1); each stage builds from its own fresh
// checkout with no state shared between stages.
func CloneRepository(ctx context.Context, gitURL, gitRef, destPath string) (*CloneResult, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return nil, &CloneError{
			GitURL: gitURL,
			GitRef: gitRef,
			Err:    fmt.Errorf("failed to create destination directory: %w", err),
		}
	}

	// Refs arrive as refs/tags/<tag> or refs/heads/<branch>; git clone
	// --branch wants the short name.
	branch := gitRef
	branch = strings.TrimPrefix(branch, "refs/tags/")
	branch = strings.TrimPrefix(branch, "refs/heads/")

	args := []string{"clone", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, gitURL, destPath)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := 1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return nil, &CloneError{
			GitURL:   gitURL,
			GitRef:   gitRef,
			Stderr:   stderr.String(),
			ExitCode: exitCode,
			Err:      err,
		}
	}

	commitSHA, err := getCommitSHA(ctx, destPath)
	if err != nil {
		return nil, &CloneError{
			GitURL: gitURL,
			GitRef: gitRef,
			Err:    fmt.Errorf("failed to get commit SHA: %w", err),
		}
	}

	return &CloneResult{
		RepoPath:  destPath,
		CommitSHA: commitSHA,
	}, nil
}

// getCommitSHA returns the HEAD commit of a checkout.
func getCommitSHA(ctx context.Context, repoPath string) (string, error) {
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", "-C", repoPath, "rev-parse", "HEAD")
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
