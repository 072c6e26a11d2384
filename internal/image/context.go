// SPDX-License-Identifier: MPL-2.0

package image

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
)

const buildDirName = "inkboot-build"

// DefaultIgnorePatterns are never sent to the engine as build context.
var DefaultIgnorePatterns = []string{
	".git",
	".venv",
	"venv",
	"**/__pycache__",
	"**/*.pyc",
	".pytest_cache",
	".mypy_cache",
	".env",
	"node_modules",
	".inkboot-build",
}

// IgnorePatterns merges the defaults, the environment directory and any
// patterns in the project's own .dockerignore.
func IgnorePatterns(projectDir, venvDir string) ([]string, error) {
	patterns := append([]string(nil), DefaultIgnorePatterns...)
	if venvDir != "" {
		patterns = appendUnique(patterns, filepath.ToSlash(filepath.Clean(venvDir)))
	}

	f, err := os.Open(filepath.Join(projectDir, DockerignoreName))
	if errors.Is(err, fs.ErrNotExist) {
		return patterns, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }() // Read-only file; close error non-critical

	extra, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", DockerignoreName, err)
	}
	for _, p := range extra {
		patterns = appendUnique(patterns, p)
	}
	return patterns, nil
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

// RenderIgnoreFile renders patterns as .dockerignore content.
func RenderIgnoreFile(patterns []string) string {
	return "# Generated by inkboot.\n" + strings.Join(patterns, "\n") + "\n"
}

// buildContextParent picks a directory the engine can read.
//
// Docker installed via Snap cannot access /tmp or hidden directories in
// $HOME, so a visible directory in the home directory comes first.
func buildContextParent() string {
	if home, err := os.UserHomeDir(); err == nil {
		if _, statErr := os.Stat(home); statErr == nil {
			return filepath.Join(home, buildDirName)
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		return filepath.Join(cwd, "."+buildDirName)
	}
	return filepath.Join(os.TempDir(), buildDirName)
}

// BuildContext is a prepared, disposable build context directory.
type BuildContext struct {
	Dir string
}

// Cleanup removes the context directory.
func (c *BuildContext) Cleanup() {
	_ = os.RemoveAll(c.Dir) // Cleanup temp dir; error non-critical
}

// PrepareContext copies projectDir into a fresh context directory under
// parent (or the default location when parent is empty), skipping ignored
// paths, then writes the Dockerfile and .dockerignore. binaryPath is copied
// to BinaryContextPath when non-empty.
func PrepareContext(parent, projectDir string, rendered *Rendered, patterns []string, binaryPath string) (_ *BuildContext, err error) {
	if parent == "" {
		parent = buildContextParent()
	}
	if mkdirErr := os.MkdirAll(parent, 0o755); mkdirErr != nil {
		return nil, fmt.Errorf("failed to create build context parent directory: %w", mkdirErr)
	}
	dir := filepath.Join(parent, "ctx-"+uuid.NewString())
	if mkErr := os.Mkdir(dir, 0o755); mkErr != nil {
		return nil, fmt.Errorf("failed to create build context directory: %w", mkErr)
	}
	ctxDir := &BuildContext{Dir: dir}
	defer func() {
		if err != nil {
			ctxDir.Cleanup()
		}
	}()

	pm, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("invalid ignore pattern: %w", err)
	}
	if err = copyTree(projectDir, dir, pm); err != nil {
		return nil, fmt.Errorf("failed to copy project into build context: %w", err)
	}

	if err = os.WriteFile(filepath.Join(dir, DockerfileName), []byte(rendered.Dockerfile), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write Dockerfile: %w", err)
	}
	if err = os.WriteFile(filepath.Join(dir, DockerignoreName), []byte(RenderIgnoreFile(patterns)), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", DockerignoreName, err)
	}

	if binaryPath != "" {
		dst := filepath.Join(dir, filepath.FromSlash(BinaryContextPath))
		if err = os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create binary directory: %w", err)
		}
		if err = CopyFile(binaryPath, dst); err != nil {
			return nil, fmt.Errorf("failed to copy inkboot binary: %w", err)
		}
		if err = os.Chmod(dst, 0o755); err != nil {
			return nil, fmt.Errorf("failed to make inkboot binary executable: %w", err)
		}
	}
	return ctxDir, nil
}

// copyTree copies the files under src that pm does not exclude into dst.
func copyTree(src, dst string, pm *patternmatcher.PatternMatcher) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil || rel == "." {
			return err
		}

		ignored, err := pm.MatchesOrParentMatches(rel)
		if err != nil {
			return err
		}
		if ignored {
			if d.IsDir() && !pm.Exclusions() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			link, linkErr := os.Readlink(path)
			if linkErr != nil {
				return linkErr
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return CopyFile(path, target)
		default:
			return nil
		}
	})
}

// CopyFile copies a file from src to dst, keeping its mode.
func CopyFile(src, dst string) (err error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer func() { _ = srcFile.Close() }() // Read-only file; close error non-critical

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file: %w", err)
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode())
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer func() {
		if closeErr := dstFile.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close destination file: %w", closeErr)
		}
	}()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file contents: %w", err)
	}
	return nil
}
