// SPDX-License-Identifier: MPL-2.0

package pyruntime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/inkboard/inkboot/internal/process"
)

// DefaultVersionManager is the fallback tool.
const DefaultVersionManager = "pyenv"

// ErrVersionManagerMissing aborts the chain: there is nothing left to try.
var ErrVersionManagerMissing = errors.New("version manager not installed")

// VersionManager obtains the exact required version from pyenv, installing it
// when it is not yet listed.
type VersionManager struct {
	Runner process.Runner
	// Tool is the version manager executable; empty means pyenv.
	Tool string
	// Output receives the installer's progress output. Nil discards it.
	Output io.Writer
	Logger *slog.Logger
}

var _ Strategy = (*VersionManager)(nil)

// Name implements Strategy.
func (m *VersionManager) Name() string { return m.tool() }

func (m *VersionManager) tool() string {
	if m.Tool == "" {
		return DefaultVersionManager
	}
	return m.Tool
}

// Resolve implements Strategy.
func (m *VersionManager) Resolve(ctx context.Context, required Version) (Descriptor, error) {
	logger := loggerOrDefault(m.Logger)

	bin, err := m.Runner.LookPath(m.tool())
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s not found on PATH", ErrVersionManagerMissing, m.tool())
	}

	exact, err := m.exactVersion(ctx, bin, required)
	if err != nil {
		return Descriptor{}, err
	}

	installed, err := m.installedVersions(ctx, bin)
	if err != nil {
		return Descriptor{}, err
	}
	if !installed[exact] {
		logger.Info("installing python with version manager", "tool", m.tool(), "version", exact)
		out := m.Output
		if out == nil {
			out = io.Discard
		}
		if err := m.Runner.Run(ctx, process.Command{
			Name:   bin,
			Args:   []string{"install", "-s", exact},
			Stdout: out,
			Stderr: out,
		}); err != nil {
			return Descriptor{}, fmt.Errorf("install python %s: %w", exact, err)
		}
	}

	root, err := m.Runner.Output(ctx, process.Command{Name: bin, Args: []string{"root"}})
	if err != nil {
		return Descriptor{}, fmt.Errorf("locate %s root: %w", m.tool(), err)
	}
	exe := InstalledExecutable(strings.TrimSpace(string(root)), exact)

	v, err := InterpreterVersion(ctx, m.Runner, exe)
	if err != nil {
		return Descriptor{}, fmt.Errorf("installed interpreter %s is not usable: %w", exe, err)
	}
	if !v.SameMinor(required) {
		return Descriptor{}, fmt.Errorf("installed interpreter %s reports %s, want %s", exe, v, required.MinorString())
	}
	return Descriptor{Version: v, Executable: exe, Source: SourceVersionManager}, nil
}

// exactVersion returns required as a full triple, asking the tool for the
// latest known patch release when only major.minor was given.
func (m *VersionManager) exactVersion(ctx context.Context, bin string, required Version) (string, error) {
	if required.HasPatch {
		return required.String(), nil
	}
	out, err := m.Runner.Output(ctx, process.Command{Name: bin, Args: []string{"latest", "--known", required.MinorString()}})
	if err != nil {
		return "", fmt.Errorf("resolve latest python %s: %w", required.MinorString(), err)
	}
	v, err := ParseVersion(string(out))
	if err != nil || !v.HasPatch {
		return "", fmt.Errorf("resolve latest python %s: unexpected output %q", required.MinorString(), strings.TrimSpace(string(out)))
	}
	return v.String(), nil
}

func (m *VersionManager) installedVersions(ctx context.Context, bin string) (map[string]bool, error) {
	out, err := m.Runner.Output(ctx, process.Command{Name: bin, Args: []string{"versions", "--bare"}})
	if err != nil {
		return nil, fmt.Errorf("list %s versions: %w", m.tool(), err)
	}
	versions := make(map[string]bool)
	for line := range strings.SplitSeq(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			versions[line] = true
		}
	}
	return versions, nil
}

// InstalledExecutable returns the interpreter path pyenv uses for version.
func InstalledExecutable(root, version string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(root, "versions", version, "python.exe")
	}
	return filepath.Join(root, "versions", version, "bin", "python")
}

// NewDefaultChain returns the system-then-version-manager chain.
func NewDefaultChain(r process.Runner, candidates []string, tool string, logger *slog.Logger) Chain {
	return Chain{
		&SystemProbe{Runner: r, Candidates: candidates, Logger: logger},
		&VersionManager{Runner: r, Tool: tool, Output: os.Stderr, Logger: logger},
	}
}
