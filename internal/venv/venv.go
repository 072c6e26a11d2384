// SPDX-License-Identifier: MPL-2.0

package venv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/inkboard/inkboot/internal/manifest"
	"github.com/inkboard/inkboot/internal/process"
)

// DefaultDir is the conventional environment directory name.
const DefaultDir = ".venv"

// ErrNotEnvironment is returned when Dir exists but is not a virtual environment.
var ErrNotEnvironment = errors.New("directory exists but is not a python virtual environment")

type (
	// Environment is the project's isolated environment rooted at Dir.
	Environment struct {
		Dir string
	}

	// ExecContext is everything needed to run a binary inside an Environment
	// without shell activation.
	ExecContext struct {
		VirtualEnv string
		BinDir     string
		Python     string
		Pip        string
	}
)

// New returns the environment at dir, resolved against projectDir.
func New(projectDir, dir string) Environment {
	if dir == "" {
		dir = DefaultDir
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(projectDir, dir)
	}
	return Environment{Dir: dir}
}

func binDirName() string {
	if runtime.GOOS == "windows" {
		return "Scripts"
	}
	return "bin"
}

func exeName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// Exists reports whether Dir holds a virtual environment (a pyvenv.cfg marker).
func (e Environment) Exists() (bool, error) {
	info, err := os.Stat(e.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%w: %s", ErrNotEnvironment, e.Dir)
	}
	if _, err := os.Stat(filepath.Join(e.Dir, "pyvenv.cfg")); err != nil {
		return false, fmt.Errorf("%w: %s has no pyvenv.cfg", ErrNotEnvironment, e.Dir)
	}
	return true, nil
}

// Ensure creates the environment with python when it does not exist. An
// existing environment is left untouched and created is false.
func (e Environment) Ensure(ctx context.Context, r process.Runner, python string, out io.Writer) (created bool, err error) {
	exists, err := e.Exists()
	if err != nil || exists {
		return false, err
	}
	if err := r.Run(ctx, process.Command{
		Name:   python,
		Args:   []string{"-m", "venv", e.Dir},
		Stdout: out,
		Stderr: out,
	}); err != nil {
		return false, fmt.Errorf("create virtual environment %s: %w", e.Dir, err)
	}
	return true, nil
}

// ExecContext describes how to run binaries inside e.
func (e Environment) ExecContext() ExecContext {
	bin := filepath.Join(e.Dir, binDirName())
	return ExecContext{
		VirtualEnv: e.Dir,
		BinDir:     bin,
		Python:     filepath.Join(bin, exeName("python")),
		Pip:        filepath.Join(bin, exeName("pip")),
	}
}

// Environ returns base with VIRTUAL_ENV set, BinDir prepended to PATH and
// PYTHONHOME removed.
func (x ExecContext) Environ(base []string) []string {
	out := make([]string, 0, len(base)+2)
	path := ""
	for _, kv := range base {
		k, v, _ := strings.Cut(kv, "=")
		switch {
		case strings.EqualFold(k, "PATH"):
			path = v
		case k == "VIRTUAL_ENV", k == "PYTHONHOME":
		default:
			out = append(out, kv)
		}
	}
	if path != "" {
		path = x.BinDir + string(os.PathListSeparator) + path
	} else {
		path = x.BinDir
	}
	return append(out, "VIRTUAL_ENV="+x.VirtualEnv, "PATH="+path)
}

// Bin returns the path of name inside the environment's bin directory.
func (x ExecContext) Bin(name string) string {
	return filepath.Join(x.BinDir, exeName(name))
}

// Install installs the manifest's declared dependencies with the
// environment's pip. Failures are returned as-is; there is no retry.
func (x ExecContext) Install(ctx context.Context, r process.Runner, m *manifest.Manifest, projectDir string, upgradePip bool, out io.Writer) error {
	env := x.Environ(os.Environ())
	if upgradePip {
		if err := r.Run(ctx, process.Command{
			Name:   x.Python,
			Args:   []string{"-m", "pip", "install", "--upgrade", "pip"},
			Dir:    projectDir,
			Env:    env,
			Stdout: out,
			Stderr: out,
		}); err != nil {
			return fmt.Errorf("upgrade pip: %w", err)
		}
	}
	args := append([]string{"-m", "pip", "install"}, m.InstallArgs(projectDir)...)
	if err := r.Run(ctx, process.Command{
		Name:   x.Python,
		Args:   args,
		Dir:    projectDir,
		Env:    env,
		Stdout: out,
		Stderr: out,
	}); err != nil {
		return fmt.Errorf("install dependencies from %s: %w", m.Name, err)
	}
	return nil
}
