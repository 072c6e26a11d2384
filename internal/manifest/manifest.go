// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	// KindRequirements is a pip requirements file.
	KindRequirements Kind = "requirements"
	// KindPyProject is a pyproject.toml with [project].dependencies.
	KindPyProject Kind = "pyproject"

	// PyProjectFileName is the fixed name of a pyproject manifest.
	PyProjectFileName = "pyproject.toml"
)

var (
	// ErrManifestNotFound is returned when the manifest file does not exist.
	ErrManifestNotFound = errors.New("dependency manifest not found")
	// ErrNoDependencies is returned when a pyproject.toml declares no dependencies.
	ErrNoDependencies = errors.New("pyproject.toml declares no [project].dependencies")
)

type (
	// Kind identifies the manifest format.
	Kind string

	// Manifest is a loaded dependency manifest.
	Manifest struct {
		// Path is the manifest's absolute path.
		Path string
		// Name is Path relative to the project root, slash separated.
		Name    string
		Kind    Kind
		Content []byte
		// Requirements holds the declared requirement specifiers in file order.
		Requirements []string
	}

	pyProject struct {
		Project struct {
			Name         string   `toml:"name"`
			Dependencies []string `toml:"dependencies"`
		} `toml:"project"`
	}
)

// KindOf infers the format from a manifest file name.
func KindOf(name string) Kind {
	if filepath.Base(name) == PyProjectFileName {
		return KindPyProject
	}
	return KindRequirements
}

// Load reads the manifest at name, resolved against projectDir.
func Load(projectDir, name string) (*Manifest, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(projectDir, name)
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	rel, err := filepath.Rel(projectDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	return Parse(path, filepath.ToSlash(rel), content)
}

// Parse builds a Manifest from raw content. name is used for format detection
// and as the path inside the build context.
func Parse(path, name string, content []byte) (*Manifest, error) {
	m := &Manifest{Path: path, Name: name, Kind: KindOf(name), Content: content}
	switch m.Kind {
	case KindPyProject:
		var doc pyProject
		if err := toml.Unmarshal(content, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		if len(doc.Project.Dependencies) == 0 {
			return nil, ErrNoDependencies
		}
		m.Requirements = doc.Project.Dependencies
	default:
		m.Requirements = parseRequirements(content)
	}
	return m, nil
}

func parseRequirements(content []byte) []string {
	var reqs []string
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.Index(line, " #"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		reqs = append(reqs, line)
	}
	return reqs
}

// Hash returns the hex sha256 of the manifest content.
func (m *Manifest) Hash() string {
	sum := sha256.Sum256(m.Content)
	return hex.EncodeToString(sum[:])
}

// InstallArgs returns the pip arguments that install the declared set, with
// file references relative to dir.
func (m *Manifest) InstallArgs(dir string) []string {
	if m.Kind == KindPyProject {
		return append([]string(nil), m.Requirements...)
	}
	return []string{"-r", filepath.Join(dir, filepath.FromSlash(m.Name))}
}
