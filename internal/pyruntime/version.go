// SPDX-License-Identifier: MPL-2.0

package pyruntime

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// VersionFileName pins the interpreter version for a checkout.
const VersionFileName = ".python-version"

// ErrInvalidVersion is the sentinel error wrapped by InvalidVersionError.
var ErrInvalidVersion = errors.New("invalid python version")

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

type (
	// Version is a Python version. Patch is meaningful only when HasPatch is set.
	Version struct {
		Major    int
		Minor    int
		Patch    int
		HasPatch bool
	}

	// InvalidVersionError is returned when a string holds no major.minor version.
	InvalidVersionError struct {
		Value string
	}

	// RequirementSource tells where the required version came from.
	RequirementSource string
)

const (
	// RequirementFlag means the --python-version flag.
	RequirementFlag RequirementSource = "flag"
	// RequirementFile means the project's .python-version file.
	RequirementFile RequirementSource = VersionFileName
	// RequirementConfig means runtime.version from configuration.
	RequirementConfig RequirementSource = "config"
)

// ParseVersion extracts the first version number from s. It accepts bare
// versions ("3.12.3", "3.12") as well as interpreter banners ("Python 3.12.3").
func ParseVersion(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, &InvalidVersionError{Value: s}
	}
	v := Version{}
	v.Major, _ = strconv.Atoi(m[1])
	v.Minor, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		v.Patch, _ = strconv.Atoi(m[3])
		v.HasPatch = true
	}
	return v, nil
}

// MustParseVersion is ParseVersion for constants; it panics on error.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders major.minor[.patch].
func (v Version) String() string {
	if v.HasPatch {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	return v.MinorString()
}

// MinorString renders major.minor.
func (v Version) MinorString() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// SameMinor reports whether v and o share major.minor. Patch is ignored.
func (v Version) SameMinor(o Version) bool {
	return v.Major == o.Major && v.Minor == o.Minor
}

// Error implements the error interface for InvalidVersionError.
func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid python version %q: expected major.minor[.patch]", e.Value)
}

// Unwrap returns ErrInvalidVersion for errors.Is() compatibility.
func (e *InvalidVersionError) Unwrap() error { return ErrInvalidVersion }

// RequiredVersion applies the precedence flag, then .python-version in
// projectDir, then the configured default.
func RequiredVersion(flag, projectDir, configured string) (Version, RequirementSource, error) {
	if strings.TrimSpace(flag) != "" {
		v, err := ParseVersion(flag)
		return v, RequirementFlag, err
	}

	pinned, err := readVersionFile(filepath.Join(projectDir, VersionFileName))
	if err != nil {
		return Version{}, RequirementFile, err
	}
	if pinned != "" {
		v, err := ParseVersion(pinned)
		return v, RequirementFile, err
	}

	v, err := ParseVersion(configured)
	return v, RequirementConfig, err
}

// readVersionFile returns the first non-comment line of a .python-version
// file, or "" when the file does not exist.
func readVersionFile(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, nil
	}
	return "", sc.Err()
}
