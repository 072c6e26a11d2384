// SPDX-License-Identifier: MPL-2.0

package pyruntime

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "3.12.3", want: Version{Major: 3, Minor: 12, Patch: 3, HasPatch: true}},
		{in: "3.12", want: Version{Major: 3, Minor: 12}},
		{in: "Python 3.11.9\n", want: Version{Major: 3, Minor: 11, Patch: 9, HasPatch: true}},
		{in: "3.13.0rc1", want: Version{Major: 3, Minor: 13, HasPatch: true}},
		{in: "python", wantErr: true},
		{in: "", wantErr: true},
		{in: "3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseVersion(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidVersion) {
					t.Fatalf("ParseVersion(%q) error = %v, want ErrInvalidVersion", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVersion(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseVersion(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestVersion_String(t *testing.T) {
	t.Parallel()

	if got := MustParseVersion("3.12.3").String(); got != "3.12.3" {
		t.Errorf("String() = %q, want 3.12.3", got)
	}
	if got := MustParseVersion("3.12").String(); got != "3.12" {
		t.Errorf("String() = %q, want 3.12", got)
	}
	if got := MustParseVersion("3.12.3").MinorString(); got != "3.12" {
		t.Errorf("MinorString() = %q, want 3.12", got)
	}
}

func TestVersion_SameMinor(t *testing.T) {
	t.Parallel()

	req := MustParseVersion("3.12.3")
	if !MustParseVersion("3.12.0").SameMinor(req) {
		t.Error("3.12.0 should match 3.12.3 ignoring patch")
	}
	if MustParseVersion("3.11.9").SameMinor(req) {
		t.Error("3.11.9 should not match 3.12.3")
	}
	if MustParseVersion("2.12.3").SameMinor(req) {
		t.Error("2.12.3 should not match 3.12.3")
	}
}

func TestRequiredVersion(t *testing.T) {
	t.Parallel()

	pinned := t.TempDir()
	if err := os.WriteFile(filepath.Join(pinned, VersionFileName), []byte("# pinned\n\n3.11.4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	empty := t.TempDir()

	tests := []struct {
		name       string
		flag       string
		dir        string
		configured string
		want       string
		wantSource RequirementSource
	}{
		{name: "flag wins", flag: "3.13", dir: pinned, configured: "3.12.3", want: "3.13", wantSource: RequirementFlag},
		{name: "version file over config", dir: pinned, configured: "3.12.3", want: "3.11.4", wantSource: RequirementFile},
		{name: "config fallback", dir: empty, configured: "3.12.3", want: "3.12.3", wantSource: RequirementConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v, src, err := RequiredVersion(tt.flag, tt.dir, tt.configured)
			if err != nil {
				t.Fatalf("RequiredVersion() unexpected error: %v", err)
			}
			if v.String() != tt.want {
				t.Errorf("version = %s, want %s", v, tt.want)
			}
			if src != tt.wantSource {
				t.Errorf("source = %s, want %s", src, tt.wantSource)
			}
		})
	}
}

func TestRequiredVersion_InvalidFlag(t *testing.T) {
	t.Parallel()

	_, src, err := RequiredVersion("latest", t.TempDir(), "3.12.3")
	if !errors.Is(err, ErrInvalidVersion) {
		t.Fatalf("error = %v, want ErrInvalidVersion", err)
	}
	if src != RequirementFlag {
		t.Errorf("source = %s, want flag", src)
	}
}
