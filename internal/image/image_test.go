// SPDX-License-Identifier: MPL-2.0

package image

import (
	"path/filepath"
	"testing"

	"github.com/inkboard/inkboot/internal/config"
	"github.com/inkboard/inkboot/internal/manifest"
	"github.com/inkboard/inkboot/internal/testutil"
)

const testRequirements = "fastapi==0.111.0\nalembic==1.13.1\n"

func testManifest(t *testing.T, content string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse(filepath.Join("/src", "requirements.txt"), "requirements.txt", []byte(content))
	if err != nil {
		t.Fatalf("manifest.Parse() unexpected error: %v", err)
	}
	return m
}

func testParams(t *testing.T, startup config.StartupMode) Params {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Image.Startup = startup
	return ParamsFromConfig(cfg, testManifest(t, testRequirements))
}

func testRequirementsFor() Requirements {
	return RequirementsFromConfig(config.DefaultConfig())
}

func mustRender(t *testing.T, p Params) *Rendered {
	t.Helper()
	r, err := Render(p)
	if err != nil {
		t.Fatalf("Render() unexpected error: %v", err)
	}
	return r
}

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(dir, "requirements.txt"), testRequirements)
	testutil.MustWriteFile(t, filepath.Join(dir, "app", "main.py"), "app = None\n")
	testutil.MustWriteFile(t, filepath.Join(dir, "alembic.ini"), "[alembic]\n")
	return dir
}
