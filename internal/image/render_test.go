// SPDX-License-Identifier: MPL-2.0

package image

import (
	"errors"
	"strings"
	"testing"

	"github.com/inkboard/inkboot/internal/config"
	"github.com/inkboard/inkboot/internal/manifest"
)

func TestRender_Shell(t *testing.T) {
	t.Parallel()

	r := mustRender(t, testParams(t, config.StartupShell))
	for _, want := range []string{
		"FROM python:3.12-slim\n",
		"COPY --chown=appuser:appuser requirements.txt ./requirements.txt\n",
		"RUN pip install --no-cache-dir -r requirements.txt\n",
		`LABEL ` + DependencyKeyLabel + `="` + r.DependencyKey + `"`,
		"COPY --chown=appuser:appuser . .\n",
		"USER appuser\n",
		"EXPOSE 8000\n",
		"HEALTHCHECK --interval=30s --timeout=10s --start-period=40s --retries=3",
		"CMD curl -fsS --max-time 10 http://localhost:8000/health || exit 1",
		`CMD ["sh", "-c", "alembic upgrade head && exec uvicorn app.main:app --host 0.0.0.0 --port 8000"]`,
	} {
		if !strings.Contains(r.Dockerfile, want) {
			t.Errorf("Dockerfile missing %q\n%s", want, r.Dockerfile)
		}
	}
	if strings.Contains(r.Dockerfile, BinaryImagePath) {
		t.Error("shell startup should not copy the inkboot binary")
	}
}

func TestRender_Binary(t *testing.T) {
	t.Parallel()

	r := mustRender(t, testParams(t, config.StartupBinary))
	for _, want := range []string{
		"COPY " + BinaryContextPath + " " + BinaryImagePath + "\n",
		`CMD ["inkboot", "healthcheck"]`,
		`CMD ["inkboot", "run"]`,
	} {
		if !strings.Contains(r.Dockerfile, want) {
			t.Errorf("Dockerfile missing %q\n%s", want, r.Dockerfile)
		}
	}
	if r.Startup != config.StartupBinary {
		t.Errorf("Startup = %s", r.Startup)
	}
}

func TestRender_DependencyLayerPrecedesSource(t *testing.T) {
	t.Parallel()

	r := mustRender(t, testParams(t, config.StartupShell))
	install := strings.Index(r.Dockerfile, "RUN pip install")
	source := strings.Index(r.Dockerfile, "COPY --chown=appuser:appuser . .")
	if install < 0 || source < 0 || install > source {
		t.Errorf("pip install at %d, source copy at %d", install, source)
	}
}

func TestRender_PrefixAndKeyIgnoreApplicationSettings(t *testing.T) {
	t.Parallel()

	base := testParams(t, config.StartupShell)
	changed := base
	changed.ServeCommand = "gunicorn app.main:app"
	changed.MigrateCommand = "alembic upgrade heads"
	changed.Health.Interval *= 2

	a, b := mustRender(t, base), mustRender(t, changed)
	if a.DependencyKey != b.DependencyKey {
		t.Error("dependency key changed with application settings")
	}
	if DependencyPrefix(a.Dockerfile) != DependencyPrefix(b.Dockerfile) {
		t.Error("dependency prefix changed with application settings")
	}
	if a.Dockerfile == b.Dockerfile {
		t.Error("application layer should differ")
	}
}

func TestRender_KeyTracksManifest(t *testing.T) {
	t.Parallel()

	base := testParams(t, config.StartupShell)
	changed := base
	changed.Manifest = testManifest(t, testRequirements+"redis==5.0.4\n")

	if mustRender(t, base).DependencyKey == mustRender(t, changed).DependencyKey {
		t.Error("dependency key should change with manifest content")
	}

	pkgs := base
	pkgs.SystemPackages = append(pkgs.SystemPackages, "git")
	if mustRender(t, base).DependencyKey == mustRender(t, pkgs).DependencyKey {
		t.Error("dependency key should change with system packages")
	}
}

func TestRender_PyProject(t *testing.T) {
	t.Parallel()

	m, err := manifest.Parse("/src/pyproject.toml", "pyproject.toml", []byte("[project]\nname = \"x\"\ndependencies = [\"fastapi>=0.110\"]\n"))
	if err != nil {
		t.Fatal(err)
	}
	p := testParams(t, config.StartupShell)
	p.Manifest = m

	r := mustRender(t, p)
	if !strings.Contains(r.Dockerfile, `RUN ["pip", "install", "--no-cache-dir", "fastapi>=0.110"]`) {
		t.Errorf("pyproject install missing:\n%s", r.Dockerfile)
	}
	if err := Verify(r.Dockerfile, Requirements{
		ManifestName:   "pyproject.toml",
		Port:           p.Port,
		Health:         p.Health,
		MigrateCommand: p.MigrateCommand,
		ServeCommand:   p.ServeCommand,
	}); err != nil {
		t.Errorf("Verify() = %v", err)
	}
}

func TestRender_Errors(t *testing.T) {
	t.Parallel()

	p := testParams(t, config.StartupShell)
	p.ServeCommand = ""
	if _, err := Render(p); !errors.Is(err, ErrShellStartupNeedsServeCommand) {
		t.Errorf("Render() error = %v, want ErrShellStartupNeedsServeCommand", err)
	}

	p = testParams(t, config.StartupShell)
	p.Manifest = nil
	if _, err := Render(p); err == nil {
		t.Error("Render() without manifest should fail")
	}
}

func TestResolveStartup(t *testing.T) {
	t.Parallel()

	if got := ResolveStartup(config.StartupShell); got != config.StartupShell {
		t.Errorf("ResolveStartup(shell) = %s", got)
	}
	if got := ResolveStartup(config.StartupAuto); got != config.StartupBinary && got != config.StartupShell {
		t.Errorf("ResolveStartup(auto) = %s", got)
	}
}
