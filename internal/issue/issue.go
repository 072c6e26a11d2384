// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Catalog IDs. Zero means "no catalog entry".
const (
	RuntimeNotFoundId Id = iota + 1
	VersionManagerMissingId
	DependencyInstallFailedId
	ContainerEngineNotFoundId
	ImagePropertyViolationId
	ImageBuildFailedId
	MigrationFailedId
	ServerLaunchFailedId
	PreflightFailedId
	ConfigLoadFailedId
	UnhealthyId
)

type (
	// Id identifies an entry in the issue catalog.
	Id int

	// MarkdownMsg is the markdown body of a catalog entry.
	MarkdownMsg string

	// HttpLink is an external documentation link.
	HttpLink string

	// Issue is a catalog entry: a long-form remediation guide for one failure class.
	Issue struct {
		id       Id
		slug     string
		mdMsg    MarkdownMsg
		docLinks []HttpLink
	}
)

// Id returns the catalog ID.
func (i *Issue) Id() Id {
	return i.id
}

// Slug returns the short name used by `inkboot issue <slug>`.
func (i *Issue) Slug() string {
	return i.slug
}

// MarkdownMsg returns the raw markdown body.
func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

// DocLinks returns a copy of the documentation links.
func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

// Render renders the entry for a terminal using the given glamour style.
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	runtimeNotFoundIssue = &Issue{
		id:   RuntimeNotFoundId,
		slug: "runtime-not-found",
		mdMsg: `
# No compatible Python runtime

None of the system interpreters matched the required major.minor version, and
the version manager could not provide one.

## Things you can try
- Install the required version with pyenv:
~~~
$ pyenv install 3.12.3
~~~
- Pin a different version for this checkout:
~~~
$ echo 3.12.3 > .python-version
~~~
- Override for one run:
~~~
$ inkboot provision --python-version 3.12.3
~~~`,
		docLinks: []HttpLink{"https://www.python.org/downloads/"},
	}

	versionManagerMissingIssue = &Issue{
		id:   VersionManagerMissingId,
		slug: "version-manager-missing",
		mdMsg: `
# pyenv is not installed

No system interpreter matched the required version, so inkboot tried to fall
back to pyenv, which is not on your PATH.

## Install pyenv
- macOS:
~~~
$ brew install pyenv
~~~
- Linux:
~~~
$ curl https://pyenv.run | bash
~~~
Then add pyenv to your shell profile and re-run ` + "`inkboot provision`" + `.`,
		docLinks: []HttpLink{"https://github.com/pyenv/pyenv#installation"},
	}

	dependencyInstallFailedIssue = &Issue{
		id:   DependencyInstallFailedId,
		slug: "dependency-install-failed",
		mdMsg: `
# Dependency installation failed

pip exited with an error while installing the declared dependency set into
the isolated environment. inkboot does not retry installation.

## Things you can try
- Read the pip output above for the failing package
- Make sure system headers are present (for example ` + "`libpq-dev`" + ` for psycopg)
- Re-run ` + "`inkboot provision`" + `; the environment is reused, only installation is repeated`,
	}

	containerEngineNotFoundIssue = &Issue{
		id:   ContainerEngineNotFoundId,
		slug: "container-engine-not-found",
		mdMsg: `
# Container engine not found

Building the image requires Docker or Podman.

## Things you can try
- Install Docker: https://docs.docker.com/get-docker/
- Install Podman: ` + "`brew install podman`" + ` or ` + "`sudo apt install podman`" + `
- Select an engine explicitly:
~~~cue
image: engine: "podman"
~~~`,
	}

	imagePropertyViolationIssue = &Issue{
		id:   ImagePropertyViolationId,
		slug: "image-property-violation",
		mdMsg: `
# Dockerfile violates the image contract

Every image must install dependencies from the manifest before copying the
source tree, run as a non-root account, expose a single port, declare the
health probe and start with migrate-then-serve.

## Things you can try
- Print the reference Dockerfile:
~~~
$ inkboot image render
~~~
- Check a hand-written Dockerfile:
~~~
$ inkboot image verify Dockerfile
~~~`,
	}

	imageBuildFailedIssue = &Issue{
		id:   ImageBuildFailedId,
		slug: "image-build-failed",
		mdMsg: `
# Image build failed

The container engine rejected the build.

## Things you can try
- Re-run with ` + "`--verbose`" + ` to see the full engine output
- Make sure the base image can be pulled
- Rebuild without cache: ` + "`inkboot image build --no-cache`",
	}

	migrationFailedIssue = &Issue{
		id:   MigrationFailedId,
		slug: "migration-failed",
		mdMsg: `
# Schema migration failed

The migration tool exited non-zero, so the server was not started.

## Things you can try
- Check that ` + "`DATABASE_URL`" + ` points at a reachable database
- Run the migrations alone to see the tool output:
~~~
$ inkboot migrate
~~~
- Inspect the migration history with your migration tool`,
	}

	serverLaunchFailedIssue = &Issue{
		id:   ServerLaunchFailedId,
		slug: "server-launch-failed",
		mdMsg: `
# Server failed to start

The server process could not be launched or exited with an error. inkboot
does not restart it; that is the job of your process supervisor.

## Things you can try
- Make sure the server command is installed in the environment
- Check that port 8000 is free
- Run ` + "`inkboot serve --verbose`" + ` for the full command line`,
	}

	preflightFailedIssue = &Issue{
		id:   PreflightFailedId,
		slug: "preflight-failed",
		mdMsg: `
# A dependency never became ready

One of the configured dependencies (database, cache, object storage or the
signing secret) failed its readiness check before the deadline.

## Things you can try
- Verify the connection strings in your environment or ` + "`.env`" + `
- Raise ` + "`preflight.timeout`" + ` if the dependency is slow to boot
- Skip preflight for one run: ` + "`inkboot run --skip-preflight`",
	}

	configLoadFailedIssue = &Issue{
		id:   ConfigLoadFailedId,
		slug: "config-load-failed",
		mdMsg: `
# Failed to load configuration

inkboot reads ` + "`inkboot.cue`" + ` from the project root, then the user
config directory.

## Things you can try
- Create a default file:
~~~
$ inkboot config init
~~~
- Show the effective configuration:
~~~
$ inkboot config show
~~~`,
	}

	unhealthyIssue = &Issue{
		id:   UnhealthyId,
		slug: "unhealthy",
		mdMsg: `
# Instance is unhealthy

The health endpoint failed the configured number of consecutive probes after
the start period.

## Things you can try
- Check the server logs
- Probe once by hand: ` + "`inkboot healthcheck --verbose`",
	}

	issues = map[Id]*Issue{
		runtimeNotFoundIssue.Id():         runtimeNotFoundIssue,
		versionManagerMissingIssue.Id():   versionManagerMissingIssue,
		dependencyInstallFailedIssue.Id(): dependencyInstallFailedIssue,
		containerEngineNotFoundIssue.Id(): containerEngineNotFoundIssue,
		imagePropertyViolationIssue.Id():  imagePropertyViolationIssue,
		imageBuildFailedIssue.Id():        imageBuildFailedIssue,
		migrationFailedIssue.Id():         migrationFailedIssue,
		serverLaunchFailedIssue.Id():      serverLaunchFailedIssue,
		preflightFailedIssue.Id():         preflightFailedIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		unhealthyIssue.Id():               unhealthyIssue,
	}
)

// Values returns every catalog entry ordered by ID.
func Values() []*Issue {
	ids := maps.Keys(issues)
	slices.Sort(ids)
	out := make([]*Issue, 0, len(ids))
	for _, id := range ids {
		out = append(out, issues[id])
	}
	return out
}

// Get returns the catalog entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}

// Lookup returns the catalog entry with the given slug, or nil.
func Lookup(slug string) *Issue {
	for _, i := range issues {
		if i.slug == slug {
			return i
		}
	}
	return nil
}
