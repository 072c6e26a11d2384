// SPDX-License-Identifier: MPL-2.0

package provisioner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/inkboard/inkboot/internal/issue"
	"github.com/inkboard/inkboot/internal/manifest"
	"github.com/inkboard/inkboot/internal/process"
	"github.com/inkboard/inkboot/internal/pyruntime"
	"github.com/inkboard/inkboot/internal/venv"
	"github.com/inkboard/inkboot/pkg/types"
)

var (
	// ErrEnvironmentResolution means no compatible interpreter could be obtained.
	ErrEnvironmentResolution = errors.New("environment resolution failure")
	// ErrDependencyInstallation means the dependency installer failed.
	ErrDependencyInstallation = errors.New("dependency installation failure")
)

type (
	// Options describe one provisioning run.
	Options struct {
		ProjectDir string
		// PythonVersion overrides every other version source when set.
		PythonVersion string
		// ConfiguredVersion is used when neither PythonVersion nor a
		// .python-version file is present.
		ConfiguredVersion string
		Candidates        []string
		VersionManager    string
		VenvDir           string
		Manifest          string
		UpgradePip        bool
		SkipInstall       bool
		DryRun            bool
	}

	// Step is one planned or completed action.
	Step struct {
		Name   string
		Detail string
	}

	// Result reports what a run did.
	Result struct {
		Required          pyruntime.Version
		RequirementSource pyruntime.RequirementSource
		Runtime           pyruntime.Descriptor
		Environment       venv.Environment
		Created           bool
		Installed         bool
		Steps             []Step
	}

	// Provisioner runs the provisioning steps.
	Provisioner struct {
		runner process.Runner
		chain  pyruntime.Chain
		out    io.Writer
		logger *slog.Logger
	}

	// Option configures a Provisioner.
	Option func(*Provisioner)
)

// WithChain replaces the default system-then-version-manager chain.
func WithChain(c pyruntime.Chain) Option {
	return func(p *Provisioner) { p.chain = c }
}

// WithOutput sets where child process output (venv creation, pip) goes.
func WithOutput(w io.Writer) Option {
	return func(p *Provisioner) { p.out = w }
}

// WithLogger sets the progress logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provisioner) { p.logger = l }
}

// New creates a Provisioner that runs commands through r.
func New(r process.Runner, opts ...Option) *Provisioner {
	p := &Provisioner{runner: r, out: io.Discard, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ExitCode maps a Provision error to the process exit code.
func ExitCode(err error) types.ExitCode {
	switch {
	case err == nil:
		return types.ExitSuccess
	case errors.Is(err, ErrEnvironmentResolution):
		return types.ExitEnvironmentResolution
	case errors.Is(err, ErrDependencyInstallation):
		return types.ExitDependencyInstall
	default:
		return types.ExitFailure
	}
}

// Provision resolves the runtime, ensures the environment and installs
// dependencies. With DryRun set it only reports the plan.
func (p *Provisioner) Provision(ctx context.Context, opts Options) (*Result, error) {
	req, src, err := pyruntime.RequiredVersion(opts.PythonVersion, opts.ProjectDir, opts.ConfiguredVersion)
	if err != nil {
		return nil, resolutionError(err, "", src)
	}
	res := &Result{
		Required:          req,
		RequirementSource: src,
		Environment:       venv.New(opts.ProjectDir, opts.VenvDir),
	}
	p.logger.Info("required python version", "version", req.String(), "source", string(src))

	if opts.DryRun {
		return res, p.plan(res, opts)
	}

	chain := p.chain
	if chain == nil {
		chain = pyruntime.NewDefaultChain(p.runner, opts.Candidates, opts.VersionManager, p.logger)
	}
	desc, err := chain.Resolve(ctx, req)
	if err != nil {
		return res, resolutionError(err, opts.VersionManager, src)
	}
	res.Runtime = desc
	res.Steps = append(res.Steps, Step{Name: "resolve runtime", Detail: fmt.Sprintf("%s (%s, via %s)", desc.Executable, desc.Version, desc.Source)})
	p.logger.Info("resolved python runtime", "executable", desc.Executable, "version", desc.Version.String(), "source", string(desc.Source))

	created, err := res.Environment.Ensure(ctx, p.runner, desc.Executable, p.out)
	if err != nil {
		return res, resolutionError(err, opts.VersionManager, src)
	}
	res.Created = created
	if created {
		res.Steps = append(res.Steps, Step{Name: "create environment", Detail: res.Environment.Dir})
		p.logger.Info("created virtual environment", "dir", res.Environment.Dir)
	} else {
		res.Steps = append(res.Steps, Step{Name: "reuse environment", Detail: res.Environment.Dir})
		p.logger.Info("virtual environment already exists, reusing", "dir", res.Environment.Dir)
	}

	if opts.SkipInstall {
		p.logger.Info("skipping dependency installation")
		return res, nil
	}

	m, err := manifest.Load(opts.ProjectDir, opts.Manifest)
	if err != nil {
		return res, installError(err, opts.Manifest)
	}
	x := res.Environment.ExecContext()
	p.logger.Info("installing dependencies", "manifest", m.Name, "requirements", len(m.Requirements))
	if err := x.Install(ctx, p.runner, m, opts.ProjectDir, opts.UpgradePip, p.out); err != nil {
		return res, installError(err, m.Name)
	}
	res.Installed = true
	res.Steps = append(res.Steps, Step{Name: "install dependencies", Detail: m.Name})
	p.logger.Info("dependencies installed", "python", x.Python)
	return res, nil
}

func (p *Provisioner) plan(res *Result, opts Options) error {
	candidates := opts.Candidates
	if len(candidates) == 0 {
		candidates = pyruntime.DefaultCandidates(res.Required)
	}
	tool := opts.VersionManager
	if tool == "" {
		tool = pyruntime.DefaultVersionManager
	}
	res.Steps = append(res.Steps, Step{
		Name:   "resolve runtime",
		Detail: fmt.Sprintf("probe %s for %s, then fall back to %s", strings.Join(candidates, ", "), res.Required.MinorString(), tool),
	})

	exists, err := res.Environment.Exists()
	if err != nil {
		return resolutionError(err, tool, res.RequirementSource)
	}
	if exists {
		res.Steps = append(res.Steps, Step{Name: "reuse environment", Detail: res.Environment.Dir})
	} else {
		res.Steps = append(res.Steps, Step{Name: "create environment", Detail: "<runtime> -m venv " + res.Environment.Dir})
	}

	if !opts.SkipInstall {
		res.Steps = append(res.Steps, Step{Name: "install dependencies", Detail: res.Environment.ExecContext().Pip + " install from " + opts.Manifest})
	}
	return nil
}

func resolutionError(cause error, tool string, src pyruntime.RequirementSource) error {
	ctx := issue.NewErrorContext().
		WithOperation("resolve python runtime").
		WithIssue(issue.RuntimeNotFoundId)

	switch {
	case errors.Is(cause, pyruntime.ErrVersionManagerMissing):
		if tool == "" {
			tool = pyruntime.DefaultVersionManager
		}
		ctx.WithIssue(issue.VersionManagerMissingId).
			WithResource(tool).
			WithSuggestion("Install " + tool + ": https://github.com/pyenv/pyenv#installation").
			WithSuggestion("Or install the required python version system-wide and make sure it is on PATH")
	case errors.Is(cause, pyruntime.ErrInvalidVersion):
		ctx.WithResource(string(src)).
			WithSuggestion("Use a major.minor[.patch] version such as 3.12.3")
	case errors.Is(cause, venv.ErrNotEnvironment):
		ctx.WithOperation("prepare virtual environment").
			WithSuggestion("Remove or rename the directory so a fresh environment can be created")
	default:
		ctx.WithSuggestion("Install the required python version, or pin another one in .python-version")
	}

	return ctx.Wrap(fmt.Errorf("%w: %w", ErrEnvironmentResolution, cause)).BuildError()
}

func installError(cause error, manifestName string) error {
	ctx := issue.NewErrorContext().
		WithOperation("install dependencies").
		WithResource(manifestName).
		WithIssue(issue.DependencyInstallFailedId).
		WithSuggestion("Fix the failing requirement shown in the installer output above").
		WithSuggestion("System libraries needed to build wheels (e.g. libpq-dev) may be missing")
	if errors.Is(cause, manifest.ErrManifestNotFound) {
		ctx.WithSuggestion("Set venv.manifest to the project's requirements file")
	}
	return ctx.Wrap(fmt.Errorf("%w: %w", ErrDependencyInstallation, cause)).BuildError()
}
