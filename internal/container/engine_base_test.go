// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/inkboard/inkboot/internal/issue"
)

func TestBaseCLIEngine_BuildArgs(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("docker", WithBinaryPath("/usr/bin/docker"))
	args := e.BuildArgs(BuildOptions{
		ContextDir: "/tmp/ctx",
		Dockerfile: "Dockerfile",
		Tag:        "inkboard:latest",
		NoCache:    true,
		Labels:     map[string]string{"b": "2", "a": "1"},
	})

	want := []string{
		"build",
		"-f", filepath.Join("/tmp/ctx", "Dockerfile"),
		"-t", "inkboard:latest",
		"--no-cache",
		"--label", "a=1",
		"--label", "b=2",
		"/tmp/ctx",
	}
	if !slices.Equal(args, want) {
		t.Errorf("BuildArgs() = %v, want %v", args, want)
	}
}

func TestBaseCLIEngine_CreateCommandEnvOverridesSorted(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("docker",
		WithBinaryPath("/usr/bin/docker"),
		WithCmdEnvOverride("DOCKER_BUILDKIT", "1"),
		WithCmdEnvOverride("BUILDKIT_PROGRESS", "plain"),
	)
	cmd := e.CreateCommand(t.Context(), "version")

	n := len(cmd.Env)
	if n < 2 {
		t.Fatalf("Env = %v, want the overrides appended", cmd.Env)
	}
	want := []string{"BUILDKIT_PROGRESS=plain", "DOCKER_BUILDKIT=1"}
	if got := cmd.Env[n-2:]; !slices.Equal(got, want) {
		t.Errorf("trailing Env = %v, want %v", got, want)
	}
}

func TestBaseCLIEngine_BuildArgsAbsoluteDockerfile(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("docker", WithBinaryPath("/usr/bin/docker"))
	args := e.BuildArgs(BuildOptions{ContextDir: "/tmp/ctx", Dockerfile: "/srv/Dockerfile"})
	if !slices.Contains(args, "/srv/Dockerfile") {
		t.Errorf("absolute Dockerfile path should be kept: %v", args)
	}
}

func TestPodmanEngine_BuildArgsUsesDockerFormat(t *testing.T) {
	t.Parallel()

	e := NewPodmanEngine(WithBinaryPath("/usr/bin/podman"))
	args := e.BuildArgs(BuildOptions{ContextDir: "/tmp/ctx", Tag: "inkboard:latest"})
	if len(args) < 3 || args[0] != "build" || args[1] != "--format" || args[2] != "docker" {
		t.Errorf("BuildArgs() = %v, want build --format docker ...", args)
	}
}

func TestBaseCLIEngine_RemoveImageArgs(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("docker", WithBinaryPath("/usr/bin/docker"))
	if got := e.RemoveImageArgs("inkboard:old", true); !slices.Equal(got, []string{"rmi", "-f", "inkboard:old"}) {
		t.Errorf("RemoveImageArgs() = %v", got)
	}
	if got := e.RemoveImageArgs("inkboard:old", false); !slices.Equal(got, []string{"rmi", "inkboard:old"}) {
		t.Errorf("RemoveImageArgs() = %v", got)
	}
}

func TestDockerEngine_Build(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	recorder.Stdout = "Successfully built"
	engine := NewDockerEngine(recorder.Options(t, "docker")...)

	var out bytes.Buffer
	err := engine.Build(context.Background(), BuildOptions{ContextDir: t.TempDir(), Tag: "inkboard:test", Stdout: &out})
	if err != nil {
		t.Fatalf("Build() unexpected error: %v", err)
	}
	recorder.AssertInvocationCount(t, 1)
	if !recorder.HasArgPair("-t", "inkboard:test") {
		t.Errorf("missing -t inkboard:test in %v", recorder.LastArgs())
	}
	if out.String() != "Successfully built" {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestDockerEngine_BuildFailureIsActionable(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	recorder.ExitCode = 1
	recorder.Stderr = "failed to solve: pip install returned 1"
	engine := NewDockerEngine(recorder.Options(t, "docker")...)

	err := engine.Build(context.Background(), BuildOptions{ContextDir: t.TempDir(), Tag: "inkboard:test"})
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("error = %T, want *issue.ActionableError", err)
	}
	if ae.IssueID != issue.ImageBuildFailedId {
		t.Errorf("IssueID = %v, want ImageBuildFailedId", ae.IssueID)
	}
	if !strings.Contains(err.Error(), "pip install returned 1") {
		t.Errorf("error should carry engine stderr: %v", err)
	}
	if IsTransientError(err) {
		t.Error("a failing RUN step must not be classified as transient")
	}
}

func TestBuildOptions_Validate(t *testing.T) {
	t.Parallel()

	if err := (BuildOptions{}).Validate(); err == nil {
		t.Error("missing context dir should be rejected")
	}
	if err := (BuildOptions{ContextDir: "/x", Tag: "Bad Tag"}).Validate(); !errors.Is(err, ErrInvalidImageTag) {
		t.Errorf("bad tag error = %v, want ErrInvalidImageTag", err)
	}
	if err := (BuildOptions{ContextDir: "/x", Tag: "registry.example.com/inkboard:1.2.0"}).Validate(); err != nil {
		t.Errorf("valid tag rejected: %v", err)
	}
}

func TestBaseCLIEngine_ImageLabel(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	recorder.Stdout = "abc123\n"
	engine := NewDockerEngine(recorder.Options(t, "docker")...)

	got, err := engine.ImageLabel(context.Background(), "inkboard:test", "org.inkboard.deps")
	if err != nil {
		t.Fatalf("ImageLabel() unexpected error: %v", err)
	}
	if got != "abc123" {
		t.Errorf("ImageLabel() = %q, want abc123", got)
	}
	recorder.AssertArgsContain(t, `{{ index .Config.Labels "org.inkboard.deps" }}`)
}

func TestBaseCLIEngine_ImageLabelUnset(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	recorder.Stdout = "<no value>\n"
	engine := NewPodmanEngine(recorder.Options(t, "podman")...)

	got, err := engine.ImageLabel(context.Background(), "inkboard:test", "missing")
	if err != nil || got != "" {
		t.Errorf("ImageLabel() = %q, %v; want empty", got, err)
	}
}

func TestEngine_ImageExists(t *testing.T) {
	t.Parallel()

	present := NewMockCommandRecorder()
	docker := NewDockerEngine(present.Options(t, "docker")...)
	if ok, _ := docker.ImageExists(context.Background(), "inkboard:test"); !ok {
		t.Error("expected image to exist")
	}

	missing := NewMockCommandRecorder()
	missing.ExitCode = 1
	podman := NewPodmanEngine(missing.Options(t, "podman")...)
	if ok, _ := podman.ImageExists(context.Background(), "inkboard:test"); ok {
		t.Error("expected image to be missing")
	}
	if args := missing.LastArgs(); !slices.Equal(args, []string{"image", "exists", "inkboard:test"}) {
		t.Errorf("podman args = %v", args)
	}
}

func TestBuildWithRetry_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	recorder.ExitCode = 1
	recorder.Stderr = "Could not resolve host: deb.debian.org"
	engine := NewDockerEngine(recorder.Options(t, "docker")...)

	err := BuildWithRetry(context.Background(), engine, BuildOptions{ContextDir: t.TempDir()}, DefaultBuildAttempts, time.Millisecond)
	if err == nil {
		t.Fatal("BuildWithRetry() should fail")
	}
	recorder.AssertInvocationCount(t, DefaultBuildAttempts)
}

func TestBuildWithRetry_PermanentFailureNotRetried(t *testing.T) {
	t.Parallel()

	recorder := NewMockCommandRecorder()
	recorder.ExitCode = 1
	recorder.Stderr = "unknown instruction: FORM"
	engine := NewDockerEngine(recorder.Options(t, "docker")...)

	_ = BuildWithRetry(context.Background(), engine, BuildOptions{ContextDir: t.TempDir()}, DefaultBuildAttempts, time.Millisecond)
	recorder.AssertInvocationCount(t, 1)
}

func TestDockerEngine_EnablesBuildKit(t *testing.T) {
	t.Parallel()

	e := NewDockerEngine(WithBinaryPath("/usr/bin/docker"))
	cmd := e.CreateCommand(context.Background(), "version")
	if !slices.Contains(cmd.Env, "DOCKER_BUILDKIT=1") {
		t.Error("docker commands should run with DOCKER_BUILDKIT=1")
	}
}
