// SPDX-License-Identifier: MPL-2.0

package pyruntime

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/inkboard/inkboot/internal/process"
	"github.com/inkboard/inkboot/internal/testutil"
)

type stubStrategy struct {
	name  string
	desc  Descriptor
	err   error
	calls int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Resolve(context.Context, Version) (Descriptor, error) {
	s.calls++
	return s.desc, s.err
}

func TestChain_Resolve(t *testing.T) {
	t.Parallel()

	req := MustParseVersion("3.12.3")
	boom := errors.New("boom")

	t.Run("first success wins", func(t *testing.T) {
		t.Parallel()
		first := &stubStrategy{name: "a", desc: Descriptor{Executable: "/a"}}
		second := &stubStrategy{name: "b", desc: Descriptor{Executable: "/b"}}
		d, err := Chain{first, second}.Resolve(context.Background(), req)
		if err != nil {
			t.Fatalf("Resolve() unexpected error: %v", err)
		}
		if d.Executable != "/a" || second.calls != 0 {
			t.Errorf("got %q, second called %d times", d.Executable, second.calls)
		}
	})

	t.Run("not found continues", func(t *testing.T) {
		t.Parallel()
		first := &stubStrategy{name: "a", err: ErrNotFound}
		second := &stubStrategy{name: "b", desc: Descriptor{Executable: "/b"}}
		d, err := Chain{first, second}.Resolve(context.Background(), req)
		if err != nil {
			t.Fatalf("Resolve() unexpected error: %v", err)
		}
		if d.Executable != "/b" {
			t.Errorf("Executable = %q, want /b", d.Executable)
		}
	})

	t.Run("other error aborts", func(t *testing.T) {
		t.Parallel()
		first := &stubStrategy{name: "a", err: boom}
		second := &stubStrategy{name: "b", desc: Descriptor{Executable: "/b"}}
		_, err := Chain{first, second}.Resolve(context.Background(), req)
		if !errors.Is(err, boom) {
			t.Fatalf("error = %v, want boom", err)
		}
		if second.calls != 0 {
			t.Error("chain continued after a fatal error")
		}
	})

	t.Run("all miss", func(t *testing.T) {
		t.Parallel()
		_, err := Chain{&stubStrategy{name: "a", err: ErrNotFound}, &stubStrategy{name: "b", err: ErrNotFound}}.Resolve(context.Background(), req)
		var re *ResolutionError
		if !errors.As(err, &re) {
			t.Fatalf("error = %T, want *ResolutionError", err)
		}
		if !errors.Is(err, ErrNotFound) {
			t.Error("exhausted chain should unwrap to ErrNotFound")
		}
		if !slices.Equal(re.Tried, []string{"a", "b"}) {
			t.Errorf("Tried = %v", re.Tried)
		}
		if !strings.Contains(err.Error(), "3.12") {
			t.Errorf("message %q does not name the version", err.Error())
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		s := &stubStrategy{name: "a", desc: Descriptor{Executable: "/a"}}
		if _, err := (Chain{s}).Resolve(ctx, req); !errors.Is(err, context.Canceled) {
			t.Fatalf("error = %v, want context.Canceled", err)
		}
	})
}

func TestSystemProbe_Resolve(t *testing.T) {
	t.Parallel()

	req := MustParseVersion("3.12.3")
	runner := &testutil.FakeRunner{
		Paths: map[string]string{
			"python3": "/usr/bin/python3",
			"python":  "/usr/bin/python",
		},
		Handler: func(c process.Command) (string, error) {
			switch c.Name {
			case "/usr/bin/python3":
				return "Python 3.11.2\n", nil
			case "/usr/bin/python":
				return "Python 3.12.1\n", nil
			}
			return "", errors.New("unexpected")
		},
	}

	d, err := (&SystemProbe{Runner: runner}).Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if d.Executable != "/usr/bin/python" || d.Source != SourceSystem {
		t.Errorf("Descriptor = %+v", d)
	}
	if d.Version.String() != "3.12.1" {
		t.Errorf("Version = %s, want 3.12.1 (patch ignored for matching)", d.Version)
	}
}

func TestSystemProbe_NoMatch(t *testing.T) {
	t.Parallel()

	runner := &testutil.FakeRunner{
		Paths:   map[string]string{"python3": "/usr/bin/python3"},
		Handler: func(process.Command) (string, error) { return "Python 3.9.18", nil },
	}
	_, err := (&SystemProbe{Runner: runner}).Resolve(context.Background(), MustParseVersion("3.12"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestDefaultCandidates(t *testing.T) {
	t.Parallel()

	got := DefaultCandidates(MustParseVersion("3.12.3"))
	want := []string{"python3.12", "python3", "python"}
	if !slices.Equal(got, want) {
		t.Errorf("DefaultCandidates() = %v, want %v", got, want)
	}
}

func TestVersionManager_Missing(t *testing.T) {
	t.Parallel()

	runner := &testutil.FakeRunner{}
	_, err := (&VersionManager{Runner: runner}).Resolve(context.Background(), MustParseVersion("3.12.3"))
	if !errors.Is(err, ErrVersionManagerMissing) {
		t.Fatalf("error = %v, want ErrVersionManagerMissing", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("missing version manager must abort the chain")
	}
	if len(runner.Calls()) != 0 {
		t.Errorf("ran commands without a version manager: %v", runner.Calls())
	}
}

func pyenvRunner(installed string) *testutil.FakeRunner {
	root := filepath.FromSlash("/home/dev/.pyenv")
	return &testutil.FakeRunner{
		Paths: map[string]string{"pyenv": "/usr/bin/pyenv"},
		Handler: func(c process.Command) (string, error) {
			if c.Name == InstalledExecutable(root, "3.12.3") {
				return "Python 3.12.3", nil
			}
			switch strings.Join(c.Args, " ") {
			case "latest --known 3.12":
				return "3.12.3\n", nil
			case "versions --bare":
				return installed, nil
			case "root":
				return root + "\n", nil
			case "install -s 3.12.3":
				return "", nil
			}
			return "", errors.New("unexpected command " + c.String())
		},
	}
}

func TestVersionManager_InstallsMissingVersion(t *testing.T) {
	t.Parallel()

	runner := pyenvRunner("3.11.9\n")
	d, err := (&VersionManager{Runner: runner}).Resolve(context.Background(), MustParseVersion("3.12.3"))
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if d.Source != SourceVersionManager {
		t.Errorf("Source = %s", d.Source)
	}
	if d.Executable != InstalledExecutable(filepath.FromSlash("/home/dev/.pyenv"), "3.12.3") {
		t.Errorf("Executable = %s", d.Executable)
	}

	var installed bool
	for _, c := range runner.Calls() {
		if strings.Join(c.Args, " ") == "install -s 3.12.3" {
			installed = true
		}
	}
	if !installed {
		t.Error("expected pyenv install -s 3.12.3")
	}
}

func TestVersionManager_SkipsInstallWhenListed(t *testing.T) {
	t.Parallel()

	runner := pyenvRunner("3.11.9\n3.12.3\n")
	if _, err := (&VersionManager{Runner: runner}).Resolve(context.Background(), MustParseVersion("3.12")); err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	for _, c := range runner.Calls() {
		if len(c.Args) > 0 && c.Args[0] == "install" {
			t.Fatalf("unexpected install: %s", c.String())
		}
	}
}

func TestVersionManager_InstallFailure(t *testing.T) {
	t.Parallel()

	runner := pyenvRunner("")
	inner := runner.Handler
	runner.Handler = func(c process.Command) (string, error) {
		if len(c.Args) > 0 && c.Args[0] == "install" {
			return "", &process.ExitStatusError{Code: 1}
		}
		return inner(c)
	}
	_, err := (&VersionManager{Runner: runner}).Resolve(context.Background(), MustParseVersion("3.12.3"))
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want a fatal install error", err)
	}
}
