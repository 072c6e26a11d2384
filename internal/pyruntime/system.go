// SPDX-License-Identifier: MPL-2.0

package pyruntime

import (
	"context"
	"log/slog"
	"strings"

	"github.com/inkboard/inkboot/internal/process"
)

// SystemProbe looks for an interpreter already on PATH. It never installs anything.
type SystemProbe struct {
	Runner process.Runner
	// Candidates overrides DefaultCandidates when non-empty.
	Candidates []string
	Logger     *slog.Logger
}

var _ Strategy = (*SystemProbe)(nil)

// DefaultCandidates returns python<major>.<minor>, python3, python.
func DefaultCandidates(required Version) []string {
	return []string{"python" + required.MinorString(), "python3", "python"}
}

// Name implements Strategy.
func (p *SystemProbe) Name() string { return string(SourceSystem) }

// Resolve implements Strategy. The first candidate whose reported version
// shares major.minor with required wins.
func (p *SystemProbe) Resolve(ctx context.Context, required Version) (Descriptor, error) {
	candidates := p.Candidates
	if len(candidates) == 0 {
		candidates = DefaultCandidates(required)
	}
	logger := loggerOrDefault(p.Logger)

	for _, name := range candidates {
		path, err := p.Runner.LookPath(name)
		if err != nil {
			logger.Debug("interpreter candidate not on PATH", "candidate", name)
			continue
		}
		v, err := InterpreterVersion(ctx, p.Runner, path)
		if err != nil {
			logger.Debug("interpreter candidate did not report a version", "candidate", path, "error", err)
			continue
		}
		if !v.SameMinor(required) {
			logger.Debug("interpreter candidate version mismatch", "candidate", path, "version", v.String(), "required", required.MinorString())
			continue
		}
		return Descriptor{Version: v, Executable: path, Source: SourceSystem}, nil
	}
	return Descriptor{}, ErrNotFound
}

// InterpreterVersion runs `<executable> --version` and parses the banner.
func InterpreterVersion(ctx context.Context, r process.Runner, executable string) (Version, error) {
	out, err := r.Output(ctx, process.Command{Name: executable, Args: []string{"--version"}})
	if err != nil {
		return Version{}, err
	}
	return ParseVersion(strings.TrimSpace(string(out)))
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
