// SPDX-License-Identifier: MPL-2.0

package image

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/inkboard/inkboot/internal/config"
	"github.com/inkboard/inkboot/pkg/types"
)

// Rule names reported in violations.
const (
	RuleBase          = "base-image"
	RuleDependencies  = "dependency-order"
	RuleUser          = "non-root-user"
	RuleExpose        = "expose"
	RuleHealthcheck   = "healthcheck"
	RuleStartup       = "startup"
	binaryStartupLine = "inkboot run"
)

// ErrPropertyViolation is the sentinel wrapped by VerificationError.
var ErrPropertyViolation = errors.New("image property violation")

var pipInstallPattern = regexp.MustCompile(`\bpip3?\s+install\b`)

type (
	// Requirements are the image properties a Dockerfile must have.
	Requirements struct {
		// ManifestName is the dependency manifest path relative to the project root.
		ManifestName   string
		Port           types.ListenPort
		Health         config.HealthConfig
		MigrateCommand string
		ServeCommand   string
	}

	// Violation is one unmet property.
	Violation struct {
		// Line is the offending instruction's line, or 0 when something is missing.
		Line    int
		Rule    string
		Message string
	}

	// VerificationError lists every violation found in one Dockerfile.
	VerificationError struct {
		Violations []Violation
	}
)

// RequirementsFromConfig derives Requirements from configuration.
func RequirementsFromConfig(cfg *config.Config) Requirements {
	return Requirements{
		ManifestName:   cfg.Venv.Manifest,
		Port:           cfg.Entrypoint.Port,
		Health:         cfg.Health,
		MigrateCommand: cfg.Entrypoint.MigrateCommand,
		ServeCommand:   cfg.Entrypoint.ServeCommand,
	}
}

// String renders the violation for terminal output.
func (v Violation) String() string {
	if v.Line > 0 {
		return fmt.Sprintf("line %d: [%s] %s", v.Line, v.Rule, v.Message)
	}
	return fmt.Sprintf("[%s] %s", v.Rule, v.Message)
}

// Error implements the error interface.
func (e *VerificationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("%d image property violation(s): %s", len(e.Violations), strings.Join(parts, "; "))
}

// Unwrap returns ErrPropertyViolation for errors.Is() compatibility.
func (e *VerificationError) Unwrap() error { return ErrPropertyViolation }

// Verify checks dockerfile against req and returns a *VerificationError
// listing every violation, or nil. In a multi-stage Dockerfile only the image
// built by the last stage is checked; builder stages never satisfy a rule.
func Verify(dockerfile string, req Requirements) error {
	all := ParseDockerfile(dockerfile)
	v := &verifier{all: all, ins: FinalImage(all), req: req}
	v.checkBase()
	v.checkDependencies()
	v.checkUser()
	v.checkExpose()
	v.checkHealthcheck()
	v.checkStartup()
	if len(v.violations) == 0 {
		return nil
	}
	return &VerificationError{Violations: v.violations}
}

type verifier struct {
	all        []Instruction
	ins        []Instruction
	req        Requirements
	violations []Violation
}

func (v *verifier) fail(line int, rule, format string, args ...any) {
	v.violations = append(v.violations, Violation{Line: line, Rule: rule, Message: fmt.Sprintf(format, args...)})
}

// find returns the index of the first instruction at or after from that
// satisfies match, or -1.
func (v *verifier) find(from int, match func(Instruction) bool) int {
	for i := max(from, 0); i < len(v.ins); i++ {
		if match(v.ins[i]) {
			return i
		}
	}
	return -1
}

// last returns the index of the last instruction with the given command, or -1.
func (v *verifier) last(command string) int {
	for i := len(v.ins) - 1; i >= 0; i-- {
		if v.ins[i].Command == command {
			return i
		}
	}
	return -1
}

func isCopy(i Instruction) bool { return i.Command == "COPY" || i.Command == "ADD" }

func (v *verifier) isManifestSource(src string) bool {
	src = strings.TrimPrefix(path.Clean(src), "./")
	if v.req.ManifestName != "" {
		return src == path.Clean(v.req.ManifestName) || path.Base(src) == path.Base(v.req.ManifestName)
	}
	base := path.Base(src)
	return base == "pyproject.toml" || (strings.HasPrefix(base, "requirements") && strings.HasSuffix(base, ".txt"))
}

func isFullSource(src string) bool {
	return src == "." || src == "./"
}

func (v *verifier) checkBase() {
	if !slices.ContainsFunc(v.all, func(i Instruction) bool { return i.Command == "FROM" }) {
		v.fail(0, RuleBase, "no FROM instruction")
	}
}

func (v *verifier) checkDependencies() {
	srcCopy := v.find(0, func(i Instruction) bool {
		return isCopy(i) && i.Flags["from"] == "" && slices.ContainsFunc(i.Sources(), isFullSource)
	})
	depCopy := v.find(0, func(i Instruction) bool {
		return isCopy(i) && i.Flags["from"] == "" && slices.ContainsFunc(i.Sources(), v.isManifestSource)
	})
	if srcCopy < 0 {
		v.fail(0, RuleDependencies, "application source is never copied (expected COPY . .)")
	}
	if depCopy < 0 {
		v.fail(0, RuleDependencies, "dependency manifest %q is never copied on its own", v.req.ManifestName)
		return
	}
	install := v.find(depCopy+1, func(i Instruction) bool {
		return i.Command == "RUN" && pipInstallPattern.MatchString(i.CommandLine())
	})
	if install < 0 {
		v.fail(v.ins[depCopy].Line, RuleDependencies, "dependencies are never installed after the manifest is copied")
		return
	}
	if srcCopy >= 0 && srcCopy < install {
		v.fail(v.ins[srcCopy].Line, RuleDependencies,
			"full source copy precedes the dependency install on line %d; source changes would invalidate the dependency layer",
			v.ins[install].Line)
	}
}

// createdUsers returns the accounts created by useradd/adduser in RUN instructions.
func (v *verifier) createdUsers() map[string]bool {
	users := map[string]bool{}
	for _, i := range v.ins {
		if i.Command != "RUN" {
			continue
		}
		for _, seg := range splitShell(i.CommandLine()) {
			words := strings.Fields(seg)
			for j, w := range words {
				if (w == "useradd" || w == "adduser") && j < len(words)-1 {
					users[words[len(words)-1]] = true
					break
				}
			}
		}
	}
	return users
}

func splitShell(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == '&' || r == ';' || r == '|' })
}

func isRootIdentity(user string) bool {
	name, _, _ := strings.Cut(user, ":")
	return name == "root" || name == "0"
}

func (v *verifier) checkUser() {
	last := v.last("USER")
	if last < 0 {
		v.fail(0, RuleUser, "no USER instruction; the container would run as root")
		return
	}
	ins := v.ins[last]
	user := strings.TrimSpace(ins.Args)
	if isRootIdentity(user) {
		v.fail(ins.Line, RuleUser, "final USER is %q; the service must not run as root", user)
		return
	}
	name, _, _ := strings.Cut(user, ":")
	if _, err := strconv.Atoi(name); err != nil && !v.createdUsers()[name] {
		v.fail(ins.Line, RuleUser, "USER %q is never created with useradd or adduser", name)
	}
	if cmd := v.last("CMD"); cmd >= 0 && last > cmd {
		v.fail(ins.Line, RuleUser, "USER must precede CMD")
	}

	owned := v.find(0, func(i Instruction) bool {
		if isCopy(i) && slices.ContainsFunc(i.Sources(), isFullSource) {
			owner, _, _ := strings.Cut(i.Flags["chown"], ":")
			return owner == name
		}
		if i.Command == "RUN" {
			for _, seg := range splitShell(i.CommandLine()) {
				words := strings.Fields(seg)
				if len(words) > 1 && words[0] == "chown" && slices.ContainsFunc(words[1:], func(w string) bool {
					owner, _, _ := strings.Cut(w, ":")
					return owner == name
				}) {
					return true
				}
			}
		}
		return false
	})
	if owned < 0 {
		v.fail(ins.Line, RuleUser, "application directory is not owned by %q (use COPY --chown or chown)", name)
	}
}

func (v *verifier) checkExpose() {
	var ports []string
	line := 0
	for _, i := range v.ins {
		if i.Command != "EXPOSE" {
			continue
		}
		line = i.Line
		for _, p := range strings.Fields(i.Args) {
			p, _, _ = strings.Cut(p, "/")
			ports = append(ports, p)
		}
	}
	want := v.req.Port.String()
	switch {
	case len(ports) == 0:
		v.fail(0, RuleExpose, "no EXPOSE instruction; expected EXPOSE %s", want)
	case len(ports) > 1:
		v.fail(line, RuleExpose, "exactly one port must be exposed, found %s", strings.Join(ports, ", "))
	case ports[0] != want:
		v.fail(line, RuleExpose, "exposed port is %s, expected %s", ports[0], want)
	}
}

func (v *verifier) checkHealthcheck() {
	last := v.last("HEALTHCHECK")
	if last < 0 {
		v.fail(0, RuleHealthcheck, "no HEALTHCHECK instruction")
		return
	}
	ins := v.ins[last]
	if strings.EqualFold(strings.TrimSpace(ins.Args), "NONE") {
		v.fail(ins.Line, RuleHealthcheck, "HEALTHCHECK NONE disables the liveness probe")
		return
	}

	h := v.req.Health
	for _, d := range []struct {
		flag string
		want time.Duration
	}{{"interval", h.Interval}, {"timeout", h.Timeout}, {"start-period", h.StartPeriod}} {
		raw, ok := ins.Flags[d.flag]
		if !ok {
			v.fail(ins.Line, RuleHealthcheck, "--%s is not set; expected %s", d.flag, formatDuration(d.want))
			continue
		}
		got, err := time.ParseDuration(raw)
		if err != nil || got != d.want {
			v.fail(ins.Line, RuleHealthcheck, "--%s=%s, expected %s", d.flag, raw, formatDuration(d.want))
		}
	}
	if raw, ok := ins.Flags["retries"]; !ok {
		v.fail(ins.Line, RuleHealthcheck, "--retries is not set; expected %d", h.Retries)
	} else if n, err := strconv.Atoi(raw); err != nil || n != h.Retries {
		v.fail(ins.Line, RuleHealthcheck, "--retries=%s, expected %d", raw, h.Retries)
	}

	probe, ok := strings.CutPrefix(ins.Args, "CMD")
	if !ok {
		v.fail(ins.Line, RuleHealthcheck, "HEALTHCHECK has no CMD")
		return
	}
	probe = strings.TrimSpace(probe)
	if words := parseExecForm(probe); words != nil {
		probe = strings.Join(words, " ")
	}
	if strings.Contains(probe, "inkboot healthcheck") {
		return
	}
	url := "http://" + v.req.Port.Addr("localhost") + h.Path
	if !strings.Contains(probe, url) {
		v.fail(ins.Line, RuleHealthcheck, "probe does not request %s", url)
		return
	}
	if strings.Contains(probe, "curl") && !curlFailsOnHTTPError(probe) {
		v.fail(ins.Line, RuleHealthcheck, "curl probe must use -f/--fail so non-2xx responses are unhealthy")
	}
}

func curlFailsOnHTTPError(cmd string) bool {
	for _, w := range strings.Fields(cmd) {
		if w == "--fail" || (strings.HasPrefix(w, "-") && !strings.HasPrefix(w, "--") && strings.Contains(w, "f")) {
			return true
		}
	}
	return false
}

func (v *verifier) checkStartup() {
	if ep := v.last("ENTRYPOINT"); ep >= 0 {
		v.fail(v.ins[ep].Line, RuleStartup, "ENTRYPOINT overrides the migrate-then-serve startup command")
	}
	last := v.last("CMD")
	if last < 0 {
		v.fail(0, RuleStartup, "no CMD instruction")
		return
	}
	ins := v.ins[last]
	line := ins.CommandLine()
	if strings.Contains(line, binaryStartupLine) {
		return
	}

	mi := strings.Index(line, v.req.MigrateCommand)
	if v.req.MigrateCommand == "" || mi < 0 {
		v.fail(ins.Line, RuleStartup, "startup command never runs the migration %q", v.req.MigrateCommand)
		return
	}
	rest := line[mi+len(v.req.MigrateCommand):]
	si := strings.Index(rest, v.req.ServeCommand)
	if v.req.ServeCommand == "" || si < 0 {
		v.fail(ins.Line, RuleStartup, "startup command never starts the server %q after migrating", v.req.ServeCommand)
		return
	}
	between := rest[:si]
	if !strings.Contains(between, "&&") || strings.Contains(between, ";") || strings.Contains(between, "||") {
		v.fail(ins.Line, RuleStartup, "server must start only when the migration succeeds (join with &&)")
	}
}
