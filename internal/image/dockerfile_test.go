// SPDX-License-Identifier: MPL-2.0

package image

import (
	"slices"
	"testing"
)

func TestParseDockerfile(t *testing.T) {
	t.Parallel()

	content := `# syntax=docker/dockerfile:1
FROM python:3.12-slim

# comment
RUN apt-get update \
    && apt-get install -y curl
COPY --chown=app:app requirements.txt ./requirements.txt
HEALTHCHECK --interval=30s --retries=3 \
    CMD ["inkboot", "healthcheck"]
CMD ["sh", "-c", "a && b"]
`
	ins := ParseDockerfile(content)
	cmds := make([]string, len(ins))
	for i, in := range ins {
		cmds[i] = in.Command
	}
	if want := []string{"FROM", "RUN", "COPY", "HEALTHCHECK", "CMD"}; !slices.Equal(cmds, want) {
		t.Fatalf("commands = %v, want %v", cmds, want)
	}

	run := ins[1]
	if run.Line != 5 || run.Args != "apt-get update && apt-get install -y curl" {
		t.Errorf("RUN = line %d %q", run.Line, run.Args)
	}

	cp := ins[2]
	if cp.Flags["chown"] != "app:app" || !slices.Equal(cp.Sources(), []string{"requirements.txt"}) || cp.Destination() != "./requirements.txt" {
		t.Errorf("COPY = %+v", cp)
	}

	hc := ins[3]
	if hc.Flags["interval"] != "30s" || hc.Flags["retries"] != "3" || hc.Args != `CMD ["inkboot", "healthcheck"]` {
		t.Errorf("HEALTHCHECK = %+v", hc)
	}

	cmd := ins[4]
	if !slices.Equal(cmd.Exec, []string{"sh", "-c", "a && b"}) || cmd.CommandLine() != "sh -c a && b" {
		t.Errorf("CMD = %+v", cmd)
	}
}

func TestParseDockerfile_LowercaseAndTrailingContinuation(t *testing.T) {
	t.Parallel()

	ins := ParseDockerfile("from alpine\nrun echo \\")
	if len(ins) != 2 || ins[0].Command != "FROM" || ins[1].Command != "RUN" || ins[1].Args != "echo" {
		t.Errorf("ParseDockerfile() = %+v", ins)
	}
}
