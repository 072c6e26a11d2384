// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkboard/inkboot/pkg/types"
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code types.ExitCode
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// fail renders err on stderr and returns an ExitError carrying code. The
// command's own error printing is silenced so the message appears once.
// Verbose mode also names the exit code class.
func (a *App) fail(cmd *cobra.Command, code types.ExitCode, err error) error {
	if err == nil {
		return nil
	}
	cmd.SilenceErrors = true
	fmt.Fprintln(a.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, a.flags.verbose))
	if a.flags.verbose {
		fmt.Fprintln(a.stderr, SubtitleStyle.Render(fmt.Sprintf("exit %d (%s)", code, code.Describe())))
	}
	return &ExitError{Code: code, Err: err}
}
