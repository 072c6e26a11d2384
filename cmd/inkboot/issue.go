// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/inkboard/inkboot/internal/issue"
	"github.com/inkboard/inkboot/pkg/types"
)

// newIssueCommand creates `inkboot issue`, which renders troubleshooting entries.
func newIssueCommand(app *App) *cobra.Command {
	var style string
	cmd := &cobra.Command{
		Use:   "issue [id-or-slug]",
		Short: "Explain a failure and how to fix it",
		Long: `Render a troubleshooting entry from the issue catalog. Errors print the
entry's ID; pass it (or its slug) here for the full explanation. Without an
argument every entry is listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				for _, i := range issue.Values() {
					fmt.Fprintf(app.stdout, "%s  %s\n", CmdStyle.Render(fmt.Sprintf("%3d", i.Id())), i.Slug())
				}
				return nil
			}
			entry := lookupIssue(args[0])
			if entry == nil {
				return app.fail(cmd, types.ExitFailure, fmt.Errorf("unknown issue %q (run `inkboot issue` to list them)", args[0]))
			}
			out, err := entry.Render(style)
			if err != nil {
				return app.fail(cmd, types.ExitFailure, err)
			}
			fmt.Fprint(app.stdout, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&style, "style", "dark", "glamour style: dark, light, notty or a style file path")
	return cmd
}

func lookupIssue(arg string) *issue.Issue {
	if n, err := strconv.Atoi(arg); err == nil {
		return issue.Get(issue.Id(n))
	}
	return issue.Lookup(arg)
}
