package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/burrow/pkg/inspect"
)

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <archive> [other]",
		Short: "Compare the headers of two archives",
		Long: "Compare the generic headers of two archives. With one argument the\n" +
			"archive is compared against its backup (<archive>.bak).",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to := args[0]+".bak", args[0]
			if len(args) == 2 {
				from, to = args[0], args[1]
			}
			a, err := readHeader(from)
			if err != nil {
				return fmt.Errorf("diff: %w", err)
			}
			b, err := readHeader(to)
			if err != nil {
				return fmt.Errorf("diff: %w", err)
			}

			edits := inspect.Headers(a, b)
			if !inspect.Changed(edits) {
				fmt.Fprintln(cmd.OutOrStdout(), "headers identical")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), inspect.Format(from, to, edits))
			return nil
		},
	}
}
