package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odvcencio/burrow/pkg/bundle"
)

func newVerifyCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "verify <bundle>",
		Short: "Check every entry checksum and the trailer of a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			defer f.Close()

			headers, err := bundle.List(f)
			if err != nil {
				return fmt.Errorf("verify %s: %w", args[0], err)
			}
			out := cmd.OutOrStdout()
			if list {
				for _, h := range headers {
					fmt.Fprintf(out, "%s  %8d  %-4s  %s  %s\n", h.Sum, h.Size, h.Compression, h.Path, h.Ancestry)
				}
			}
			fmt.Fprintf(out, "ok: verified %d archive(s)\n", len(headers))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list entries")
	return cmd
}
