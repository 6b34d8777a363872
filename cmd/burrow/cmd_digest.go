package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/burrow/pkg/object"
)

func newDigestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest <archive>...",
		Short: "Print the MD5+MD4+SHA-1 fingerprint of archive files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range args {
				d, err := object.DigestFile(p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", d, p)
			}
			return nil
		},
	}
}
