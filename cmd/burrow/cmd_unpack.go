package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odvcencio/burrow/pkg/bundle"
)

func newUnpackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpack <bundle> <dir>",
		Short: "Verify a bundle and write its archives into dir",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("unpack: %w", err)
			}
			defer f.Close()
			n, err := bundle.Unpack(f, args[1], bundle.Options{Logger: logger})
			if err != nil {
				return fmt.Errorf("unpack %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unpacked %d archive(s) into %s\n", n, args[1])
			return nil
		},
	}
}
