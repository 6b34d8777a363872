package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/odvcencio/burrow/pkg/bundle"
)

func newPackCmd() *cobra.Command {
	var compression string
	cmd := &cobra.Command{
		Use:   "pack <out> [dir]",
		Short: "Bundle every archive under dir into one verifiable file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			comp := cfg.BundleCompression()
			if cmd.Flags().Changed("compression") {
				if comp, err = bundle.ParseCompression(compression); err != nil {
					return err
				}
			}
			dir := cfg.SavePath
			if len(args) == 2 {
				dir = args[1]
			}

			out := args[0]
			tmp, err := os.CreateTemp(filepath.Dir(out), ".bundle-tmp-*")
			if err != nil {
				return fmt.Errorf("pack: tmpfile: %w", err)
			}
			tmpName := tmp.Name()
			n, err := bundle.PackDir(dir, tmp, bundle.Options{Compression: comp, Logger: logger})
			if err != nil {
				tmp.Close()
				os.Remove(tmpName)
				return err
			}
			if err := tmp.Close(); err != nil {
				os.Remove(tmpName)
				return fmt.Errorf("pack: close: %w", err)
			}
			if err := os.Rename(tmpName, out); err != nil {
				os.Remove(tmpName)
				return fmt.Errorf("pack: rename: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "packed %d archive(s) from %s into %s (%s)\n", n, dir, out, comp)
			return nil
		},
	}
	cmd.Flags().StringVar(&compression, "compression", "", "none, lz4 or zstd (default from config)")
	return cmd
}
