package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/burrow/pkg/bundle"
	"github.com/odvcencio/burrow/pkg/object"
)

func newTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree [dir]",
		Short: "List the archives under a store directory",
		Long: "List every archive under dir (default: the configured save path)\n" +
			"with the object path it was saved from and its class.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			dir := cfg.SavePath
			if len(args) == 1 {
				dir = args[0]
			}
			found, err := bundle.Scan(dir, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, a := range found {
				fmt.Fprintf(out, "%-32s %s", treePath(a.Path), a.Header.Ancestry)
				if n := len(a.Header.Deps); n > 0 {
					fmt.Fprintf(out, "  deps=%d", n)
				}
				if a.Header.Flags&object.FlagSaveChildren != 0 {
					fmt.Fprintf(out, "  children=%d", len(a.Header.Children))
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "%d archive(s)\n", len(found))
			return nil
		},
	}
}

// treePath recovers the object path an archive name was derived from. Class
// subdirectories are indistinguishable from tree levels, so they show up
// as leading path elements.
func treePath(rel string) string {
	stem := rel
	if i := strings.LastIndexByte(stem, '.'); i > strings.LastIndexByte(stem, '/') {
		stem = stem[:i]
	}
	base := stem[strings.LastIndexByte(stem, '/')+1:]
	if base == object.RootArchiveName {
		return "/" + strings.TrimSuffix(stem, base)
	}
	return "/" + stem
}
