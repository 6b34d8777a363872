package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "burrow",
		Short:         "Inspect and move persistent object archives",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", os.Getenv("BURROW_CONFIG"), "config file (.toml, .yaml or .yml)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newDigestCmd())
	root.AddCommand(newDiffCmd())
	root.AddCommand(newTreeCmd())
	root.AddCommand(newPackCmd())
	root.AddCommand(newUnpackCmd())
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newCheckCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "burrow %s\n", version)
		},
	}
}
