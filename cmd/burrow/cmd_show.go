package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odvcencio/burrow/pkg/inspect"
	"github.com/odvcencio/burrow/pkg/object"
)

func readHeader(path string) (*object.Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := object.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <archive>",
		Short: "Print the generic header of an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := readHeader(args[0])
			if err != nil {
				return fmt.Errorf("show: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "archive  %s\n", args[0])
			fmt.Fprintf(out, "offset   %d\n", h.DataOffset)
			for _, line := range inspect.Lines(h) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}
