package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/odvcencio/burrow/pkg/config"
)

// loadConfig reads the file named by --config, if the command has one.
func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	var path string
	if f := cmd.Flag("config"); f != nil {
		path = f.Value.String()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
