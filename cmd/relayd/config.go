package main

import (
	"github.com/spf13/cobra"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/config"
)

const defaultConfigHint = "$RELAYD_CONFIG or " + config.DefaultPath

// loadConfig resolves, loads and validates the config named by the
// --config flag. A missing file is only an error when named explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	flag := cmd.Flags().Lookup("config")
	flagPath, flagSet := "", false
	if flag != nil {
		flagPath, flagSet = flag.Value.String(), flag.Changed
	}
	path := config.ResolveConfigPath(flagPath, flagSet)
	required := flagSet || path != config.DefaultPath
	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, path, err
	}
	if err := cfg.ValidateConfig(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}
