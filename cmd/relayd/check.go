package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/catalog"
)

func checkConfigCmd() *cobra.Command {
	var files bool
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, source, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("%s: %w", source, err)
			}
			if files {
				if err := cfg.CheckFiles(); err != nil {
					return err
				}
				if cfg.Catalog.Path != "" {
					c, err := catalog.Load(cfg.Catalog.Path)
					if err != nil {
						return err
					}
					worlds, zones := c.Len()
					cmd.Printf("catalog: %d worlds, %d zones\n", worlds, zones)
				}
			}
			cmd.Printf("config %s is valid\n", source)
			for _, line := range cfg.Summary() {
				cmd.Println("  " + line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&files, "files", true, "also check that referenced files exist and parse")
	return cmd
}
