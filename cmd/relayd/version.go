package main

import "github.com/spf13/cobra"

// set build metadata
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func versionString() string {
	v := version
	if commit != "none" {
		v += " (" + commit + ")"
	}
	if buildDate != "unknown" {
		v += " @ " + buildDate
	}
	return v
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print relayd version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(versionString())
		},
	}
}
