package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "relayd",
		Short:        "Concurrent hunt and fate relay tracker",
		SilenceUsage: true,
	}
	root.Version = versionString()
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringP("config", "c", "", "path to relayd.yaml (default "+defaultConfigHint+")")
	root.AddCommand(serveCmd())
	root.AddCommand(checkConfigCmd())
	root.AddCommand(versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
