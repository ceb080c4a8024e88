package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "olaradio",
	Short: "olaradio plays a personal radio station in the terminal.",
	Long: `olaradio streams an endless personal station: it fetches tracks in
batches, caches the next one while the current one plays, and reports what
you listened to back to the service.`,
	SilenceUsage: true,
	RunE:         runPlay,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("olaradio", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: <config dir>/olaradio/config.toml)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
