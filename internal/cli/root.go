// Package cli wires configuration, storage and services into cobra commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath    string
	storeOverride string
)

var rootCmd = &cobra.Command{
	Use:   "coin-market",
	Short: "Coin economy and marketplace backend for the dream diary app",
	Long: `coin-market runs the dream diary backend: signup bonuses, the coin
marketplace and the image generation bridge. Configuration comes from
built-in defaults, an optional TOML file, a .env file and the environment.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&storeOverride, "store", "", "Store driver override: memory or postgres")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
