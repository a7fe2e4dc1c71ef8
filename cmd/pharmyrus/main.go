// pharmyrus runs the patent acquisition pipeline.
//
// Usage:
//
//	pharmyrus serve [--config config.yaml]
//	pharmyrus search darolutamide --brand Nubeqa --countries BR -o yaml
//	pharmyrus config validate
//	pharmyrus config show
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "pharmyrus",
	Short: "Pharmaceutical patent acquisition pipeline",
	Long: "Pharmyrus discovers WO patents for a molecule, expands them into national\n" +
		"family members and merges direct national-office hits into one ranked list.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file (default ./config/config.yaml or ./config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
