package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// configPath is the --config flag. LYREBIRD_CONFIG sets its default.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "lyrebird",
	Short: "Lyrebird: character-level Markov lyrics generator",
	Long: "Lyrebird trains a character-level Markov model on the text it is given and " +
		"generates new text that imitates it. Run 'lyrebird serve' for the web front end and API.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(currentVersion())
	},
}

func defaultConfigPath() string {
	if p := os.Getenv("LYREBIRD_CONFIG"); p != "" {
		return p
	}
	return "./config.json"
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json (default $LYREBIRD_CONFIG or ./config.json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(versionCmd)
}

// resolvedConfigPath is evaluated after .env has been loaded.
func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return defaultConfigPath()
}

func main() {
	// A missing .env file is normal.
	_ = gotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
