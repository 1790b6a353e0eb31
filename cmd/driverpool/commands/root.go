// Package commands provides the CLI commands for driverpool.
package commands

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/entrhq/driverpool/pkg/config"
	"github.com/entrhq/driverpool/pkg/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	configPath string
	browser    string
	headed     bool
)

var rootCmd = &cobra.Command{
	Use:   "driverpool",
	Short: "driverpool - one browser session per worker",
	Long: `driverpool keeps one browser session per worker, reuses it across calls,
verifies it before reuse and closes it when the worker goes away.

Run 'driverpool install' once to download the browser, then
'driverpool run --url https://example.com' to drive it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.driverpool/config.json, .yaml accepted)")
	rootCmd.PersistentFlags().StringVar(&browser, "browser", "", "Browser to use: chromium, firefox or webkit (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&headed, "headed", false, "Show the browser window")

	rootCmd.SetVersionTemplate(fmt.Sprintf("driverpool %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig(cmd *cobra.Command) error {
	if err := config.Initialize(configPath); err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	section := config.GetDriver()
	section.Update(func(s *config.DriverSettings) {
		if cmd.Flags().Changed("browser") {
			s.Browser = browser
		}
		if cmd.Flags().Changed("headed") {
			s.Headless = !headed
		}
	})
	return section.Validate()
}

// newLogger returns a component logger, reporting fallback mode on stderr.
func newLogger(cmd *cobra.Command, component string) *logging.Logger {
	logger, err := logging.NewLogger(component)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: file logging unavailable: %v\n", err)
	}
	return logger
}
