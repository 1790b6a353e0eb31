package commands

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/entrhq/driverpool/pkg/config"
	"github.com/entrhq/driverpool/pkg/driver"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Download the Playwright driver and the configured browser",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd, "install")
		defer logger.Close()

		s := config.GetDriver().Settings()
		provider := driver.NewPlaywrightProvider(driver.PlaywrightOptions{
			Browser:  s.Browser,
			Headless: s.Headless,
		}, logger)

		fmt.Fprintf(cmd.OutOrStdout(), "Installing %s...\n", s.Browser)
		if err := provider.Install(); err != nil {
			return errors.Wrap(err, "install failed")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Done.")
		return nil
	},
}
