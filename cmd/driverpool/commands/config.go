package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/driverpool/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective driver settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(map[string]interface{}{
			config.SectionIDDriver: config.GetDriver().Data(),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", storePath(), out)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set key=value...",
	Short: "Change driver settings and save them",
	Example: `  driverpool config set hold_browser_open=true close_browser_timeout=10s
  driverpool config set file_download=proxy`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data := make(map[string]interface{}, len(args))
		for _, arg := range args {
			key, value, ok := strings.Cut(arg, "=")
			if !ok {
				return errors.Newf("expected key=value, got %q", arg)
			}
			data[key] = parseValue(value)
		}

		if err := config.GetDriver().SetData(data); err != nil {
			return err
		}
		if err := config.Global().SaveAll(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %d setting(s) to %s\n", len(data), storePath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd)
}

// parseValue turns "true"/"false" into booleans and leaves everything else
// as a string; durations are parsed by the section.
func parseValue(v string) interface{} {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

func storePath() string {
	if fs, ok := config.Global().Store().(*config.FileStore); ok {
		return fs.Path()
	}
	return ""
}
