// Package cmd provides the gatekeeper command-line interface.
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"gatekeeper/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

const (
	maxInputFileSize = 64 * 1024 * 1024 // 64MB
	defaultTimeout   = 5 * time.Minute
)

// ErrTestsFailed is returned by verify when any test fails or errors. The report has
// already been printed, so callers only need to set the exit code.
var ErrTestsFailed = errors.New("one or more tests did not pass")

// rootOptions holds the persistent flags shared by every subcommand
type rootOptions struct {
	configFile string
	outputJSON bool
	noColor    bool
	quiet      bool
}

// NewRootCmd creates the gatekeeper command with all subcommands.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "Detection pre-filtering and test result interpretation",
		Long: `gatekeeper gates events through snippet pre-filters and interprets detection
execution records into unit test verdicts and alert decisions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path (default: search ./config.yaml, ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&opts.outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&opts.quiet, "quiet", false, "Suppress non-essential output")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newVerifyCmd(opts))
	rootCmd.AddCommand(newPrefilterCmd(opts))

	return rootCmd
}

// loadConfig reads the --config file, or searches the default locations when unset
func (o *rootOptions) loadConfig() (*config.Config, error) {
	viper.Reset()
	if o.configFile != "" {
		return config.LoadConfigFile(o.configFile)
	}
	return config.LoadConfig()
}

// outputAsJSON writes v as indented JSON
func outputAsJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
