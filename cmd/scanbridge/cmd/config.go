package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/scanbridge/internal/config"
)

// configCmd groups configuration helpers.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and generate configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(GetConfig())
		if err != nil {
			return fmt.Errorf("failed to marshal configuration: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write the default configuration to a file",
	Long: `Write the default configuration as YAML, to scanbridge.yaml in the current
directory unless a file is named.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteDefaultConfigFile(path); err != nil {
			return fmt.Errorf("failed to write configuration: %w", err)
		}
		if path == "" {
			path = config.ConfigFileName + ".yaml"
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file in use and the search path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		used := GetConfigLoader().ConfigFileUsed()
		if used == "" {
			used = "(none, using defaults)"
		}
		_, _ = fmt.Fprintf(out, "Config file: %s\n", used)
		_, _ = fmt.Fprintf(out, "Search path: %s\n", strings.Join(config.SearchPaths(), ", "))
		_, _ = fmt.Fprintf(out, "Environment prefix: %s_\n", config.EnvPrefix)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd, configPathCmd)
}
