package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/scanbridge/internal/config"
	"github.com/MeKo-Tech/scanbridge/internal/version"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Error from the last configuration load, reported by PersistentPreRunE.
	configErr error
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "scanbridge",
	Short: "Barcode scanning and encoding bridge",
	Long: `scanbridge scans barcodes from pluggable capture adapters and renders
barcodes to PNG data URIs.

Capture adapters:
- files   decode a list of image files in order
- dir     watch a directory and decode frames as they are written
- pdf     decode the images embedded in a PDF
- prompt  read the code from the terminal
- remote  a device attached over WebSocket (serve only)

Examples:
  scanbridge scan label.png
  scanbridge scan --adapter dir --frame-dir /var/spool/frames
  scanbridge encode --type SMS_TYPE 5551234
  scanbridge decode images/ --recursive --format json
  scanbridge serve --port 8080`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _ := cmd.Flags().GetBool("version")
		if v {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
// This allows tests to execute commands without calling os.Exit().
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $XDG_CONFIG_HOME/scanbridge, /etc/scanbridge)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("version", false, "print version information and exit")

	bindGlobalFlags()

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if globalConfig == nil && configErr == nil {
			initConfig()
		}
		if configErr != nil {
			return fmt.Errorf("error loading configuration: %w", configErr)
		}

		logLevel := slog.LevelInfo
		if globalConfig.Verbose {
			logLevel = slog.LevelDebug
		} else {
			switch globalConfig.LogLevel {
			case "debug":
				logLevel = slog.LevelDebug
			case "warn":
				logLevel = slog.LevelWarn
			case "error":
				logLevel = slog.LevelError
			}
		}

		// stdout carries command output, so logs go to stderr.
		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))
		slog.SetDefault(logger)
		return nil
	}
}

func bindGlobalFlags() {
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	configLoader = config.NewLoader()
	if cfgFile != "" {
		globalConfig, configErr = configLoader.LoadWithFile(cfgFile)
	} else {
		globalConfig, configErr = configLoader.Load()
	}
}

// GetConfig returns the global configuration.
func GetConfig() *config.Config {
	if globalConfig == nil {
		initConfig()
		if configErr != nil {
			cfg := config.DefaultConfig()
			return &cfg
		}
	}

	// Flags bound after the initial load only show up on a fresh unmarshal.
	var cfg config.Config
	if err := GetConfigLoader().Viper().Unmarshal(&cfg); err != nil {
		slog.Warn("Error unmarshaling updated configuration", "error", err)
		return globalConfig
	}
	return &cfg
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}

// ResetState restores every flag to its default and drops the loaded
// configuration, so in-process callers can execute the root command
// repeatedly.
func ResetState() {
	resetFlags(rootCmd)
	viper.Reset()
	bindGlobalFlags()
	cfgFile = ""
	configLoader = nil
	globalConfig = nil
	configErr = nil
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			var def []string
			if v := strings.Trim(f.DefValue, "[]"); v != "" {
				def = strings.Split(v, ",")
			}
			_ = sv.Replace(def)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}
