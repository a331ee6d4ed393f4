package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reglet-dev/warden/internal/infrastructure/container"
	"github.com/reglet-dev/warden/internal/infrastructure/system"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd is the application entry point.
var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Capability-sandboxed WebAssembly plugin host",
	Long: `Warden runs WebAssembly plugins under the permissions their manifest
declares. Network, filesystem and environment access go through host
functions that check every call against the manifest, and each plugin
runs with its own fuel, memory and time budget.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		setupLogging()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.warden/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().String("security-level", "", "override security.level: strict, standard or permissive")
	_ = viper.BindPFlag("security_level", rootCmd.PersistentFlags().Lookup("security-level"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig resolves the config file path. Any flag bound to viper may
// also be set as WARDEN_<NAME>.
func initConfig() {
	viper.SetEnvPrefix("warden")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = viper.GetString("config")
	}
	if cfgFile == "" {
		cfgFile = filepath.Join(system.DefaultDir(), "config.yaml")
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose || viper.GetBool("verbose") {
		level = slog.LevelDebug
	}

	// Using TextHandler for CLI friendliness
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// newContainer wires the application from the resolved config.
func newContainer(metricsAddr string) (*container.Container, error) {
	return container.New(container.Options{
		Logger:           slog.Default(),
		SecurityLevel:    viper.GetString("security_level"),
		SystemConfigPath: cfgFile,
		MetricsAddr:      metricsAddr,
	})
}

// closeContainer releases the container without the command's context,
// which may already be canceled.
func closeContainer(c *container.Container) {
	if err := c.Close(context.Background()); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
}
