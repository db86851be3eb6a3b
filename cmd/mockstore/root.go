package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jrepp/mockstore/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "mockstore",
	Short: "Ephemeral test store runner",
	Long: `mockstore launches the throwaway database process used by intercepted
test connections.

Run it standalone to inspect which storage engine a server version gets,
or to keep a store up between test runs.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: ~/.mockstore.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	// Bind flags to viper
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(engineCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".mockstore")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MOCKSTORE")
	viper.AutomaticEnv()

	// Missing config is fine; loadConfig reports a bad explicit path.
	viper.ReadInConfig()
}

// loadConfig reads the config file viper resolved, overlays the environment
// and then any flags the user changed.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if path := viper.ConfigFileUsed(); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.FromEnv(); err != nil {
		return nil, err
	}

	if viper.IsSet("logging.level") {
		cfg.Logging.Level = viper.GetString("logging.level")
	}
	if viper.IsSet("logging.format") {
		cfg.Logging.Format = viper.GetString("logging.format")
	}
	if viper.IsSet("store.version") {
		cfg.Store.Version = viper.GetString("store.version")
	}
	if viper.IsSet("store.port") {
		cfg.Store.Port = viper.GetInt("store.port")
	}
	if viper.IsSet("launcher.kind") {
		cfg.Launcher.Kind = viper.GetString("launcher.kind")
	}
	if viper.IsSet("metrics.address") {
		cfg.Metrics.Address = viper.GetString("metrics.address")
	}

	return cfg, cfg.Validate()
}

// newLogger builds the slog logger described by cfg
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
