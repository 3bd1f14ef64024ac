package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/tabtree/internal/config"
	"github.com/zjrosen/tabtree/internal/log"
)

// defaultConfigPath is where a config is written when none is found.
const defaultConfigPath = ".tabtree/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
	cfgErr    error
)

var rootCmd = &cobra.Command{
	Use:   "tabtree",
	Short: "Tree-structured tab state engine",
	Long: `tabtree keeps a hierarchical model of browser tabs in sync with the
browser, persists it across restarts, and serves it to sidebar clients over
an HTTP API.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .tabtree/config.yaml, then ~/.config/tabtree/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (TABTREE_LOG sets the path, default debug.log)")
	rootCmd.PersistentFlags().String("db", "", "sqlite database path (overrides storage.path)")
}

func initConfig() {
	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())
	_ = viper.BindPFlag("storage.path", rootCmd.PersistentFlags().Lookup("db"))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .tabtree/config.yaml (current directory)
		// 2. ~/.config/tabtree/config.yaml (user config)
		if _, err := os.Stat(defaultConfigPath); err == nil {
			viper.SetConfigFile(defaultConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "tabtree"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// No config anywhere: seed one so users have something to edit.
			if writeErr := config.WriteDefaultConfig(defaultConfigPath); writeErr == nil {
				viper.SetConfigFile(defaultConfigPath)
				_ = viper.ReadInConfig()
			}
		} else {
			cfgErr = fmt.Errorf("reading config: %w", err)
			return
		}
	}

	cfg, cfgErr = config.Unmarshal(viper.GetViper())
}

// configPath is the file hot reload and view edits target.
func configPath() string {
	if p := viper.ConfigFileUsed(); p != "" {
		return p
	}
	return defaultConfigPath
}

// loadedConfig returns the config read by initConfig or its error.
func loadedConfig() (config.Config, error) {
	if cfgErr != nil {
		return config.Config{}, cfgErr
	}
	return cfg, nil
}

// initLogging turns on file logging when --debug or TABTREE_DEBUG is set.
// The returned cleanup is always safe to call.
func initLogging(prefix string) (func(), error) {
	if !debugFlag && os.Getenv("TABTREE_DEBUG") == "" {
		return func() {}, nil
	}
	logPath := os.Getenv("TABTREE_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}
	cleanup, err := log.InitWithTeaLog(logPath, prefix)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	log.Info(log.CatConfig, "Logging enabled", "path", logPath, "config", configPath())
	return cleanup, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
