package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tunebox/tunesync/internal/client/config"
	"github.com/tunebox/tunesync/internal/utils"
	"github.com/tunebox/tunesync/internal/version"
)

const envPrefix = "TUNESYNC"

var (
	defaultLogFile = filepath.Join(config.DefaultConfigDir, "logs", "tunesync.log")
	envKeyReplacer = strings.NewReplacer(".", "_")
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:           "tunesync",
	Short:         "Synchronize a music library with a remote store",
	Version:       version.Detailed(),
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "tunesync config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug messages to the console")
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	var logFile io.Writer = io.Discard
	if err := utils.EnsureParent(defaultLogFile); err == nil {
		if f, err := os.OpenFile(defaultLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			defer f.Close()
			logFile = f
		}
	}
	slog.SetDefault(newLogger(os.Stdout, logFile, slog.LevelInfo))

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(1)
	}
}

// newLogger fans out to a console handler and a timestamped file handler
func newLogger(console *os.File, file io.Writer, level slog.Level) *slog.Logger {
	stdoutHandler := tint.NewHandler(console, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(console.Fd()),
	})
	fileHandler := slog.NewTextHandler(utils.NewLineStampWriter(file), &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// Do not include time as it is added by the line stamp writer.
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
	return slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler))
}

func consoleLevel(cmd *cobra.Command) slog.Level {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// loadConfig merges the config file, TUNESYNC_* env vars and bound flags
func loadConfig(cmd *cobra.Command, bind map[string]string) (*config.Config, error) {
	v := viper.New()

	configFilePath, _ := cmd.Flags().GetString("config")
	v.SetConfigFile(configFilePath)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", configFilePath, err)
		}
	}

	for key, flag := range bind {
		if f := cmd.Flags().Lookup(flag); f != nil {
			v.BindPFlag(key, f)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	// nested and secret keys are not in the file, so AutomaticEnv alone would miss them
	for _, key := range []string{"token", "encryption.passphrase", "encryption.system_key", "encryption.default_mode"} {
		v.BindEnv(key)
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	cfg.Path = configFilePath
	return cfg, nil
}
