package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tunebox/tunesync/internal/server"
	"github.com/tunebox/tunesync/internal/server/auth"
	"github.com/tunebox/tunesync/internal/server/blob"
	"github.com/tunebox/tunesync/internal/version"
)

const envPrefix = "TUNESERVER"

var rootCmd = &cobra.Command{
	Use:     "tuneserver",
	Short:   "Remote store for tunesync",
	Version: version.DetailedWithApp(),
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "f", "", "server config file (yaml or json)")
	rootCmd.AddCommand(newServeCmd(), newTokenCmd())
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the file API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			srv, err := server.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer slog.Info("Bye!")
			return srv.Start(cmd.Context())
		},
	}
	cmd.Flags().StringP("bind", "b", server.DefaultAddr, "Address to bind the server")
	cmd.Flags().StringP("cert", "c", "", "Path to the certificate file")
	cmd.Flags().StringP("key", "k", "", "Path to the key file")
	cmd.Flags().StringP("data-dir", "d", "", "Directory for the server database")
	return cmd
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			user, _ := cmd.Flags().GetString("user")
			if err := cfg.Auth.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			token, err := auth.NewAuthService(&cfg.Auth).IssueToken(cmd.Context(), user)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringP("user", "u", "", "user email the token is issued to")
	cmd.MarkFlagRequired("user")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*server.Config, error) {
	v := viper.New()

	v.SetDefault("http.addr", server.DefaultAddr)
	v.SetDefault("http.cert_file", "")
	v.SetDefault("http.key_file", "")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("master_key", "")
	v.SetDefault("rate_limit", server.DefaultRateLimit)
	v.SetDefault("access_log", true)
	v.SetDefault("blob.root", blob.DefaultBlobRoot)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token_issuer", "tuneserver")
	v.SetDefault("auth.access_token_secret", "")
	v.SetDefault("auth.access_token_expiry", auth.DefaultTokenExpiry)
	v.SetDefault("auth.anonymous_user", "")

	if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config read '%s': %w", f.Value.String(), err)
			}
		}
	}

	for key, flag := range map[string]string{
		"http.addr":      "bind",
		"http.cert_file": "cert",
		"http.key_file":  "key",
		"data_dir":       "data-dir",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			v.BindPFlag(key, f)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg server.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
