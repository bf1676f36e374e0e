package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tunebox/tunesync/internal/client/sync"
	"github.com/tunebox/tunesync/internal/client/workspace"
	"github.com/tunebox/tunesync/internal/utils"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the config and create the metadata directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, map[string]string{
				"root":                    "root",
				"remote_root":             "remote-root",
				"server_url":              "server",
				"token":                   "token",
				"email":                   "email",
				"metadata_dir":            "metadata-dir",
				"encryption.default_mode": "mode",
			})
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			ws, err := workspace.NewWorkspace(cfg.Root, cfg.MetadataDir)
			if err != nil {
				return err
			}
			if err := ws.Setup(); err != nil {
				return err
			}

			journal := sync.NewSyncJournal(ws.JournalPath)
			if err := journal.Open(); err != nil {
				return fmt.Errorf("create sync journal: %w", err)
			}
			if err := journal.Close(); err != nil {
				return err
			}

			if err := cfg.Save(cfg.Path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", green("initialized"), cfg.Root)
			fmt.Fprintf(out, "  %-10s %s\n", "remote", cyan(cfg.ServerURL+"/"+cfg.RemoteRoot))
			fmt.Fprintf(out, "  %-10s %s\n", "metadata", cfg.MetadataDir)
			fmt.Fprintf(out, "  %-10s %s\n", "config", cfg.Path)
			if cfg.Token != "" {
				fmt.Fprintf(out, "  %-10s %s\n", "token", utils.MaskSecret(cfg.Token))
			}
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringP("root", "r", "", "local directory or storage URI to synchronize")
	cmd.Flags().String("remote-root", "", "remote tree mirrored by the root")
	cmd.Flags().StringP("server", "s", "", "tuneserver URL")
	cmd.Flags().StringP("token", "t", "", "access token issued by `tuneserver token`")
	cmd.Flags().StringP("email", "e", "", "user email for client side encryption")
	cmd.Flags().String("metadata-dir", "", "directory for the journal, policy and logs")
	cmd.Flags().String("mode", "", "default encryption mode: none, system, server or client")
	return cmd
}
