package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tunebox/tunesync/internal/client/sync"
)

var errSyncIncomplete = errors.New("sync finished with conflicts or failures")

func init() {
	rootCmd.AddCommand(
		newTransferCmd("push", "Upload local changes", true, false),
		newTransferCmd("pull", "Download remote changes", false, true),
		newTransferCmd("sync", "Push and pull in one pass", true, true),
	)
}

func newTransferCmd(name, short string, push, pull bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name + " [dir]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			recursive, _ := cmd.Flags().GetBool("recursive")
			force, _ := cmd.Flags().GetBool("force")

			m := s.engine.Manager(dirArg(args), sync.Options{
				Push:      push,
				Pull:      pull,
				Force:     force,
				Recursive: recursive,
				Workers:   s.cfg.Workers,
			})
			report, runErr := m.Run(cmd.Context())
			printSummary(cmd.OutOrStdout(), name, report)

			if runErr != nil {
				return fmt.Errorf("%s: %w", name, runErr)
			}
			if report.HasFailures() {
				return errSyncIncomplete
			}
			return nil
		},
	}
	addWalkFlags(cmd)
	cmd.Flags().BoolP("force", "f", false, "resolve conflicts in the direction of the command (push or pull only)")
	cmd.Flags().IntP("workers", "w", 0, "concurrent transfers")
	return cmd
}

func addWalkFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("recursive", "r", false, "descend into subdirectories")
}
