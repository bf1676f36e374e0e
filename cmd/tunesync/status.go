package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tunebox/tunesync/internal/client/sync"
)

func init() {
	rootCmd.AddCommand(newStatusCmd(), newFetchCmd())
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [dir]",
		Short: "Classify files without transferring anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			recursive, _ := cmd.Flags().GetBool("recursive")
			showAll, _ := cmd.Flags().GetBool("all")

			m := s.engine.Manager(dirArg(args), sync.Options{
				Push:      true,
				Pull:      true,
				Recursive: recursive,
				DryRun:    true,
			})
			report, err := m.Run(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", cyan("status"), s.cfg.Root)
			printStates(out, report)
			for _, o := range report.Outcomes() {
				if o.State == sync.StateSame && !showAll {
					continue
				}
				fmt.Fprintf(out, "  %-18s %-14s %s\n", o.State, o.Action, o.Path)
			}
			return nil
		},
	}
	addWalkFlags(cmd)
	cmd.Flags().BoolP("all", "a", false, "list unchanged files too")
	return cmd
}

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch [dir]",
		Short: "Refresh the cached remote state without transferring files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			recursive, _ := cmd.Flags().GetBool("recursive")
			changed, err := s.engine.Fetch(cmd.Context(), dirArg(args), recursive)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d records updated\n", cyan("fetch"), changed)
			return nil
		},
	}
	addWalkFlags(cmd)
	return cmd
}
