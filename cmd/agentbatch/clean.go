package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/agentbatch/errors"
	"github.com/vinayprograms/agentbatch/markers"
	"github.com/vinayprograms/agentbatch/tasks"
)

func newCleanCmd(root *rootOptions) *cobra.Command {
	var pattern string
	var maxAge time.Duration
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "clean [dir]",
		Short: "Return orphaned in-progress tasks to pending",
		Long: `Clean reverts tasks whose in-progress marker is older than --max-age and
whose recorded process is no longer running. Claims held by a live process
are never touched, whatever their age.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("pattern") {
				cfg.Pattern = pattern
			}
			if !cmd.Flags().Changed("max-age") {
				maxAge = cfg.StaleAfter.Duration
			}
			if maxAge < 0 {
				return errors.New(errors.ErrCodeInvalidInput, "--max-age must not be negative")
			}
			dir := rootsOrCwd(args)[0]
			out := cmd.OutOrStdout()

			if dryRun {
				stale, err := tasks.FindStale(dir, cfg.Pattern, maxAge)
				if err != nil {
					return err
				}
				for _, f := range stale {
					fmt.Fprintf(out, "would reclaim %s\n", filepath.Base(f))
				}
				fmt.Fprintf(out, "%d stale task(s)\n", len(stale))
				return nil
			}

			n, err := tasks.CleanupStale(dir, cfg.Pattern, maxAge)
			fmt.Fprintf(out, "reclaimed %d stale task(s)\n", n)
			return err
		},
	}
	cmd.Flags().StringVarP(&pattern, "pattern", "p", markers.DefaultPattern, "glob for task files")
	cmd.Flags().DurationVar(&maxAge, "max-age", time.Hour, "minimum marker age to reclaim")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "list stale tasks without changing anything")
	return cmd
}
