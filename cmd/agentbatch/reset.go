package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/agentbatch/errors"
	"github.com/vinayprograms/agentbatch/markers"
	"github.com/vinayprograms/agentbatch/tasks"
)

func newResetCmd(_ *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset [dir]",
		Short: "Delete every marker so all tasks are pending again",
		Long: `Reset removes completed, failed, in-progress, lock and log markers from
a directory. Captured agent logs are lost. Make sure no batch is running
against the directory first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootsOrCwd(args)[0]
			out := cmd.OutOrStdout()
			if !force {
				found, err := markers.List(dir)
				if err != nil {
					return errors.MarkerIO(dir, "list markers", err)
				}
				fmt.Fprintf(out, "%d marker file(s) in %s would be removed.\n", len(found), dir)
				return errors.New(errors.ErrCodeInvalidInput, "refusing to reset without --force")
			}
			n, err := tasks.Reset(dir)
			fmt.Fprintf(out, "removed %d marker file(s)\n", n)
			return err
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "actually delete the markers")
	return cmd
}
