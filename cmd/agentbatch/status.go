package main

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/agentbatch/markers"
	"github.com/vinayprograms/agentbatch/tasks"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	var pattern string
	var detailed bool
	cmd := &cobra.Command{
		Use:   "status [dir]",
		Short: "Count tasks by state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("pattern") {
				cfg.Pattern = pattern
			}
			dir := rootsOrCwd(args)[0]
			counts, err := tasks.Stats(dir, cfg.Pattern)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printCounts(out, dir, cfg.Pattern, counts)
			if detailed {
				files, err := markers.Discover(dir, cfg.Pattern)
				if err != nil {
					return err
				}
				printDetails(out, files)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&pattern, "pattern", "p", markers.DefaultPattern, "glob for task files")
	cmd.Flags().BoolVarP(&detailed, "detailed", "d", false, "list every task with its owner")
	return cmd
}

func printCounts(w io.Writer, dir, pattern string, c tasks.Counts) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	fmt.Fprintf(w, "Tasks in %s (%s)\n", abs, pattern)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range tasks.Statuses {
		fmt.Fprintf(tw, "  %s\t%d\n", s, c.Of(s))
	}
	fmt.Fprintf(tw, "  total\t%d\n", c.Total)
	tw.Flush()
}

func printDetails(w io.Writer, files []string) {
	if len(files) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tTASK\tWORKER\tPID\tATTEMPT\tAGE")
	for _, f := range files {
		t, err := tasks.New(f)
		if err != nil {
			continue
		}
		status := t.Status()
		worker, pid, attempt, age := "-", "-", "-", "-"
		if status == tasks.StatusInProgress {
			if meta := t.Metadata(); meta != nil {
				if meta.WorkerID != "" {
					worker = meta.WorkerID
				}
				if meta.PID != nil {
					pid = fmt.Sprint(*meta.PID)
				}
				attempt = fmt.Sprint(meta.Attempt)
				if started, ok := meta.Started(); ok {
					age = time.Since(started).Round(time.Second).String()
				}
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", status, filepath.Base(f), worker, pid, attempt, age)
	}
	tw.Flush()
}
