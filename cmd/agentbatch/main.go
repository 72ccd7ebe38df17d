// Command agentbatch runs an AI coding agent over a directory of task files,
// recording each task's state as marker files next to it so several
// coordinators can share one directory safely.
package main

import (
	"context"
	"os"
)

var version = "dev"

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
