// Package pool runs a batch of task files through a bounded set of workers.
//
// Each worker pulls paths from a shared FIFO queue, claims the task through
// its markers, runs attempts until one succeeds or the retry budget is spent,
// and finalizes the task. Shutdown is cooperative: workers check a shared
// flag between attempts and before each task, and running agents are
// signalled through the batch's process registry. A task interrupted that way
// goes back to pending rather than failed.
package pool
