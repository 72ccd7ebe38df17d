// Package results holds the per-task outcome of a batch run and the ways it
// leaves the process.
//
// A Result is produced once per task per batch. Workers hand results to a
// Collector, which keeps them in arrival order and fans them out to
// subscribers (the CLI uses a subscription for progress lines). When the
// batch ends the caller passes the slice to one or more Exporters:
//
//	col := results.NewCollector()
//	progress, cancel := col.Subscribe(16)
//	defer cancel()
//	go func() {
//	    for r := range progress {
//	        fmt.Println(r.Task, r.Outcome)
//	    }
//	}()
//	// ... workers call col.Add(r) ...
//	all := col.Results()
//	_ = results.JSONFile("results.json").Export(all)
//
// Summarize reduces a slice to the counts shown at the end of a run.
package results
