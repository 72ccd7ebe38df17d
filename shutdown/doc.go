// Package shutdown drains a batch run when the operator interrupts it.
//
// A Coordinator runs registered hooks in ascending phase order. Hooks in
// the same phase run concurrently. The first SIGINT or SIGTERM starts the
// drain; a second one invokes the force hook, which exits with status 130
// by default.
//
// Phases used by the agentbatch command:
//
//	PhaseStopWork        stop claiming tasks, release unstarted claims
//	PhaseTerminateAgents signal running agent process groups
//	PhaseFlush           export results, flush traces
//
// Usage:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	stop := coord.HandleSignals()
//	defer stop()
//
//	coord.RegisterFunc("pool", shutdown.PhaseStopWork, func(ctx context.Context) error {
//		p.Shutdown()
//		return nil
//	})
package shutdown
