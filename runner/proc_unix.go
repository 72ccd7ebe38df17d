//go:build unix

package runner

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// isolate starts the agent in its own process group so signals reach any
// children it spawns and a terminal Ctrl-C is left to the coordinator.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *os.Process) { signalGroup(p, unix.SIGTERM) }

func kill(p *os.Process) { signalGroup(p, unix.SIGKILL) }

func signalGroup(p *os.Process, sig unix.Signal) {
	if err := unix.Kill(-p.Pid, sig); err != nil {
		_ = p.Signal(sig)
	}
}

// exitCode maps death by signal to 128+signal like a shell does.
func exitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
