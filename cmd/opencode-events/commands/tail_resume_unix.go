//go:build !windows

package commands

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyResume reports SIGCONT, which a process receives when it resumes after being
// stopped; timers did not fire while it was stopped.
func notifyResume() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGCONT)
	return ch, func() { signal.Stop(ch) }
}
