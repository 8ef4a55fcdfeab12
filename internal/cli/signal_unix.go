//go:build unix

package cli

import (
	"os"
	"syscall"
)

// ignoredSignals would otherwise terminate a run without a report.
var ignoredSignals = []os.Signal{syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGPIPE}
