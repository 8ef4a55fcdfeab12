//go:build !unix

package cli

import "os"

var ignoredSignals []os.Signal
