// Command txreplay replays recorded transaction traces against a database.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/txreplay/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
