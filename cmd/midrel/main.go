// Command midrel runs the multiverse MID reliability pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/midrel/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
