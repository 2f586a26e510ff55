// Command kitchensync runs the offline-first kitchen display sync engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/kitchensync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
