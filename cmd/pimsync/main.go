// Command pimsync synchronizes contacts and appointments between two stores.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/pimsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
