// Command wechaty runs and inspects the payload reconciler.
package main

import (
	"fmt"
	"os"

	"github.com/juzibot/wechaty/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
