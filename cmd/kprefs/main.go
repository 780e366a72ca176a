// Command kprefs inspects and edits typed preference bindings.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/kprefs/internal/cli"
	"github.com/roach88/kprefs/internal/logging"
)

func main() {
	err := cli.NewRootCommand().Execute()
	_ = logging.GetLogger().Sync()

	// Commands print their own ExitErrors through the output formatter.
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
