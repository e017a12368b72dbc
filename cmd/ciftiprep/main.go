// Command ciftiprep converts FreeSurfer recon-all output into HCP-style
// CIFTI files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/ciftiprep/internal/cmd"
	"github.com/Iron-Ham/ciftiprep/internal/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(errors.ExitCode(err))
}
