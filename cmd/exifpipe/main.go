// Package main provides the exifpipe CLI entrypoint.
//
// Usage:
//
//	exifpipe <command> [options]
//
// Exit codes for `extract`:
//   - 0: every input produced metadata
//   - 1: at least one input failed
//   - 2: exiftool could not run, or the configuration is invalid
//   - 3: records could not be persisted or the completion event published
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/exifpipe/cli/cmd"
	"github.com/pithecene-io/exifpipe/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "exifpipe",
		Usage:          "Batch metadata extraction through a long-lived exiftool",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ExtractCommand(),
			cmd.RecordsCommand(),
			cmd.StatsCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code := exitStatus(os.Stderr, err)
	os.Exit(code)
}

// exitStatus prints err's message to w and returns the exit code for err.
// cli.Exit("", N) prints nothing.
func exitStatus(w io.Writer, err error) int {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		// cli.Exit("", N).Error() is "exit status N"
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			_, _ = fmt.Fprintln(w, msg)
		}
		return code
	}

	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}
