// Package cmd provides CLI commands for the exifpipe binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared output flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml (default: table on a terminal, json otherwise)",
	}

	// TUIFlag enables the Bubble Tea record browser.
	// Only extract supports it.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Browse results interactively (extract only)",
	}
)

// OutputFlags returns the flags shared by every command that renders output.
// Includes --tui so that commands without a browser can reject it with an
// explicit message instead of a generic "flag not defined" error.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		TUIFlag,
	}
}
