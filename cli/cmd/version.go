package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/exifpipe/executor"
	"github.com/pithecene-io/exifpipe/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version         string `json:"version"`
	ContractVersion string `json:"contract_version"`
	Commit          string `json:"commit"`
	// Exiftool fields describe the binary extract would spawn. They are
	// empty, with ExiftoolError set, when none resolves.
	ExiftoolPath     string `json:"exiftool_path,omitempty"`
	ExiftoolSource   string `json:"exiftool_source,omitempty"`
	ExiftoolChecksum string `json:"exiftool_checksum,omitempty"`
	ExiftoolError    string `json:"exiftool_error,omitempty"`
}

// VersionCommand returns the version command.
// It resolves the exiftool binary but never runs it.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information and the resolved exiftool binary",
		Flags: append(OutputFlags(), &cli.StringFlag{
			Name:  "exiftool",
			Usage: "Path to exiftool (default: $" + executor.EnvToolPath + ", vendored copy, then $PATH)",
		}),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for version command", 1)
		}

		r, err := newRenderer(c)
		if err != nil {
			return err
		}

		return r.Render(buildVersionResponse(commit, c.String("exiftool")))
	}
}

func buildVersionResponse(commit, explicit string) VersionResponse {
	resp := VersionResponse{
		Version:         types.Version,
		ContractVersion: types.ContractVersion,
		Commit:          commit,
	}

	res, err := executor.Resolve(explicit)
	if err != nil {
		resp.ExiftoolError = err.Error()
		return resp
	}
	resp.ExiftoolPath = res.Path
	resp.ExiftoolSource = string(res.Source)

	sum, err := executor.Checksum(res.Path)
	if err != nil {
		resp.ExiftoolError = err.Error()
		return resp
	}
	resp.ExiftoolChecksum = sum
	return resp
}
