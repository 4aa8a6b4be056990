package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	lodelibrary "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/exifpipe/cli/reader"
	"github.com/pithecene-io/exifpipe/cli/render"
	"github.com/pithecene-io/exifpipe/cli/tui"
	"github.com/pithecene-io/exifpipe/lode"
)

// queryTimeout bounds dataset reads.
const queryTimeout = 30 * time.Second

// storageReadFlags are the flags shared by commands reading a dataset.
func storageReadFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "storage-dataset", Usage: "Lode dataset name", Value: lode.DefaultDataset},
		&cli.StringFlag{Name: "storage-backend", Usage: "Storage backend: fs or s3", Required: true},
		&cli.StringFlag{Name: "storage-path", Usage: "Storage path (fs: directory, s3: bucket/prefix)", Required: true},
		&cli.StringFlag{Name: "storage-region", Usage: "AWS region for S3 backend"},
		&cli.StringFlag{Name: "storage-endpoint", Usage: "Custom S3 endpoint"},
		&cli.BoolFlag{Name: "storage-s3-path-style", Usage: "Force path-style S3 addressing"},
		&cli.StringFlag{Name: "source", Usage: "Filter by source partition"},
		&cli.StringFlag{Name: "session", Usage: "Filter by extract session ID"},
	}
}

// openReader opens a reader over the dataset named by the storage flags.
// Tests replace it.
var openReader = func(ctx context.Context, c *cli.Context) (reader.Reader, error) {
	ds, err := buildReadDataset(ctx, c)
	if err != nil {
		return nil, err
	}
	return reader.NewLodeReader(ds), nil
}

// buildReadDataset opens the dataset named by the storage flags.
func buildReadDataset(ctx context.Context, c *cli.Context) (lodelibrary.Dataset, error) {
	sc := storageChoice{
		backend:     c.String("storage-backend"),
		path:        c.String("storage-path"),
		dataset:     c.String("storage-dataset"),
		region:      c.String("storage-region"),
		endpoint:    c.String("storage-endpoint"),
		s3PathStyle: c.Bool("storage-s3-path-style"),
	}
	switch sc.backend {
	case "fs":
		if err := validateStorageConfig(sc); err != nil {
			return nil, err
		}
		return lode.NewReadDatasetFS(sc.dataset, sc.path)
	case "s3":
		loc, err := sc.s3Location()
		if err != nil {
			return nil, err
		}
		return lode.NewReadDatasetS3(ctx, sc.dataset, loc)
	default:
		return nil, fmt.Errorf("unsupported storage-backend: %s (must be fs or s3)", sc.backend)
	}
}

// RecordsCommand returns the records command, which lists stored metadata.
func RecordsCommand() *cli.Command {
	return &cli.Command{
		Name:  "records",
		Usage: "List metadata records persisted by extract",
		Flags: append(append(OutputFlags(), storageReadFlags()...),
			&cli.StringFlag{Name: "day", Usage: "Filter by day partition (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "file-type", Usage: "Filter by file type partition (e.g. JPEG)"},
		),
		Action: recordsAction,
	}
}

func recordsAction(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(c.Context, queryTimeout)
	defer cancel()

	rd, err := openReader(ctx, c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to initialize storage reader: %v", err), exitConfigError)
	}
	records, err := rd.Records(ctx, lode.RecordFilter{
		Source:    c.String("source"),
		Day:       c.String("day"),
		FileType:  c.String("file-type"),
		SessionID: c.String("session"),
	})
	if err != nil {
		return fmt.Errorf("failed to read records: %w", err)
	}

	if c.Bool("tui") {
		return tui.Run(storedEntries(records))
	}
	r, err := newRenderer(c)
	if err != nil {
		return err
	}
	if r.Format() == render.FormatTable {
		return r.Render(storedRows(records))
	}
	return r.Render(records)
}

// storedRow is the table view of a StoredRecord.
type storedRow struct {
	SourceFile string `json:"source_file"`
	FileType   string `json:"file_type"`
	Source     string `json:"source"`
	Day        string `json:"day"`
	SessionID  string `json:"session_id"`
}

func storedRows(records []reader.StoredRecord) []storedRow {
	rows := make([]storedRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, storedRow{
			SourceFile: r.SourceFile,
			FileType:   r.FileType,
			Source:     r.Source,
			Day:        r.Day,
			SessionID:  r.SessionID,
		})
	}
	return rows
}

func storedEntries(records []reader.StoredRecord) []tui.Entry {
	entries := make([]tui.Entry, 0, len(records))
	for _, r := range records {
		entries = append(entries, tui.Entry{
			Path:     r.SourceFile,
			Status:   tui.StatusOK,
			FileType: r.FileType,
			Tags:     r.Tags,
		})
	}
	return entries
}

// StatsCommand returns the stats command, which shows the counters of the
// latest persisted extract session.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show the counters persisted by the latest extract session",
		Flags:  append(OutputFlags(), storageReadFlags()...),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(c.Context, queryTimeout)
	defer cancel()

	rd, err := openReader(ctx, c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to initialize storage reader: %v", err), exitConfigError)
	}
	snap, err := rd.LatestMetrics(ctx, c.String("session"), c.String("source"))
	if errors.Is(err, lode.ErrNoMetricsFound) {
		return cli.Exit("no metrics found; run extract with --storage-backend first", exitFileFailed)
	}
	if err != nil {
		return fmt.Errorf("failed to read metrics: %w", err)
	}

	if c.Bool("tui") {
		_, err := io.WriteString(outWriter(c), tui.RenderStats(snap.Snapshot))
		return err
	}
	r, err := newRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(snap)
}
