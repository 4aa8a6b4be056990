package cmd

import (
	"context"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/pithecene-io/exifpipe/adapter"
	"github.com/pithecene-io/exifpipe/cli/render"
	"github.com/pithecene-io/exifpipe/cli/tui"
	"github.com/pithecene-io/exifpipe/metrics"
)

// resultsFile is the sidecar holding the rendered report of a batch.
const resultsFile = "results.json"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ExtractReport is the rendered outcome of one extract invocation.
type ExtractReport struct {
	SessionID   string       `json:"session_id"`
	Mode        string       `json:"mode"`
	Source      string       `json:"source"`
	Day         string       `json:"day"`
	FilesOK     int          `json:"files_ok"`
	FilesFailed int          `json:"files_failed"`
	StoragePath string       `json:"storage_path,omitempty"`
	Policy      string       `json:"policy,omitempty"`
	Persisted   int64        `json:"records_persisted,omitempty"`
	DurationMs  int64        `json:"duration_ms"`
	Files       []FileResult `json:"files"`
}

func newReport(id string, choice *extractChoice, day string, results []FileResult) *ExtractReport {
	report := &ExtractReport{
		SessionID: id,
		Mode:      string(choice.mode),
		Source:    choice.source,
		Day:       day,
		Files:     results,
	}
	for _, r := range results {
		if r.Failed() {
			report.FilesFailed++
		} else {
			report.FilesOK++
		}
	}
	return report
}

// sessionFailed reports whether any input failed because the process did.
func (r *ExtractReport) sessionFailed() bool {
	for _, f := range r.Files {
		if f.Failed() && isSessionFailure(f.err) {
			return true
		}
	}
	return false
}

// persist flushes the write policy, writes the report sidecar and a
// counters snapshot, then closes the policy and its store. Every step runs; failures are
// combined.
func (b *batch) persist(ctx context.Context, w *writer, collector *metrics.Collector, report *ExtractReport) error {
	errs := w.ingestErr()
	if w.store == nil {
		// The store never opened; w.err already says why.
		return errs
	}

	errs = multierr.Append(errs, w.pol.Flush(ctx))
	report.Policy = b.choice.policy.name
	report.Persisted = w.pol.Stats().RecordsPersisted

	body, err := json.Marshal(report)
	if err == nil {
		err = w.store.PutFile(ctx, resultsFile, "application/json", body)
	}
	errs = multierr.Append(errs, err)

	now := b.now
	if now == nil {
		now = time.Now
	}
	errs = multierr.Append(errs, w.sink.WriteMetrics(ctx, collector.Snapshot(), now()))
	errs = multierr.Append(errs, w.pol.Close())
	if errs != nil {
		b.logger.Error("persist failed", map[string]any{"error": errs.Error()})
	}
	return errs
}

// notify publishes the batch_completed event.
func (b *batch) notify(ctx context.Context, report *ExtractReport, started, finished time.Time) error {
	a, err := buildAdapter(b.choice.adapter)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	event := adapter.NewBatchCompletedEvent(adapter.Batch{
		SessionID:   report.SessionID,
		Source:      report.Source,
		Day:         report.Day,
		Mode:        report.Mode,
		FilesOK:     report.FilesOK,
		FilesFailed: report.FilesFailed,
		StoragePath: report.StoragePath,
		Started:     started,
		Finished:    finished,
	})
	if err := a.Publish(ctx, event); err != nil {
		b.logger.Error("notify failed", map[string]any{"adapter": b.choice.adapter.adapterType, "error": err.Error()})
		return err
	}
	return nil
}

// renderReport prints the per-file table for table output and the whole
// report otherwise.
func renderReport(r *render.Renderer, report *ExtractReport) error {
	if r.Format() == render.FormatTable {
		return r.Render(tableRows(report.Files))
	}
	return r.Render(report)
}

// fileRow is the table view of a FileResult.
type fileRow struct {
	Input    string `json:"input"`
	Status   string `json:"status"`
	FileType string `json:"file_type"`
	Records  int    `json:"records"`
	Error    string `json:"error"`
}

func tableRows(files []FileResult) []fileRow {
	rows := make([]fileRow, 0, len(files))
	for _, f := range files {
		rows = append(rows, fileRow{
			Input:    f.Input,
			Status:   f.Status,
			FileType: f.FileType,
			Records:  len(f.Records),
			Error:    f.Error,
		})
	}
	return rows
}

// toEntries expands results into one browser entry per record; a failed
// input is one entry.
func toEntries(files []FileResult) []tui.Entry {
	var entries []tui.Entry
	for _, f := range files {
		if f.Failed() {
			entries = append(entries, tui.Entry{Path: f.Input, Status: tui.StatusFailed, Err: f.Error})
			continue
		}
		status := tui.StatusOK
		if f.Status == statusCached {
			status = tui.StatusCached
		}
		for _, rec := range f.Records {
			path := rec.SourceFile()
			if path == "" {
				path = f.Input
			}
			entries = append(entries, tui.Entry{
				Path:     path,
				Status:   status,
				FileType: rec.FileType(),
				Tags:     rec,
			})
		}
	}
	return entries
}

// newRenderer builds the renderer for --format. Output that is not a file
// (tests) defaults to json.
func newRenderer(c *cli.Context) (*render.Renderer, error) {
	w := outWriter(c)
	if f, ok := w.(*os.File); ok {
		return render.NewRenderer(c.String("format"), f)
	}
	format, err := render.ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = render.FormatJSON
	}
	return render.NewRendererWithWriter(format, w), nil
}

func outWriter(c *cli.Context) io.Writer {
	if c.App != nil && c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

func errWriter(c *cli.Context) io.Writer {
	if c.App != nil && c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}
