package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/exifpipe/cache"
	exifconfig "github.com/pithecene-io/exifpipe/cli/config"
	"github.com/pithecene-io/exifpipe/cli/render"
	"github.com/pithecene-io/exifpipe/cli/tui"
	"github.com/pithecene-io/exifpipe/executor"
	"github.com/pithecene-io/exifpipe/lode"
	"github.com/pithecene-io/exifpipe/log"
	"github.com/pithecene-io/exifpipe/metrics"
	"github.com/pithecene-io/exifpipe/policy"
	"github.com/pithecene-io/exifpipe/runtime"
)

// Exit codes for extract.
const (
	exitSuccess        = 0
	exitFileFailed     = 1
	exitToolFailure    = 2
	exitPersistFailure = 3
	// exitConfigError shares the tool-failure code: nothing was extracted.
	exitConfigError = exitToolFailure
)

const (
	defaultConcurrency = 4
	defaultSource      = "local"
	defaultFlushCount  = 1000
	// notifyTimeout bounds publishing, retries included.
	notifyTimeout = time.Minute
)

// ExtractCommand returns the extract command.
func ExtractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Extract metadata from files, directories or stdin (-)",
		ArgsUsage: "<file|dir|->...",
		Flags: append(OutputFlags(),
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to config file (default: ./" + exifconfig.DefaultFile + " when present)",
			},
			&cli.StringFlag{
				Name:  "exiftool",
				Usage: "Path to exiftool (default: $" + executor.EnvToolPath + ", vendored copy, then $PATH)",
			},
			&cli.StringSliceFlag{
				Name:    "arg",
				Aliases: []string{"a"},
				Usage:   "Extra exiftool argument, repeatable (e.g. --arg=-G --arg=-n)",
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Process mode: session (one -stay_open process) or oneshot (one process per input)",
				Value: string(runtime.ModeSession),
			},
			&cli.BoolFlag{
				Name:  "oneshot",
				Usage: "Shorthand for --mode oneshot",
			},
			&cli.BoolFlag{
				Name:  "stage",
				Usage: "Session mode: copy each file to a temporary file before sending it",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Concurrent processes (oneshot) or staging copies (--stage)",
				Value: defaultConcurrency,
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Source identifier for record partitioning",
				Value: defaultSource,
			},
			&cli.BoolFlag{
				Name:  "stats",
				Usage: "Print session counters to stderr when done",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log debug entries to stderr",
			},
			// Cache flags
			&cli.StringFlag{
				Name:  "cache-url",
				Usage: "Redis URL for the result cache (redis://host:port/db)",
			},
			&cli.DurationFlag{
				Name:  "cache-ttl",
				Usage: "Result cache entry lifetime",
				Value: cache.DefaultTTL,
			},
			// Storage flags
			&cli.StringFlag{
				Name:  "storage-backend",
				Usage: "Record store backend: fs or s3 (unset: records are not persisted)",
			},
			&cli.StringFlag{
				Name:  "storage-path",
				Usage: "Record store path (fs: directory, s3: bucket/prefix)",
			},
			&cli.StringFlag{
				Name:  "storage-dataset",
				Usage: "Lode dataset name",
				Value: lode.DefaultDataset,
			},
			&cli.StringFlag{
				Name:  "storage-region",
				Usage: "AWS region for S3 backend (optional, uses default chain)",
			},
			&cli.StringFlag{
				Name:  "storage-endpoint",
				Usage: "Custom S3 endpoint for S3-compatible providers (e.g. MinIO)",
			},
			&cli.BoolFlag{
				Name:  "storage-s3-path-style",
				Usage: "Force path-style S3 addressing",
			},
			// Write policy flags
			&cli.StringFlag{
				Name:  "policy",
				Usage: "Record write policy: strict, buffered or streaming",
				Value: string(policy.NameStreaming),
			},
			&cli.IntFlag{
				Name:  "buffer-records",
				Usage: "Buffered policy: maximum records held before flush",
				Value: policy.DefaultBufferedConfig().MaxBufferRecords,
			},
			&cli.Int64Flag{
				Name:  "buffer-bytes",
				Usage: "Buffered policy: maximum estimated bytes held before flush",
				Value: policy.DefaultBufferedConfig().MaxBufferBytes,
			},
			&cli.IntFlag{
				Name:  "flush-count",
				Usage: "Streaming policy: flush after this many records (0 disables)",
				Value: defaultFlushCount,
			},
			&cli.DurationFlag{
				Name:  "flush-interval",
				Usage: "Streaming policy: flush at least this often (0 disables)",
			},
			// Adapter flags
			&cli.StringFlag{
				Name:  "adapter",
				Usage: "Notify on batch completion: webhook or redis",
			},
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "Webhook endpoint or Redis URL",
			},
			&cli.StringFlag{
				Name:  "adapter-channel",
				Usage: "Redis pub/sub channel",
			},
			&cli.StringSliceFlag{
				Name:  "adapter-header",
				Usage: "Webhook header as key=value, repeatable",
			},
			&cli.DurationFlag{
				Name:  "adapter-timeout",
				Usage: "Per-attempt publish timeout",
				Value: 10 * time.Second,
			},
			&cli.IntFlag{
				Name:  "adapter-retries",
				Usage: "Publish retry attempts",
				Value: 3,
			},
		),
		Action: extractAction,
	}
}

// extractChoice holds every resolved extract setting.
type extractChoice struct {
	tool        string
	args        []string
	mode        runtime.Mode
	stage       bool
	concurrency int
	source      string
	storage     storageChoice
	policy      policyChoice
	cache       cacheChoice
	adapter     *adapterChoice
}

// loadConfig reads --config, or the default file when it exists.
func loadConfig(c *cli.Context) (*exifconfig.Config, error) {
	if c.IsSet("config") {
		return exifconfig.Load(c.String("config"))
	}
	return exifconfig.LoadOptional(exifconfig.DefaultFile)
}

func resolveExtractChoice(c *cli.Context, cfg *exifconfig.Config) (*extractChoice, error) {
	ch := &extractChoice{
		tool:        resolveString(c, "exiftool", configVal(cfg, func(c *exifconfig.Config) string { return c.Exiftool })),
		args:        resolveStrings(c, "arg", configVal(cfg, func(c *exifconfig.Config) []string { return c.Args })),
		mode:        runtime.Mode(resolveString(c, "mode", configVal(cfg, func(c *exifconfig.Config) string { return c.Mode }))),
		stage:       c.Bool("stage"),
		concurrency: resolveInt(c, "concurrency", configVal(cfg, func(c *exifconfig.Config) int { return c.Concurrency })),
		source:      resolveString(c, "source", configVal(cfg, func(c *exifconfig.Config) string { return c.Source })),
		storage: storageChoice{
			backend:     resolveString(c, "storage-backend", configVal(cfg, func(c *exifconfig.Config) string { return c.Storage.Backend })),
			path:        resolveString(c, "storage-path", configVal(cfg, func(c *exifconfig.Config) string { return c.Storage.Path })),
			dataset:     resolveString(c, "storage-dataset", configVal(cfg, func(c *exifconfig.Config) string { return c.Storage.Dataset })),
			region:      resolveString(c, "storage-region", configVal(cfg, func(c *exifconfig.Config) string { return c.Storage.Region })),
			endpoint:    resolveString(c, "storage-endpoint", configVal(cfg, func(c *exifconfig.Config) string { return c.Storage.Endpoint })),
			s3PathStyle: resolveBool(c, "storage-s3-path-style", configVal(cfg, func(c *exifconfig.Config) bool { return c.Storage.S3PathStyle })),
		},
		policy: policyChoice{
			name:          resolveString(c, "policy", configVal(cfg, func(c *exifconfig.Config) string { return c.Policy.Name })),
			bufferRecords: resolveInt(c, "buffer-records", configVal(cfg, func(c *exifconfig.Config) int { return c.Policy.BufferRecords })),
			bufferBytes:   resolveInt64(c, "buffer-bytes", configVal(cfg, func(c *exifconfig.Config) int64 { return c.Policy.BufferBytes })),
			flushCount:    resolveInt(c, "flush-count", configVal(cfg, func(c *exifconfig.Config) int { return c.Policy.FlushCount })),
			flushInterval: resolveDuration(c, "flush-interval", configVal(cfg, func(c *exifconfig.Config) time.Duration { return c.Policy.FlushInterval.Duration })),
		},
		cache: cacheChoice{
			url:    resolveString(c, "cache-url", configVal(cfg, func(c *exifconfig.Config) string { return c.Cache.URL })),
			prefix: configVal(cfg, func(c *exifconfig.Config) string { return c.Cache.Prefix }),
			ttl:    resolveDuration(c, "cache-ttl", configVal(cfg, func(c *exifconfig.Config) time.Duration { return c.Cache.TTL.Duration })),
		},
	}

	if c.Bool("oneshot") {
		if c.IsSet("mode") && ch.mode != runtime.ModeOneShot {
			return nil, fmt.Errorf("--oneshot conflicts with --mode %s", ch.mode)
		}
		ch.mode = runtime.ModeOneShot
	}
	switch ch.mode {
	case runtime.ModeSession, runtime.ModeOneShot:
	default:
		return nil, fmt.Errorf("invalid --mode: %q\n  Valid options: session, oneshot", ch.mode)
	}
	if ch.stage && ch.mode == runtime.ModeOneShot {
		return nil, errors.New("--stage requires session mode")
	}
	if ch.concurrency < 1 {
		return nil, fmt.Errorf("--concurrency must be >= 1, got %d", ch.concurrency)
	}
	if err := validateStorageConfig(ch.storage); err != nil {
		return nil, err
	}
	if err := validatePolicyConfig(ch.policy); err != nil {
		return nil, err
	}

	adapterType := resolveString(c, "adapter", configVal(cfg, func(c *exifconfig.Config) string { return c.Adapter.Type }))
	if adapterType != "" {
		ac, err := parseAdapterConfigWithPrecedence(c, cfg, adapterType)
		if err != nil {
			return nil, err
		}
		ch.adapter = ac
	}
	return ch, nil
}

func extractAction(c *cli.Context) error {
	if c.Args().Len() == 0 {
		return cli.Exit("no inputs\n  Usage: exifpipe extract [flags] <file|dir|->...", exitConfigError)
	}
	if c.Bool("tui") && c.Bool("stats") {
		return cli.Exit("--tui and --stats cannot be combined", exitConfigError)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	choice, err := resolveExtractChoice(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	var r *render.Renderer
	if !c.Bool("tui") {
		if r, err = newRenderer(c); err != nil {
			return cli.Exit(err.Error(), exitConfigError)
		}
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	level := zapcore.WarnLevel
	if c.Bool("verbose") {
		level = zapcore.DebugLevel
	}
	logger := log.NewLoggerLevel(log.Context{Mode: string(choice.mode)}, level).WithOutput(errWriter(c))
	defer func() { _ = logger.Sync() }()

	b := &batch{
		choice: choice,
		id:     uuid.NewString(),
		logger: logger,
		stdin:  os.Stdin,
	}
	res := b.execute(ctx, c.Args().Slice())
	if res.launchErr != nil {
		return cli.Exit(fmt.Sprintf("failed to launch exiftool: %v", res.launchErr), exitToolFailure)
	}

	if c.Bool("tui") {
		if err := tui.Run(toEntries(res.report.Files)); err != nil {
			return fmt.Errorf("tui: %w", err)
		}
	} else if err := renderReport(r, res.report); err != nil {
		return err
	}
	if c.Bool("stats") {
		_, _ = io.WriteString(errWriter(c), tui.RenderStats(res.stats))
	}

	return cli.Exit(res.message(), res.exitCode())
}

// batch runs one extract invocation end to end: extraction, persistence
// and notification.
type batch struct {
	choice *extractChoice
	id     string
	logger *log.Logger
	stdin  io.Reader

	// now is overridable in tests.
	now func() time.Time
	// newStore overrides buildLodeClient in tests.
	newStore func(ctx context.Context, cfg lode.Config) (lodeStore, error)
}

// lodeStore is the part of *lode.LodeClient a batch writes through.
type lodeStore interface {
	lode.Client
	lode.FileWriter
}

// outcome is everything extractAction reports.
type outcome struct {
	report     *ExtractReport
	stats      metrics.Snapshot
	launchErr  error
	persistErr error
	notifyErr  error
}

// exitCode ranks failures: tool failures, then persistence or
// notification failures, then failed files.
func (o *outcome) exitCode() int {
	switch {
	case o.launchErr != nil || o.report.sessionFailed():
		return exitToolFailure
	case o.persistErr != nil || o.notifyErr != nil:
		return exitPersistFailure
	case o.report.FilesFailed > 0:
		return exitFileFailed
	default:
		return exitSuccess
	}
}

func (o *outcome) message() string {
	switch {
	case o.report.sessionFailed():
		return "exiftool session failed; see per-file errors"
	case o.persistErr != nil:
		return fmt.Sprintf("failed to persist records: %v", o.persistErr)
	case o.notifyErr != nil:
		return fmt.Sprintf("failed to publish batch_completed: %v", o.notifyErr)
	default:
		return ""
	}
}

func (b *batch) execute(ctx context.Context, inputs []string) *outcome {
	now := b.now
	if now == nil {
		now = time.Now
	}
	started := now()
	day := lode.DeriveDay(started)
	collector := metrics.NewCollector(string(b.choice.mode), b.choice.storage.backend, b.id)

	c, err := buildCache(b.choice.cache)
	if err != nil {
		b.logger.Warn("cache disabled", map[string]any{"error": err.Error()})
		c = cache.Nop{}
	}
	defer func() { _ = c.Close() }()

	w := b.open(ctx, day, collector)

	r := &runner{
		rt: runtime.Config{
			ToolPath:  b.choice.tool,
			Logger:    b.logger,
			Collector: collector,
		},
		mode:        b.choice.mode,
		args:        b.choice.args,
		stage:       b.choice.stage,
		concurrency: b.choice.concurrency,
		cache:       cache.NewInstrumented(c, collector),
		stdin:       b.stdin,
		logger:      b.logger,
		onSettle:    func(res FileResult) { w.ingest(ctx, res) },
	}
	results, err := r.run(ctx, inputs)
	if err != nil {
		_ = w.pol.Close()
		return &outcome{launchErr: err, stats: collector.Snapshot()}
	}

	finished := now()
	report := newReport(b.id, b.choice, day, results)
	report.DurationMs = finished.Sub(started).Milliseconds()
	out := &outcome{report: report}

	if b.choice.storage.enabled() {
		report.StoragePath = buildStoragePath(b.choice.storage, w.cfg.Dataset, b.choice.source, day)
		out.persistErr = b.persist(ctx, w, collector, report)
	}

	if b.choice.adapter != nil {
		out.notifyErr = b.notify(ctx, report, started, finished)
	}
	out.stats = collector.Snapshot()
	return out
}

// writer feeds settled records through the write policy into the record
// store. The first failure stops further ingestion and is reported by
// persist.
type writer struct {
	cfg   lode.Config
	pol   policy.Policy
	store lodeStore
	sink  *lode.InstrumentedClient

	mu  sync.Mutex
	err error
}

// open connects the record store and builds the write policy over it.
// With storage disabled, or when the store cannot be opened, records go
// to a noop policy.
func (b *batch) open(ctx context.Context, day string, collector *metrics.Collector) *writer {
	w := &writer{pol: policy.NewNoopPolicy()}
	if !b.choice.storage.enabled() {
		return w
	}

	dataset := b.choice.storage.dataset
	if dataset == "" {
		dataset = lode.DefaultDataset
	}
	w.cfg = lode.Config{
		Dataset:   dataset,
		Source:    b.choice.source,
		Day:       day,
		SessionID: b.id,
	}

	newStore := b.newStore
	if newStore == nil {
		newStore = func(ctx context.Context, cfg lode.Config) (lodeStore, error) {
			return buildLodeClient(ctx, b.choice.storage, cfg)
		}
	}
	store, err := newStore(ctx, w.cfg)
	if err != nil {
		collector.IncStoreWriteFailure()
		b.logger.Error("record store unavailable", map[string]any{"error": err.Error()})
		w.err = err
		return w
	}

	sink := lode.NewInstrumentedClient(store, collector)
	pol, err := buildPolicy(b.choice.policy, sink, b.logger)
	if err != nil {
		_ = sink.Close()
		w.err = err
		return w
	}
	w.pol, w.store, w.sink = pol, store, sink
	return w
}

// ingest hands one settled input's records to the policy. It is called
// concurrently in oneshot mode.
func (w *writer) ingest(ctx context.Context, res FileResult) {
	if res.Failed() || len(res.Records) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	if err := w.pol.Ingest(ctx, res.Records); err != nil {
		w.err = fmt.Errorf("ingest %s: %w", res.Input, err)
	}
}

func (w *writer) ingestErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
