// Package metrics provides per-session counters.
//
// The Collector is a leaf package with no internal dependencies so the
// runtime, cache and store layers can share one instance. All increment
// methods are nil-receiver safe; a nil *Collector records nothing.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Session lifecycle
	SessionsStarted int64
	LaunchSuccess   int64
	LaunchFailure   int64

	// Requests
	RequestsSent     int64
	FramesDecoded    int64
	ToolErrors       int64
	FrameParseErrors int64
	ProcessIOErrors  int64
	UnclaimedEvents  int64
	ToolErrorsByKind map[string]int64

	// Staging
	FilesStaged     int64
	StagedBytes     int64
	CleanupFailures int64

	// Cache
	CacheHits   int64
	CacheMisses int64

	// Store
	StoreWriteSuccess int64
	StoreWriteFailure int64

	// Dimensions (informational, set at construction)
	Mode           string
	StorageBackend string
	SessionID      string
}

// Collector accumulates counters for one CLI invocation or session.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	sessionsStarted   int64
	launchSuccess     int64
	launchFailure     int64
	requestsSent      int64
	framesDecoded     int64
	toolErrors        int64
	frameParseErrors  int64
	processIOErrors   int64
	unclaimedEvents   int64
	filesStaged       int64
	stagedBytes       int64
	cleanupFailures   int64
	cacheHits         int64
	cacheMisses       int64
	storeWriteSuccess int64
	storeWriteFailure int64
	toolErrorsByKind  map[string]int64

	mode           string
	storageBackend string
	sessionID      string
}

// NewCollector creates a Collector with dimension labels.
// storageBackend and sessionID may be empty.
func NewCollector(mode, storageBackend, sessionID string) *Collector {
	return &Collector{
		toolErrorsByKind: make(map[string]int64),
		mode:             mode,
		storageBackend:   storageBackend,
		sessionID:        sessionID,
	}
}

// --- Session lifecycle ---

// IncSessionStarted records a session or one-shot spawn attempt.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsStarted++
	c.mu.Unlock()
}

// IncLaunchSuccess records a successful exiftool launch.
func (c *Collector) IncLaunchSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.launchSuccess++
	c.mu.Unlock()
}

// IncLaunchFailure records a failed exiftool launch.
func (c *Collector) IncLaunchFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.launchFailure++
	c.mu.Unlock()
}

// --- Requests ---

// IncRequestSent records a request frame written to stdin.
func (c *Collector) IncRequestSent() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestsSent++
	c.mu.Unlock()
}

// IncFrameDecoded records a successfully parsed response frame.
func (c *Collector) IncFrameDecoded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesDecoded++
	c.mu.Unlock()
}

// IncToolError records an exiftool stderr error line under kind
// (for example "not_found" or "other").
func (c *Collector) IncToolError(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.toolErrors++
	if c.toolErrorsByKind == nil {
		c.toolErrorsByKind = make(map[string]int64)
	}
	c.toolErrorsByKind[kind]++
	c.mu.Unlock()
}

// IncFrameParseError records a response frame that failed to parse.
func (c *Collector) IncFrameParseError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.frameParseErrors++
	c.mu.Unlock()
}

// IncProcessIOError records a request settled by a stream failure or process exit.
func (c *Collector) IncProcessIOError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.processIOErrors++
	c.mu.Unlock()
}

// IncUnclaimedEvent records an event that arrived with no request pending.
func (c *Collector) IncUnclaimedEvent() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.unclaimedEvents++
	c.mu.Unlock()
}

// --- Staging ---

// IncFileStaged records a stream of n bytes copied to a temporary file.
func (c *Collector) IncFileStaged(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.filesStaged++
	c.stagedBytes += n
	c.mu.Unlock()
}

// IncCleanupFailure records a temporary file that could not be removed.
func (c *Collector) IncCleanupFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cleanupFailures++
	c.mu.Unlock()
}

// --- Cache ---

// IncCacheHit records a metadata cache hit.
func (c *Collector) IncCacheHit() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
}

// IncCacheMiss records a metadata cache miss.
func (c *Collector) IncCacheMiss() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
}

// --- Store ---

// IncStoreWriteSuccess records a successful record store write (per call).
func (c *Collector) IncStoreWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.storeWriteSuccess++
	c.mu.Unlock()
}

// IncStoreWriteFailure records a failed record store write (per call).
func (c *Collector) IncStoreWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.storeWriteFailure++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
// The Collector can continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.toolErrorsByKind))
	for k, v := range c.toolErrorsByKind {
		byKind[k] = v
	}

	return Snapshot{
		SessionsStarted:   c.sessionsStarted,
		LaunchSuccess:     c.launchSuccess,
		LaunchFailure:     c.launchFailure,
		RequestsSent:      c.requestsSent,
		FramesDecoded:     c.framesDecoded,
		ToolErrors:        c.toolErrors,
		FrameParseErrors:  c.frameParseErrors,
		ProcessIOErrors:   c.processIOErrors,
		UnclaimedEvents:   c.unclaimedEvents,
		FilesStaged:       c.filesStaged,
		StagedBytes:       c.stagedBytes,
		CleanupFailures:   c.cleanupFailures,
		CacheHits:         c.cacheHits,
		CacheMisses:       c.cacheMisses,
		StoreWriteSuccess: c.storeWriteSuccess,
		StoreWriteFailure: c.storeWriteFailure,
		ToolErrorsByKind:  byKind,

		Mode:           c.mode,
		StorageBackend: c.storageBackend,
		SessionID:      c.sessionID,
	}
}
