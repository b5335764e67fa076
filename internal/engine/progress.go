package engine

import (
	"sync"
	"time"
)

// ProgressSink receives lifecycle events from a sync pass. Every method is
// invoked on the goroutine running the pass, never on the caller's, so
// implementations must be safe to call from a background goroutine. Events
// are advisory; a pass behaves the same with NopSink.
type ProgressSink interface {
	OnCheckingForUpdates()
	OnNoUpdatesAvailable()
	OnDownloadStart(name string)
	// OnDownloadProgress reports the current asset. fraction is in [0,1],
	// or download.Indeterminate with totalBytes -1 when the size is unknown.
	OnDownloadProgress(fraction float64, totalBytes, receivedBytes int64)
	OnDownloadFinish(name string)
	OnError(message string)
	OnSyncFinished()
}

// NopSink ignores every event.
type NopSink struct{}

func (NopSink) OnCheckingForUpdates() {}
func (NopSink) OnNoUpdatesAvailable() {}
func (NopSink) OnDownloadStart(string) {}
func (NopSink) OnDownloadProgress(float64, int64, int64) {}
func (NopSink) OnDownloadFinish(string) {}
func (NopSink) OnError(string) {}
func (NopSink) OnSyncFinished() {}

// multiSink fans events out to several sinks in order.
type multiSink []ProgressSink

func (s multiSink) OnCheckingForUpdates() {
	for _, x := range s {
		x.OnCheckingForUpdates()
	}
}

func (s multiSink) OnNoUpdatesAvailable() {
	for _, x := range s {
		x.OnNoUpdatesAvailable()
	}
}

func (s multiSink) OnDownloadStart(name string) {
	for _, x := range s {
		x.OnDownloadStart(name)
	}
}

func (s multiSink) OnDownloadProgress(fraction float64, totalBytes, receivedBytes int64) {
	for _, x := range s {
		x.OnDownloadProgress(fraction, totalBytes, receivedBytes)
	}
}

func (s multiSink) OnDownloadFinish(name string) {
	for _, x := range s {
		x.OnDownloadFinish(name)
	}
}

func (s multiSink) OnError(message string) {
	for _, x := range s {
		x.OnError(message)
	}
}

func (s multiSink) OnSyncFinished() {
	for _, x := range s {
		x.OnSyncFinished()
	}
}

// SyncPhase represents the current phase of a sync pass.
type SyncPhase string

const (
	PhaseIdle        SyncPhase = "idle"
	PhaseChecking    SyncPhase = "checking"
	PhaseDownloading SyncPhase = "downloading"
	PhaseComplete    SyncPhase = "complete"
)

// AssetEvent records a finished or failed asset for the recent activity log.
type AssetEvent struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "completed", "failed"
	Error  string `json:"error,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// SyncProgress is a snapshot of the current sync state, safe for JSON serialization.
type SyncProgress struct {
	Phase           SyncPhase    `json:"phase"`
	UpToDate        bool         `json:"up_to_date"`
	CurrentAsset    string       `json:"current_asset,omitempty"`
	Fraction        float64      `json:"fraction"`
	TotalBytes      int64        `json:"total_bytes"`
	BytesReceived   int64        `json:"bytes_received"`
	CompletedAssets int          `json:"completed_assets"`
	FailedAssets    int          `json:"failed_assets"`
	Errors          []string     `json:"errors,omitempty"`
	RecentEvents    []AssetEvent `json:"recent_events,omitempty"`
	StartTime       time.Time    `json:"start_time"`
	Elapsed         string       `json:"elapsed"`
}

// Tracker is a ProgressSink that accumulates events into a snapshot.
// Snapshot is safe to call while a pass is updating it.
type Tracker struct {
	mu sync.Mutex

	phase         SyncPhase
	upToDate      bool
	current       string
	currentFailed bool
	fraction      float64
	totalBytes    int64
	received      int64
	completed     int
	failed        int
	errors        []string
	recentEvents  []AssetEvent
	startTime     time.Time
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		phase:     PhaseIdle,
		startTime: time.Now(),
	}
}

// Snapshot returns a copy of the current progress state.
func (t *Tracker) Snapshot() SyncProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	errs := make([]string, len(t.errors))
	copy(errs, t.errors)
	events := make([]AssetEvent, len(t.recentEvents))
	copy(events, t.recentEvents)

	return SyncProgress{
		Phase:           t.phase,
		UpToDate:        t.upToDate,
		CurrentAsset:    t.current,
		Fraction:        t.fraction,
		TotalBytes:      t.totalBytes,
		BytesReceived:   t.received,
		CompletedAssets: t.completed,
		FailedAssets:    t.failed,
		Errors:          errs,
		RecentEvents:    events,
		StartTime:       t.startTime,
		Elapsed:         time.Since(t.startTime).Truncate(time.Second).String(),
	}
}

// addRecentEvent prepends an event to the rolling log, capping at 20. Must be called with t.mu held.
func (t *Tracker) addRecentEvent(ev AssetEvent) {
	t.recentEvents = append([]AssetEvent{ev}, t.recentEvents...)
	if len(t.recentEvents) > 20 {
		t.recentEvents = t.recentEvents[:20]
	}
}

func (t *Tracker) OnCheckingForUpdates() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = PhaseChecking
}

func (t *Tracker) OnNoUpdatesAvailable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.upToDate = true
}

func (t *Tracker) OnDownloadStart(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = PhaseDownloading
	t.current = name
	t.currentFailed = false
	t.fraction = 0
	t.totalBytes = -1
	t.received = 0
}

func (t *Tracker) OnDownloadProgress(fraction float64, totalBytes, receivedBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fraction = fraction
	t.totalBytes = totalBytes
	t.received = receivedBytes
}

func (t *Tracker) OnDownloadFinish(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == name && t.currentFailed {
		t.current = ""
		return
	}
	t.completed++
	t.addRecentEvent(AssetEvent{Name: name, Status: "completed", Size: t.received})
	t.current = ""
}

// OnError records the message. An error raised while an asset is being
// downloaded marks that asset as failed.
func (t *Tracker) OnError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors = append(t.errors, message)
	if t.current != "" && !t.currentFailed {
		t.currentFailed = true
		t.failed++
		t.addRecentEvent(AssetEvent{Name: t.current, Status: "failed", Error: message})
	}
}

func (t *Tracker) OnSyncFinished() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = PhaseComplete
	t.current = ""
}
