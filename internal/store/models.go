package store

import "time"

// Sync run statuses
const (
	StatusRunning = "running"
	StatusSkipped = "skipped" // rate limited, no remote contact
	StatusSuccess = "success"
	StatusPartial = "partial" // some repositories or assets failed
	StatusFailed  = "failed"  // aborted on a persistence error
)

// SyncRun records one sync pass
type SyncRun struct {
	ID               int64
	StartTime        time.Time
	EndTime          time.Time
	Forced           bool
	ReposQueried     int
	ReposFailed      int
	Downloaded       int
	Evicted          int
	UpToDate         int
	Failed           int
	BytesTransferred int64
	Changed          bool
	Status           string
	ErrorMessage     string
}

// FailedAsset is a dead letter entry for an asset whose download failed.
// It is resolved once a later pass downloads the asset successfully.
type FailedAsset struct {
	ID           int64
	Name         string
	RepoLocator  string
	URL          string
	ErrKind      string
	Error        string
	RetryCount   int
	FirstFailure time.Time
	LastFailure  time.Time
	Resolved     bool
}
