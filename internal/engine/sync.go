package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/BadgerOps/assetsync/internal/download"
	"github.com/BadgerOps/assetsync/internal/manifest"
	"github.com/BadgerOps/assetsync/internal/provider"
	"github.com/BadgerOps/assetsync/internal/ratelimit"
	"github.com/BadgerOps/assetsync/internal/reconcile"
	"github.com/BadgerOps/assetsync/internal/store"
)

// ErrSyncInProgress is returned by Run when another pass holds the lock.
var ErrSyncInProgress = errors.New("sync already in progress")

// Options wires the components a SyncManager drives.
type Options struct {
	Cache     billy.Filesystem // cache directory holding assets and the manifest
	Manifests *manifest.Store
	Limiter   ratelimit.Limiter
	Registry  *provider.Registry
	Client    *download.Client
	Repos     []provider.RepositoryRef

	// History is optional; nil disables run and failure bookkeeping.
	History *store.Store
	// Sink receives progress events; nil means NopSink.
	Sink ProgressSink
	// Now overrides the clock used for rate limiting.
	Now func() time.Time
}

// Result summarizes one pass.
type Result struct {
	// Changed is true iff at least one asset was downloaded.
	Changed bool
	// Skipped is true when the rate limiter decided no check was due.
	Skipped bool

	ReposQueried     int
	ReposFailed      int
	RateLimited      bool
	Downloaded       int
	Evicted          int
	UpToDate         int
	Failed           int
	BytesTransferred int64
	Errors           []string
	StartTime        time.Time
	EndTime          time.Time
}

// SyncManager runs sync passes one at a time.
type SyncManager struct {
	cache     billy.Filesystem
	manifests *manifest.Store
	limiter   ratelimit.Limiter
	registry  *provider.Registry
	client    *download.Client
	repos     []provider.RepositoryRef
	history   *store.Store
	sink      ProgressSink
	now       func() time.Time
	logger    *slog.Logger

	// running is the single-flight guard held for the whole pass.
	running sync.Mutex

	trackerMu     sync.RWMutex
	activeTracker *Tracker
}

// NewSyncManager creates a new SyncManager.
func NewSyncManager(opts Options, logger *slog.Logger) (*SyncManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case opts.Cache == nil:
		return nil, errors.New("sync manager: cache filesystem is required")
	case opts.Manifests == nil:
		return nil, errors.New("sync manager: manifest store is required")
	case opts.Registry == nil:
		return nil, errors.New("sync manager: provider registry is required")
	case opts.Client == nil:
		return nil, errors.New("sync manager: download client is required")
	}

	sink := opts.Sink
	if sink == nil {
		sink = NopSink{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &SyncManager{
		cache:     opts.Cache,
		manifests: opts.Manifests,
		limiter:   opts.Limiter,
		registry:  opts.Registry,
		client:    opts.Client,
		repos:     provider.UniqueRefs(opts.Repos),
		history:   opts.History,
		sink:      sink,
		now:       now,
		logger:    logger,
	}, nil
}

// ActiveProgress returns the tracker of the current or most recent pass, or nil.
func (m *SyncManager) ActiveProgress() *Tracker {
	m.trackerMu.RLock()
	defer m.trackerMu.RUnlock()
	return m.activeTracker
}

// Completion is the outcome of a pass started with Start.
type Completion struct {
	Result Result
	Err    error
}

// Run performs one pass synchronously on the caller's goroutine. It
// returns ErrSyncInProgress without doing anything if another pass is
// running.
func (m *SyncManager) Run(ctx context.Context, forced bool) (Result, error) {
	if !m.running.TryLock() {
		m.logger.Info("sync already in progress, dropping request")
		return Result{}, ErrSyncInProgress
	}
	defer m.running.Unlock()
	return m.pass(ctx, forced)
}

// Start runs a pass on a new goroutine. The returned channel delivers
// exactly one Completion and is then closed; the caller receives it on
// whatever goroutine it likes. The single-flight lock is released before
// the Completion is sent. If a pass is already running the request is
// dropped, not queued, and Start returns nil, false.
func (m *SyncManager) Start(ctx context.Context, forced bool) (<-chan Completion, bool) {
	if !m.running.TryLock() {
		m.logger.Info("sync already in progress, dropping request")
		return nil, false
	}
	done := make(chan Completion, 1)
	go func() {
		defer close(done)
		res, err := m.pass(ctx, forced)
		m.running.Unlock()
		done <- Completion{Result: res, Err: err}
	}()
	return done, true
}

// pass must be called with m.running held.
func (m *SyncManager) pass(ctx context.Context, forced bool) (Result, error) {
	res := Result{StartTime: m.now()}

	tracker := NewTracker()
	m.trackerMu.Lock()
	m.activeTracker = tracker
	m.trackerMu.Unlock()
	sink := multiSink{tracker, m.sink}

	run := m.beginRun(res.StartTime, forced)

	fail := func(err error) (Result, error) {
		res.EndTime = m.now()
		res.Errors = append(res.Errors, err.Error())
		m.logger.Error("sync failed", "error", err)
		sink.OnError("Error updating: " + err.Error())
		sink.OnSyncFinished()
		m.finishRun(run, &res, store.StatusFailed, err.Error())
		return res, err
	}

	mf, err := m.manifests.Load()
	if err != nil {
		return fail(err)
	}

	if !m.limiter.ShouldCheck(mf.LastCheckedAt, res.StartTime, forced) {
		m.logger.Info("checked recently, skipping sync",
			"last_checked_at", mf.LastCheckedAt,
			"next_check", m.limiter.NextCheck(mf.LastCheckedAt))
		res.Skipped = true
		res.EndTime = m.now()
		m.finishRun(run, &res, store.StatusSkipped, "")
		return res, nil
	}

	// Persist the check time before any network call so a failed or slow
	// check still counts against the window.
	mf.LastCheckedAt = res.StartTime
	if err := m.manifests.Save(mf); err != nil {
		return fail(err)
	}

	m.logger.Info("checking for updates", "repos", len(m.repos), "forced", forced)
	sink.OnCheckingForUpdates()

	remote, err := m.fetchRemote(ctx, sink, &res)
	if err != nil {
		return fail(err)
	}

	plan, err := reconcile.Diff(remote, mf, m.cache)
	if err != nil {
		return fail(err)
	}
	res.UpToDate = len(plan.UpToDate)
	m.logger.Info("reconciled",
		"remote_assets", remote.Len(),
		"to_download", len(plan.ToDownload),
		"to_evict", len(plan.ToEvict),
		"up_to_date", res.UpToDate)

	for _, name := range plan.ToEvict {
		if err := reconcile.Evict(m.cache, mf, name); err != nil {
			return fail(err)
		}
		m.logger.Info("evicted asset", "asset", name)
		res.Evicted++
	}

	if len(plan.ToDownload) == 0 {
		sink.OnNoUpdatesAvailable()
	}

	cancelErr := m.downloadAll(ctx, plan.ToDownload, mf, sink, &res)

	if res.Downloaded > 0 || res.Evicted > 0 {
		if err := m.manifests.Save(mf); err != nil {
			return fail(err)
		}
	}
	res.Changed = res.Downloaded > 0

	if cancelErr != nil {
		return fail(fmt.Errorf("sync cancelled: %w", cancelErr))
	}

	res.EndTime = m.now()

	status := store.StatusSuccess
	if res.ReposFailed > 0 || res.Failed > 0 {
		status = store.StatusPartial
	}
	m.logger.Info("sync complete",
		"changed", res.Changed,
		"downloaded", res.Downloaded,
		"evicted", res.Evicted,
		"failed", res.Failed,
		"repos_failed", res.ReposFailed,
		"duration", res.EndTime.Sub(res.StartTime))
	sink.OnSyncFinished()
	m.finishRun(run, &res, status, "")
	return res, nil
}

// fetchRemote queries every configured repository. A repository that fails
// is reported and left out of the set; the pass continues. Only
// cancellation aborts.
func (m *SyncManager) fetchRemote(ctx context.Context, sink ProgressSink, res *Result) (*provider.RemoteSet, error) {
	remote := provider.NewRemoteSet(m.logger)

	for _, repo := range m.repos {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sync cancelled: %w", err)
		}

		p, ok := m.registry.Get(repo.Kind)
		if !ok {
			m.logger.Warn("no provider for repository kind, skipping", "repo", repo.String())
			continue
		}

		res.ReposQueried++
		assets, err := p.FetchAssets(ctx, repo)
		if err != nil {
			res.ReposFailed++
			msg := "Error updating: " + err.Error()
			if provider.IsRateLimited(err) {
				res.RateLimited = true
				msg = rateLimitMessage(err)
				m.logger.Warn("repository rate limited", "repo", repo.Locator, "error", err)
			} else {
				m.logger.Error("failed to fetch repository", "repo", repo.Locator, "error", err)
			}
			res.Errors = append(res.Errors, msg)
			sink.OnError(msg)
			continue
		}

		m.logger.Debug("fetched repository", "repo", repo.Locator, "assets", len(assets))
		remote.Add(repo, m.withoutReserved(repo, assets))
	}

	return remote, nil
}

// withoutReserved drops assets whose names collide with the manifest files
// kept in the cache directory. Downloading one would overwrite the
// manifest, and the next save would overwrite the asset.
func (m *SyncManager) withoutReserved(repo provider.RepositoryRef, assets []provider.AssetMetadata) []provider.AssetMetadata {
	kept := make([]provider.AssetMetadata, 0, len(assets))
	for _, a := range assets {
		if m.manifests.IsReserved(a.Name) {
			m.logger.Warn("ignoring asset named like the cache manifest", "repo", repo.Locator, "asset", a.Name)
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

func rateLimitMessage(err error) string {
	var fe *provider.FetchError
	if errors.As(err, &fe) && fe.URL != "" {
		return fmt.Sprintf("Error updating: Request Limit Reached - try again later. (%s)", fe.URL)
	}
	return "Error updating: Request Limit Reached - try again later."
}

// downloadAll fetches assets one at a time. Cancellation is honored
// between assets; an asset already in flight runs to completion. It
// returns the context error if the loop stopped early.
func (m *SyncManager) downloadAll(ctx context.Context, todo []reconcile.Download, mf *manifest.Manifest, sink ProgressSink, res *Result) error {
	for i, d := range todo {
		if err := ctx.Err(); err != nil {
			m.logger.Info("stopping downloads", "remaining", len(todo)-i, "error", err)
			return err
		}

		a := d.Asset
		m.logger.Info("downloading", "asset", a.Name, "repo", a.Repo.Locator, "reason", d.Reason)
		sink.OnDownloadStart(a.Name)

		out := m.client.Download(context.WithoutCancel(ctx), download.Request{
			Name:    a.Name,
			URL:     a.DownloadURL,
			Headers: m.downloadHeaders(a),
		}, m.cache, sink.OnDownloadProgress)

		if out.Success {
			res.BytesTransferred += out.BytesWritten
			superseded, err := reconcile.Publish(m.cache, mf, a)
			if err != nil {
				out = download.Outcome{Name: a.Name, ErrKind: download.ErrKindIO, Err: err}
				res.Failed++
				msg := fmt.Sprintf("Error updating %s: %v", a.Name, err)
				res.Errors = append(res.Errors, msg)
				sink.OnError(msg)
				m.recordFailure(a, out)
				sink.OnDownloadFinish(a.Name)
				continue
			}
			if superseded != "" {
				m.logger.Info("removed superseded spelling", "asset", a.Name, "old", superseded)
				res.Evicted++
			}
			res.Downloaded++
			m.resolveFailure(a.Name)
		} else {
			res.Failed++
			msg := fmt.Sprintf("Error downloading %s: %v", a.Name, out.Err)
			res.Errors = append(res.Errors, msg)
			sink.OnError(msg)
			m.recordFailure(a, out)
		}
		sink.OnDownloadFinish(a.Name)
	}
	return nil
}

func (m *SyncManager) downloadHeaders(a provider.AssetMetadata) http.Header {
	p, ok := m.registry.Get(a.Repo.Kind)
	if !ok {
		return nil
	}
	if auth, ok := p.(provider.DownloadAuthorizer); ok {
		return auth.DownloadHeaders(a)
	}
	return nil
}

// ============================================================================
// History bookkeeping (best effort)
// ============================================================================

func (m *SyncManager) beginRun(start time.Time, forced bool) *store.SyncRun {
	if m.history == nil {
		return nil
	}
	run := &store.SyncRun{
		StartTime: start,
		Forced:    forced,
		Status:    store.StatusRunning,
	}
	if err := m.history.CreateSyncRun(run); err != nil {
		m.logger.Warn("failed to record sync run", "error", err)
		return nil
	}
	return run
}

func (m *SyncManager) finishRun(run *store.SyncRun, res *Result, status, errMsg string) {
	if run == nil {
		return
	}
	run.EndTime = res.EndTime
	run.ReposQueried = res.ReposQueried
	run.ReposFailed = res.ReposFailed
	run.Downloaded = res.Downloaded
	run.Evicted = res.Evicted
	run.UpToDate = res.UpToDate
	run.Failed = res.Failed
	run.BytesTransferred = res.BytesTransferred
	run.Changed = res.Changed
	run.Status = status
	run.ErrorMessage = errMsg
	if err := m.history.UpdateSyncRun(run); err != nil {
		m.logger.Warn("failed to update sync run", "id", run.ID, "error", err)
	}
}

func (m *SyncManager) recordFailure(a provider.AssetMetadata, out download.Outcome) {
	if m.history == nil {
		return
	}
	rec := &store.FailedAsset{
		Name:        a.Name,
		RepoLocator: a.Repo.Locator,
		URL:         a.DownloadURL,
		ErrKind:     string(out.ErrKind),
		LastFailure: m.now(),
	}
	if out.Err != nil {
		rec.Error = out.Err.Error()
	}
	if err := m.history.RecordFailedAsset(rec); err != nil {
		m.logger.Warn("failed to record failed asset", "asset", a.Name, "error", err)
	}
}

func (m *SyncManager) resolveFailure(name string) {
	if m.history == nil {
		return
	}
	n, err := m.history.ResolveFailedAsset(name)
	if err != nil {
		m.logger.Warn("failed to resolve failed asset", "asset", name, "error", err)
		return
	}
	if n > 0 {
		m.logger.Info("resolved previously failed asset", "asset", name)
	}
}
