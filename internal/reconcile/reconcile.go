package reconcile

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/BadgerOps/assetsync/internal/manifest"
	"github.com/BadgerOps/assetsync/internal/provider"
)

// Reason explains why an asset is scheduled for download.
type Reason string

const (
	ReasonNew          Reason = "new asset"
	ReasonUpdated      Reason = "updated upstream"
	ReasonMissingLocal Reason = "local file missing"
)

// Download is one asset to fetch.
type Download struct {
	Asset  provider.AssetMetadata
	Reason Reason
}

// Plan is the result of diffing remote state against the manifest.
type Plan struct {
	ToDownload []Download
	ToEvict    []string // manifest keys
	UpToDate   []string
}

// Empty reports whether the plan has nothing to do.
func (p *Plan) Empty() bool {
	return len(p.ToDownload) == 0 && len(p.ToEvict) == 0
}

// Diff compares the remote assets with the manifest. The cache filesystem
// is only consulted to check whether recorded files still exist.
//
// Entries absent from remote are evicted only when their source repository
// answered during this pass.
func Diff(remote *provider.RemoteSet, m *manifest.Manifest, cache billy.Filesystem) (*Plan, error) {
	plan := &Plan{}

	for _, asset := range remote.Assets() {
		key, entry, ok := m.Lookup(asset.Name)
		if !ok {
			plan.ToDownload = append(plan.ToDownload, Download{Asset: asset, Reason: ReasonNew})
			continue
		}
		if !strings.EqualFold(entry.UpdatedAt, asset.UpdatedAt) {
			plan.ToDownload = append(plan.ToDownload, Download{Asset: asset, Reason: ReasonUpdated})
			continue
		}
		exists, err := fileExists(cache, key)
		if err != nil {
			return nil, err
		}
		if !exists {
			plan.ToDownload = append(plan.ToDownload, Download{Asset: asset, Reason: ReasonMissingLocal})
			continue
		}
		plan.UpToDate = append(plan.UpToDate, key)
	}

	for name, entry := range m.Entries {
		if _, ok := remote.Lookup(name); ok {
			continue
		}
		if remote.Queried(entry.Repo()) {
			plan.ToEvict = append(plan.ToEvict, name)
		}
	}
	sort.Strings(plan.ToEvict)
	sort.Strings(plan.UpToDate)

	return plan, nil
}

func fileExists(fs billy.Filesystem, name string) (bool, error) {
	fi, err := fs.Stat(name)
	if err == nil {
		return !fi.IsDir(), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking cached file %s: %w", name, err)
}

// Evict deletes the cached file for name and drops its manifest entry.
// A file that is already gone is not an error.
func Evict(cache billy.Filesystem, m *manifest.Manifest, name string) error {
	if err := cache.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("evicting %s: %w", name, err)
	}
	delete(m.Entries, name)
	return nil
}

// Publish records a freshly downloaded asset in the manifest. When the
// manifest holds the asset under a different spelling, the file stored
// under that spelling is removed first and its name returned. If both
// spellings resolve to the same file, as on a case-insensitive
// filesystem, the file is kept. On error the manifest is left unchanged,
// so the next pass downloads the asset again and retries the removal.
func Publish(cache billy.Filesystem, m *manifest.Manifest, a provider.AssetMetadata) (string, error) {
	key, _, ok := m.Lookup(a.Name)
	if !ok || key == a.Name {
		m.Put(a)
		return "", nil
	}
	if err := removeSuperseded(cache, key, a.Name); err != nil {
		return "", err
	}
	m.Put(a)
	return key, nil
}

func removeSuperseded(cache billy.Filesystem, oldName, newName string) error {
	oldInfo, err := cache.Lstat(oldName)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking superseded file %s: %w", oldName, err)
	}
	newInfo, err := cache.Lstat(newName)
	if err != nil {
		return fmt.Errorf("checking published file %s: %w", newName, err)
	}
	if os.SameFile(oldInfo, newInfo) {
		return nil
	}
	if err := cache.Remove(oldName); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing superseded %s: %w", oldName, err)
	}
	return nil
}
