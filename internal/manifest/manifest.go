package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/BadgerOps/assetsync/internal/provider"
	"github.com/BadgerOps/assetsync/internal/safety"
)

const (
	DefaultFileName = "download_manifest.json"
	formatVersion   = 1
)

// Manifest is the durable record of what was last downloaded and when
// the remote repositories were last checked.
type Manifest struct {
	Version       int              `json:"version"`
	Entries       map[string]Entry `json:"entries"`
	LastCheckedAt time.Time        `json:"last_checked_at"`
}

// Entry records one asset whose file was fully written to the cache.
type Entry struct {
	RepoKind    string `json:"repo_kind"`
	RepoLocator string `json:"repo_locator"`
	URL         string `json:"url"`
	UpdatedAt   string `json:"updated_at"`
	Tag         string `json:"tag"`
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{
		Version: formatVersion,
		Entries: make(map[string]Entry),
	}
}

// EntryFor converts remote metadata into a manifest entry.
func EntryFor(a provider.AssetMetadata) Entry {
	return Entry{
		RepoKind:    string(a.Repo.Kind),
		RepoLocator: a.Repo.Locator,
		URL:         a.DownloadURL,
		UpdatedAt:   a.UpdatedAt,
		Tag:         a.Tag,
	}
}

// Repo returns the repository that supplied the entry. Entries written
// without a kind are attributed to GitHub Releases.
func (e Entry) Repo() provider.RepositoryRef {
	kind := provider.Kind(e.RepoKind)
	if kind == "" {
		kind = provider.KindGitHubReleases
	}
	return provider.RepositoryRef{Kind: kind, Locator: e.RepoLocator}
}

// Lookup finds an entry by name, falling back to a case-insensitive match.
// It returns the stored key alongside the entry.
func (m *Manifest) Lookup(name string) (string, Entry, bool) {
	if e, ok := m.Entries[name]; ok {
		return name, e, true
	}
	for k, e := range m.Entries {
		if strings.EqualFold(k, name) {
			return k, e, true
		}
	}
	return "", Entry{}, false
}

// Put records a completed download, replacing any entry whose name
// differs only by case. Removing the file stored under the old spelling
// is the caller's job.
func (m *Manifest) Put(a provider.AssetMetadata) {
	if key, _, ok := m.Lookup(a.Name); ok && key != a.Name {
		delete(m.Entries, key)
	}
	m.Entries[a.Name] = EntryFor(a)
}

// Names returns the entry names in sorted order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Entries))
	for k := range m.Entries {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Store loads and saves the manifest file inside the cache filesystem.
type Store struct {
	fs     billy.Filesystem
	name   string
	logger *slog.Logger
}

// NewStore creates a manifest store for the file name within fs.
func NewStore(fs billy.Filesystem, name string, logger *slog.Logger) *Store {
	if name == "" {
		name = DefaultFileName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{fs: fs, name: name, logger: logger}
}

func (s *Store) tmpName() string {
	return s.name + ".tmp"
}

// ReservedNames returns the file names the store writes inside the cache.
// No asset may be stored under them.
func (s *Store) ReservedNames() []string {
	return []string{s.name, s.tmpName()}
}

// IsReserved reports whether name collides, ignoring case, with a file
// the store writes.
func (s *Store) IsReserved(name string) bool {
	for _, r := range s.ReservedNames() {
		if strings.EqualFold(name, r) {
			return true
		}
	}
	return false
}

// Path returns the manifest location within the cache filesystem.
func (s *Store) Path() string {
	return s.fs.Join(s.fs.Root(), s.name)
}

// Load reads the manifest. A missing or unparseable file yields a fresh
// empty manifest and no error; only read failures are returned.
func (s *Store) Load() (*Manifest, error) {
	data, err := util.ReadFile(s.fs, s.name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("no manifest found, starting fresh", "path", s.Path())
			return New(), nil
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	m := New()
	if err := json.Unmarshal(data, m); err != nil {
		s.logger.Warn("manifest is corrupt, starting fresh", "path", s.Path(), "error", err)
		return New(), nil
	}
	if m.Entries == nil {
		m.Entries = make(map[string]Entry)
	}

	for name := range m.Entries {
		if err := safety.CheckAssetName(name, s.ReservedNames()...); err != nil {
			s.logger.Warn("dropping invalid manifest entry", "asset", name, "error", err)
			delete(m.Entries, name)
		}
	}

	s.logger.Debug("loaded manifest", "path", s.Path(), "entries", len(m.Entries), "last_checked_at", m.LastCheckedAt)
	return m, nil
}

// Save writes the whole manifest to a temp file and renames it into place.
func (s *Store) Save(m *Manifest) error {
	m.Version = formatVersion
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	tmp := s.tmpName()
	if err := util.WriteFile(s.fs, tmp, data, 0644); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := s.fs.Rename(tmp, s.name); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("publishing manifest: %w", err)
	}

	s.logger.Debug("saved manifest", "path", s.Path(), "entries", len(m.Entries))
	return nil
}
