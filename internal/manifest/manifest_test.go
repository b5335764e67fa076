package manifest

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/BadgerOps/assetsync/internal/provider"
)

func newTestStore(t *testing.T) (*Store, billy.Filesystem) {
	t.Helper()
	fs := memfs.New()
	return NewStore(fs, DefaultFileName, slog.New(slog.NewTextHandler(io.Discard, nil))), fs
}

var iconRepo = provider.RepositoryRef{Kind: provider.KindGitHubReleases, Locator: "owner/icons/releases/latest"}

func TestLoadMissingFile(t *testing.T) {
	s, _ := newTestStore(t)

	m, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m == nil || m.Entries == nil {
		t.Fatal("expected empty manifest with initialized entries")
	}
	if len(m.Entries) != 0 || !m.LastCheckedAt.IsZero() {
		t.Errorf("expected fresh manifest, got %+v", m)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	s, fs := newTestStore(t)
	if err := util.WriteFile(fs, DefaultFileName, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m, err := s.Load()
	if err != nil {
		t.Fatalf("corrupt manifest must not be an error, got %v", err)
	}
	if len(m.Entries) != 0 {
		t.Errorf("expected empty entries, got %d", len(m.Entries))
	}
}

func TestLoadNullEntries(t *testing.T) {
	s, fs := newTestStore(t)
	if err := util.WriteFile(fs, DefaultFileName, []byte(`{"entries": null}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.Entries == nil {
		t.Fatal("expected non-nil entries map")
	}
}

func TestLoadDropsUnsafeNames(t *testing.T) {
	s, fs := newTestStore(t)
	content := `{"entries": {"../escape.zip": {"url": "x"}, "iconpack.zip": {"url": "y"}}}`
	if err := util.WriteFile(fs, DefaultFileName, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(m.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %v", m.Names())
	}
	if _, ok := m.Entries["iconpack.zip"]; !ok {
		t.Error("expected iconpack.zip to survive")
	}
}

func TestReservedNames(t *testing.T) {
	s := NewStore(memfs.New(), "state.json", nil)
	got := s.ReservedNames()
	if len(got) != 2 || got[0] != "state.json" || got[1] != "state.json.tmp" {
		t.Fatalf("ReservedNames() = %v", got)
	}
	for _, name := range []string{"state.json", "STATE.JSON", "state.json.tmp"} {
		if !s.IsReserved(name) {
			t.Errorf("IsReserved(%q) = false", name)
		}
	}
	if s.IsReserved(DefaultFileName) {
		t.Error("default name is not reserved when a custom name is configured")
	}
}

func TestLoadDropsReservedNames(t *testing.T) {
	s, fs := newTestStore(t)
	content := `{"entries": {"download_manifest.json": {"url": "x"}, "iconpack.zip": {"url": "y"}}}`
	if err := util.WriteFile(fs, DefaultFileName, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(m.Entries) != 1 {
		t.Fatalf("expected the manifest's own name to be dropped, got %v", m.Names())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, fs := newTestStore(t)

	m := New()
	m.LastCheckedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.Put(provider.AssetMetadata{
		Name:        "iconpack-v1.zip",
		Repo:        iconRepo,
		DownloadURL: "https://api.example/assets/1",
		UpdatedAt:   "2020-01-01T00:00:00Z",
		Tag:         "v1",
	})

	if err := s.Save(m); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := fs.Stat(DefaultFileName + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp manifest should not remain, stat err = %v", err)
	}

	raw, err := util.ReadFile(fs, DefaultFileName)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, want := range []string{`"entries"`, `"last_checked_at"`, `"repo_locator": "owner/icons/releases/latest"`, `"updated_at": "2020-01-01T00:00:00Z"`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("manifest file missing %s:\n%s", want, raw)
		}
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !loaded.LastCheckedAt.Equal(m.LastCheckedAt) {
		t.Errorf("LastCheckedAt = %v, want %v", loaded.LastCheckedAt, m.LastCheckedAt)
	}
	e, ok := loaded.Entries["iconpack-v1.zip"]
	if !ok {
		t.Fatal("entry missing after reload")
	}
	if e.Repo() != iconRepo || e.Tag != "v1" || e.URL != "https://api.example/assets/1" {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestSaveOverwrites(t *testing.T) {
	s, _ := newTestStore(t)

	m := New()
	m.Put(provider.AssetMetadata{Name: "a.zip", Repo: iconRepo, UpdatedAt: "1"})
	m.Put(provider.AssetMetadata{Name: "b.zip", Repo: iconRepo, UpdatedAt: "1"})
	if err := s.Save(m); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	delete(m.Entries, "a.zip")
	if err := s.Save(m); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if names := loaded.Names(); len(names) != 1 || names[0] != "b.zip" {
		t.Errorf("Names() = %v, want [b.zip]", names)
	}
}

func TestSaveOnDisk(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(osfs.New(dir), "", nil)

	m := New()
	m.Put(provider.AssetMetadata{Name: "iconpack.zip", Repo: iconRepo, UpdatedAt: "1"})
	if err := s.Save(m); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(dir + "/" + DefaultFileName); err != nil {
		t.Fatalf("manifest not written to disk: %v", err)
	}
}

func TestLookupAndPutIgnoreCase(t *testing.T) {
	m := New()
	m.Put(provider.AssetMetadata{Name: "IconPack.zip", Repo: iconRepo, UpdatedAt: "1"})

	key, e, ok := m.Lookup("iconpack.zip")
	if !ok || key != "IconPack.zip" || e.UpdatedAt != "1" {
		t.Fatalf("Lookup() = %q, %+v, %v", key, e, ok)
	}

	m.Put(provider.AssetMetadata{Name: "iconpack.zip", Repo: iconRepo, UpdatedAt: "2"})
	if len(m.Entries) != 1 {
		t.Fatalf("expected case variant to replace entry, got %v", m.Names())
	}
	if m.Entries["iconpack.zip"].UpdatedAt != "2" {
		t.Errorf("unexpected entry: %+v", m.Entries["iconpack.zip"])
	}
}

func TestEntryRepoDefaultsKind(t *testing.T) {
	e := Entry{RepoLocator: "o/r"}
	if e.Repo().Kind != provider.KindGitHubReleases {
		t.Errorf("Repo().Kind = %q", e.Repo().Kind)
	}
}
