package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

type stubProvider struct {
	kind Kind
}

func (s *stubProvider) Kind() Kind { return s.kind }

func (s *stubProvider) FetchAssets(ctx context.Context, repo RepositoryRef) ([]AssetMetadata, error) {
	return nil, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"github", KindGitHubReleases, false},
		{" GitHub ", KindGitHubReleases, false},
		{"gitlab", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get(KindGitHubReleases); ok {
		t.Fatal("expected empty registry")
	}

	r.Register(&stubProvider{kind: KindGitHubReleases})
	p, ok := r.Get(KindGitHubReleases)
	if !ok || p.Kind() != KindGitHubReleases {
		t.Fatalf("Get() = %v, %v", p, ok)
	}
	if kinds := r.Kinds(); len(kinds) != 1 || kinds[0] != KindGitHubReleases {
		t.Errorf("Kinds() = %v", kinds)
	}
}

func TestUniqueRefs(t *testing.T) {
	a := RepositoryRef{Kind: KindGitHubReleases, Locator: "o/a/releases/latest"}
	b := RepositoryRef{Kind: KindGitHubReleases, Locator: "o/b/releases/latest"}

	got := UniqueRefs([]RepositoryRef{a, b, a, b, a})
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("UniqueRefs() = %v, want [a b]", got)
	}
}

func TestFetchErrorRateLimited(t *testing.T) {
	repo := RepositoryRef{Kind: KindGitHubReleases, Locator: "o/r"}

	limited := &FetchError{Repo: repo, StatusCode: 403, RateLimited: true}
	if !IsRateLimited(limited) {
		t.Error("expected rate limited error to match ErrRateLimited")
	}
	wrapped := fmt.Errorf("pass: %w", limited)
	if !errors.Is(wrapped, ErrRateLimited) {
		t.Error("expected wrapped error to match ErrRateLimited")
	}

	transport := &FetchError{Repo: repo, Err: errors.New("connection refused")}
	if IsRateLimited(transport) {
		t.Error("transport error should not match ErrRateLimited")
	}
	var fe *FetchError
	if !errors.As(wrapped, &fe) || fe.StatusCode != 403 {
		t.Errorf("errors.As failed: %v", fe)
	}
}

func TestNameFilter(t *testing.T) {
	f, err := NewNameFilter([]string{"iconpack*.zip", "appnames*.txt", "appnames*.json"})
	if err != nil {
		t.Fatalf("NewNameFilter() error = %v", err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"iconpack-v1.zip", true},
		{"iconpack.zip", true},
		{"appnames_quest.txt", true},
		{"appnames.json", true},
		{"iconpack-v1.tar.gz", false},
		{"README.md", false},
		{"Iconpack-v1.zip", false},
		{"iconpack/../x.zip", false},
	}
	for _, tt := range tests {
		if got := f.Match(tt.name); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	if _, err := NewNameFilter([]string{"[unclosed"}); err == nil {
		t.Error("expected error for malformed pattern")
	}

	empty, _ := NewNameFilter(nil)
	if empty.Match("iconpack.zip") {
		t.Error("empty filter should accept nothing")
	}
}

func TestNameFilterReservedNames(t *testing.T) {
	f, err := NewNameFilter([]string{"*.json", "*.tmp"})
	if err != nil {
		t.Fatalf("NewNameFilter() error = %v", err)
	}
	if !f.Match("download_manifest.json") {
		t.Fatal("name should match before it is reserved")
	}

	f.Reserve("download_manifest.json", "download_manifest.json.tmp")
	for _, name := range []string{"download_manifest.json", "DOWNLOAD_MANIFEST.json", "download_manifest.json.tmp"} {
		if f.Match(name) {
			t.Errorf("Match(%q) = true for a reserved name", name)
		}
	}
	if !f.Match("appnames.json") {
		t.Error("unreserved names must still match")
	}
}

func TestRemoteSetLastWriteWins(t *testing.T) {
	a := RepositoryRef{Kind: KindGitHubReleases, Locator: "o/a"}
	b := RepositoryRef{Kind: KindGitHubReleases, Locator: "o/b"}
	c := RepositoryRef{Kind: KindGitHubReleases, Locator: "o/c"}

	s := NewRemoteSet(discardLogger())
	s.Add(a, []AssetMetadata{
		{Name: "iconpack.zip", Repo: a, UpdatedAt: "1"},
		{Name: "appnames.txt", Repo: a, UpdatedAt: "1"},
	})
	s.Add(b, []AssetMetadata{
		{Name: "ICONPACK.zip", Repo: b, UpdatedAt: "2"},
	})

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	got, ok := s.Lookup("iconpack.zip")
	if !ok || got.Repo != b || got.UpdatedAt != "2" {
		t.Errorf("Lookup(iconpack.zip) = %+v, want repo b", got)
	}
	if !s.Queried(a) || !s.Queried(b) {
		t.Error("expected a and b to be marked queried")
	}
	if s.Queried(c) {
		t.Error("c was never added")
	}

	assets := s.Assets()
	if len(assets) != 2 || assets[0].Name != "ICONPACK.zip" || assets[1].Name != "appnames.txt" {
		t.Errorf("Assets() = %+v", assets)
	}
}

func TestRemoteSetEmptyRepoIsQueried(t *testing.T) {
	a := RepositoryRef{Kind: KindGitHubReleases, Locator: "o/a"}
	s := NewRemoteSet(nil)
	s.Add(a, nil)
	if !s.Queried(a) {
		t.Error("a repository that answered with no assets still counts as queried")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}
