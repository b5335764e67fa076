package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind identifies a remote repository implementation
type Kind string

const (
	KindGitHubReleases Kind = "github"
)

// ParseKind normalizes a configured repository type.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindGitHubReleases:
		return KindGitHubReleases, nil
	default:
		return "", fmt.Errorf("unsupported repository kind %q", s)
	}
}

// RepositoryRef identifies a remote source of assets
type RepositoryRef struct {
	Kind    Kind
	Locator string
}

func (r RepositoryRef) String() string {
	return string(r.Kind) + ":" + r.Locator
}

// AssetMetadata describes one downloadable item advertised by a repository
type AssetMetadata struct {
	Name        string
	Repo        RepositoryRef
	DownloadURL string
	UpdatedAt   string // opaque freshness token
	Tag         string
}

// Provider lists the assets a remote repository currently advertises.
type Provider interface {
	// Kind returns the repository kind this provider serves
	Kind() Kind

	// FetchAssets returns the filtered set of assets published by repo.
	// Errors are *FetchError; quota exhaustion also matches ErrRateLimited.
	FetchAssets(ctx context.Context, repo RepositoryRef) ([]AssetMetadata, error)
}

// DownloadAuthorizer is an optional interface for providers whose asset
// URLs need extra request headers (credentials, content negotiation).
type DownloadAuthorizer interface {
	DownloadHeaders(asset AssetMetadata) http.Header
}

// Registry holds one provider per repository kind
type Registry struct {
	providers map[Kind]Provider
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[Kind]Provider),
	}
}

// Register adds a provider under its Kind(), replacing any previous one.
func (r *Registry) Register(p Provider) {
	r.providers[p.Kind()] = p
}

// Get returns the provider for a repository kind
func (r *Registry) Get(kind Kind) (Provider, bool) {
	p, ok := r.providers[kind]
	return p, ok
}

// Kinds returns the registered kinds in sorted order
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// UniqueRefs returns refs in configuration order with duplicates removed.
func UniqueRefs(refs []RepositoryRef) []RepositoryRef {
	seen := make(map[RepositoryRef]bool, len(refs))
	out := make([]RepositoryRef, 0, len(refs))
	for _, r := range refs {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
