package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BadgerOps/assetsync/internal/provider"
	"github.com/BadgerOps/assetsync/internal/safety"
)

const (
	DefaultAPIURL = "https://api.github.com"

	maxListingBytes int64 = 8 * 1024 * 1024
	userAgent             = "assetsync/1.0"
)

// Options configures the GitHub Releases provider.
type Options struct {
	APIURL     string
	Token      string // empty for unauthenticated requests
	Filter     *provider.NameFilter
	Timeout    time.Duration // per listing request
	HTTPClient *http.Client  // overrides Timeout when set
}

// Provider lists release assets through the GitHub REST API.
// A locator is the path after /repos/, e.g. "owner/repo/releases/latest"
// or "owner/repo/releases/tags/v2".
type Provider struct {
	client *http.Client
	apiURL string
	token  string
	filter *provider.NameFilter
	logger *slog.Logger
}

// release mirrors the subset of the GitHub release object we consume.
type release struct {
	TagName string  `json:"tag_name"`
	Assets  []asset `json:"assets"`
}

type asset struct {
	Name               string `json:"name"`
	URL                string `json:"url"`
	BrowserDownloadURL string `json:"browser_download_url"`
	UpdatedAt          string `json:"updated_at"`
}

// New creates a GitHub Releases provider.
func New(opts Options, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if _, err := safety.ValidateHTTPURL(apiURL); err != nil {
		return nil, fmt.Errorf("github api url: %w", err)
	}
	if opts.Filter == nil {
		return nil, fmt.Errorf("github provider requires a name filter")
	}

	client := opts.HTTPClient
	if client == nil {
		client = safety.NewHTTPClient(opts.Timeout)
	}

	return &Provider{
		client: client,
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  opts.Token,
		filter: opts.Filter,
		logger: logger,
	}, nil
}

// TokenFromEnv returns the first non-empty value among the given
// environment variables, or "" when none is set.
func TokenFromEnv(vars []string) string {
	for _, env := range vars {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return ""
}

// Kind returns the repository kind served by this provider.
func (p *Provider) Kind() provider.Kind {
	return provider.KindGitHubReleases
}

// ListingURL returns the API endpoint queried for a locator.
func (p *Provider) ListingURL(locator string) string {
	return p.apiURL + "/repos/" + strings.Trim(locator, "/")
}

// FetchAssets queries the release listing for repo and returns the assets
// whose names pass the filter.
func (p *Provider) FetchAssets(ctx context.Context, repo provider.RepositoryRef) ([]provider.AssetMetadata, error) {
	url := p.ListingURL(repo.Locator)
	p.logger.Debug("reading assets", "repo", repo.Locator, "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &provider.FetchError{Repo: repo, URL: url, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &provider.FetchError{Repo: repo, URL: url, Err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fe := &provider.FetchError{
			Repo:        repo,
			URL:         url,
			StatusCode:  resp.StatusCode,
			RateLimited: quotaExhausted(resp),
			Err:         fmt.Errorf("unexpected status: %s", resp.Status),
		}
		if fe.RateLimited {
			p.logger.Warn("request limit reached", "repo", repo.Locator, "reset", resp.Header.Get("X-RateLimit-Reset"))
		}
		return nil, fe
	}

	data, err := safety.ReadAllWithLimit(resp.Body, maxListingBytes)
	if err != nil {
		return nil, &provider.FetchError{Repo: repo, URL: url, Err: fmt.Errorf("reading response body: %w", err)}
	}

	releases, err := decodeReleases(data)
	if err != nil {
		return nil, &provider.FetchError{Repo: repo, URL: url, Err: err}
	}

	assets := p.collect(repo, releases)
	p.logger.Debug("parsed release listing", "repo", repo.Locator, "releases", len(releases), "assets", len(assets))
	return assets, nil
}

// DownloadHeaders returns the headers needed to fetch an asset's binary
// content from the API asset URL.
func (p *Provider) DownloadHeaders(a provider.AssetMetadata) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/octet-stream")
	h.Set("User-Agent", userAgent)
	if p.token != "" {
		h.Set("Authorization", "Bearer "+p.token)
	}
	return h
}

// collect applies the name filter. Listings are newest first, so older
// releases are visited first and newer ones overwrite them.
func (p *Provider) collect(repo provider.RepositoryRef, releases []release) []provider.AssetMetadata {
	byName := make(map[string]int)
	var out []provider.AssetMetadata

	for i := len(releases) - 1; i >= 0; i-- {
		rel := releases[i]
		for _, a := range rel.Assets {
			if !p.filter.Match(a.Name) {
				continue
			}
			url := a.URL
			if url == "" {
				url = a.BrowserDownloadURL
			}
			if url == "" {
				p.logger.Warn("skipping asset without download url", "repo", repo.Locator, "asset", a.Name)
				continue
			}
			md := provider.AssetMetadata{
				Name:        a.Name,
				Repo:        repo,
				DownloadURL: url,
				UpdatedAt:   a.UpdatedAt,
				Tag:         rel.TagName,
			}
			if idx, ok := byName[strings.ToLower(a.Name)]; ok {
				out[idx] = md
				continue
			}
			byName[strings.ToLower(a.Name)] = len(out)
			out = append(out, md)
		}
	}
	return out
}

// decodeReleases accepts either a single release object (releases/latest,
// releases/tags/X) or a release list (releases).
func decodeReleases(data []byte) ([]release, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty release listing")
	}

	if trimmed[0] == '[' {
		var list []release
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decoding release list: %w", err)
		}
		return list, nil
	}

	var single release
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, fmt.Errorf("decoding release: %w", err)
	}
	return []release{single}, nil
}

// quotaExhausted reports GitHub's out-of-band rate limit signal.
func quotaExhausted(resp *http.Response) bool {
	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests
}
