package provider

import (
	"log/slog"
	"sort"
	"strings"
)

// RemoteSet is the merged view of every repository successfully queried
// during one sync pass. Names are matched case-insensitively; when two
// repositories advertise the same name, the one added last wins.
type RemoteSet struct {
	assets  map[string]AssetMetadata
	queried map[RepositoryRef]bool
	logger  *slog.Logger
}

// NewRemoteSet creates an empty set.
func NewRemoteSet(logger *slog.Logger) *RemoteSet {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteSet{
		assets:  make(map[string]AssetMetadata),
		queried: make(map[RepositoryRef]bool),
		logger:  logger,
	}
}

func nameKey(name string) string {
	return strings.ToLower(name)
}

// Add records a successful query of repo and merges its assets.
func (s *RemoteSet) Add(repo RepositoryRef, assets []AssetMetadata) {
	s.queried[repo] = true
	for _, a := range assets {
		key := nameKey(a.Name)
		if prev, ok := s.assets[key]; ok && prev.Repo != a.Repo {
			s.logger.Warn("asset name advertised by multiple repositories, keeping the later one",
				"asset", a.Name, "previous_repo", prev.Repo.Locator, "repo", a.Repo.Locator)
		}
		s.assets[key] = a
	}
}

// Queried reports whether repo answered during this pass.
func (s *RemoteSet) Queried(repo RepositoryRef) bool {
	return s.queried[repo]
}

// Lookup finds an asset by name, ignoring case.
func (s *RemoteSet) Lookup(name string) (AssetMetadata, bool) {
	a, ok := s.assets[nameKey(name)]
	return a, ok
}

// Len returns the number of distinct assets.
func (s *RemoteSet) Len() int {
	return len(s.assets)
}

// Assets returns all assets sorted by name.
func (s *RemoteSet) Assets() []AssetMetadata {
	out := make([]AssetMetadata, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
