package safety

import (
	"fmt"
	"strings"
)

// reservedSuffixes are file name endings the cache uses for its own files.
var reservedSuffixes = []string{".tmp_download"}

// CheckAssetName validates that a remote-supplied asset name can be used
// as a flat file name inside the cache directory. Names with separators,
// parent references or the temp-file suffix are rejected, as are the
// reserved names of files the cache keeps beside its assets. Reserved
// names are compared ignoring case.
func CheckAssetName(name string, reserved ...string) error {
	if name == "" {
		return fmt.Errorf("asset name is empty")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("asset name %q resolves to a directory", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("asset name %q contains a path separator", name)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("asset name %q contains a NUL byte", name)
	}
	for _, r := range reserved {
		if r != "" && strings.EqualFold(name, r) {
			return fmt.Errorf("asset name %q is reserved by the cache", name)
		}
	}
	lower := strings.ToLower(name)
	for _, suffix := range reservedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return fmt.Errorf("asset name %q uses reserved suffix %s", name, suffix)
		}
	}
	return nil
}
