package provider

import (
	"errors"
	"fmt"
)

// ErrRateLimited is matched by fetch errors caused by an exhausted request quota.
var ErrRateLimited = errors.New("request quota exhausted")

// FetchError is returned by FetchAssets. A FetchError with RateLimited set
// matches ErrRateLimited; every other FetchError is a transport failure.
type FetchError struct {
	Repo        RepositoryRef
	URL         string
	StatusCode  int // 0 when no response was received
	RateLimited bool
	Err         error
}

func (e *FetchError) Error() string {
	switch {
	case e.RateLimited:
		return fmt.Sprintf("fetching %s: %v", e.Repo.Locator, ErrRateLimited)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetching %s: http status %d", e.Repo.Locator, e.StatusCode)
	default:
		return fmt.Sprintf("fetching %s: %v", e.Repo.Locator, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports rate-limited errors as ErrRateLimited.
func (e *FetchError) Is(target error) bool {
	return target == ErrRateLimited && e.RateLimited
}

// IsRateLimited reports whether err signals an exhausted request quota.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
