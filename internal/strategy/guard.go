package strategy

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

var (
	// ErrVideoRefused is returned when a write would put video into a tier.
	ErrVideoRefused = errors.New("video is never cached")
	// ErrNotCacheable is returned for responses that are neither 2xx nor opaque.
	ErrNotCacheable = errors.New("response not cacheable")
	// ErrBadStatus marks a network answer with an error status.
	ErrBadStatus = errors.New("network returned error status")
)

// Guard decides whether resp may be stored under url.
func Guard(url string, resp *offline.Response) error {
	if resp == nil {
		return fmt.Errorf("%w: nil response", ErrNotCacheable)
	}
	if offline.IsVideoURL(url) || offline.IsVideoURL(resp.URL) || offline.IsVideoContentType(resp.ContentType()) {
		return fmt.Errorf("%w: %s", ErrVideoRefused, url)
	}
	if !resp.Cacheable() {
		return fmt.Errorf("%w: status %d", ErrNotCacheable, resp.StatusCode)
	}
	return nil
}
