package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

// WebhookLauncher opens sessions by posting {"url": ...} to endpoint, for an
// external agent that owns the client windows.
func WebhookLauncher(fetcher offline.Fetcher, endpoint string) Launcher {
	return LauncherFunc(func(ctx context.Context, url string) error {
		body, err := json.Marshal(map[string]string{"url": url})
		if err != nil {
			return fmt.Errorf("encode launch request: %w", err)
		}
		resp, err := fetcher.Fetch(ctx, offline.Request{
			Method: http.MethodPost,
			URL:    endpoint,
			Header: http.Header{"Content-Type": {"application/json"}},
			Body:   body,
		})
		if err != nil {
			return fmt.Errorf("launch webhook: %w", err)
		}
		if !resp.OK() {
			return fmt.Errorf("launch webhook: unexpected status %d", resp.StatusCode)
		}
		return nil
	})
}
