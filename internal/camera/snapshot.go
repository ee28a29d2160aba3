package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/smazurov/ptzrec/internal/version"
)

// maxSnapshotSize bounds the body read from the camera.
const maxSnapshotSize = 16 << 20

// GetSnapshot fetches one still image from the camera's HTTP interface.
func (c *Client) GetSnapshot(ctx context.Context) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.snapshotURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch snapshot: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize+1))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) > maxSnapshotSize {
		return nil, fmt.Errorf("snapshot exceeds %d bytes", maxSnapshotSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty snapshot")
	}
	return data, nil
}
