package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/AlexxIT/go2rtc/pkg/rtsp"
)

// Track is one media section announced by the camera.
type Track struct {
	Kind   string   `json:"kind" doc:"Media kind" example:"video"`
	Codecs []string `json:"codecs" doc:"Codec names" example:"H264"`
}

// ProbeSlotHolder is the connection-slot holder name used while probing.
const ProbeSlotHolder = "probe"

// Probe connects to ep, runs DESCRIBE and disconnects. It reports the
// announced tracks without holding the connection open. A cancelled ctx
// returns immediately; the dial itself is bounded by the client timeout.
func (c *Client) Probe(ctx context.Context, ep Endpoint) ([]Track, error) {
	conn := rtsp.NewClient(ep.URL)
	conn.Timeout = int(c.cfg.Timeout / time.Second)

	type result struct {
		tracks []Track
		err    error
	}
	ch := make(chan result, 1)

	go func() {
		if err := conn.Dial(); err != nil {
			ch <- result{err: fmt.Errorf("dial %s: %w", ep.Redacted(), err)}
			return
		}
		if err := conn.Describe(); err != nil {
			_ = conn.Stop()
			ch <- result{err: fmt.Errorf("describe %s: %w", ep.Redacted(), err)}
			return
		}
		var tracks []Track
		for _, m := range conn.GetMedias() {
			t := Track{Kind: m.Kind}
			for _, codec := range m.Codecs {
				t.Codecs = append(t.Codecs, codec.Name)
			}
			tracks = append(tracks, t)
		}
		_ = conn.Stop()
		ch <- result{tracks: tracks}
	}()

	select {
	case r := <-ch:
		return r.tracks, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
