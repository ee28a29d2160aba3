package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/ptzrec/internal/camera"
	"github.com/smazurov/ptzrec/internal/events"
)

func TestSnapshotFilename(t *testing.T) {
	ts := time.Date(2026, 1, 27, 9, 5, 3, 0, time.UTC)
	if got := snapshotFilename(ts); got != "snapshot_20260127_090503.jpg" {
		t.Errorf("snapshotFilename = %q", got)
	}
}

func TestSaveSnapshot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shots")
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	now := time.Date(2026, 1, 27, 10, 0, 0, 0, time.UTC)

	path, n, err := saveSnapshot(context.Background(), func(context.Context) ([]byte, error) { return jpeg, nil }, dir, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(jpeg) || filepath.Base(path) != "snapshot_20260127_100000.jpg" {
		t.Errorf("path = %s, n = %d", path, n)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != string(jpeg) {
		t.Errorf("file contents = %x, err = %v", data, err)
	}
}

func TestSaveSnapshotFetchError(t *testing.T) {
	dir := t.TempDir()
	want := errors.New("camera unreachable")
	_, _, err := saveSnapshot(context.Background(), func(context.Context) ([]byte, error) { return nil, want }, dir, time.Now())
	if !errors.Is(err, want) {
		t.Errorf("err = %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("files written on failure: %d", len(entries))
	}
}

func TestFormatTracks(t *testing.T) {
	ep := camera.Endpoint{URL: "rtsp://admin:pw@10.0.0.2:554/stream1", Tier: camera.TierPrimary}
	out := formatTracks(ep, []camera.Track{
		{Kind: "video", Codecs: []string{"H264"}},
		{Kind: "audio", Codecs: []string{"MPEG4-GENERIC"}},
	})
	if strings.Contains(out, "pw@") {
		t.Errorf("password leaked: %s", out)
	}
	for _, want := range []string{"(primary)", "#0 video H264", "#1 audio MPEG4-GENERIC"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(formatTracks(ep, nil), "no tracks") {
		t.Error("empty track list not reported")
	}
}

func TestWaitForRecording(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		evs  []any
		want int
	}{
		{"error state", []any{
			events.SegmentStartedEvent{Segment: 1},
			events.RecordingStateChangedEvent{From: "recording", To: "error", Error: "restart budget exhausted"},
		}, 1},
		{"stopped", []any{
			events.RecordingWarningEvent{Kind: "stall"},
			events.RecordingStateChangedEvent{From: "stopping", To: "stopped"},
		}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan any, len(tt.evs))
			for _, ev := range tt.evs {
				ch <- ev
			}
			if got := waitForRecording(context.Background(), ch, logger); got != tt.want {
				t.Errorf("exit code = %d, want %d", got, tt.want)
			}
		})
	}

	t.Run("interrupted", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if got := waitForRecording(ctx, make(chan any), logger); got != 0 {
			t.Errorf("exit code = %d", got)
		}
	})
}
