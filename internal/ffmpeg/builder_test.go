package ffmpeg

import (
	"slices"
	"strings"
	"testing"
	"time"
)

func argValue(args []string, flag string) (string, bool) {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return "", false
	}
	return args[i+1], true
}

func TestBuildRecordArgs(t *testing.T) {
	args := BuildRecordArgs(RecordParams{
		Input:    "rtsp://admin:pw@10.0.0.5:554/stream1",
		Output:   "/srv/rec/recording_20260127_103000_seg001.mp4",
		Preset:   PresetHigh,
		Duration: 10*time.Minute + 2*time.Second,
		Options:  []OptionType{OptionTransportTCP},
	})

	want := []string{
		"-hide_banner", "-nostats", "-loglevel", "level+info",
		"-progress", "pipe:2",
		"-rtsp_transport", "tcp",
		"-i", "rtsp://admin:pw@10.0.0.5:554/stream1",
		"-map", "0:v", "-c:v", "copy",
		"-map", "0:a?", "-c:a", "aac",
		"-b:a", "192k", "-ar", "48000", "-ac", "2",
		"-movflags", "+frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		"-t", "602.000",
		"-y", "/srv/rec/recording_20260127_103000_seg001.mp4",
	}
	if !slices.Equal(args, want) {
		t.Errorf("args mismatch\n got: %s\nwant: %s", strings.Join(args, " "), strings.Join(want, " "))
	}
}

func TestBuildRecordArgsDeterministic(t *testing.T) {
	p := RecordParams{Input: "rtsp://cam/stream1", Output: "out.mp4", Preset: PresetLow, Duration: time.Minute}
	if a, b := BuildRecordArgs(p), BuildRecordArgs(p); !slices.Equal(a, b) {
		t.Error("same params produced different args")
	}
}

func TestBuildRecordArgsPresets(t *testing.T) {
	tests := []struct {
		preset   Preset
		bitrate  string
		rate     string
		channels string
	}{
		{PresetLow, "64k", "22050", "1"},
		{PresetMedium, "128k", "44100", "2"},
		{PresetHigh, "192k", "48000", "2"},
		{"", "128k", "44100", "2"},
	}
	for _, tt := range tests {
		t.Run(string(tt.preset), func(t *testing.T) {
			args := BuildRecordArgs(RecordParams{Input: "in", Output: "out", Preset: tt.preset})
			if v, _ := argValue(args, "-b:a"); v != tt.bitrate {
				t.Errorf("-b:a = %q, want %q", v, tt.bitrate)
			}
			if v, _ := argValue(args, "-ar"); v != tt.rate {
				t.Errorf("-ar = %q, want %q", v, tt.rate)
			}
			if v, _ := argValue(args, "-ac"); v != tt.channels {
				t.Errorf("-ac = %q, want %q", v, tt.channels)
			}
		})
	}
}

func TestBuildRecordArgsWithoutDuration(t *testing.T) {
	args := BuildRecordArgs(RecordParams{Input: "in", Output: "out"})
	if slices.Contains(args, "-t") {
		t.Errorf("unexpected -t in %v", args)
	}
}

func TestBuildRecordArgsPreview(t *testing.T) {
	args := BuildRecordArgs(RecordParams{
		Input:   "in",
		Output:  "out.mp4",
		Preview: &PreviewParams{FPS: 5, Width: 640},
	})

	outIdx := slices.Index(args, "out.mp4")
	pipeIdx := slices.Index(args, "pipe:1")
	if outIdx < 0 || pipeIdx < outIdx {
		t.Fatalf("preview output must follow the file output: %v", args)
	}
	tail := strings.Join(args[outIdx+1:], " ")
	if want := "-map 0:v -vf fps=5,scale=640:-2 -c:v mjpeg -q:v 7 -f image2pipe pipe:1"; tail != want {
		t.Errorf("preview args = %q, want %q", tail, want)
	}
}

func TestBuildRecordArgsPreviewCapped(t *testing.T) {
	args := BuildRecordArgs(RecordParams{
		Input:    "in",
		Output:   "out.mp4",
		Duration: 62 * time.Second,
		Preview:  &PreviewParams{FPS: 5, Quality: 3},
	})

	inIdx := slices.Index(args, "in")
	outIdx := slices.Index(args, "out.mp4")
	pipeIdx := slices.Index(args, "pipe:1")

	fileCap, ok := argValue(args[inIdx:outIdx], "-t")
	if !ok || fileCap != "62.000" {
		t.Errorf("file output cap = %q, want 62.000: %v", fileCap, args)
	}
	pipeCap, ok := argValue(args[outIdx:pipeIdx], "-t")
	if !ok || pipeCap != "62.000" {
		t.Errorf("preview output cap = %q, want 62.000: %v", pipeCap, args)
	}
	if q, _ := argValue(args[outIdx:], "-q:v"); q != "3" {
		t.Errorf("preview quality = %q, want 3", q)
	}
}

func TestBuildCaptureArgs(t *testing.T) {
	args := BuildCaptureArgs(CaptureParams{
		Input:   "rtsp://cam/stream2",
		FPS:     10,
		Options: []OptionType{OptionTransportUDP, OptionNoBuffer},
	})
	got := strings.Join(args, " ")
	want := "-hide_banner -nostats -loglevel level+warning -rtsp_transport udp -fflags +nobuffer -i rtsp://cam/stream2 -an -map 0:v -vf fps=10 -c:v mjpeg -q:v 5 -f image2pipe pipe:1"
	if got != want {
		t.Errorf("capture args\n got: %s\nwant: %s", got, want)
	}
}

func TestParsePreset(t *testing.T) {
	tests := []struct {
		in      string
		want    Preset
		wantErr bool
	}{
		{"low", PresetLow, false},
		{"HIGH", PresetHigh, false},
		{" medium ", PresetMedium, false},
		{"", PresetMedium, false},
		{"ultra", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePreset(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePreset(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParsePreset(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
