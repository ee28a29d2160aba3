package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

type testOptions struct {
	Config string

	Folder   string   `toml:"recording.folder" env:"RECORDING_FOLDER"`
	Preview  bool     `toml:"preview.enabled" env:"PREVIEW_ENABLED"`
	Failures int      `toml:"session.failure_threshold" env:"SESSION_FAILURE_THRESHOLD"`
	FPS      float64  `toml:"preview.fps" env:"PREVIEW_FPS"`
	Keywords []string `toml:"health.keywords" env:"HEALTH_KEYWORDS"`
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleTOML = `
[recording]
folder = "/srv/rec"

[preview]
enabled = true
fps = 5

[session]
failure_threshold = 42

[health]
keywords = ["error", "timed out"]
`

func TestLoadConfigFromTOML(t *testing.T) {
	opts := &testOptions{Config: writeFile(t, "ptzrec.toml", sampleTOML)}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.Folder != "/srv/rec" {
		t.Errorf("Folder = %q", opts.Folder)
	}
	if !opts.Preview {
		t.Error("Preview = false, want true")
	}
	if opts.Failures != 42 {
		t.Errorf("Failures = %d, want 42", opts.Failures)
	}
	if opts.FPS != 5 {
		t.Errorf("FPS = %v, want 5", opts.FPS)
	}
	if want := []string{"error", "timed out"}; !reflect.DeepEqual(opts.Keywords, want) {
		t.Errorf("Keywords = %v, want %v", opts.Keywords, want)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	t.Setenv("PTZREC_RECORDING_FOLDER", "/mnt/usb")
	t.Setenv("PTZREC_SESSION_FAILURE_THRESHOLD", "7")
	t.Setenv("PTZREC_HEALTH_KEYWORDS", "refused, reset ")

	opts := &testOptions{Config: writeFile(t, "ptzrec.toml", sampleTOML)}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.Folder != "/mnt/usb" {
		t.Errorf("Folder = %q, want env value", opts.Folder)
	}
	if opts.Failures != 7 {
		t.Errorf("Failures = %d, want 7", opts.Failures)
	}
	if want := []string{"refused", "reset"}; !reflect.DeepEqual(opts.Keywords, want) {
		t.Errorf("Keywords = %v, want %v", opts.Keywords, want)
	}
}

func TestLoadConfigFlagsWin(t *testing.T) {
	t.Setenv("PTZREC_RECORDING_FOLDER", "/mnt/usb")

	opts := &testOptions{Config: writeFile(t, "ptzrec.toml", sampleTOML)}
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&opts.Folder, "folder", "", "")
	if err := cmd.Flags().Set("folder", "/from/flag"); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.Folder != "/from/flag" {
		t.Errorf("Folder = %q, want flag value", opts.Folder)
	}
	if opts.Failures != 42 {
		t.Errorf("Failures = %d, unflagged field should still load from file", opts.Failures)
	}
}

func TestLoadConfigMissingFileKeepsDefaults(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml"), Failures: 30}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.Failures != 30 {
		t.Errorf("Failures = %d, want default 30", opts.Failures)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Run("toml type", func(t *testing.T) {
		opts := &testOptions{Config: writeFile(t, "bad.toml", "[session]\nfailure_threshold = \"many\"\n")}
		if err := LoadConfig(opts, nil); err == nil {
			t.Error("expected error for string in integer field")
		}
	})
	t.Run("env parse", func(t *testing.T) {
		t.Setenv("PTZREC_PREVIEW_ENABLED", "maybe")
		if err := LoadConfig(&testOptions{}, nil); err == nil {
			t.Error("expected error for unparsable bool")
		}
	})
	t.Run("not a pointer", func(t *testing.T) {
		if err := LoadConfig(testOptions{}, nil); err == nil {
			t.Error("expected error for non-pointer options")
		}
	})
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Port":                    "port",
		"RecordingFolder":         "recording-folder",
		"SessionFailureThreshold": "session-failure-threshold",
		"CameraRTSPPort":          "camera-rtsp-port",
		"LoggingAPI":              "logging-api",
		"PreviewFPS":              "preview-fps",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeFile(t, "ptzrec.toml", `
[logging]
level = "debug"
format = "json"
recorder = "warn"

[logging.modules]
ffmpeg = "error"
`)
	cfg := LoadLoggingConfig(path)
	if cfg.Level != "debug" || cfg.Format != "json" {
		t.Errorf("level/format = %q/%q", cfg.Level, cfg.Format)
	}
	if cfg.Modules["recorder"] != "warn" || cfg.Modules["ffmpeg"] != "error" {
		t.Errorf("modules = %v", cfg.Modules)
	}

	if def := LoadLoggingConfig(""); def.Level != "info" || def.Format != "text" {
		t.Errorf("defaults = %+v", def)
	}
}

func TestLoadRecording(t *testing.T) {
	path := writeFile(t, "ptzrec.toml", `
[recording]
folder = "/srv/rec"
segment_duration = "10m"
overlap = "2s"
preset = "high"
`)
	rec, err := LoadRecording(path)
	if err != nil {
		t.Fatalf("LoadRecording: %v", err)
	}
	seg, overlap, err := rec.Durations()
	if err != nil {
		t.Fatal(err)
	}
	if seg != 10*time.Minute || overlap != 2*time.Second {
		t.Errorf("durations = %v/%v", seg, overlap)
	}
	if rec.Preset != "high" {
		t.Errorf("preset = %q", rec.Preset)
	}

	bad := writeFile(t, "bad.toml", "[recording]\nsegment_duration = \"soon\"\n")
	if _, err := LoadRecording(bad); err == nil {
		t.Error("expected error for unparsable duration")
	}
}

func TestLoadConfigPersistentFlagsWin(t *testing.T) {
	opts := &testOptions{Config: writeFile(t, "ptzrec.toml", sampleTOML)}
	root := &cobra.Command{Use: "root"}
	root.PersistentFlags().IntVar(&opts.Failures, "failures", 0, "")
	if err := root.PersistentFlags().Set("failures", "7"); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, root); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.Failures != 7 {
		t.Errorf("Failures = %d, want persistent flag value", opts.Failures)
	}
	if opts.Folder != "/srv/rec" {
		t.Errorf("Folder = %q", opts.Folder)
	}
}
