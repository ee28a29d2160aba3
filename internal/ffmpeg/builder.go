package ffmpeg

import (
	"strconv"
	"time"
)

// QuitToken is written to ffmpeg's stdin to request a clean shutdown that
// finalizes the output file.
const QuitToken = "q"

// PreviewParams adds a second MJPEG output on stdout. MaxFrameSize bounds
// one JPEG on the reading side.
type PreviewParams struct {
	FPS          int
	Width        int
	Quality      int
	MaxFrameSize int
}

// DefaultPreviewQuality is the MJPEG -q:v used when none is configured.
const DefaultPreviewQuality = 7

// RecordParams describes one recording segment.
type RecordParams struct {
	Input    string
	Output   string
	Preset   Preset
	Duration time.Duration
	Options  []OptionType
	Preview  *PreviewParams
}

// CaptureParams describes a live preview feed with no file output.
type CaptureParams struct {
	Input   string
	FPS     int
	Width   int
	Quality int
	Options []OptionType
}

func base(loglevel string) []string {
	return []string{"-hide_banner", "-nostats", "-loglevel", "level+" + loglevel}
}

// BuildRecordArgs returns the ffmpeg arguments, without the binary, for a
// segment: video stream-copied, audio transcoded to AAC per preset,
// fragmented MP4 so a killed encoder still leaves a playable file, and
// progress blocks written to stderr.
func BuildRecordArgs(p RecordParams) []string {
	audio := p.Preset.Audio()

	args := base("info")
	args = append(args, "-progress", "pipe:2")
	args = append(args, InputArgs(p.Options)...)
	args = append(args, "-i", p.Input)

	args = append(args,
		"-map", "0:v", "-c:v", "copy",
		"-map", "0:a?", "-c:a", "aac",
		"-b:a", audio.Bitrate,
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-movflags", "+frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
	)
	args = append(args, durationCap(p.Duration)...)
	args = append(args, "-y", p.Output)

	// -t binds to the output that follows it, so the pipe needs its own cap
	// or ffmpeg keeps running after the file is done.
	if p.Preview != nil {
		q := p.Preview.Quality
		if q <= 0 {
			q = DefaultPreviewQuality
		}
		args = append(args, durationCap(p.Duration)...)
		args = append(args, previewOutput(p.Preview.FPS, p.Preview.Width, q)...)
	}
	return args
}

// BuildCaptureArgs returns arguments that decode the input and write a
// continuous MJPEG stream to stdout.
func BuildCaptureArgs(p CaptureParams) []string {
	args := base("warning")
	args = append(args, InputArgs(p.Options)...)
	args = append(args, "-i", p.Input, "-an")
	q := p.Quality
	if q <= 0 {
		q = 5
	}
	return append(args, previewOutput(p.FPS, p.Width, q)...)
}

func previewOutput(fps, width, quality int) []string {
	filter := ""
	if fps > 0 {
		filter = "fps=" + strconv.Itoa(fps)
	}
	if width > 0 {
		if filter != "" {
			filter += ","
		}
		filter += "scale=" + strconv.Itoa(width) + ":-2"
	}

	out := []string{"-map", "0:v"}
	if filter != "" {
		out = append(out, "-vf", filter)
	}
	return append(out,
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(quality),
		"-f", "image2pipe",
		"pipe:1",
	)
}

func durationCap(d time.Duration) []string {
	if d <= 0 {
		return nil
	}
	return []string{"-t", formatSeconds(d)}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
