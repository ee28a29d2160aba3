package ffmpeg

import (
	"strconv"
	"strings"
)

// progressKeys are the keys ffmpeg writes in a -progress block.
var progressKeys = map[string]bool{
	"frame": true, "fps": true, "bitrate": true, "total_size": true,
	"out_time_us": true, "out_time_ms": true, "out_time": true,
	"dup_frames": true, "drop_frames": true, "speed": true, "progress": true,
}

// IsProgressLine reports whether line is a key=value line from -progress.
func IsProgressLine(line string) bool {
	key, _, ok := strings.Cut(line, "=")
	if !ok {
		return false
	}
	if strings.HasPrefix(key, "stream_") {
		return true
	}
	return progressKeys[key]
}

// Progress is one completed -progress block.
type Progress struct {
	Frame     int64
	FPS       float64
	Bitrate   string
	TotalSize int64
	Speed     float64
	Dropped   int64
	Dup       int64
	End       bool
}

// ProgressParser accumulates key=value lines until the terminating
// progress=continue|end line.
type ProgressParser struct {
	fields map[string]string
}

func NewProgressParser() *ProgressParser {
	return &ProgressParser{fields: make(map[string]string)}
}

// Feed consumes one line and returns a Progress when it completed a block.
func (pp *ProgressParser) Feed(line string) (Progress, bool) {
	key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return Progress{}, false
	}
	key, val = strings.TrimSpace(key), strings.TrimSpace(val)
	if key != "progress" {
		pp.fields[key] = val
		return Progress{}, false
	}

	f := pp.fields
	pp.fields = make(map[string]string)

	p := Progress{Bitrate: f["bitrate"], End: val == "end"}
	p.Frame, _ = strconv.ParseInt(f["frame"], 10, 64)
	p.FPS, _ = strconv.ParseFloat(f["fps"], 64)
	p.TotalSize, _ = strconv.ParseInt(f["total_size"], 10, 64)
	p.Dropped, _ = strconv.ParseInt(f["drop_frames"], 10, 64)
	p.Dup, _ = strconv.ParseInt(f["dup_frames"], 10, 64)
	p.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(f["speed"], "x"), 64)
	return p, true
}
