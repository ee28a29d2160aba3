package ffmpeg

import (
	"fmt"
	"strings"
)

// Preset selects the audio transcode quality. Video is always stream-copied.
type Preset string

const (
	PresetLow    Preset = "low"
	PresetMedium Preset = "medium"
	PresetHigh   Preset = "high"
)

// AudioParams are the AAC settings a preset maps to.
type AudioParams struct {
	Bitrate    string
	SampleRate int
	Channels   int
}

var presets = map[Preset]AudioParams{
	PresetLow:    {Bitrate: "64k", SampleRate: 22050, Channels: 1},
	PresetMedium: {Bitrate: "128k", SampleRate: 44100, Channels: 2},
	PresetHigh:   {Bitrate: "192k", SampleRate: 48000, Channels: 2},
}

// Audio returns the AAC parameters for p, falling back to medium.
func (p Preset) Audio() AudioParams {
	if a, ok := presets[p]; ok {
		return a
	}
	return presets[PresetMedium]
}

// ParsePreset accepts low, medium or high in any case. Empty means medium.
func ParsePreset(s string) (Preset, error) {
	switch p := Preset(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PresetMedium, nil
	case PresetLow, PresetMedium, PresetHigh:
		return p, nil
	default:
		return "", fmt.Errorf("unknown quality preset %q (want low, medium or high)", s)
	}
}
