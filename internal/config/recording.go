package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Recording is the [recording] table. It is reloaded on file change and
// applies to the next recording that is started without explicit values.
type Recording struct {
	Folder          string `toml:"folder"`
	SegmentDuration string `toml:"segment_duration"`
	Overlap         string `toml:"overlap"`
	Preset          string `toml:"preset"`
}

// Durations parses SegmentDuration and Overlap. Empty strings yield zero.
func (r Recording) Durations() (segment, overlap time.Duration, err error) {
	if r.SegmentDuration != "" {
		if segment, err = time.ParseDuration(r.SegmentDuration); err != nil {
			return 0, 0, fmt.Errorf("segment_duration: %w", err)
		}
	}
	if r.Overlap != "" {
		if overlap, err = time.ParseDuration(r.Overlap); err != nil {
			return 0, 0, fmt.Errorf("overlap: %w", err)
		}
	}
	return segment, overlap, nil
}

// LoadRecording reads and validates the [recording] table from path.
func LoadRecording(path string) (Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Recording{}, err
	}
	var doc struct {
		Recording Recording `toml:"recording"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return Recording{}, fmt.Errorf("parse %s: %w", path, err)
	}

	seg, overlap, err := doc.Recording.Durations()
	if err != nil {
		return Recording{}, err
	}
	if seg < 0 || overlap < 0 {
		return Recording{}, errors.New("recording durations must not be negative")
	}
	return doc.Recording, nil
}
