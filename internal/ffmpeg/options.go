package ffmpeg

import (
	"fmt"
	"strings"
)

// OptionType is a named input flag for the RTSP source.
type OptionType string

const (
	OptionTransportTCP       OptionType = "tcp"
	OptionTransportUDP       OptionType = "udp"
	OptionGeneratePTS        OptionType = "genpts"
	OptionIgnoreDTS          OptionType = "igndts"
	OptionDiscardCorrupt     OptionType = "discardcorrupt"
	OptionNoBuffer           OptionType = "nobuffer"
	OptionWallclockTimestamp OptionType = "wallclock_ts"
	OptionIgnoreErrors       OptionType = "ignore_err"
	OptionSocketTimeout      OptionType = "timeout"
)

// socketTimeoutMicros is the RTSP socket I/O timeout applied by
// OptionSocketTimeout, in microseconds as ffmpeg expects.
const socketTimeoutMicros = "5000000"

// ExclusiveGroup names a set of options of which at most one may be chosen.
type ExclusiveGroup string

const GroupTransport ExclusiveGroup = "transport"

// Option describes one input flag.
type Option struct {
	Key            OptionType     `json:"key"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	AppDefault     bool           `json:"app_default"`
	ExclusiveGroup ExclusiveGroup `json:"exclusive_group,omitempty"`
	ConflictsWith  []OptionType   `json:"conflicts_with,omitempty"`
}

// AllOptions lists every supported input flag.
var AllOptions = []Option{
	{
		Key:            OptionTransportTCP,
		Name:           "RTSP over TCP",
		Description:    "Interleave RTP in the RTSP TCP connection",
		AppDefault:     true,
		ExclusiveGroup: GroupTransport,
	},
	{
		Key:            OptionTransportUDP,
		Name:           "RTSP over UDP",
		Description:    "Receive RTP on UDP ports; lower latency, loses packets on busy links",
		ExclusiveGroup: GroupTransport,
	},
	{
		Key:           OptionGeneratePTS,
		Name:          "Generate PTS",
		Description:   "Generate missing presentation timestamps",
		ConflictsWith: []OptionType{OptionWallclockTimestamp},
	},
	{
		Key:         OptionIgnoreDTS,
		Name:        "Ignore DTS",
		Description: "Ignore decode timestamps from cameras that send broken ones",
	},
	{
		Key:         OptionDiscardCorrupt,
		Name:        "Discard Corrupt",
		Description: "Drop packets flagged corrupt instead of muxing them",
		AppDefault:  true,
	},
	{
		Key:         OptionNoBuffer,
		Name:        "No Input Buffer",
		Description: "Reduce latency by not buffering during initial probing",
	},
	{
		Key:           OptionWallclockTimestamp,
		Name:          "Wallclock Timestamps",
		Description:   "Stamp packets with arrival time",
		ConflictsWith: []OptionType{OptionGeneratePTS},
	},
	{
		Key:         OptionIgnoreErrors,
		Name:        "Ignore Decode Errors",
		Description: "Keep going when the bitstream has errors",
	},
	{
		Key:         OptionSocketTimeout,
		Name:        "Socket Timeout",
		Description: "Fail the input after 5s without data so the process exits instead of hanging",
		AppDefault:  true,
	},
}

func GetOptionByKey(key OptionType) *Option {
	for i := range AllOptions {
		if AllOptions[i].Key == key {
			return &AllOptions[i]
		}
	}
	return nil
}

// ParseOptions converts names to options, rejecting unknown ones.
func ParseOptions(names []string) ([]OptionType, error) {
	out := make([]OptionType, 0, len(names))
	for _, n := range names {
		key := OptionType(strings.TrimSpace(n))
		if key == "" {
			continue
		}
		if GetOptionByKey(key) == nil {
			return nil, fmt.Errorf("unknown ffmpeg option %q", n)
		}
		out = append(out, key)
	}
	return out, nil
}

// ValidateOptions rejects two options from one exclusive group and
// declared conflicts.
func ValidateOptions(selected []OptionType) error {
	groups := make(map[ExclusiveGroup]OptionType)
	set := make(map[OptionType]bool, len(selected))
	for _, key := range selected {
		set[key] = true
	}

	for _, key := range selected {
		opt := GetOptionByKey(key)
		if opt == nil {
			return fmt.Errorf("unknown ffmpeg option %q", key)
		}
		if opt.ExclusiveGroup != "" {
			if prev, ok := groups[opt.ExclusiveGroup]; ok && prev != key {
				return fmt.Errorf("options %q and %q are mutually exclusive (%s)", prev, key, opt.ExclusiveGroup)
			}
			groups[opt.ExclusiveGroup] = key
		}
		for _, c := range opt.ConflictsWith {
			if set[c] {
				return fmt.Errorf("option %q conflicts with %q", key, c)
			}
		}
	}
	return nil
}

func GetDefaultOptions() []OptionType {
	var out []OptionType
	for _, opt := range AllOptions {
		if opt.AppDefault {
			out = append(out, opt.Key)
		}
	}
	return out
}

// InputArgs renders options as arguments placed before -i. TCP transport is
// used unless UDP is selected.
func InputArgs(options []OptionType) []string {
	transport := "tcp"
	var args, fflags []string

	for _, opt := range options {
		switch opt {
		case OptionTransportUDP:
			transport = "udp"
		case OptionGeneratePTS:
			fflags = append(fflags, "+genpts")
		case OptionIgnoreDTS:
			fflags = append(fflags, "+igndts")
		case OptionDiscardCorrupt:
			fflags = append(fflags, "+discardcorrupt")
		case OptionNoBuffer:
			fflags = append(fflags, "+nobuffer")
		case OptionWallclockTimestamp:
			args = append(args, "-use_wallclock_as_timestamps", "1")
		case OptionIgnoreErrors:
			args = append(args, "-err_detect", "ignore_err")
		case OptionSocketTimeout:
			args = append(args, "-timeout", socketTimeoutMicros)
		}
	}

	out := []string{"-rtsp_transport", transport}
	out = append(out, args...)
	if len(fflags) > 0 {
		out = append(out, "-fflags", strings.Join(fflags, ""))
	}
	return out
}
