package ffmpeg

import "strings"

// ParseLogLevel splits a line printed with -loglevel level+... into its
// level and message. Component prefixes such as "[rtsp @ 0x55d0]" are kept
// in the message; only the level bracket is removed. Lines without a
// recognised level are reported as info.
func ParseLogLevel(line string) (level, msg string) {
	if len(line) < 3 || line[0] != '[' {
		return "info", line
	}
	end := strings.Index(line, "] ")
	if end == -1 {
		return "info", line
	}
	if first := line[1:end]; isLogLevel(first) {
		return first, line[end+2:]
	}

	prefix, rest := line[:end+2], line[end+2:]
	if len(rest) > 2 && rest[0] == '[' {
		if next := strings.Index(rest, "] "); next != -1 && isLogLevel(rest[1:next]) {
			return rest[1:next], prefix + rest[next+2:]
		}
	}
	return "info", line
}

// ParseOutputLine is ParseLogLevel with progress blocks demoted to trace so
// they do not flood the log at info.
func ParseOutputLine(line string) (level, msg string) {
	if IsProgressLine(line) {
		return "trace", line
	}
	return ParseLogLevel(line)
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}
