package recorder

import (
	"fmt"
	"time"
)

// SegmentFileName is recording_YYYYMMDD_HHMMSS_segNNN.mp4, stamped with the
// segment's own start time.
func SegmentFileName(start time.Time, segment int) string {
	return fmt.Sprintf("recording_%s_seg%03d.mp4", start.Format("20060102_150405"), segment)
}
