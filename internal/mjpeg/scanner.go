// Package mjpeg extracts JPEG images from a concatenated MJPEG byte stream,
// such as ffmpeg's image2pipe output, and decodes them into frames.
package mjpeg

import "bytes"

// DefaultMaxFrameSize bounds a single JPEG. A frame growing past it is
// discarded and scanning resumes at the next start marker.
const DefaultMaxFrameSize = 8 << 20

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

type scanState int

const (
	stateSeeking scanState = iota
	stateInFrame
)

// Scanner is an io.Writer that splits its input on SOI/EOI markers.
// Markers may straddle Write calls. Each complete image, markers included,
// is passed to the callback; the slice is not reused by the Scanner.
type Scanner struct {
	onFrame  func([]byte)
	maxFrame int

	state    scanState
	buf      []byte
	pendFF   bool
	oversize uint64
	skipped  uint64
}

func NewScanner(maxFrame int, onFrame func([]byte)) *Scanner {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &Scanner{onFrame: onFrame, maxFrame: maxFrame}
}

// Write never fails; it always consumes all of p.
func (s *Scanner) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		switch s.state {
		case stateSeeking:
			p = s.seek(p)
		case stateInFrame:
			p = s.fill(p)
		}
	}
	return n, nil
}

func (s *Scanner) seek(p []byte) []byte {
	if s.pendFF {
		s.pendFF = false
		if p[0] == 0xD8 {
			s.begin()
			return p[1:]
		}
	}
	i := bytes.Index(p, soi)
	if i < 0 {
		s.skipped += uint64(len(p))
		s.pendFF = p[len(p)-1] == 0xFF
		return nil
	}
	s.skipped += uint64(i)
	s.begin()
	return p[i+2:]
}

func (s *Scanner) begin() {
	s.state = stateInFrame
	s.buf = append(make([]byte, 0, 64<<10), soi...)
}

func (s *Scanner) fill(p []byte) []byte {
	if s.buf[len(s.buf)-1] == 0xFF && p[0] == 0xD9 {
		s.buf = append(s.buf, 0xD9)
		s.emit()
		return p[1:]
	}
	i := bytes.Index(p, eoi)
	if i < 0 {
		s.buf = append(s.buf, p...)
		s.checkSize()
		return nil
	}
	s.buf = append(s.buf, p[:i+2]...)
	if !s.checkSize() {
		return p[i+2:]
	}
	s.emit()
	return p[i+2:]
}

// checkSize drops the current frame if it exceeds the limit and reports
// whether the frame is still being collected.
func (s *Scanner) checkSize() bool {
	if len(s.buf) <= s.maxFrame {
		return true
	}
	s.oversize++
	s.buf = nil
	s.state = stateSeeking
	return false
}

func (s *Scanner) emit() {
	frame := s.buf
	s.buf = nil
	s.state = stateSeeking
	if s.onFrame != nil {
		s.onFrame(frame)
	}
}

// Reset drops any partial frame.
func (s *Scanner) Reset() {
	s.state = stateSeeking
	s.buf = nil
	s.pendFF = false
}

// InFrame reports whether a frame is partially collected.
func (s *Scanner) InFrame() bool { return s.state == stateInFrame }

// Oversize counts frames discarded for exceeding the size limit.
func (s *Scanner) Oversize() uint64 { return s.oversize }

// Skipped counts bytes seen outside any frame.
func (s *Scanner) Skipped() uint64 { return s.skipped }
