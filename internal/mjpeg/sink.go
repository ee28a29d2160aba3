package mjpeg

import (
	"bytes"
	"errors"
	"image/jpeg"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/smazurov/ptzrec/internal/frames"
)

const readChunk = 32 << 10

// Publisher receives decoded frames. *frames.Hub satisfies it.
type Publisher interface {
	Publish(*frames.Frame)
}

// Sink reads an MJPEG stream, decodes every complete JPEG and publishes it.
// Frames that fail to decode are logged and dropped.
type Sink struct {
	pub     Publisher
	logger  *slog.Logger
	scanner *Scanner

	decoded  atomic.Uint64
	failed   atomic.Uint64
	lastSeen atomic.Int64
}

func NewSink(pub Publisher, logger *slog.Logger, maxFrame int) *Sink {
	s := &Sink{pub: pub, logger: logger}
	s.scanner = NewScanner(maxFrame, s.handle)
	return s
}

// Run consumes r until EOF or a read error. EOF returns nil.
func (s *Sink) Run(r io.Reader) error {
	buf := make([]byte, readChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = s.scanner.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *Sink) handle(data []byte) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		n := s.failed.Add(1)
		// Decode failures come in bursts when the link is lossy.
		if n == 1 || n%100 == 0 {
			s.logger.Warn("Dropping undecodable preview frame", "bytes", len(data), "failures", n, "error", err)
		}
		return
	}

	b := img.Bounds()
	now := time.Now()
	s.lastSeen.Store(now.UnixNano())
	s.decoded.Add(1)
	s.pub.Publish(&frames.Frame{
		Timestamp: now,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Image:     img,
		JPEG:      data,
	})
}

// Decoded counts frames published.
func (s *Sink) Decoded() uint64 { return s.decoded.Load() }

// Failed counts frames dropped because they did not decode.
func (s *Sink) Failed() uint64 { return s.failed.Load() }

// Oversize counts frames dropped by the size limit.
func (s *Sink) Oversize() uint64 { return s.scanner.Oversize() }

// LastFrame is when the last frame was published, zero if none.
func (s *Sink) LastFrame() time.Time {
	ns := s.lastSeen.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
