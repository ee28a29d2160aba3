package mjpeg

import (
	"bytes"
	"testing"
)

func collect(maxFrame int) (*Scanner, *[][]byte) {
	var got [][]byte
	s := NewScanner(maxFrame, func(b []byte) { got = append(got, b) })
	return s, &got
}

func fakeJPEG(body string) []byte {
	return append(append([]byte{0xFF, 0xD8}, body...), 0xFF, 0xD9)
}

func TestScannerSplitsConcatenatedFrames(t *testing.T) {
	s, got := collect(0)
	stream := append(append([]byte("noise"), fakeJPEG("one")...), fakeJPEG("two")...)
	s.Write(stream)

	if len(*got) != 2 {
		t.Fatalf("got %d frames, want 2", len(*got))
	}
	if !bytes.Equal((*got)[0], fakeJPEG("one")) || !bytes.Equal((*got)[1], fakeJPEG("two")) {
		t.Errorf("frames = %q", *got)
	}
	if s.Skipped() != 5 {
		t.Errorf("skipped = %d, want 5", s.Skipped())
	}
}

func TestScannerByteAtATime(t *testing.T) {
	s, got := collect(0)
	stream := bytes.Repeat(fakeJPEG("abc\xff\x00def"), 3)
	for i := range stream {
		s.Write(stream[i : i+1])
	}
	if len(*got) != 3 {
		t.Fatalf("got %d frames, want 3", len(*got))
	}
	for _, f := range *got {
		if !bytes.Equal(f, fakeJPEG("abc\xff\x00def")) {
			t.Errorf("frame = %q", f)
		}
	}
}

func TestScannerMarkersAcrossWrites(t *testing.T) {
	tests := []struct {
		name  string
		parts [][]byte
	}{
		{"soi split", [][]byte{{'x', 0xFF}, {0xD8, 'a', 0xFF, 0xD9}}},
		{"eoi split", [][]byte{{0xFF, 0xD8, 'a', 0xFF}, {0xD9}}},
		{"both split", [][]byte{{0xFF}, {0xD8, 'a', 'b', 0xFF}, {0xD9, 'z'}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, got := collect(0)
			for _, p := range tt.parts {
				s.Write(p)
			}
			if len(*got) != 1 {
				t.Fatalf("got %d frames, want 1", len(*got))
			}
			if s.InFrame() {
				t.Error("scanner still in frame after EOI")
			}
		})
	}
}

func TestScannerPartialFrameIsHeld(t *testing.T) {
	s, got := collect(0)
	s.Write([]byte{0xFF, 0xD8, 1, 2, 3})
	if len(*got) != 0 || !s.InFrame() {
		t.Fatalf("partial frame emitted or state wrong: %d frames, inFrame=%v", len(*got), s.InFrame())
	}
	s.Reset()
	s.Write([]byte{0xFF, 0xD9})
	if len(*got) != 0 {
		t.Error("EOI after Reset produced a frame")
	}
}

func TestScannerOversizeFrameDiscarded(t *testing.T) {
	s, got := collect(16)
	big := fakeJPEG(string(bytes.Repeat([]byte{'x'}, 64)))
	s.Write(big)
	s.Write(fakeJPEG("ok"))

	if len(*got) != 1 || !bytes.Equal((*got)[0], fakeJPEG("ok")) {
		t.Fatalf("frames = %q, want only the small one", *got)
	}
	if s.Oversize() != 1 {
		t.Errorf("oversize = %d, want 1", s.Oversize())
	}
}

func TestScannerOversizeAcrossWrites(t *testing.T) {
	s, got := collect(16)
	s.Write([]byte{0xFF, 0xD8})
	for i := 0; i < 4; i++ {
		s.Write(bytes.Repeat([]byte{'y'}, 8))
	}
	if s.InFrame() {
		t.Error("oversize frame should return scanner to seeking")
	}
	s.Write([]byte{0xFF, 0xD9})
	s.Write(fakeJPEG("k"))
	if len(*got) != 1 {
		t.Errorf("got %d frames, want 1", len(*got))
	}
}

func TestScannerFramesAreNotReused(t *testing.T) {
	s, got := collect(0)
	s.Write(fakeJPEG("first"))
	s.Write(fakeJPEG("second"))
	if !bytes.Equal((*got)[0], fakeJPEG("first")) {
		t.Errorf("first frame overwritten: %q", (*got)[0])
	}
}
