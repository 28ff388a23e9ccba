package utils

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9
	first := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}
	second := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}

	stream := []byte{0x00, 0x00}
	stream = append(stream, first...)
	stream = append(stream, second...)
	stream = append(stream, 0x00, 0x00)

	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanner failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 tokens, got %d", len(got))
	}
	if !bytes.Equal(got[0], first) || !bytes.Equal(got[1], second) {
		t.Errorf("Unexpected tokens %X", got)
	}
}

func TestSplitJpegTruncated(t *testing.T) {
	// A frame cut off by the process dying must not come out as a token
	stream := []byte{0xFF, 0xD8, 0x01, 0x02}
	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(SplitJpeg)
	if scanner.Scan() {
		t.Errorf("Expected no token, got %X", scanner.Bytes())
	}
}

func TestSplitJpegBareMarker(t *testing.T) {
	// FF D8 FF D9 must not be read as an empty image whose EOI overlaps SOI
	stream := []byte{0xFF, 0xD8, 0xD9, 0x00, 0xFF, 0xD9}
	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(SplitJpeg)
	if !scanner.Scan() || !bytes.Equal(scanner.Bytes(), stream) {
		t.Errorf("Expected the whole stream as one token, got %X", scanner.Bytes())
	}
}

func TestCameraArgs(t *testing.T) {
	tests := []struct {
		name string
		in   CameraInput
		want string
	}{
		{
			"V4L2 device",
			CameraInput{Device: "/dev/video0", Format: "v4l2", FrameRate: 30},
			"-hide_banner -loglevel error -f v4l2 -framerate 30 -i /dev/video0 -f image2pipe -vcodec mjpeg -q:v 3 -",
		},
		{
			"Looping file",
			CameraInput{Device: "hand.mp4", Loop: true},
			"-hide_banner -loglevel error -re -stream_loop -1 -i hand.mp4 -f image2pipe -vcodec mjpeg -q:v 3 -",
		},
		{
			"File with rate",
			CameraInput{Device: "hand.mp4", FrameRate: 15},
			"-hide_banner -loglevel error -re -i hand.mp4 -r 15 -f image2pipe -vcodec mjpeg -q:v 3 -",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strings.Join(CameraArgs(tt.in), " "); got != tt.want {
				t.Errorf("CameraArgs() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestNewCameraCmd(t *testing.T) {
	cmd := NewCameraCmd(context.Background(), CameraInput{Device: "/dev/video1", Format: "v4l2"})
	if cmd.Stderr == nil || cmd.Cmd.Stderr != cmd.Stderr {
		t.Error("stderr is not captured")
	}
	if cmd.Args[0] != "ffmpeg" {
		t.Errorf("unexpected program %q", cmd.Args[0])
	}
}
