package utils

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps an exec.Cmd with a buffer that collects its stderr, so
// the reason a camera process died is not lost.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand prepares a command bound to ctx. It does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a boxed error report on stderr, including whatever the
// child process wrote to its stderr.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 FINGERCAP ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nFFMPEG LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Camera Stream ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is a bufio.SplitFunc that yields one JPEG per token, delimited
// by the SOI and EOI markers. Bytes before the first SOI are discarded.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+2:], JpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}

// CameraInput describes what ffmpeg reads from.
type CameraInput struct {
	Device    string // /dev/video0, "0" for avfoundation, or a file path
	Format    string // ffmpeg demuxer (-f), empty to let ffmpeg probe
	FrameRate int
	Loop      bool // loop file inputs forever
}

// CameraArgs builds the ffmpeg argument list that turns in into an MJPEG
// stream on stdout.
func CameraArgs(in CameraInput) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if in.Format != "" {
		args = append(args, "-f", in.Format)
		if in.FrameRate > 0 {
			args = append(args, "-framerate", strconv.Itoa(in.FrameRate))
		}
	} else {
		// Files are paced at their native rate so they behave like a camera
		args = append(args, "-re")
		if in.Loop {
			args = append(args, "-stream_loop", "-1")
		}
	}
	args = append(args, "-i", in.Device)
	if in.Format == "" && in.FrameRate > 0 {
		args = append(args, "-r", strconv.Itoa(in.FrameRate))
	}
	// Using -vcodec mjpeg ensures we get JPEGs Go can split
	return append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "3", "-")
}

// NewCameraCmd creates the ffmpeg process for in, bound to ctx.
func NewCameraCmd(ctx context.Context, in CameraInput) *SafeCommand {
	return NewSafeCommand(ctx, "ffmpeg", CameraArgs(in)...)
}
