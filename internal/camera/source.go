package camera

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/andresmejia3/fingercap/internal/utils" // Using the SafeCommand wrapper
)

// Source is a running MJPEG producer.
type Source interface {
	io.Reader
	// Close stops the producer and reports why it died, if it did so on
	// its own.
	Close() error
}

// Opener starts a Source for one camera input.
type Opener func(ctx context.Context, in utils.CameraInput) (Source, error)

// ffmpegSource is an ffmpeg child process writing MJPEG to its stdout.
type ffmpegSource struct {
	ctx    context.Context
	cmd    *utils.SafeCommand
	stdout io.ReadCloser
}

// OpenFFmpeg starts ffmpeg for in. The process is killed when ctx ends.
func OpenFFmpeg(ctx context.Context, in utils.CameraInput) (Source, error) {
	cmd := utils.NewCameraCmd(ctx, in)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed to start on %s: %w", in.Device, err)
	}

	return &ffmpegSource{ctx: ctx, cmd: cmd, stdout: stdout}, nil
}

func (s *ffmpegSource) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSource) Close() error {
	s.stdout.Close()
	err := s.cmd.Wait()
	if err == nil || s.ctx.Err() != nil {
		// Killed on purpose
		return nil
	}
	if s.cmd.Stderr.Len() > 0 {
		return fmt.Errorf("%w: %s", err, s.cmd.Stderr.String())
	}
	return err
}

// errStreamEnded is reported when a source reaches EOF without an error,
// e.g. a non-looping file input.
var errStreamEnded = errors.New("camera stream ended")
