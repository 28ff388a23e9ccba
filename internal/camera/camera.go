// Package camera runs the ingestion loop: it pulls MJPEG frames from an
// ffmpeg process, publishes the raw frame for capture and an annotated copy
// for display.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"sync"
	"time"

	"github.com/andresmejia3/fingercap/internal/frame"
	"github.com/andresmejia3/fingercap/internal/metrics"
	"github.com/andresmejia3/fingercap/internal/overlay"
	"github.com/andresmejia3/fingercap/internal/utils"
	"github.com/sirupsen/logrus"
)

const (
	megabyte       = 1024 * 1024
	restartBackoff = time.Second
)

// Facing names a camera the way browsers do.
type Facing string

const (
	User        Facing = "user"
	Environment Facing = "environment"
)

// Config selects the devices behind each facing.
type Config struct {
	FrontDevice string
	BackDevice  string
	InputFormat string
	FrameRate   int
	Loop        bool
}

// Option configures a Camera.
type Option func(*Camera)

// WithOpener replaces ffmpeg as the frame source.
func WithOpener(o Opener) Option {
	return func(c *Camera) { c.open = o }
}

// WithMetrics records frame counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Camera) { c.metrics = m }
}

// WithInstruction sets the text drawn at the top of the display frame.
// fn is called once per frame from the ingestion goroutine.
func WithInstruction(fn func() string) Option {
	return func(c *Camera) { c.instruction = fn }
}

// Camera is the single writer of the raw and display stores.
type Camera struct {
	cfg         Config
	raw         *frame.Store
	display     *frame.Store
	open        Opener
	instruction func() string
	metrics     *metrics.Metrics
	log         logrus.FieldLogger
	backoff     time.Duration

	mu       sync.Mutex
	facing   Facing
	switched bool
	cancel   context.CancelFunc
	// gen counts switches. Frames tagged with an older gen are dropped.
	gen uint64
}

// New returns a Camera facing the user. raw receives frames as decoded;
// display receives them with the guide overlay.
func New(cfg Config, raw, display *frame.Store, log logrus.FieldLogger, opts ...Option) *Camera {
	c := &Camera{
		cfg:         cfg,
		raw:         raw,
		display:     display,
		open:        OpenFFmpeg,
		instruction: func() string { return "" },
		log:         log,
		backoff:     restartBackoff,
		facing:      User,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Facing returns the active facing.
func (c *Camera) Facing() Facing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.facing
}

// Switch toggles between the front and back camera. The stores are cleared
// so no frame from the previous camera can be captured.
func (c *Camera) Switch() Facing {
	c.mu.Lock()
	if c.facing == User {
		c.facing = Environment
	} else {
		c.facing = User
	}
	c.switched = true
	c.gen++
	if c.cancel != nil {
		c.cancel()
	}
	facing := c.facing
	c.raw.Reset()
	c.display.Reset()
	c.mu.Unlock()

	c.metrics.SetCameraReady(false)
	c.log.WithField("facing", facing).Info("camera switched")
	return facing
}

func (c *Camera) input(f Facing) utils.CameraInput {
	device := c.cfg.FrontDevice
	if f == Environment {
		device = c.cfg.BackDevice
	}
	return utils.CameraInput{
		Device:    device,
		Format:    c.cfg.InputFormat,
		FrameRate: c.cfg.FrameRate,
		Loop:      c.cfg.Loop,
	}
}

// Run streams frames until ctx ends. A source that dies is restarted after
// a short backoff; a switch restarts it immediately on the other device.
func (c *Camera) Run(ctx context.Context) error {
	for {
		streamCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.cancel = cancel
		c.switched = false
		facing, gen := c.facing, c.gen
		c.mu.Unlock()

		err := c.stream(streamCtx, gen, c.input(facing))
		cancel()

		if ctx.Err() != nil {
			return nil
		}

		c.mu.Lock()
		switched := c.switched
		c.mu.Unlock()
		if switched {
			continue
		}

		c.metrics.SetCameraReady(false)
		c.log.WithFields(logrus.Fields{"facing": facing, "device": c.input(facing).Device}).
			WithError(err).Warn("camera stream stopped, restarting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.backoff):
		}
	}
}

func (c *Camera) stream(ctx context.Context, gen uint64, in utils.CameraInput) error {
	src, err := c.open(ctx, in)
	if err != nil {
		return err
	}
	ingestErr := c.ingest(ctx, gen, src)
	if err := src.Close(); err != nil {
		return err
	}
	if ingestErr != nil {
		return ingestErr
	}
	return errStreamEnded
}

// Ingest reads an MJPEG byte stream until EOF and publishes every frame that
// decodes. Frames that do not decode are skipped.
func (c *Camera) Ingest(r io.Reader) error {
	return c.ingest(context.Background(), c.generation(), r)
}

func (c *Camera) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Camera) ingest(ctx context.Context, gen uint64, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	for scanner.Scan() {
		img, err := jpeg.Decode(bytes.NewReader(scanner.Bytes()))
		if err != nil {
			c.metrics.IncFramesDropped()
			c.log.WithError(err).Debug("skipping undecodable frame")
			continue
		}
		// A frame decoded after a switch belongs to the old camera
		if ctx.Err() != nil {
			return nil
		}
		c.publish(img, gen)
	}
	return scanner.Err()
}

// Publish stores img as the latest raw frame and its annotated copy as the
// latest display frame.
func (c *Camera) Publish(img image.Image) {
	c.publish(img, c.generation())
}

// publish drops img if a switch happened since gen was read. The check and
// the store writes share c.mu with Switch, so an old frame cannot land
// after the stores were cleared.
func (c *Camera) publish(img image.Image, gen uint64) bool {
	f := frame.FromImage(img)
	if f.Validate() != nil {
		c.metrics.IncFramesDropped()
		return false
	}
	shown := overlay.Annotate(f, c.instruction())

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.metrics.IncFramesDropped()
		return false
	}
	c.raw.Put(f)
	c.display.Put(shown)
	c.mu.Unlock()

	c.metrics.IncFrames()
	c.metrics.SetCameraReady(true)
	return true
}
