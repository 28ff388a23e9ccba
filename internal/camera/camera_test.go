package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/fingercap/internal/frame"
	"github.com/andresmejia3/fingercap/internal/logger"
	"github.com/andresmejia3/fingercap/internal/utils"
)

func encodeJPEG(t *testing.T, w, h int, v uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func near(c color.Color, want uint8) bool {
	r, _, _, _ := c.RGBA()
	d := int(r>>8) - int(want)
	return d >= -3 && d <= 3
}

func newTestCamera(opts ...Option) (*Camera, *frame.Store, *frame.Store) {
	raw, display := frame.NewStore(), frame.NewStore()
	cfg := Config{FrontDevice: "/dev/video0", BackDevice: "/dev/video2", InputFormat: "v4l2"}
	return New(cfg, raw, display, logger.Discard(), opts...), raw, display
}

func TestIngestPublishesBothStores(t *testing.T) {
	cam, raw, display := newTestCamera(WithInstruction(func() string { return "Place L1 - Center" }))

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x01}) // noise before the first frame
	stream.Write(encodeJPEG(t, 640, 480, 200))
	stream.Write([]byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}) // undecodable
	stream.Write(encodeJPEG(t, 320, 240, 200))

	if err := cam.Ingest(&stream); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if got := raw.Stats().Puts; got != 2 {
		t.Errorf("expected 2 raw frames, got %d", got)
	}

	f, ok := raw.Latest()
	if !ok {
		t.Fatal("raw store is empty")
	}
	if f.Width != 320 || f.Height != 240 {
		t.Errorf("raw frame is %dx%d, want the last one (320x240)", f.Width, f.Height)
	}
	if !near(f.At(2, 230), 200) {
		t.Errorf("raw frame was altered: %v", f.At(2, 230))
	}

	d, ok := display.Latest()
	if !ok {
		t.Fatal("display store is empty")
	}
	// Outside the guide box the display copy is dimmed to 70%
	if !near(d.At(2, 230), 140) {
		t.Errorf("display frame not dimmed: %v", d.At(2, 230))
	}
}

// blockingSource yields data once and then blocks until its context ends,
// the way a live camera does.
type blockingSource struct {
	ctx  context.Context
	data *bytes.Reader
}

func (s *blockingSource) Read(p []byte) (int, error) {
	if s.data.Len() > 0 {
		return s.data.Read(p)
	}
	<-s.ctx.Done()
	return 0, io.EOF
}

func (s *blockingSource) Close() error { return nil }

type recordingOpener struct {
	mu      sync.Mutex
	devices []string
	frame   []byte
}

func (o *recordingOpener) open(ctx context.Context, in utils.CameraInput) (Source, error) {
	o.mu.Lock()
	o.devices = append(o.devices, in.Device)
	o.mu.Unlock()
	return &blockingSource{ctx: ctx, data: bytes.NewReader(o.frame)}, nil
}

func (o *recordingOpener) seen() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.devices...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunSwitchesDevice(t *testing.T) {
	op := &recordingOpener{frame: encodeJPEG(t, 64, 48, 120)}
	cam, raw, _ := newTestCamera(WithOpener(op.open))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cam.Run(ctx) }()

	waitFor(t, "first frame", func() bool { return raw.Stats().HasFrame })

	if got := cam.Switch(); got != Environment {
		t.Errorf("Switch() = %s, want %s", got, Environment)
	}
	if cam.Facing() != Environment {
		t.Errorf("Facing() = %s after switch", cam.Facing())
	}

	waitFor(t, "back camera", func() bool {
		d := op.seen()
		return len(d) >= 2 && d[len(d)-1] == "/dev/video2"
	})
	waitFor(t, "frame from back camera", func() bool { return raw.Stats().HasFrame })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if d := op.seen(); d[0] != "/dev/video0" {
		t.Errorf("first device = %s, want the front camera", d[0])
	}
}

func TestSwitchClearsStores(t *testing.T) {
	cam, raw, display := newTestCamera()
	stream := bytes.NewReader(encodeJPEG(t, 64, 48, 90))
	if err := cam.Ingest(stream); err != nil {
		t.Fatal(err)
	}
	cam.Switch()
	if _, ok := raw.Latest(); ok {
		t.Error("raw store kept a frame from the previous camera")
	}
	if _, ok := display.Latest(); ok {
		t.Error("display store kept a frame from the previous camera")
	}
	if cam.Switch() != User {
		t.Error("second switch should return to the front camera")
	}
}

func TestFrameFromBeforeSwitchIsDropped(t *testing.T) {
	cam, raw, display := newTestCamera()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))

	// A frame decoded by the old stream reaches publish after the switch
	gen := cam.generation()
	cam.Switch()
	if cam.publish(img, gen) {
		t.Error("frame from the previous camera was published")
	}
	if _, ok := raw.Latest(); ok {
		t.Error("raw store holds a frame from the previous camera")
	}
	if _, ok := display.Latest(); ok {
		t.Error("display store holds a frame from the previous camera")
	}

	if !cam.publish(img, cam.generation()) {
		t.Error("frame from the current camera was dropped")
	}
	if _, ok := raw.Latest(); !ok {
		t.Error("raw store is empty after publishing a current frame")
	}
}

// endingSource is a file input that reaches EOF.
type endingSource struct{ io.Reader }

func (endingSource) Close() error { return nil }

func TestRunRestartsEndedStream(t *testing.T) {
	var mu sync.Mutex
	opens := 0
	jpg := encodeJPEG(t, 32, 32, 50)
	cam, _, _ := newTestCamera(WithOpener(func(ctx context.Context, in utils.CameraInput) (Source, error) {
		mu.Lock()
		opens++
		mu.Unlock()
		return endingSource{bytes.NewReader(jpg)}, nil
	}))
	cam.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cam.Run(ctx) }()

	waitFor(t, "restart", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return opens >= 3
	})
	cancel()
	<-done
}
