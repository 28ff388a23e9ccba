// Package session drives one subject through the fixed 30-slot capture
// sequence.
//
// A Controller has a single writer (the interaction loop) and is therefore
// not safe for concurrent use; frames reach it as copies from frame.Store.
package session

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"
	"time"

	"github.com/andresmejia3/fingercap/internal/frame"
	"github.com/andresmejia3/fingercap/internal/overlay"
	"github.com/andresmejia3/fingercap/internal/types"
	"github.com/google/uuid"
)

// State of the capture state machine.
type State int

const (
	AwaitingSubjectInfo State = iota
	InProgress
	Complete
)

func (s State) String() string {
	switch s {
	case AwaitingSubjectInfo:
		return "awaiting_subject_info"
	case InProgress:
		return "in_progress"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Encoder writes a cropped region in a lossless format.
type Encoder func(w io.Writer, img image.Image) error

// Option configures a Controller.
type Option func(*Controller)

// WithEncoder replaces the default PNG encoder.
func WithEncoder(enc Encoder) Option {
	return func(c *Controller) { c.encode = enc }
}

// Controller is the capture state machine for one subject at a time.
type Controller struct {
	subject   *types.Subject
	id        string
	startedAt time.Time
	next      int
	captures  []types.Capture
	encode    Encoder
}

// New returns a Controller awaiting subject info.
func New(opts ...Option) *Controller {
	c := &Controller{encode: png.Encode}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Begin records the subject and starts the sequence at the first slot.
// The subject can be corrected until the first capture is taken.
func (c *Controller) Begin(s types.Subject) error {
	s.Name = strings.TrimSpace(s.Name)
	s.Extra = strings.TrimSpace(s.Extra)
	if s.Name == "" {
		return ErrSubjectRequired
	}
	g, err := types.ParseGender(string(s.Gender))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubjectRequired, err)
	}
	s.Gender = g

	if c.next > 0 {
		return fmt.Errorf("%w: cannot change subject after %d captures", ErrInvalidState, c.next)
	}
	if c.subject == nil {
		c.id = uuid.NewString()
		c.startedAt = time.Now()
	}
	c.subject = &s
	return nil
}

// State reports where the session is in its lifecycle.
func (c *Controller) State() State {
	switch {
	case c.subject == nil:
		return AwaitingSubjectInfo
	case c.next >= types.SlotCount:
		return Complete
	default:
		return InProgress
	}
}

// ID is the identifier of the current session, empty before Begin.
func (c *Controller) ID() string { return c.id }

// StartedAt is when the current session began.
func (c *Controller) StartedAt() time.Time { return c.startedAt }

// Subject returns the current subject, if any.
func (c *Controller) Subject() (types.Subject, bool) {
	if c.subject == nil {
		return types.Subject{}, false
	}
	return *c.subject, true
}

// CurrentSlot returns the next slot to capture, or false once complete.
func (c *Controller) CurrentSlot() (types.Slot, bool) {
	if c.next >= types.SlotCount {
		return types.Slot{}, false
	}
	return types.CaptureOrder[c.next], true
}

// Instruction is the overlay text for the current slot, empty when there is
// nothing left to capture or no subject yet.
func (c *Controller) Instruction() string {
	if c.subject == nil {
		return ""
	}
	slot, ok := c.CurrentSlot()
	if !ok {
		return ""
	}
	return slot.Instruction()
}

// Progress returns the number of captures taken and the total.
func (c *Controller) Progress() (done, total int) {
	return c.next, types.SlotCount
}

// IsComplete reports whether all 30 slots have been captured.
func (c *Controller) IsComplete() bool {
	return c.next == types.SlotCount
}

// Capture crops the guide region out of latest, encodes it and records it
// under the current slot. latest is nil when the camera has not produced a
// frame. On any error the session is left unchanged.
func (c *Controller) Capture(latest *frame.Frame) (types.Slot, error) {
	if c.State() != InProgress {
		return types.Slot{}, fmt.Errorf("%w: capture while %s", ErrInvalidState, c.State())
	}
	if latest == nil {
		return types.Slot{}, ErrCameraNotReady
	}
	if err := latest.Validate(); err != nil {
		return types.Slot{}, err
	}

	// Guide is recomputed from this frame; the one on screen may have had a
	// different resolution
	region, err := latest.Crop(overlay.Guide(latest.Width, latest.Height))
	if err != nil {
		return types.Slot{}, err
	}

	var buf bytes.Buffer
	if err := c.encode(&buf, region.ToNRGBA()); err != nil {
		return types.Slot{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	slot := types.CaptureOrder[c.next]
	c.captures = append(c.captures, types.Capture{Slot: slot, PNG: buf.Bytes()})
	c.next++
	return slot, nil
}

// Captures returns copies of the captures taken so far, in capture order.
func (c *Controller) Captures() []types.Capture {
	out := make([]types.Capture, len(c.captures))
	for i, cp := range c.captures {
		out[i] = types.Capture{Slot: cp.Slot, PNG: bytes.Clone(cp.PNG)}
	}
	return out
}

// Lookup returns a copy of the encoded capture for slot, if it has been taken.
func (c *Controller) Lookup(slot types.Slot) ([]byte, bool) {
	for _, cp := range c.captures {
		if cp.Slot == slot {
			return bytes.Clone(cp.PNG), true
		}
	}
	return nil, false
}

// Completed groups captured poses by finger, in capture order.
func (c *Controller) Completed() []FingerProgress {
	var out []FingerProgress
	for _, cp := range c.captures {
		if n := len(out); n > 0 && out[n-1].Finger == cp.Slot.Finger {
			out[n-1].Poses = append(out[n-1].Poses, cp.Slot.Pose)
			continue
		}
		out = append(out, FingerProgress{Finger: cp.Slot.Finger, Poses: []types.Pose{cp.Slot.Pose}})
	}
	return out
}

// FingerProgress lists the poses captured for one finger.
type FingerProgress struct {
	Finger types.Finger
	Poses  []types.Pose
}

// Reset discards all captures and starts over at the first slot. The
// subject is kept so the next session can begin right away.
func (c *Controller) Reset() {
	c.next = 0
	c.captures = nil
	if c.subject != nil {
		c.id = uuid.NewString()
		c.startedAt = time.Now()
	}
}

// Clear resets the sequence and forgets the subject.
func (c *Controller) Clear() {
	c.Reset()
	c.subject = nil
	c.id = ""
	c.startedAt = time.Time{}
}
