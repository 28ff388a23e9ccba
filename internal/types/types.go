package types

import (
	"fmt"
	"strings"
)

// Finger identifies one of the ten fingers, left hand first (thumb = 1).
type Finger string

const (
	L1 Finger = "L1"
	L2 Finger = "L2"
	L3 Finger = "L3"
	L4 Finger = "L4"
	L5 Finger = "L5"
	R1 Finger = "R1"
	R2 Finger = "R2"
	R3 Finger = "R3"
	R4 Finger = "R4"
	R5 Finger = "R5"
)

// Fingers lists every finger in capture order.
var Fingers = []Finger{L1, L2, L3, L4, L5, R1, R2, R3, R4, R5}

var fingerNames = map[Finger]string{
	L1: "Left Thumb", L2: "Left Index", L3: "Left Middle", L4: "Left Ring", L5: "Left Pinky",
	R1: "Right Thumb", R2: "Right Index", R3: "Right Middle", R4: "Right Ring", R5: "Right Pinky",
}

// Name returns the human-readable finger name shown to the operator.
func (f Finger) Name() string {
	if n, ok := fingerNames[f]; ok {
		return n
	}
	return string(f)
}

// Pose is the finger orientation for a single capture.
type Pose string

const (
	Center Pose = "center"
	Left   Pose = "left"
	Right  Pose = "right"
)

// Poses lists every pose in capture order.
var Poses = []Pose{Center, Left, Right}

var poseNames = map[Pose]string{
	Center: "Center",
	Left:   "Left Roll",
	Right:  "Right Roll",
}

// Name returns the human-readable pose name.
func (p Pose) Name() string {
	if n, ok := poseNames[p]; ok {
		return n
	}
	return string(p)
}

// Index maps the pose to the numeric capture_idx stored in the database.
// Unknown poses map to 0.
func (p Pose) Index() int {
	switch p {
	case Center:
		return 1
	case Left:
		return 2
	case Right:
		return 3
	default:
		return 0
	}
}

// Slot is one (finger, pose) capture target.
type Slot struct {
	Finger Finger
	Pose   Pose
}

// Key is the "<finger>_<pose>" form used for file names and map keys.
func (s Slot) Key() string {
	return string(s.Finger) + "_" + string(s.Pose)
}

// Instruction is the overlay text for the slot, e.g. "Left Thumb - Center".
func (s Slot) Instruction() string {
	return s.Finger.Name() + " - " + s.Pose.Name()
}

func (s Slot) String() string { return s.Key() }

// SlotCount is the number of captures in a complete session.
const SlotCount = 30

// CaptureOrder is the fixed finger-major order of all 30 slots.
var CaptureOrder = buildCaptureOrder()

func buildCaptureOrder() []Slot {
	order := make([]Slot, 0, SlotCount)
	for _, f := range Fingers {
		for _, p := range Poses {
			order = append(order, Slot{Finger: f, Pose: p})
		}
	}
	return order
}

// ParseSlot parses a "<finger>_<pose>" key.
func ParseSlot(key string) (Slot, error) {
	finger, pose, ok := strings.Cut(key, "_")
	if !ok {
		return Slot{}, fmt.Errorf("invalid slot key %q", key)
	}
	s := Slot{Finger: Finger(finger), Pose: Pose(pose)}
	if _, ok := fingerNames[s.Finger]; !ok {
		return Slot{}, fmt.Errorf("unknown finger %q", finger)
	}
	if _, ok := poseNames[s.Pose]; !ok {
		return Slot{}, fmt.Errorf("unknown pose %q", pose)
	}
	return s, nil
}

// Gender of the subject.
type Gender string

const (
	Male   Gender = "Male"
	Female Gender = "Female"
	Other  Gender = "Other"
)

// Genders lists the accepted values in form order.
var Genders = []Gender{Male, Female, Other}

// ParseGender accepts any casing of Male, Female or Other.
func ParseGender(s string) (Gender, error) {
	for _, g := range Genders {
		if strings.EqualFold(strings.TrimSpace(s), string(g)) {
			return g, nil
		}
	}
	return "", fmt.Errorf("invalid gender %q (must be Male, Female or Other)", s)
}

// Subject is the person whose fingers are captured.
type Subject struct {
	Name   string `json:"name"`
	Gender Gender `json:"gender"`
	Extra  string `json:"extra,omitempty"`
}

// Capture is one encoded capture result.
type Capture struct {
	Slot Slot
	PNG  []byte
}
