package domain

// GazeSample is a single reading from the eye tracker. The recorder treats it
// as an opaque payload and forwards every field unchanged.
type GazeSample struct {
	Counter    int64    `json:"counter"`
	Cursor     Cursor   `json:"cursor"`
	LeftEye    Eye      `json:"left_eye"`
	RightEye   Eye      `json:"right_eye"`
	FixedPoG   FixedPoG `json:"fixed_pog"`
	LeftPoG    PoG      `json:"left_pog"`
	RightPoG   PoG      `json:"right_pog"`
	BestPoG    PoG      `json:"best_pog"`
	LeftPupil  Pupil    `json:"left_pupil"`
	RightPupil Pupil    `json:"right_pupil"`
	Time       float64  `json:"time"`
	TimeTick   int64    `json:"time_tick"`
}

// Cursor is the tracker-reported mouse cursor.
type Cursor struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	State int     `json:"state"`
}

// Eye is the 3D eye position with pupil diameter.
type Eye struct {
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Z             float64 `json:"z"`
	PupilDiameter float64 `json:"pupil_diameter"`
	Valid         int     `json:"valid"`
}

// FixedPoG is the fixation point of gaze.
type FixedPoG struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	ID       int64   `json:"id"`
	Valid    int     `json:"valid"`
}

// PoG is a point of gaze in screen coordinates.
type PoG struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Valid int     `json:"valid"`
}

// Pupil is the pupil position in the camera image.
type Pupil struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Diameter float64 `json:"diameter"`
	Scale    float64 `json:"scale"`
	Valid    int     `json:"valid"`
}

// CapturedRecord tags a gaze sample with the trial context it was captured in.
type CapturedRecord struct {
	TrialID    int        `json:"trial_id"`
	FrameIndex int        `json:"frame_index"`
	Target     Position   `json:"target"`
	Sample     GazeSample `json:"sample"`
}
