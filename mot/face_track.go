package mot

import (
	"time"

	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/pkg/errors"
)

// FaceTrack is one physical face followed across frames.
// Bounding box is always the last matched detection; the 8-D Kalman filter
// (state [cx, cy, w, h, vx, vy, vw, vh]) only provides a motion estimate.
type FaceTrack struct {
	id            int
	bbox          Rectangle
	predictedBBox Rectangle
	predictions   *PredictionHistory
	confirmedName string
	streak        int
	firstSeen     time.Time
	lastSeen      time.Time
	entry         bool
	alertSent     bool
	ttl           int
	hits          int
	motion        *kalman_filter.KalmanBBox
}

func newFaceTrack(id int, bbox Rectangle, frameTime time.Time, ttl, historySize int) *FaceTrack {
	return &FaceTrack{
		id:            id,
		bbox:          bbox,
		predictedBBox: bbox,
		predictions:   NewPredictionHistory(historySize),
		confirmedName: UnknownName,
		firstSeen:     frameTime,
		lastSeen:      frameTime,
		ttl:           ttl,
		hits:          1,
		motion:        newMotionFilter(bbox),
	}
}

func newMotionFilter(bbox Rectangle) *kalman_filter.KalmanBBox {
	center := bbox.Center()
	// Kalman filter props
	dt := 1.0
	uCx := 1.0
	uCy := 1.0
	uW := 0.0
	uH := 0.0
	stdDevA := 2.0
	stdDevMCx := 0.1
	stdDevMCy := 0.1
	stdDevMW := 0.1
	stdDevMH := 0.1
	return kalman_filter.NewKalmanBBox(
		dt, uCx, uCy, uW, uH,
		stdDevA, stdDevMCx, stdDevMCy, stdDevMW, stdDevMH,
		kalman_filter.WithStateBBox(center.X, center.Y, bbox.Width, bbox.Height),
	)
}

// GetID returns track's identifier
func (track *FaceTrack) GetID() int {
	return track.id
}

// GetBBox returns last matched bounding box
func (track *FaceTrack) GetBBox() Rectangle {
	return track.bbox
}

// GetPredictedBBox returns bounding box predicted by motion filter
func (track *FaceTrack) GetPredictedBBox() Rectangle {
	return track.predictedBBox
}

// GetVelocity returns current velocity estimates (vx, vy, vw, vh) in pixels per frame
func (track *FaceTrack) GetVelocity() (float64, float64, float64, float64) {
	return track.motion.GetVelocity()
}

// GetConfirmedName returns locked identity or UnknownName
func (track *FaceTrack) GetConfirmedName() string {
	return track.confirmedName
}

// IsConfirmed returns true once identity has been locked
func (track *FaceTrack) IsConfirmed() bool {
	return track.confirmedName != UnknownName
}

// GetStreak returns confirmation streak
func (track *FaceTrack) GetStreak() int {
	return track.streak
}

// GetPredictions returns copy of prediction history from oldest to newest
func (track *FaceTrack) GetPredictions() []string {
	return track.predictions.Names()
}

// GetFirstSeen returns frame time when track has been created
func (track *FaceTrack) GetFirstSeen() time.Time {
	return track.firstSeen
}

// GetLastSeen returns frame time of the last matched detection
func (track *FaceTrack) GetLastSeen() time.Time {
	return track.lastSeen
}

// VisibleFor returns how long track has been followed up to given time
func (track *FaceTrack) VisibleFor(now time.Time) time.Duration {
	return now.Sub(track.firstSeen)
}

// IsEntryTriggered returns true once entry event has been emitted
func (track *FaceTrack) IsEntryTriggered() bool {
	return track.entry
}

// IsAlertSent returns true once unknown person alert has been handled for this track
func (track *FaceTrack) IsAlertSent() bool {
	return track.alertSent
}

// MarkAlertSent sets alert flag permanently
func (track *FaceTrack) MarkAlertSent() {
	track.alertSent = true
}

// GetTTL returns remaining time to live (in frames)
func (track *FaceTrack) GetTTL() int {
	return track.ttl
}

// GetHits returns number of detections matched to track
func (track *FaceTrack) GetHits() int {
	return track.hits
}

// Displacement returns distance between current center and center predicted by motion filter
func (track *FaceTrack) Displacement() float64 {
	return euclideanDistance(track.bbox.Center(), track.predictedBBox.Center())
}

// predictNextPosition executes Kalman filter prediction step
func (track *FaceTrack) predictNextPosition() {
	track.motion.Predict()
	cx, cy, w, h := track.motion.GetState()
	track.predictedBBox = Rectangle{
		X:      cx - w/2.0,
		Y:      cy - h/2.0,
		Width:  w,
		Height: h,
	}
}

// update moves track to matched detection and feeds it to motion filter
func (track *FaceTrack) update(bbox Rectangle, frameTime time.Time, ttl int) error {
	track.bbox = bbox
	track.lastSeen = frameTime
	track.ttl = ttl
	track.hits++

	track.predictNextPosition()
	center := bbox.Center()
	err := track.motion.Update(center.X, center.Y, bbox.Width, bbox.Height)
	if err != nil {
		// Start motion estimate over from the measured box
		track.motion = newMotionFilter(bbox)
		track.predictedBBox = bbox
		return errors.Wrap(err, "Can't update motion filter")
	}
	return nil
}
