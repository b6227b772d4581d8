package mot

import (
	"time"

	"github.com/sirupsen/logrus"
)

// FaceTracker is IoU based multi-object tracker for faces.
// Each detection is matched greedily (in input order) to the unmatched track with
// the highest IoU; ties go to the track created first.
type FaceTracker struct {
	// Frames a track survives without matching detection
	ttl int
	// Minimal IoU (exclusive) for matching
	iouThreshold float64
	// Capacity of per-track prediction history
	historySize int
	// Next identifier to assign
	nextID int
	// Tracks in creation order
	tracks []*FaceTrack
	// Tracks matched (or created) during current frame
	matched map[int]struct{}
	log     logrus.FieldLogger
}

// NewDefaultFaceTracker creates a default instance of FaceTracker.
// Default values: ttl=5, iouThreshold=0.5, historySize=10
func NewDefaultFaceTracker() *FaceTracker {
	return NewFaceTracker(5, 0.5, 10)
}

// NewFaceTracker creates a new instance of FaceTracker with specified parameters.
func NewFaceTracker(ttl int, iouThreshold float64, historySize int) *FaceTracker {
	if ttl < 1 {
		ttl = 1
	}
	return &FaceTracker{
		ttl:          ttl,
		iouThreshold: iouThreshold,
		historySize:  historySize,
		tracks:       make([]*FaceTrack, 0),
		matched:      make(map[int]struct{}),
		log:          logrus.StandardLogger(),
	}
}

// SetLogger replaces tracker's logger
func (tracker *FaceTracker) SetLogger(log logrus.FieldLogger) {
	if log != nil {
		tracker.log = log
	}
}

// Associate matches detections of a single frame to existing tracks, creating tracks as needed.
// Returned slice has the same length and order as detections.
func (tracker *FaceTracker) Associate(detections []Rectangle, frameTime time.Time) []*FaceTrack {
	result := make([]*FaceTrack, len(detections))
	for i, bbox := range detections {
		var best *FaceTrack
		bestIoU := 0.0
		for _, track := range tracker.tracks {
			if _, ok := tracker.matched[track.id]; ok {
				continue
			}
			iouValue := IoU(bbox, track.bbox)
			if iouValue > bestIoU {
				bestIoU = iouValue
				best = track
			}
		}

		if best != nil && bestIoU > tracker.iouThreshold {
			if err := best.update(bbox, frameTime, tracker.ttl); err != nil {
				tracker.log.WithField("track_id", best.id).Debugf("tracker: %s", err)
			}
			tracker.matched[best.id] = struct{}{}
			result[i] = best
			continue
		}

		// Register detection as a new track
		track := newFaceTrack(tracker.nextID, bbox, frameTime, tracker.ttl, tracker.historySize)
		tracker.nextID++
		tracker.tracks = append(tracker.tracks, track)
		tracker.matched[track.id] = struct{}{}
		result[i] = track
		tracker.log.WithField("track_id", track.id).Debugf("tracker: new track")
	}
	return result
}

// Sweep ends current frame: tracks which were not matched lose one frame of TTL
// and are removed when it reaches zero. Returns identifiers of removed tracks.
func (tracker *FaceTracker) Sweep() []int {
	expired := make([]int, 0)
	alive := tracker.tracks[:0]
	for _, track := range tracker.tracks {
		if _, ok := tracker.matched[track.id]; !ok {
			track.ttl--
			track.predictNextPosition()
		}
		if track.ttl <= 0 {
			expired = append(expired, track.id)
			continue
		}
		alive = append(alive, track)
	}
	// Drop references held past the new length
	for i := len(alive); i < len(tracker.tracks); i++ {
		tracker.tracks[i] = nil
	}
	tracker.tracks = alive
	tracker.matched = make(map[int]struct{}, len(alive))
	if len(expired) > 0 {
		tracker.log.WithField("tracks", expired).Debugf("tracker: expired")
	}
	return expired
}

// Tracks returns alive tracks in creation order
func (tracker *FaceTracker) Tracks() []*FaceTrack {
	out := make([]*FaceTrack, len(tracker.tracks))
	copy(out, tracker.tracks)
	return out
}

// Get returns track by identifier
func (tracker *FaceTracker) Get(id int) (*FaceTrack, bool) {
	for _, track := range tracker.tracks {
		if track.id == id {
			return track, true
		}
	}
	return nil, false
}

// Len returns number of alive tracks
func (tracker *FaceTracker) Len() int {
	return len(tracker.tracks)
}
