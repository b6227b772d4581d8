// Package watch runs the per-frame pipeline: tracking, identity confirmation,
// prediction logging, unknown person alerts and notifications.
package watch

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/LdDl/facewatch/dedup"
	"github.com/LdDl/facewatch/eventlog"
	"github.com/LdDl/facewatch/learning"
	"github.com/LdDl/facewatch/metrics"
	"github.com/LdDl/facewatch/mot"
	"github.com/LdDl/facewatch/notify"
	"github.com/LdDl/facewatch/similarity"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Detection is a face found by Detector
type Detection struct {
	Box   mot.Rectangle
	Score float64
}

// Detector finds faces on an image
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// Embedder computes fixed-length embedding of a face
type Embedder interface {
	Embed(ctx context.Context, img image.Image, box mot.Rectangle) ([]float64, error)
}

// Face is a detection with its embedding
type Face struct {
	Box       mot.Rectangle
	Score     float64
	Embedding []float64
}

// Frame is a set of faces observed at one moment
type Frame struct {
	Time  time.Time
	Faces []Face
}

// Result describes one face of a processed frame
type Result struct {
	TrackID int
	// Identifier to reference this prediction in feedback
	PredictionID int64
	Box          mot.Rectangle
	// Box the motion filter expected for this frame
	PredictedBox mot.Rectangle
	// Center velocity estimate in pixels per frame
	Velocity mot.Point
	// Confirmed name or Unknown
	Name string
	// Best catalog similarity of this frame
	Score float64
	// Best catalog match of this frame before thresholding
	Candidate string
	Confirmed bool
	// Identity has been confirmed on this frame
	Entered bool
	// Unknown person alert has been raised on this frame
	Alerted bool
	// Unknown person alert has been suppressed as a recently seen stranger
	Suppressed bool
}

// FrameResult is the outcome of Process
type FrameResult struct {
	Time    time.Time
	Results []Result
	// Tracks removed at the end of the frame
	Expired []int
}

// Options configures Watcher
type Options struct {
	IoUThreshold          float64
	TTL                   int
	HistorySize           int
	ConfirmationThreshold int
	UnknownAfter          time.Duration
	Cooldown              time.Duration
}

// DefaultOptions returns default watcher options
func DefaultOptions() Options {
	return Options{
		IoUThreshold:          0.5,
		TTL:                   5,
		HistorySize:           10,
		ConfirmationThreshold: 3,
		UnknownAfter:          5 * time.Second,
		Cooldown:              dedup.DefaultCooldown,
	}
}

// Watcher owns tracker state of a single camera
type Watcher struct {
	mu sync.Mutex

	tracker      *mot.FaceTracker
	confirmer    *mot.Confirmer
	catalog      *similarity.Catalog
	controller   *learning.Controller
	unknowns     *dedup.Cache
	unknownAfter time.Duration

	nextPrediction int64

	detector   Detector
	embedder   Embedder
	dispatcher *notify.Dispatcher
	events     eventlog.Sink
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
}

// New creates Watcher. Catalog and controller are required.
func New(opts Options, catalog *similarity.Catalog, controller *learning.Controller) *Watcher {
	oracle := similarity.Cosine{}
	return &Watcher{
		tracker:      mot.NewFaceTracker(opts.TTL, opts.IoUThreshold, opts.HistorySize),
		confirmer:    mot.NewConfirmer(oracle, opts.ConfirmationThreshold),
		catalog:      catalog,
		controller:   controller,
		unknowns:     dedup.New(opts.Cooldown, oracle, controller),
		unknownAfter: opts.UnknownAfter,
		log:          logrus.StandardLogger(),
	}
}

// SetLogger replaces logger of watcher and its components
func (w *Watcher) SetLogger(log logrus.FieldLogger) {
	if log == nil {
		return
	}
	w.log = log
	w.tracker.SetLogger(log)
	w.unknowns.SetLogger(log)
}

// SetBackends sets detector and embedder used by ProcessImage
func (w *Watcher) SetBackends(detector Detector, embedder Embedder) {
	w.detector = detector
	w.embedder = embedder
}

// SetDispatcher sets notification dispatcher
func (w *Watcher) SetDispatcher(d *notify.Dispatcher) {
	w.dispatcher = d
}

// SetEventLog sets event log sink
func (w *Watcher) SetEventLog(sink eventlog.Sink) {
	w.events = sink
}

// SetMetrics sets metrics collector
func (w *Watcher) SetMetrics(m *metrics.Metrics) {
	w.metrics = m
	if m != nil {
		m.SetThresholds(w.controller.GlobalThreshold(), len(w.controller.PersonThresholds()))
	}
}

// Controller returns threshold controller
func (w *Watcher) Controller() *learning.Controller {
	return w.controller
}

// Tracks returns alive tracks
func (w *Watcher) Tracks() []*mot.FaceTrack {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tracker.Tracks()
}

// ProcessImage detects and embeds faces with configured backends, then processes them as a frame.
// Faces which can't be embedded are skipped.
func (w *Watcher) ProcessImage(ctx context.Context, img image.Image, frameTime time.Time) (FrameResult, error) {
	if w.detector == nil || w.embedder == nil {
		return FrameResult{}, errors.New("detector and embedder must be set")
	}
	detections, err := w.detector.Detect(ctx, img)
	if err != nil {
		return FrameResult{}, errors.Wrap(err, "Can't detect faces")
	}
	faces := make([]Face, 0, len(detections))
	for _, d := range detections {
		embedding, err := w.embedder.Embed(ctx, img, d.Box)
		if err != nil {
			w.log.WithField("box", d.Box).Warnf("watch: can't embed face: %s", err)
			continue
		}
		faces = append(faces, Face{Box: d.Box, Score: d.Score, Embedding: embedding})
	}
	return w.Process(Frame{Time: frameTime, Faces: faces}), nil
}

// Process runs one frame through the pipeline. Results keep the order of frame faces.
func (w *Watcher) Process(frame Frame) FrameResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	boxes := make([]mot.Rectangle, len(frame.Faces))
	for i, f := range frame.Faces {
		boxes[i] = f.Box
	}
	before := w.tracker.Len()
	tracks := w.tracker.Associate(boxes, frame.Time)
	created := w.tracker.Len() - before

	out := FrameResult{
		Time:    frame.Time,
		Results: make([]Result, len(frame.Faces)),
	}
	for i, face := range frame.Faces {
		track := tracks[i]
		obs := w.confirmer.Observe(track, face.Embedding, w.catalog, w.controller)

		predictionID := w.nextPrediction
		w.nextPrediction++
		w.controller.LogPrediction(face.Embedding, obs.Prediction, obs.Score, predictionID, frame.Time)

		vx, vy, _, _ := track.GetVelocity()
		res := Result{
			TrackID:      track.GetID(),
			PredictionID: predictionID,
			Box:          face.Box,
			PredictedBox: track.GetPredictedBBox(),
			Velocity:     mot.Point{X: vx, Y: vy},
			Name:         obs.Name,
			Score:        obs.Score,
			Candidate:    obs.Candidate,
			Confirmed:    track.IsConfirmed(),
			Entered:      obs.Entered,
		}
		if obs.Entered {
			w.onEntry(track, obs)
		}
		if obs.Name == mot.UnknownName && !track.IsAlertSent() && track.VisibleFor(frame.Time) > w.unknownAfter {
			res.Alerted, res.Suppressed = w.onUnknown(track, face.Embedding, frame.Time)
		}
		if w.metrics != nil {
			w.metrics.ObserveScore(obs.Score)
		}
		out.Results[i] = res
	}

	out.Expired = w.tracker.Sweep()
	if w.metrics != nil {
		w.metrics.ObserveFrame(len(frame.Faces), w.tracker.Len(), created, len(out.Expired))
	}
	return out
}

func (w *Watcher) onEntry(track *mot.FaceTrack, obs mot.Observation) {
	w.log.WithFields(logrus.Fields{
		"track_id": track.GetID(),
		"name":     obs.Name,
		"score":    obs.Score,
	}).Infof("watch: person confirmed")
	w.logEvent(eventlog.KnownPersonEntry, obs.Name, notify.WelcomeMessage(obs.Name))
	if w.dispatcher != nil {
		w.dispatcher.Welcome(obs.Name)
	}
	if w.metrics != nil {
		w.metrics.RecordConfirmation()
	}
}

// onUnknown decides on alert for a track which stayed unknown for too long.
// The track is marked as handled whatever the decision.
func (w *Watcher) onUnknown(track *mot.FaceTrack, embedding []float64, now time.Time) (bool, bool) {
	defer track.MarkAlertSent()
	visible := track.VisibleFor(now)
	if !w.unknowns.ShouldAlert(embedding, now) {
		if w.metrics != nil {
			w.metrics.RecordAlert(false)
		}
		return false, true
	}
	w.unknowns.Record(embedding, now)

	details := fmt.Sprintf("track %d visible for %.1fs", track.GetID(), visible.Seconds())
	w.log.WithFields(logrus.Fields{
		"track_id": track.GetID(),
		"visible":  visible,
	}).Warnf("watch: unknown person alert")
	w.logEvent(eventlog.UnknownPersonAlert, "", details)
	if w.dispatcher != nil {
		w.dispatcher.UnknownAlert(details)
	}
	if w.metrics != nil {
		w.metrics.RecordAlert(true)
	}
	return true, false
}

// logEvent writes to the event log sink. Sink errors and panics are logged and never reach the caller.
func (w *Watcher) logEvent(kind, name, details string) {
	if w.events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.log.WithField("event", kind).Errorf("watch: event log panicked: %v", r)
		}
	}()
	if err := w.events.LogEvent(kind, name, details); err != nil {
		w.log.WithField("event", kind).Errorf("watch: can't log event: %s", err)
	}
}

// Feedback applies operator feedback to a prediction returned by Process
func (w *Watcher) Feedback(predictionID int64, correct bool, trueName string) (learning.FeedbackResult, error) {
	res, err := w.controller.ProvideFeedback(predictionID, correct, trueName)
	if w.metrics != nil {
		switch {
		case errors.Is(err, learning.ErrPredictionNotFound):
			w.metrics.RecordFeedback(metrics.FeedbackNotFound)
		case err != nil:
		case correct:
			w.metrics.RecordFeedback(metrics.FeedbackCorrect)
		default:
			w.metrics.RecordFeedback(metrics.FeedbackIncorrect)
		}
		w.metrics.SetThresholds(w.controller.GlobalThreshold(), len(w.controller.PersonThresholds()))
	}
	return res, err
}

// Close waits for dispatched notifications
func (w *Watcher) Close() {
	if w.dispatcher != nil {
		w.dispatcher.Wait()
	}
}
