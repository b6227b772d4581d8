// Package learning adapts face acceptance thresholds from human feedback.
//
// Controller keeps a global threshold and per-person overrides. Every prediction
// shown to the operator is logged as pending; feedback on it moves the global
// threshold (down on borderline correct matches, up on mistakes) and, once
// enough samples exist, sets a stricter or more lenient threshold for the person.
// All state can be saved to and restored from a Store.
package learning

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// Feedback with similarity at least this far above global threshold does not relax it
	relaxMargin = 0.1
	// Samples needed before person threshold adapts
	personMinSamples = 5
	// Samples needed before person threshold may become more lenient than global
	personLenientSamples = 10
	personLowAccuracy    = 0.75
	personHighAccuracy   = 0.95
	personStricterDelta  = 0.08
	personLenientDelta   = 0.05
	// Weight of existing override when it decays towards global threshold
	personDecay = 0.7
	// Number of persons reported in statistics
	topPersons = 10
)

// Config holds controller parameters
type Config struct {
	LearningRate     float64
	MinThreshold     float64
	MaxThreshold     float64
	InitialThreshold float64
	MaxPending       int
	// Number of latest feedback events used for recent accuracy
	RecentWindow int
}

// DefaultConfig returns default controller parameters
func DefaultConfig() Config {
	return Config{
		LearningRate:     0.02,
		MinThreshold:     0.65,
		MaxThreshold:     0.92,
		InitialThreshold: 0.80,
		MaxPending:       100,
		RecentWindow:     20,
	}
}

// Controller is the adaptive threshold controller. It is safe for concurrent use.
type Controller struct {
	mu       sync.RWMutex
	defaults Config

	learningRate float64
	minThreshold float64
	maxThreshold float64
	global       float64

	personThresholds map[string]float64
	personStats      map[string]PersonStats
	pending          []PendingPrediction
	history          []FeedbackEvent
	simCorrect       []float64
	simIncorrect     []float64

	sessionID       string
	sessionStart    time.Time
	sessionFeedback int

	now func() time.Time
	log logrus.FieldLogger
}

// NewDefaultController creates controller with DefaultConfig
func NewDefaultController() *Controller {
	return NewController(DefaultConfig())
}

// NewController creates controller. Invalid parameters fall back to defaults.
func NewController(cfg Config) *Controller {
	cfg = normalizeConfig(cfg)
	c := &Controller{
		defaults: cfg,
		now:      time.Now,
		log:      logrus.StandardLogger(),
	}
	c.resetLocked()
	return c
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.MinThreshold <= 0 || cfg.MaxThreshold <= 0 || cfg.MinThreshold > cfg.MaxThreshold {
		cfg.MinThreshold = def.MinThreshold
		cfg.MaxThreshold = def.MaxThreshold
	}
	if cfg.InitialThreshold <= 0 {
		cfg.InitialThreshold = def.InitialThreshold
	}
	cfg.InitialThreshold = clamp(cfg.InitialThreshold, cfg.MinThreshold, cfg.MaxThreshold)
	if cfg.MaxPending < 1 {
		cfg.MaxPending = def.MaxPending
	}
	if cfg.RecentWindow < 1 {
		cfg.RecentWindow = def.RecentWindow
	}
	return cfg
}

// SetLogger replaces controller's logger
func (c *Controller) SetLogger(log logrus.FieldLogger) {
	if log == nil {
		return
	}
	c.mu.Lock()
	c.log = log
	c.mu.Unlock()
}

// resetLocked restores configured defaults and starts a new session. Caller holds the lock.
func (c *Controller) resetLocked() {
	c.learningRate = c.defaults.LearningRate
	c.minThreshold = c.defaults.MinThreshold
	c.maxThreshold = c.defaults.MaxThreshold
	c.global = c.defaults.InitialThreshold
	c.personThresholds = make(map[string]float64)
	c.personStats = make(map[string]PersonStats)
	c.pending = make([]PendingPrediction, 0, c.defaults.MaxPending)
	c.history = make([]FeedbackEvent, 0)
	c.simCorrect = make([]float64, 0)
	c.simIncorrect = make([]float64, 0)
	c.sessionID = uuid.NewString()
	c.sessionStart = c.now()
	c.sessionFeedback = 0
}

// Reset drops all learned state
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.log.WithField("session", c.sessionID).Warnf("learning: all learning state has been reset")
}

// LogPrediction remembers a prediction so feedback can reference it by frameID.
// When buffer is full the oldest prediction is dropped.
func (c *Controller) LogPrediction(embedding []float64, predicted string, similarity float64, frameID int64, timestamp time.Time) {
	emb := make([]float64, len(embedding))
	copy(emb, embedding)
	if timestamp.IsZero() {
		timestamp = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, PendingPrediction{
		FrameID:    frameID,
		Embedding:  emb,
		Predicted:  predicted,
		Similarity: similarity,
		Timestamp:  timestamp,
	})
	if overflow := len(c.pending) - c.defaults.MaxPending; overflow > 0 {
		copy(c.pending, c.pending[overflow:])
		for i := len(c.pending) - overflow; i < len(c.pending); i++ {
			c.pending[i] = PendingPrediction{}
		}
		c.pending = c.pending[:len(c.pending)-overflow]
	}
}

// ProvideFeedback applies operator feedback to the pending prediction with given frameID.
// trueName is used only when prediction was wrong; empty means Unknown.
func (c *Controller) ProvideFeedback(frameID int64, isCorrect bool, trueName string) (FeedbackResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provideFeedbackLocked(frameID, isCorrect, trueName)
}

// ProvideFeedbackOnLatest applies feedback to the most recent pending prediction
func (c *Controller) ProvideFeedbackOnLatest(isCorrect bool, trueName string) (FeedbackResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return FeedbackResult{}, ErrNoPendingPredictions
	}
	return c.provideFeedbackLocked(c.pending[len(c.pending)-1].FrameID, isCorrect, trueName)
}

func (c *Controller) provideFeedbackLocked(frameID int64, isCorrect bool, trueName string) (FeedbackResult, error) {
	idx := -1
	for i := range c.pending {
		if c.pending[i].FrameID == frameID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return FeedbackResult{}, errors.Wrapf(ErrPredictionNotFound, "frame %d", frameID)
	}
	pred := c.pending[idx]
	sim := pred.Similarity

	reward := -1.0
	actual := trueName
	if actual == "" {
		actual = unknownName
	}
	if isCorrect {
		reward = 1.0
		actual = pred.Predicted
	}

	oldThreshold := c.global
	if isCorrect {
		// Relax only when correct match was borderline
		if sim < c.global+relaxMargin {
			c.global = c.clampThreshold(c.global - c.learningRate*(c.global-sim))
		}
	} else {
		c.global = c.clampThreshold(c.global + c.learningRate*(1.0+sim))
	}

	stats := c.personStats[actual]
	stats.Total++
	stats.ConfidenceSum += sim
	if isCorrect {
		stats.Correct++
		c.simCorrect = append(c.simCorrect, sim)
	} else {
		stats.Incorrect++
		c.simIncorrect = append(c.simIncorrect, sim)
	}
	c.personStats[actual] = stats
	accuracy := stats.Accuracy()
	c.updatePersonThresholdLocked(actual, stats, accuracy)

	c.history = append(c.history, FeedbackEvent{
		FrameID:      frameID,
		Predicted:    pred.Predicted,
		Actual:       actual,
		IsCorrect:    isCorrect,
		Similarity:   sim,
		Reward:       reward,
		OldThreshold: oldThreshold,
		NewThreshold: c.global,
		Timestamp:    c.now(),
	})
	c.sessionFeedback++

	// Drop every pending entry with the same frame
	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.FrameID != frameID {
			kept = append(kept, p)
		}
	}
	for i := len(kept); i < len(c.pending); i++ {
		c.pending[i] = PendingPrediction{}
	}
	c.pending = kept

	result := FeedbackResult{
		Reward:          reward,
		OldThreshold:    oldThreshold,
		NewThreshold:    c.global,
		Predicted:       pred.Predicted,
		Actual:          actual,
		Similarity:      sim,
		PersonAccuracy:  accuracy,
		PersonThreshold: c.personThresholds[actual],
	}
	c.log.WithFields(logrus.Fields{
		"frame_id":      frameID,
		"predicted":     pred.Predicted,
		"actual":        actual,
		"correct":       isCorrect,
		"similarity":    sim,
		"old_threshold": oldThreshold,
		"threshold":     c.global,
	}).Infof("learning: feedback applied")
	return result, nil
}

func (c *Controller) updatePersonThresholdLocked(name string, stats PersonStats, accuracy float64) {
	if stats.Total < personMinSamples {
		return
	}
	switch {
	case accuracy < personLowAccuracy:
		c.personThresholds[name] = c.clampThreshold(c.global + personStricterDelta)
	case accuracy > personHighAccuracy && stats.Total >= personLenientSamples:
		c.personThresholds[name] = c.clampThreshold(c.global - personLenientDelta)
	default:
		if override, ok := c.personThresholds[name]; ok {
			c.personThresholds[name] = c.clampThreshold(personDecay*override + (1-personDecay)*c.global)
		}
	}
}

// Threshold returns override for the person if present, else global threshold.
// Empty name always gives global threshold.
func (c *Controller) Threshold(name string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if name != "" {
		if v, ok := c.personThresholds[name]; ok {
			return v
		}
	}
	return c.global
}

// GlobalThreshold returns global threshold
func (c *Controller) GlobalThreshold() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.global
}

// Bounds returns allowed threshold range
func (c *Controller) Bounds() (float64, float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.minThreshold, c.maxThreshold
}

// PersonThresholds returns copy of per-person overrides
func (c *Controller) PersonThresholds() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.personThresholds))
	for k, v := range c.personThresholds {
		out[k] = v
	}
	return out
}

// PersonStats returns statistics for the person
func (c *Controller) PersonStats(name string) (PersonStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.personStats[name]
	return s, ok
}

// PendingPredictions returns up to limit newest pending predictions, oldest first.
// Non-positive limit returns all of them.
func (c *Controller) PendingPredictions(limit int) []PendingPrediction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	from := 0
	if limit > 0 && limit < len(c.pending) {
		from = len(c.pending) - limit
	}
	out := make([]PendingPrediction, 0, len(c.pending)-from)
	for _, p := range c.pending[from:] {
		emb := make([]float64, len(p.Embedding))
		copy(emb, p.Embedding)
		p.Embedding = emb
		out = append(out, p)
	}
	return out
}

// FeedbackHistory returns copy of applied feedback events
func (c *Controller) FeedbackHistory() []FeedbackEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]FeedbackEvent, len(c.history))
	copy(out, c.history)
	return out
}

// SessionID returns identifier of current session
func (c *Controller) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Controller) clampThreshold(v float64) float64 {
	return clamp(v, c.minThreshold, c.maxThreshold)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
