package learning

import (
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// StateVersion is written into every persisted state
const StateVersion = "1.0.0"

// State is everything Controller persists
type State struct {
	Version             string                 `yaml:"version"`
	SavedAt             time.Time              `yaml:"saved_at"`
	GlobalThreshold     float64                `yaml:"global_threshold"`
	MinThreshold        float64                `yaml:"min_threshold"`
	MaxThreshold        float64                `yaml:"max_threshold"`
	LearningRate        float64                `yaml:"learning_rate"`
	PersonThresholds    map[string]float64     `yaml:"person_thresholds"`
	PersonStats         map[string]PersonStats `yaml:"person_stats"`
	FeedbackHistory     []FeedbackEvent        `yaml:"feedback_history"`
	SimilarityCorrect   []float64              `yaml:"similarity_correct"`
	SimilarityIncorrect []float64              `yaml:"similarity_incorrect"`
}

// Store persists controller state.
// Load returns (nil, nil) when nothing has been saved yet.
type Store interface {
	Save(state *State) error
	Load() (*State, error)
}

// OpenStore picks store implementation by file extension: .db, .sqlite and .sqlite3 give SQLiteStore,
// anything else gives FileStore.
func OpenStore(path string) Store {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return NewSQLiteStore(path)
	default:
		return NewFileStore(path)
	}
}

// validate checks decoded state before it is applied
func (s *State) validate() error {
	if s.Version == "" {
		return errors.Wrap(ErrMalformedState, "missing version")
	}
	for _, v := range []float64{s.GlobalThreshold, s.MinThreshold, s.MaxThreshold, s.LearningRate} {
		if !isFinite(v) {
			return errors.Wrap(ErrMalformedState, "non-finite value")
		}
	}
	if s.MinThreshold <= 0 || s.MinThreshold > s.MaxThreshold || s.MaxThreshold > 1 {
		return errors.Wrapf(ErrMalformedState, "bad threshold bounds [%v, %v]", s.MinThreshold, s.MaxThreshold)
	}
	if s.LearningRate <= 0 {
		return errors.Wrapf(ErrMalformedState, "bad learning rate %v", s.LearningRate)
	}
	for name, v := range s.PersonThresholds {
		if !isFinite(v) {
			return errors.Wrapf(ErrMalformedState, "non-finite threshold for %s", name)
		}
	}
	for name, st := range s.PersonStats {
		if st.Total != st.Correct+st.Incorrect || st.Total < 0 {
			return errors.Wrapf(ErrMalformedState, "inconsistent statistics for %s", name)
		}
		if !isFinite(st.ConfidenceSum) {
			return errors.Wrapf(ErrMalformedState, "non-finite confidence sum for %s", name)
		}
	}
	for _, samples := range [][]float64{s.SimilarityCorrect, s.SimilarityIncorrect} {
		for _, v := range samples {
			if !isFinite(v) {
				return errors.Wrap(ErrMalformedState, "non-finite calibration sample")
			}
		}
	}
	for _, e := range s.FeedbackHistory {
		if !isFinite(e.Similarity) || !isFinite(e.OldThreshold) || !isFinite(e.NewThreshold) {
			return errors.Wrapf(ErrMalformedState, "non-finite value in feedback for frame %d", e.FrameID)
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Snapshot returns deep copy of persistable state
func (c *Controller) Snapshot() *State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state := &State{
		Version:             StateVersion,
		SavedAt:             c.now(),
		GlobalThreshold:     c.global,
		MinThreshold:        c.minThreshold,
		MaxThreshold:        c.maxThreshold,
		LearningRate:        c.learningRate,
		PersonThresholds:    make(map[string]float64, len(c.personThresholds)),
		PersonStats:         make(map[string]PersonStats, len(c.personStats)),
		FeedbackHistory:     make([]FeedbackEvent, len(c.history)),
		SimilarityCorrect:   make([]float64, len(c.simCorrect)),
		SimilarityIncorrect: make([]float64, len(c.simIncorrect)),
	}
	for k, v := range c.personThresholds {
		state.PersonThresholds[k] = v
	}
	for k, v := range c.personStats {
		state.PersonStats[k] = v
	}
	copy(state.FeedbackHistory, c.history)
	copy(state.SimilarityCorrect, c.simCorrect)
	copy(state.SimilarityIncorrect, c.simIncorrect)
	return state
}

// Restore replaces learned state with given one. Pending predictions and session counters are kept.
// On error controller is left untouched.
func (c *Controller) Restore(state *State) error {
	if state == nil {
		return errors.Wrap(ErrMalformedState, "empty state")
	}
	if err := state.validate(); err != nil {
		return err
	}

	personThresholds := make(map[string]float64, len(state.PersonThresholds))
	for k, v := range state.PersonThresholds {
		personThresholds[k] = clamp(v, state.MinThreshold, state.MaxThreshold)
	}
	personStats := make(map[string]PersonStats, len(state.PersonStats))
	for k, v := range state.PersonStats {
		personStats[k] = v
	}
	history := make([]FeedbackEvent, len(state.FeedbackHistory))
	copy(history, state.FeedbackHistory)
	simCorrect := make([]float64, len(state.SimilarityCorrect))
	copy(simCorrect, state.SimilarityCorrect)
	simIncorrect := make([]float64, len(state.SimilarityIncorrect))
	copy(simIncorrect, state.SimilarityIncorrect)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.minThreshold = state.MinThreshold
	c.maxThreshold = state.MaxThreshold
	c.learningRate = state.LearningRate
	c.global = clamp(state.GlobalThreshold, state.MinThreshold, state.MaxThreshold)
	c.personThresholds = personThresholds
	c.personStats = personStats
	c.history = history
	c.simCorrect = simCorrect
	c.simIncorrect = simIncorrect
	return nil
}

// Save writes controller state to path (see OpenStore)
func (c *Controller) Save(path string) error {
	return c.SaveTo(OpenStore(path))
}

// SaveTo writes controller state to store
func (c *Controller) SaveTo(store Store) error {
	state := c.Snapshot()
	if err := store.Save(state); err != nil {
		return errors.Wrap(err, "Can't save controller state")
	}
	c.mu.RLock()
	log := c.log
	c.mu.RUnlock()
	log.WithField("threshold", state.GlobalThreshold).
		WithField("feedback", len(state.FeedbackHistory)).
		WithField("persons", len(state.PersonStats)).
		Infof("learning: state saved")
	return nil
}

// Load restores controller state from path (see OpenStore).
// Missing file is not an error: controller keeps its current state.
func (c *Controller) Load(path string) error {
	return c.LoadFrom(OpenStore(path))
}

// LoadFrom restores controller state from store
func (c *Controller) LoadFrom(store Store) error {
	c.mu.RLock()
	log := c.log
	c.mu.RUnlock()

	state, err := store.Load()
	if err != nil {
		return err
	}
	if state == nil {
		log.Infof("learning: no previous learning state found")
		return nil
	}
	if err := c.Restore(state); err != nil {
		return err
	}
	log.WithField("threshold", c.GlobalThreshold()).
		WithField("feedback", len(state.FeedbackHistory)).
		WithField("persons", len(state.PersonStats)).
		WithField("saved_at", state.SavedAt).
		Infof("learning: state loaded")
	return nil
}
