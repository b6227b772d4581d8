package learning

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// Calibration compares similarity of correct and incorrect predictions
type Calibration struct {
	AvgSimilarityCorrect   float64 `json:"avg_similarity_correct"`
	AvgSimilarityIncorrect float64 `json:"avg_similarity_incorrect"`
	Separation             float64 `json:"separation"`
}

// PersonSummary is a per-person line of Statistics
type PersonSummary struct {
	Name          string  `json:"name"`
	Accuracy      float64 `json:"accuracy"`
	Total         int     `json:"total"`
	Correct       int     `json:"correct"`
	Incorrect     int     `json:"incorrect"`
	AvgSimilarity float64 `json:"avg_similarity"`
	// Nil when the person uses global threshold
	CustomThreshold *float64 `json:"custom_threshold"`
}

// Statistics is a snapshot of controller state
type Statistics struct {
	SessionID                   string          `json:"session_id"`
	GlobalThreshold             float64         `json:"global_threshold"`
	ThresholdBounds             [2]float64      `json:"threshold_bounds"`
	LearningRate                float64         `json:"learning_rate"`
	RecentAccuracy              float64         `json:"recent_accuracy"`
	OverallAccuracy             float64         `json:"overall_accuracy"`
	TotalFeedback               int             `json:"total_feedback"`
	SessionFeedback             int             `json:"session_feedback"`
	SessionDurationMinutes      float64         `json:"session_duration_minutes"`
	PendingPredictions          int             `json:"pending_predictions"`
	Calibration                 Calibration     `json:"confidence_calibration"`
	PersonStats                 []PersonSummary `json:"person_stats"`
	PersonsWithCustomThresholds int             `json:"persons_with_custom_thresholds"`
}

// Statistics returns aggregate and per-person statistics.
// Person list holds at most 10 entries with the highest totals.
func (c *Controller) Statistics() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Statistics{
		SessionID:                   c.sessionID,
		GlobalThreshold:             c.global,
		ThresholdBounds:             [2]float64{c.minThreshold, c.maxThreshold},
		LearningRate:                c.learningRate,
		TotalFeedback:               len(c.history),
		SessionFeedback:             c.sessionFeedback,
		SessionDurationMinutes:      c.now().Sub(c.sessionStart).Minutes(),
		PendingPredictions:          len(c.pending),
		PersonsWithCustomThresholds: len(c.personThresholds),
	}

	from := len(c.history) - c.defaults.RecentWindow
	if from < 0 {
		from = 0
	}
	st.RecentAccuracy = accuracyOf(c.history[from:])
	st.OverallAccuracy = accuracyOf(c.history)

	if len(c.simCorrect) > 0 {
		st.Calibration.AvgSimilarityCorrect = stat.Mean(c.simCorrect, nil)
	}
	if len(c.simIncorrect) > 0 {
		st.Calibration.AvgSimilarityIncorrect = stat.Mean(c.simIncorrect, nil)
	}
	st.Calibration.Separation = st.Calibration.AvgSimilarityCorrect - st.Calibration.AvgSimilarityIncorrect

	persons := make([]PersonSummary, 0, len(c.personStats))
	for name, s := range c.personStats {
		summary := PersonSummary{
			Name:          name,
			Accuracy:      s.Accuracy(),
			Total:         s.Total,
			Correct:       s.Correct,
			Incorrect:     s.Incorrect,
			AvgSimilarity: s.AvgSimilarity(),
		}
		if v, ok := c.personThresholds[name]; ok {
			v := v
			summary.CustomThreshold = &v
		}
		persons = append(persons, summary)
	}
	sort.Slice(persons, func(i, j int) bool {
		if persons[i].Total != persons[j].Total {
			return persons[i].Total > persons[j].Total
		}
		return persons[i].Name < persons[j].Name
	})
	if len(persons) > topPersons {
		persons = persons[:topPersons]
	}
	st.PersonStats = persons
	return st
}

func accuracyOf(events []FeedbackEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	correct := 0
	for _, e := range events {
		if e.IsCorrect {
			correct++
		}
	}
	return float64(correct) / float64(len(events))
}

// ExportStatistics writes Statistics as indented JSON
func (c *Controller) ExportStatistics(path string) error {
	st := c.Statistics()
	data, err := json.MarshalIndent(struct {
		Statistics
		ExportedAt time.Time `json:"exported_at"`
	}{st, c.now()}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "Can't encode statistics")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "Can't create directory for %s", path)
		}
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "Can't write statistics to %s", path)
	}
	return nil
}
