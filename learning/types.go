package learning

import (
	"time"

	"github.com/LdDl/facewatch/similarity"
	"github.com/pkg/errors"
)

const unknownName = similarity.UnknownName

var (
	// ErrPredictionNotFound is returned when feedback references a prediction which is not pending
	ErrPredictionNotFound = errors.New("prediction not found in pending feedback")
	// ErrNoPendingPredictions is returned by ProvideFeedbackOnLatest when nothing is pending
	ErrNoPendingPredictions = errors.New("no pending predictions")
	// ErrMalformedState is returned by Load when persisted state exists but can't be decoded
	ErrMalformedState = errors.New("malformed controller state")
)

// PendingPrediction is a prediction awaiting human feedback
type PendingPrediction struct {
	FrameID    int64     `json:"frame_id"`
	Embedding  []float64 `json:"-"`
	Predicted  string    `json:"predicted"`
	Similarity float64   `json:"similarity"`
	Timestamp  time.Time `json:"timestamp"`
}

// FeedbackEvent is an immutable record of applied feedback
type FeedbackEvent struct {
	FrameID      int64     `yaml:"frame_id" json:"frame_id"`
	Predicted    string    `yaml:"predicted" json:"predicted"`
	Actual       string    `yaml:"actual" json:"actual"`
	IsCorrect    bool      `yaml:"is_correct" json:"is_correct"`
	Similarity   float64   `yaml:"similarity" json:"similarity"`
	Reward       float64   `yaml:"reward" json:"reward"`
	OldThreshold float64   `yaml:"old_threshold" json:"old_threshold"`
	NewThreshold float64   `yaml:"new_threshold" json:"new_threshold"`
	Timestamp    time.Time `yaml:"timestamp" json:"timestamp"`
}

// FeedbackResult describes what a single feedback did to the controller
type FeedbackResult struct {
	Reward         float64
	OldThreshold   float64
	NewThreshold   float64
	Predicted      string
	Actual         string
	Similarity     float64
	PersonAccuracy float64
	// Person threshold after update; zero when the person has no override
	PersonThreshold float64
}

// PersonStats accumulates feedback outcomes for one person
type PersonStats struct {
	Correct       int     `yaml:"correct" json:"correct"`
	Incorrect     int     `yaml:"incorrect" json:"incorrect"`
	Total         int     `yaml:"total" json:"total"`
	ConfidenceSum float64 `yaml:"confidence_sum" json:"confidence_sum"`
}

// AvgSimilarity returns mean similarity over all feedback for the person
func (s PersonStats) AvgSimilarity() float64 {
	if s.Total == 0 {
		return 0
	}
	return s.ConfidenceSum / float64(s.Total)
}

// Accuracy returns share of correct feedback
func (s PersonStats) Accuracy() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total)
}
