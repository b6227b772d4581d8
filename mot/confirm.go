package mot

import (
	"github.com/LdDl/facewatch/similarity"
)

// ThresholdSource provides acceptance thresholds.
// Threshold("") must return the global threshold.
type ThresholdSource interface {
	Threshold(name string) float64
}

// Observation is the outcome of a single Confirmer.Observe call
type Observation struct {
	// Name to display: confirmed name or UnknownName
	Name string
	// Raw best match score of this frame
	Score float64
	// Best catalog match of this frame (before thresholding)
	Candidate string
	// Thresholded prediction of this frame: Candidate when Score is above its threshold, else UnknownName
	Prediction string
	// Majority of prediction history after this frame
	Majority string
	// True exactly once per track: on the call which locked identity
	Entered bool
}

// Confirmer turns noisy per-frame predictions into a locked identity.
// A track is Unconfirmed while its confirmed name is UnknownName and becomes
// Confirmed (terminal) once the majority vote names the same known person on
// enough frames.
type Confirmer struct {
	oracle   similarity.Oracle
	required int
}

// NewConfirmer creates Confirmer. Non-positive required falls back to 3 frames.
func NewConfirmer(oracle similarity.Oracle, required int) *Confirmer {
	if oracle == nil {
		oracle = similarity.Cosine{}
	}
	if required < 1 {
		required = 3
	}
	return &Confirmer{
		oracle:   oracle,
		required: required,
	}
}

// Observe feeds one embedding of the track to the state machine.
// Only the given track is mutated.
func (c *Confirmer) Observe(track *FaceTrack, embedding []float64, catalog *similarity.Catalog, thresholds ThresholdSource) Observation {
	candidate, score := c.oracle.BestMatch(embedding, catalog)

	threshold := thresholds.Threshold("")
	if candidate != UnknownName {
		threshold = thresholds.Threshold(candidate)
	}
	prediction := UnknownName
	if score > threshold {
		prediction = candidate
	}
	track.predictions.Push(prediction)

	majority := track.predictions.Majority()
	obs := Observation{
		Name:       UnknownName,
		Score:      score,
		Candidate:  candidate,
		Prediction: prediction,
		Majority:   majority,
	}

	if track.IsConfirmed() {
		obs.Name = track.confirmedName
		return obs
	}

	// The streak is only ever incremented: an Unknown majority leaves it as is
	if majority != UnknownName {
		track.streak++
		if track.streak >= c.required {
			track.confirmedName = majority
			obs.Name = majority
			if !track.entry {
				track.entry = true
				obs.Entered = true
			}
		}
	}
	return obs
}
