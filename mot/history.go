package mot

import "github.com/LdDl/facewatch/similarity"

// UnknownName is the label for a face which does not match anyone from catalog
const UnknownName = similarity.UnknownName

// PredictionHistory is fixed-capacity ring of per-frame name guesses.
// When it is full the oldest guess is overwritten.
type PredictionHistory struct {
	names []string
	start int
	size  int
}

// NewPredictionHistory creates history with given capacity. Non-positive capacity falls back to 1.
func NewPredictionHistory(capacity int) *PredictionHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &PredictionHistory{
		names: make([]string, capacity),
	}
}

// Push appends name, evicting the oldest one if needed
func (h *PredictionHistory) Push(name string) {
	capacity := len(h.names)
	if h.size < capacity {
		h.names[(h.start+h.size)%capacity] = name
		h.size++
		return
	}
	h.names[h.start] = name
	h.start = (h.start + 1) % capacity
}

// Len returns number of stored guesses
func (h *PredictionHistory) Len() int {
	return h.size
}

// Cap returns capacity of history
func (h *PredictionHistory) Cap() int {
	return len(h.names)
}

// Names returns copy of stored guesses from oldest to newest
func (h *PredictionHistory) Names() []string {
	out := make([]string, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.names[(h.start+i)%len(h.names)]
	}
	return out
}

// Majority returns the most frequent guess.
// Ties go to the name whose first occurrence (oldest to newest) comes earliest.
// Empty history gives UnknownName.
func (h *PredictionHistory) Majority() string {
	if h.size == 0 {
		return UnknownName
	}
	counts := make(map[string]int, h.size)
	order := make([]string, 0, h.size)
	for i := 0; i < h.size; i++ {
		name := h.names[(h.start+i)%len(h.names)]
		if _, ok := counts[name]; !ok {
			order = append(order, name)
		}
		counts[name]++
	}
	best := order[0]
	for _, name := range order[1:] {
		if counts[name] > counts[best] {
			best = name
		}
	}
	return best
}
