package learning

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// newTestController returns controller with a fake clock advancing one second per call
func newTestController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	c := NewController(cfg)
	tick := testStart
	var mu sync.Mutex
	c.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	c.sessionStart = testStart
	return c
}

func TestFeedbackScenario(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	require.InDelta(t, 0.80, c.GlobalThreshold(), 1e-12)

	c.LogPrediction([]float64{1, 0}, "Alice", 0.82, 1, testStart)
	res, err := c.ProvideFeedback(1, true, "")
	require.NoError(t, err)
	assert.InDelta(t, 0.8004, res.NewThreshold, 1e-9)
	assert.InDelta(t, 0.80, res.OldThreshold, 1e-12)
	assert.Equal(t, 1.0, res.Reward)
	assert.Equal(t, "Alice", res.Actual)

	c.LogPrediction([]float64{0, 1}, "Bob", 0.90, 2, testStart)
	res, err = c.ProvideFeedback(2, false, "Carol")
	require.NoError(t, err)
	assert.InDelta(t, 0.8384, res.NewThreshold, 1e-9)
	assert.InDelta(t, 0.8384, c.GlobalThreshold(), 1e-9)
	assert.Equal(t, -1.0, res.Reward)
	assert.Equal(t, "Bob", res.Predicted)
	assert.Equal(t, "Carol", res.Actual)

	history := c.FeedbackHistory()
	require.Len(t, history, 2)
	assert.InDelta(t, 0.8004, history[0].NewThreshold, 1e-9)
	assert.Equal(t, int64(2), history[1].FrameID)
	assert.False(t, history[1].IsCorrect)
}

func TestConfidentCorrectDoesNotRelax(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	c.LogPrediction(nil, "Alice", 0.95, 1, testStart)
	res, err := c.ProvideFeedback(1, true, "")
	require.NoError(t, err)
	assert.Equal(t, res.OldThreshold, res.NewThreshold)
}

func TestWrongFeedbackDefaultsToUnknown(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	c.LogPrediction(nil, "Alice", 0.85, 1, testStart)
	res, err := c.ProvideFeedback(1, false, "")
	require.NoError(t, err)
	assert.Equal(t, "Unknown", res.Actual)
	stats, ok := c.PersonStats("Unknown")
	require.True(t, ok)
	assert.Equal(t, PersonStats{Incorrect: 1, Total: 1, ConfidenceSum: 0.85}, stats)
	_, ok = c.PersonStats("Alice")
	assert.False(t, ok)
}

func TestFeedbackNotFound(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	c.LogPrediction(nil, "Alice", 0.85, 1, testStart)

	_, err := c.ProvideFeedback(42, true, "")
	assert.ErrorIs(t, err, ErrPredictionNotFound)
	assert.Equal(t, 0.80, c.GlobalThreshold())
	assert.Empty(t, c.FeedbackHistory())

	// Feedback consumes the prediction
	_, err = c.ProvideFeedback(1, true, "")
	require.NoError(t, err)
	_, err = c.ProvideFeedback(1, true, "")
	assert.ErrorIs(t, err, ErrPredictionNotFound)
}

func TestFeedbackRemovesAllEntriesOfFrame(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	c.LogPrediction(nil, "Alice", 0.85, 7, testStart)
	c.LogPrediction(nil, "Bob", 0.75, 8, testStart)
	c.LogPrediction(nil, "Alice", 0.86, 7, testStart)

	res, err := c.ProvideFeedback(7, true, "")
	require.NoError(t, err)
	// First pending entry with the frame is the one resolved
	assert.Equal(t, 0.85, res.Similarity)

	pending := c.PendingPredictions(0)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(8), pending[0].FrameID)
}

func TestProvideFeedbackOnLatest(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	_, err := c.ProvideFeedbackOnLatest(true, "")
	assert.ErrorIs(t, err, ErrNoPendingPredictions)

	c.LogPrediction(nil, "Alice", 0.85, 1, testStart)
	c.LogPrediction(nil, "Bob", 0.81, 2, testStart)
	res, err := c.ProvideFeedbackOnLatest(false, "Dave")
	require.NoError(t, err)
	assert.Equal(t, "Bob", res.Predicted)
	assert.Equal(t, "Dave", res.Actual)
	assert.Len(t, c.PendingPredictions(0), 1)
}

func TestPendingOverflowDropsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPending = 3
	c := newTestController(t, cfg)
	for i := int64(1); i <= 5; i++ {
		c.LogPrediction([]float64{float64(i)}, "Alice", 0.8, i, testStart)
	}
	pending := c.PendingPredictions(0)
	require.Len(t, pending, 3)
	assert.Equal(t, int64(3), pending[0].FrameID)
	assert.Equal(t, int64(5), pending[2].FrameID)

	limited := c.PendingPredictions(2)
	require.Len(t, limited, 2)
	assert.Equal(t, int64(4), limited[0].FrameID)
	assert.Equal(t, []float64{5}, limited[1].Embedding)

	_, err := c.ProvideFeedback(1, true, "")
	assert.ErrorIs(t, err, ErrPredictionNotFound)
}

func TestLogPredictionCopiesEmbedding(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	emb := []float64{1, 2}
	c.LogPrediction(emb, "Alice", 0.8, 1, time.Time{})
	emb[0] = 100
	pending := c.PendingPredictions(1)
	require.Len(t, pending, 1)
	assert.Equal(t, []float64{1, 2}, pending[0].Embedding)
	assert.False(t, pending[0].Timestamp.IsZero())
}

func TestPersonThresholdStricter(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	// Five wrong predictions of Alice being Eve: accuracy for Eve is 0
	for i := int64(0); i < 4; i++ {
		c.LogPrediction(nil, "Alice", 0.5, i, testStart)
		_, err := c.ProvideFeedback(i, false, "Eve")
		require.NoError(t, err)
		_, ok := c.PersonThresholds()["Eve"]
		assert.False(t, ok, "override must not appear before 5 samples")
	}
	c.LogPrediction(nil, "Alice", 0.5, 4, testStart)
	res, err := c.ProvideFeedback(4, false, "Eve")
	require.NoError(t, err)

	expected := clamp(c.GlobalThreshold()+0.08, 0.65, 0.92)
	assert.InDelta(t, expected, c.Threshold("Eve"), 1e-12)
	assert.InDelta(t, expected, res.PersonThreshold, 1e-12)
	assert.Equal(t, c.GlobalThreshold(), c.Threshold("Alice"))
	assert.Equal(t, c.GlobalThreshold(), c.Threshold(""))
}

func TestPersonThresholdLenientAndDecay(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	frame := int64(0)
	correct := func(sim float64) {
		c.LogPrediction(nil, "Alice", sim, frame, testStart)
		_, err := c.ProvideFeedback(frame, true, "")
		require.NoError(t, err)
		frame++
	}

	for i := 0; i < 9; i++ {
		correct(0.85)
	}
	// Accuracy 1.0 but fewer than 10 samples: no override yet
	_, ok := c.PersonThresholds()["Alice"]
	assert.False(t, ok)

	correct(0.85)
	lenient, ok := c.PersonThresholds()["Alice"]
	require.True(t, ok)
	assert.InDelta(t, clamp(c.GlobalThreshold()-0.05, 0.65, 0.92), lenient, 1e-12)

	// One wrong answer drops accuracy to 10/11 ~ 0.909: override decays towards global
	c.LogPrediction(nil, "Bob", 0.7, frame, testStart)
	_, err := c.ProvideFeedback(frame, false, "Alice")
	require.NoError(t, err)
	global := c.GlobalThreshold()
	assert.InDelta(t, clamp(0.7*lenient+0.3*global, 0.65, 0.92), c.Threshold("Alice"), 1e-12)

	stats, _ := c.PersonStats("Alice")
	assert.Equal(t, 11, stats.Total)
	assert.Equal(t, 10, stats.Correct)
	assert.Equal(t, 1, stats.Incorrect)
	assert.InDelta(t, (10*0.85+0.7)/11, stats.AvgSimilarity(), 1e-12)
}

func TestThresholdBoundsProperty(t *testing.T) {
	cfg := DefaultConfig()
	c := newTestController(t, cfg)
	rng := rand.New(rand.NewSource(17))
	names := []string{"Alice", "Bob", "Carol", "Unknown"}

	for i := int64(0); i < 2000; i++ {
		name := names[rng.Intn(len(names))]
		sim := rng.Float64()*2 - 1
		c.LogPrediction(nil, name, sim, i, testStart)
		_, err := c.ProvideFeedback(i, rng.Float64() < 0.6, names[rng.Intn(len(names))])
		require.NoError(t, err)

		g := c.GlobalThreshold()
		require.GreaterOrEqual(t, g, cfg.MinThreshold)
		require.LessOrEqual(t, g, cfg.MaxThreshold)
		for person, v := range c.PersonThresholds() {
			require.GreaterOrEqual(t, v, cfg.MinThreshold, person)
			require.LessOrEqual(t, v, cfg.MaxThreshold, person)
		}
	}
}

func TestConcurrentFeedbackAndReads(t *testing.T) {
	c := NewDefaultController()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				frame := int64(w*1000 + i)
				c.LogPrediction([]float64{1}, fmt.Sprintf("p%d", w), 0.8, frame, time.Time{})
				_, _ = c.ProvideFeedback(frame, i%3 != 0, "")
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 400; i++ {
			v := c.Threshold("p1")
			if v < 0.65 || v > 0.92 {
				t.Errorf("torn threshold %v", v)
			}
			_ = c.Statistics()
		}
	}()
	wg.Wait()
	assert.Equal(t, 400, len(c.FeedbackHistory()))
}

func TestReset(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	session := c.SessionID()
	for i := int64(0); i < 6; i++ {
		c.LogPrediction(nil, "Alice", 0.9, i, testStart)
		_, err := c.ProvideFeedback(i, false, "Eve")
		require.NoError(t, err)
	}
	c.LogPrediction(nil, "Alice", 0.9, 100, testStart)
	require.NotEqual(t, 0.80, c.GlobalThreshold())

	c.Reset()
	assert.Equal(t, 0.80, c.GlobalThreshold())
	assert.Empty(t, c.PersonThresholds())
	assert.Empty(t, c.FeedbackHistory())
	assert.Empty(t, c.PendingPredictions(0))
	_, ok := c.PersonStats("Eve")
	assert.False(t, ok)
	assert.NotEqual(t, session, c.SessionID())
	assert.Equal(t, 0, c.Statistics().SessionFeedback)
}

func TestNewControllerNormalizesConfig(t *testing.T) {
	c := NewController(Config{MinThreshold: 0.9, MaxThreshold: 0.5, InitialThreshold: 2})
	lo, hi := c.Bounds()
	assert.Equal(t, 0.65, lo)
	assert.Equal(t, 0.92, hi)
	assert.Equal(t, 0.92, c.GlobalThreshold())
}
