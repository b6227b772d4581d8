package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LdDl/facewatch/config"
	"github.com/LdDl/facewatch/eventlog"
	"github.com/LdDl/facewatch/learning"
	"github.com/LdDl/facewatch/metrics"
	"github.com/LdDl/facewatch/mot"
	"github.com/LdDl/facewatch/notify"
	"github.com/LdDl/facewatch/similarity"
	"github.com/LdDl/facewatch/watch"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run recorded frames and feedback through the watcher",
	Long: `Replay reads JSON lines. Each line is either a frame:

  {"frame":1,"time":"2024-03-01T09:00:00Z","faces":[{"box":[10,10,90,90],"score":0.98,"embedding":[...]}]}

or operator feedback on a previously printed prediction:

  {"feedback":{"prediction":12,"correct":false,"name":"Alice"}}

Learning state is saved when input ends or the command is interrupted.`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().String("input", "-", "JSON lines file, - for stdin")
}

type faceRecord struct {
	// x1, y1, x2, y2
	Box       [4]float64 `json:"box"`
	Score     float64    `json:"score"`
	Embedding []float64  `json:"embedding"`
}

type feedbackRecord struct {
	Prediction int64  `json:"prediction"`
	Correct    bool   `json:"correct"`
	Name       string `json:"name"`
}

type replayRecord struct {
	Frame    *int64          `json:"frame"`
	Time     time.Time       `json:"time"`
	Faces    []faceRecord    `json:"faces"`
	Feedback *feedbackRecord `json:"feedback"`
}

func (r replayRecord) toFrame() watch.Frame {
	frame := watch.Frame{
		Time:  r.Time,
		Faces: make([]watch.Face, len(r.Faces)),
	}
	for i, f := range r.Faces {
		frame.Faces[i] = watch.Face{
			Box:       mot.NewRectFromCorners(f.Box[0], f.Box[1], f.Box[2], f.Box[3]),
			Score:     f.Score,
			Embedding: f.Embedding,
		}
	}
	return frame
}

// replayer feeds decoded records to watcher and prints outcomes
type replayer struct {
	watcher *watch.Watcher
	out     io.Writer
	log     logrus.FieldLogger
}

func (r *replayer) handleLine(line []byte) error {
	var rec replayRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return errors.Wrap(err, "Can't decode record")
	}
	switch {
	case rec.Feedback != nil:
		fb := rec.Feedback
		res, err := r.watcher.Feedback(fb.Prediction, fb.Correct, fb.Name)
		if errors.Is(err, learning.ErrPredictionNotFound) {
			r.log.WithField("prediction", fb.Prediction).Warnf("replay: feedback for unknown prediction")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "feedback prediction=%d predicted=%s actual=%s reward=%+.0f threshold=%.4f->%.4f\n",
			fb.Prediction, res.Predicted, res.Actual, res.Reward, res.OldThreshold, res.NewThreshold)
	case rec.Frame != nil:
		if rec.Time.IsZero() {
			return errors.Errorf("frame %d has no time", *rec.Frame)
		}
		res := r.watcher.Process(rec.toFrame())
		for _, face := range res.Results {
			x1, y1, x2, y2 := face.PredictedBox.Corners()
			fmt.Fprintf(r.out, "frame=%d track=%d prediction=%d name=%s candidate=%s score=%.4f predicted=%.1f,%.1f,%.1f,%.1f velocity=%.2f,%.2f%s\n",
				*rec.Frame, face.TrackID, face.PredictionID, face.Name, face.Candidate, face.Score,
				x1, y1, x2, y2, face.Velocity.X, face.Velocity.Y, flags(face))
		}
		for _, id := range res.Expired {
			fmt.Fprintf(r.out, "frame=%d track=%d expired\n", *rec.Frame, id)
		}
	default:
		return errors.New("record is neither frame nor feedback")
	}
	return nil
}

func flags(res watch.Result) string {
	s := ""
	if res.Entered {
		s += " entered"
	}
	if res.Alerted {
		s += " alerted"
	}
	if res.Suppressed {
		s += " suppressed"
	}
	return s
}

func runReplay(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	log := logrus.StandardLogger()

	input := os.Stdin
	if path, _ := cmd.Flags().GetString("input"); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "Can't open input %s", path)
		}
		defer f.Close()
		input = f
	}

	catalog, err := similarity.LoadCatalog(settings.Catalog.Path)
	if err != nil {
		return err
	}
	controller, err := loadController(settings)
	if err != nil {
		return err
	}
	controller.SetLogger(log)

	registry := prometheus.NewRegistry()
	m, err := metrics.NewMetrics(registry)
	if err != nil {
		return errors.Wrap(err, "Can't register metrics")
	}

	dispatcher, closeNotifiers, err := buildDispatcher(settings.Notify, log)
	if err != nil {
		return err
	}
	defer closeNotifiers()
	dispatcher.OnFailure(func(kind string, _ error) {
		m.RecordNotifyFailure(kind)
	})

	watcher := watch.New(watchOptions(settings), catalog, controller)
	watcher.SetLogger(log)
	watcher.SetDispatcher(dispatcher)
	watcher.SetMetrics(m)
	if settings.EventLog.Dir != "" {
		events, err := eventlog.NewCSVLog(settings.EventLog.Dir)
		if err != nil {
			return err
		}
		watcher.SetEventLog(events)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if settings.Metrics.Listen != "" {
		server := serveMetrics(settings.Metrics.Listen, registry, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	log.WithFields(logrus.Fields{
		"people":    catalog.Len(),
		"threshold": controller.GlobalThreshold(),
		"session":   controller.SessionID(),
	}).Infof("replay: started")

	r := &replayer{watcher: watcher, out: cmd.OutOrStdout(), log: log}
	runErr := replayLines(ctx, input, r)
	watcher.Close()

	if err := controller.Save(settings.Learning.StatePath); err != nil {
		return err
	}
	log.WithField("path", settings.Learning.StatePath).Infof("replay: learning state saved")
	return runErr
}

func replayLines(ctx context.Context, input io.Reader, r *replayer) error {
	scanner := bufio.NewScanner(input)
	// Embeddings make long lines
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			r.log.Infof("replay: interrupted")
			return nil
		}
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := r.handleLine(line); err != nil {
			return errors.Wrapf(err, "line %d", lineNo)
		}
	}
	return errors.Wrap(scanner.Err(), "Can't read input")
}

func watchOptions(settings *config.Settings) watch.Options {
	return watch.Options{
		IoUThreshold:          settings.Tracking.IoUThreshold,
		TTL:                   settings.Tracking.TTL,
		HistorySize:           settings.Tracking.HistorySize,
		ConfirmationThreshold: settings.Tracking.ConfirmationThreshold,
		UnknownAfter:          settings.Alerts.UnknownAfter,
		Cooldown:              settings.Alerts.Cooldown,
	}
}

// buildDispatcher wires log, shoutrrr and MQTT notifiers. Returned func releases connections.
func buildDispatcher(settings config.NotifySettings, log logrus.FieldLogger) (*notify.Dispatcher, func(), error) {
	notifiers := []notify.Notifier{notify.NewLogNotifier(log)}
	closer := func() {}

	if len(settings.URLs) > 0 {
		sh, err := notify.NewShoutrrrNotifier(settings.Timeout, settings.URLs...)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, sh)
	}
	if settings.MQTT.Broker != "" {
		mq, err := notify.NewMQTTNotifier(notify.MQTTConfig{
			Broker:   settings.MQTT.Broker,
			ClientID: settings.MQTT.ClientID,
			Username: settings.MQTT.Username,
			Password: settings.MQTT.Password,
			Topic:    settings.MQTT.Topic,
		}, settings.Timeout)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, mq)
		closer = mq.Close
	}

	d := notify.NewDispatcher(settings.Timeout, notifiers...)
	d.SetLogger(log)
	return d, closer, nil
}

func serveMetrics(listen string, registry *prometheus.Registry, log logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithField("listen", listen).Errorf("replay: metrics server: %s", err)
		}
	}()
	log.WithField("listen", listen).Infof("replay: serving /metrics")
	return server
}
