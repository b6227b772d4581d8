// Package config loads facewatch settings from defaults, an optional YAML file
// and FACEWATCH_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. FACEWATCH_LEARNING_STATE_PATH
const EnvPrefix = "FACEWATCH"

// Settings is the complete configuration
type Settings struct {
	Tracking TrackingSettings `mapstructure:"tracking"`
	Alerts   AlertSettings    `mapstructure:"alerts"`
	Learning LearningSettings `mapstructure:"learning"`
	Catalog  CatalogSettings  `mapstructure:"catalog"`
	EventLog EventLogSettings `mapstructure:"eventlog"`
	Notify   NotifySettings   `mapstructure:"notify"`
	Metrics  MetricsSettings  `mapstructure:"metrics"`
	Log      LogSettings      `mapstructure:"log"`
}

// TrackingSettings configures association and confirmation
type TrackingSettings struct {
	IoUThreshold          float64 `mapstructure:"iou_threshold"`
	TTL                   int     `mapstructure:"ttl"`
	HistorySize           int     `mapstructure:"history_size"`
	ConfirmationThreshold int     `mapstructure:"confirmation_threshold"`
}

// AlertSettings configures unknown person alerts
type AlertSettings struct {
	// Track must stay unknown longer than this before alerting
	UnknownAfter time.Duration `mapstructure:"unknown_after"`
	// Similar unknown faces are not alerted again within cooldown
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// LearningSettings configures threshold controller
type LearningSettings struct {
	LearningRate     float64 `mapstructure:"learning_rate"`
	MinThreshold     float64 `mapstructure:"min_threshold"`
	MaxThreshold     float64 `mapstructure:"max_threshold"`
	InitialThreshold float64 `mapstructure:"initial_threshold"`
	MaxPending       int     `mapstructure:"max_pending"`
	RecentWindow     int     `mapstructure:"recent_window"`
	// .yaml file or .db/.sqlite/.sqlite3 database
	StatePath string `mapstructure:"state_path"`
}

// CatalogSettings points to known people embeddings
type CatalogSettings struct {
	Path string `mapstructure:"path"`
}

// EventLogSettings configures CSV event log. Empty dir disables it.
type EventLogSettings struct {
	Dir string `mapstructure:"dir"`
}

// NotifySettings configures notification sinks
type NotifySettings struct {
	// shoutrrr service URLs
	URLs    []string      `mapstructure:"urls"`
	Timeout time.Duration `mapstructure:"timeout"`
	MQTT    MQTTSettings  `mapstructure:"mqtt"`
}

// MQTTSettings configures MQTT publishing. Empty broker disables it.
type MQTTSettings struct {
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MetricsSettings configures Prometheus endpoint. Empty listen address disables it.
type MetricsSettings struct {
	Listen string `mapstructure:"listen"`
}

// LogSettings configures logrus
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tracking.iou_threshold", 0.5)
	v.SetDefault("tracking.ttl", 5)
	v.SetDefault("tracking.history_size", 10)
	v.SetDefault("tracking.confirmation_threshold", 3)

	v.SetDefault("alerts.unknown_after", 5*time.Second)
	v.SetDefault("alerts.cooldown", 300*time.Second)

	v.SetDefault("learning.learning_rate", 0.02)
	v.SetDefault("learning.min_threshold", 0.65)
	v.SetDefault("learning.max_threshold", 0.92)
	v.SetDefault("learning.initial_threshold", 0.80)
	v.SetDefault("learning.max_pending", 100)
	v.SetDefault("learning.recent_window", 20)
	v.SetDefault("learning.state_path", "data/learning_state.yaml")

	v.SetDefault("catalog.path", "data/catalog.yaml")
	v.SetDefault("eventlog.dir", "logs")

	v.SetDefault("notify.urls", []string{})
	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.mqtt.broker", "")
	v.SetDefault("notify.mqtt.topic", "facewatch/events")
	v.SetDefault("notify.mqtt.client_id", "facewatch")
	v.SetDefault("notify.mqtt.username", "")
	v.SetDefault("notify.mqtt.password", "")

	v.SetDefault("metrics.listen", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Default returns settings built from defaults only
func Default() *Settings {
	v := viper.New()
	setDefaults(v)
	s := &Settings{}
	// Defaults always decode
	_ = v.Unmarshal(s)
	return s
}

// Load reads settings. Empty path means defaults and environment only.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "Can't read config %s", path)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "Can't decode config")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate rejects inconsistent settings
func (s *Settings) Validate() error {
	t := s.Tracking
	if t.IoUThreshold <= 0 || t.IoUThreshold >= 1 {
		return errors.Errorf("tracking.iou_threshold must be in (0, 1), got %v", t.IoUThreshold)
	}
	if t.TTL < 1 {
		return errors.Errorf("tracking.ttl must be positive, got %d", t.TTL)
	}
	if t.HistorySize < 1 {
		return errors.Errorf("tracking.history_size must be positive, got %d", t.HistorySize)
	}
	if t.ConfirmationThreshold < 1 {
		return errors.Errorf("tracking.confirmation_threshold must be positive, got %d", t.ConfirmationThreshold)
	}

	if s.Alerts.UnknownAfter < 0 {
		return errors.Errorf("alerts.unknown_after must not be negative, got %s", s.Alerts.UnknownAfter)
	}
	if s.Alerts.Cooldown <= 0 {
		return errors.Errorf("alerts.cooldown must be positive, got %s", s.Alerts.Cooldown)
	}

	l := s.Learning
	if l.LearningRate <= 0 {
		return errors.Errorf("learning.learning_rate must be positive, got %v", l.LearningRate)
	}
	if l.MinThreshold <= 0 || l.MaxThreshold > 1 || l.MinThreshold > l.MaxThreshold {
		return errors.Errorf("learning thresholds must satisfy 0 < min <= max <= 1, got [%v, %v]", l.MinThreshold, l.MaxThreshold)
	}
	if l.InitialThreshold < l.MinThreshold || l.InitialThreshold > l.MaxThreshold {
		return errors.Errorf("learning.initial_threshold %v is outside [%v, %v]", l.InitialThreshold, l.MinThreshold, l.MaxThreshold)
	}
	if l.MaxPending < 1 {
		return errors.Errorf("learning.max_pending must be positive, got %d", l.MaxPending)
	}
	if l.RecentWindow < 1 {
		return errors.Errorf("learning.recent_window must be positive, got %d", l.RecentWindow)
	}

	if s.Notify.MQTT.Broker != "" && s.Notify.MQTT.Topic == "" {
		return errors.New("notify.mqtt.topic is required when broker is set")
	}

	if _, err := logrus.ParseLevel(s.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	switch s.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("log.format must be text or json, got %q", s.Log.Format)
	}
	return nil
}

// Apply configures logger level and format
func (l LogSettings) Apply(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return errors.Wrap(err, "log.level")
	}
	logger.SetLevel(level)
	if l.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
