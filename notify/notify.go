// Package notify delivers welcome messages and unknown person alerts.
package notify

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// AlertTitle is the title of unknown person alerts
	AlertTitle = "Security Alert: Unknown Person Detected"
	// AlertMessage is the default body of unknown person alerts
	AlertMessage = "An unknown person was detected."
)

// Notifier is a notification sink. Implementations may block; Dispatcher bounds them with a context.
type Notifier interface {
	Welcome(ctx context.Context, name string) error
	UnknownAlert(ctx context.Context, details string) error
}

// WelcomeMessage formats greeting for a person: underscores in stored names become spaces
func WelcomeMessage(name string) string {
	return "Welcome, " + strings.ReplaceAll(name, "_", " ")
}

// LogNotifier writes notifications to the log
type LogNotifier struct {
	log logrus.FieldLogger
}

// NewLogNotifier creates LogNotifier. Nil logger means logrus standard logger.
func NewLogNotifier(log logrus.FieldLogger) *LogNotifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogNotifier{log: log}
}

// Welcome logs greeting
func (n *LogNotifier) Welcome(_ context.Context, name string) error {
	n.log.WithField("name", name).Infof("notify: %s", WelcomeMessage(name))
	return nil
}

// UnknownAlert logs alert
func (n *LogNotifier) UnknownAlert(_ context.Context, details string) error {
	n.log.WithField("details", details).Warnf("notify: %s", AlertTitle)
	return nil
}
