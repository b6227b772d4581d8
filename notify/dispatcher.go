package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single notifier call
const DefaultTimeout = 10 * time.Second

// Event kinds passed to failure handler
const (
	KindWelcome = "welcome"
	KindAlert   = "unknown_alert"
)

// FailureHandler is called for every failed (or panicked) notifier call
type FailureHandler func(kind string, err error)

// Dispatcher fans notifications out to notifiers on background goroutines.
// Calls never block the caller and failures never reach it.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	onFailure FailureHandler
	wg        sync.WaitGroup
	log       logrus.FieldLogger
}

// NewDispatcher creates Dispatcher. Non-positive timeout falls back to DefaultTimeout.
func NewDispatcher(timeout time.Duration, notifiers ...Notifier) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   timeout,
		log:       logrus.StandardLogger(),
	}
}

// SetLogger replaces dispatcher's logger
func (d *Dispatcher) SetLogger(log logrus.FieldLogger) {
	if log != nil {
		d.log = log
	}
}

// OnFailure registers failure handler. Must be called before dispatching.
func (d *Dispatcher) OnFailure(handler FailureHandler) {
	d.onFailure = handler
}

// Len returns number of notifiers
func (d *Dispatcher) Len() int {
	return len(d.notifiers)
}

// Welcome greets person on every notifier
func (d *Dispatcher) Welcome(name string) {
	d.dispatch(KindWelcome, func(ctx context.Context, n Notifier) error {
		return n.Welcome(ctx, name)
	})
}

// UnknownAlert raises alert on every notifier
func (d *Dispatcher) UnknownAlert(details string) {
	d.dispatch(KindAlert, func(ctx context.Context, n Notifier) error {
		return n.UnknownAlert(ctx, details)
	})
}

// Wait blocks until every dispatched call has returned
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(kind string, call func(ctx context.Context, n Notifier) error) {
	for _, n := range d.notifiers {
		d.wg.Add(1)
		go func(n Notifier) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := safeCall(ctx, n, call); err != nil {
				d.log.WithField("notifier", fmt.Sprintf("%T", n)).
					WithField("kind", kind).
					Errorf("notify: %s", err)
				if d.onFailure != nil {
					d.onFailure(kind, err)
				}
			}
		}(n)
	}
}

// safeCall converts notifier panic into error
func safeCall(ctx context.Context, n Notifier, call func(ctx context.Context, n Notifier) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("notifier panicked: %v", r)
		}
	}()
	return call(ctx, n)
}
