package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	welcomes []string
	alerts   []string
}

func (r *recordingNotifier) Welcome(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.welcomes = append(r.welcomes, name)
	return nil
}

func (r *recordingNotifier) UnknownAlert(_ context.Context, details string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, details)
	return nil
}

type failingNotifier struct{}

func (failingNotifier) Welcome(context.Context, string) error {
	return errors.New("speaker unplugged")
}

func (failingNotifier) UnknownAlert(context.Context, string) error {
	panic("smtp exploded")
}

type slowNotifier struct{}

func (slowNotifier) Welcome(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (slowNotifier) UnknownAlert(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestWelcomeMessage(t *testing.T) {
	assert.Equal(t, "Welcome, John Smith", WelcomeMessage("John_Smith"))
	assert.Equal(t, "Welcome, Alice", WelcomeMessage("Alice"))
}

func TestDispatcherDeliversToAll(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}
	d := NewDispatcher(time.Second, a, b)
	d.Welcome("Alice")
	d.UnknownAlert("track 3")
	d.Wait()

	for _, r := range []*recordingNotifier{a, b} {
		assert.Equal(t, []string{"Alice"}, r.welcomes)
		assert.Equal(t, []string{"track 3"}, r.alerts)
	}
	assert.Equal(t, 2, d.Len())
}

func TestDispatcherSurvivesFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	rec := &recordingNotifier{}
	d := NewDispatcher(50*time.Millisecond, failingNotifier{}, slowNotifier{}, rec)
	d.SetLogger(logger)

	var mu sync.Mutex
	failures := map[string]int{}
	d.OnFailure(func(kind string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failures[kind]++
	})

	assert.NotPanics(t, func() {
		d.Welcome("Bob")
		d.UnknownAlert("")
	})
	d.Wait()

	// error + timeout for welcome, panic + timeout for alert
	assert.Equal(t, map[string]int{KindWelcome: 2, KindAlert: 2}, failures)
	assert.Equal(t, []string{"Bob"}, rec.welcomes)
	assert.Len(t, rec.alerts, 1)

	errorsLogged := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel {
			errorsLogged++
		}
	}
	assert.Equal(t, 4, errorsLogged)
}

func TestLogNotifier(t *testing.T) {
	logger, hook := test.NewNullLogger()
	n := NewLogNotifier(logger)
	require.NoError(t, n.Welcome(context.Background(), "Jane_Doe"))
	require.NoError(t, n.UnknownAlert(context.Background(), "track 1"))

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "notify: Welcome, Jane Doe", entries[0].Message)
	assert.Equal(t, logrus.WarnLevel, entries[1].Level)
	assert.Equal(t, "track 1", entries[1].Data["details"])
}

func TestShoutrrrNotifierRejectsBadURLs(t *testing.T) {
	_, err := NewShoutrrrNotifier(time.Second)
	assert.Error(t, err)

	_, err = NewShoutrrrNotifier(time.Second, "nosuchservice://token@host")
	assert.Error(t, err)
}

// fakeToken is an already completed mqtt.Token
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

// fakeClient records published messages; other mqtt.Client methods are not used
type fakeClient struct {
	mqtt.Client
	connected bool
	err       error
	topics    []string
	payloads  [][]byte
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	return newFakeToken(c.err)
}

func TestMQTTNotifierPublishesJSON(t *testing.T) {
	client := &fakeClient{connected: true}
	n := NewMQTTNotifierWithClient(client, "facewatch/events")
	fixed := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	require.NoError(t, n.Welcome(context.Background(), "John_Smith"))
	require.NoError(t, n.UnknownAlert(context.Background(), "track 7"))
	require.Len(t, client.payloads, 2)
	assert.Equal(t, []string{"facewatch/events", "facewatch/events"}, client.topics)

	var welcome Event
	require.NoError(t, json.Unmarshal(client.payloads[0], &welcome))
	assert.Equal(t, Event{Kind: KindWelcome, Name: "John_Smith", Message: "Welcome, John Smith", Timestamp: fixed}, welcome)

	var alert Event
	require.NoError(t, json.Unmarshal(client.payloads[1], &alert))
	assert.Equal(t, KindAlert, alert.Kind)
	assert.Equal(t, "track 7", alert.Details)
	assert.Empty(t, alert.Name)
}

func TestMQTTNotifierErrors(t *testing.T) {
	client := &fakeClient{connected: false}
	n := NewMQTTNotifierWithClient(client, "facewatch/events")
	assert.Error(t, n.Welcome(context.Background(), "Alice"))
	assert.Empty(t, client.payloads)

	client.connected = true
	client.err = errors.New("broker refused")
	err := n.UnknownAlert(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker refused")

	_, err = NewMQTTNotifier(MQTTConfig{Topic: "x"}, time.Second)
	assert.Error(t, err)
	_, err = NewMQTTNotifier(MQTTConfig{Broker: "tcp://localhost:1883"}, time.Second)
	assert.Error(t, err)
}
