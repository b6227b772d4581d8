package notify

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

// MQTTConfig holds broker connection settings
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// Event is the JSON payload published to MQTT
type Event struct {
	Kind      string    `json:"kind"`
	Name      string    `json:"name,omitempty"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MQTTNotifier publishes notifications as JSON events to a broker topic
type MQTTNotifier struct {
	client mqtt.Client
	topic  string
	now    func() time.Time
}

// NewMQTTNotifier connects to broker
func NewMQTTNotifier(cfg MQTTConfig, connectTimeout time.Duration) (*MQTTNotifier, error) {
	if cfg.Broker == "" {
		return nil, errors.New("broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		client.Disconnect(0)
		return nil, errors.Errorf("Can't connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "Can't connect to %s", cfg.Broker)
	}
	return NewMQTTNotifierWithClient(client, cfg.Topic), nil
}

// NewMQTTNotifierWithClient wraps already configured client
func NewMQTTNotifierWithClient(client mqtt.Client, topic string) *MQTTNotifier {
	return &MQTTNotifier{
		client: client,
		topic:  topic,
		now:    time.Now,
	}
}

// Welcome publishes welcome event
func (n *MQTTNotifier) Welcome(ctx context.Context, name string) error {
	return n.publish(ctx, Event{Kind: KindWelcome, Name: name, Message: WelcomeMessage(name)})
}

// UnknownAlert publishes alert event
func (n *MQTTNotifier) UnknownAlert(ctx context.Context, details string) error {
	return n.publish(ctx, Event{Kind: KindAlert, Message: AlertTitle, Details: details})
}

// Close disconnects from broker
func (n *MQTTNotifier) Close() {
	if n.client.IsConnected() {
		n.client.Disconnect(250)
	}
}

func (n *MQTTNotifier) publish(ctx context.Context, event Event) error {
	if !n.client.IsConnected() {
		return errors.New("not connected to MQTT broker")
	}
	event.Timestamp = n.now()
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "Can't encode event")
	}
	token := n.client.Publish(n.topic, 0, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "Can't publish to %s", n.topic)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "Can't publish to %s", n.topic)
	}
	return nil
}
