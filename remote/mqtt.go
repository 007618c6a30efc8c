package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/spieswl/webrtc-perception/transfer"
)

const (
	// SequenceDataTopic carries a transfer.Tag before every frame
	SequenceDataTopic = "sequence_data"

	// PhotoDimensionsTopic carries the size of every captured frame
	PhotoDimensionsTopic = "photo_dimensions"

	tokenTimeout = 5 * time.Second
)

// Dimensions is the payload of PhotoDimensionsTopic
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MQTTConfig holds the broker connection parameters
type MQTTConfig struct {
	// Broker is host:port of the MQTT broker
	Broker string `koanf:"Broker" yaml:"Broker"`

	// ClientID identifies this node to the broker
	ClientID string `koanf:"ClientID" yaml:"ClientID"`

	// Prefix is prepended to every topic, e.g. "rig1" gives rig1/image_request
	Prefix string `koanf:"Prefix" yaml:"Prefix"`

	// QoS is used for subscriptions and publishes
	QoS byte `koanf:"QoS" yaml:"QoS"`
}

// MQTT subscribes to command topics and publishes frame tags.  It
// implements sequence.Reporter.
type MQTT struct {
	Client mqtt.Client
	Prefix string
	QoS    byte

	log *log.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	pending sync.WaitGroup
}

// NewMQTT wraps an existing client
func NewMQTT(client mqtt.Client, prefix string, qos byte) *MQTT {
	return &MQTT{
		Client: client,
		Prefix: prefix,
		QoS:    qos,
		log:    log.New(os.Stderr, "remote ", log.LstdFlags)}
}

// Dial connects to the broker described by cfg, reconnecting automatically
func Dial(cfg MQTTConfig) (*MQTT, error) {
	m := NewMQTT(nil, cfg.Prefix, cfg.QoS)
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		m.log.Println("mqtt connection lost, reconnecting:", err)
	}
	m.Client = mqtt.NewClient(opts)
	token := m.Client.Connect()
	if !token.WaitTimeout(tokenTimeout) {
		return nil, errors.Errorf("remote: connecting to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "remote: connecting to %s", cfg.Broker)
	}
	m.log.Println("connected to mqtt broker", cfg.Broker)
	return m, nil
}

// Topic joins the prefix and a topic name
func (m *MQTT) Topic(name string) string {
	if m.Prefix == "" {
		return name
	}
	return m.Prefix + "/" + name
}

// Subscribe listens on one topic per command and dispatches to h.  Each
// command runs on its own goroutine so a long single shot capture does not
// hold up a Stop.
func (m *MQTT) Subscribe(ctx context.Context, h Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	filters := map[string]byte{}
	byTopic := map[string]Command{}
	for _, c := range Commands() {
		t := m.Topic(c.Event())
		filters[t] = m.QoS
		byTopic[t] = c
	}
	token := m.Client.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
		cmd, ok := byTopic[msg.Topic()]
		if !ok {
			m.log.Println("ignoring message on", msg.Topic())
			return
		}
		m.pending.Add(1)
		go func() {
			defer m.pending.Done()
			if err := Dispatch(ctx, h, cmd); err != nil {
				m.log.Printf("%s: %v", cmd, err)
			}
		}()
	})
	if !token.WaitTimeout(tokenTimeout) {
		cancel()
		return errors.New("remote: subscription timed out")
	}
	if err := token.Error(); err != nil {
		cancel()
		return errors.Wrap(err, "remote: subscribe")
	}
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	return nil
}

// Close unsubscribes, waits for dispatched commands, and disconnects
func (m *MQTT) Close() error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		topics := []string{}
		for _, c := range Commands() {
			topics = append(topics, m.Topic(c.Event()))
		}
		m.Client.Unsubscribe(topics...).WaitTimeout(tokenTimeout)
		cancel()
	}
	m.pending.Wait()
	m.Client.Disconnect(250)
	return nil
}

func (m *MQTT) publish(name string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		m.log.Println(err)
		return
	}
	// fire and forget; tags are bookkeeping only
	m.Client.Publish(m.Topic(name), m.QoS, false, b)
}

// ReportTag publishes tag on SequenceDataTopic
func (m *MQTT) ReportTag(tag transfer.Tag) {
	m.publish(SequenceDataTopic, tag)
}

// ReportDimensions publishes the frame size on PhotoDimensionsTopic
func (m *MQTT) ReportDimensions(width, height int) {
	m.publish(PhotoDimensionsTopic, Dimensions{Width: width, Height: height})
}
