package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ericogr/labtelemetry/pkg/config"
	"github.com/ericogr/labtelemetry/pkg/output"
	"github.com/ericogr/labtelemetry/pkg/sensor"
)

const (
	DefaultTopic = "labtelemetry"

	metaSuffix    = "meta"
	connectWait   = 10 * time.Second
	disconnectMs  = 250
	defaultBudget = 50 * time.Millisecond
)

var ErrPublishTimeout = errors.New("mqtt publish timed out")

type MQTTOutput struct {
	client mqtt.Client
	topic  string
	budget time.Duration
}

// channelMeta is one legend entry of the retained meta message.
type channelMeta struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Sensor   string `json:"sensor"`
	Quantity string `json:"quantity"`
	Unit     string `json:"unit"`
	Topic    string `json:"topic"`
}

type runMeta struct {
	RunID    string        `json:"run_id"`
	Started  time.Time     `json:"started"`
	Channels []channelMeta `json:"channels"`
}

type pointPayload struct {
	Seq     uint64   `json:"seq"`
	Time    string   `json:"time"`
	Elapsed float64  `json:"elapsed"`
	Value   *float64 `json:"value"`
	Valid   bool     `json:"valid"`
}

func NewMQTT(cfg config.MQTTConfig, channels []sensor.Channel, runID string, budget time.Duration) (output.ChartSink, error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectWait) {
		return nil, fmt.Errorf("mqtt connect: no answer from %s after %s", cfg.Server, connectWait)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	m, err := newMQTT(client, cfg.Topic, channels, runID, budget)
	if err != nil {
		client.Disconnect(disconnectMs)
		return nil, err
	}
	return m, nil
}

// newMQTT publishes the retained meta message so late subscribers learn the
// legend and run id.
func newMQTT(client mqtt.Client, topic string, channels []sensor.Channel, runID string, budget time.Duration) (*MQTTOutput, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	if budget <= 0 {
		budget = defaultBudget
	}
	m := &MQTTOutput{client: client, topic: strings.TrimSuffix(topic, "/"), budget: budget}
	meta := runMeta{RunID: runID, Started: time.Now().UTC()}
	for _, ch := range channels {
		meta.Channels = append(meta.Channels, channelMeta{
			ID:       ch.ID,
			Label:    ch.Name(),
			Sensor:   ch.Sensor.Kind(),
			Quantity: ch.Quantity,
			Unit:     ch.Unit,
			Topic:    m.pointTopic(ch.ID),
		})
	}
	if err := m.publishJSON(m.metaTopic(), true, meta, connectWait); err != nil {
		return nil, fmt.Errorf("mqtt meta publish: %w", err)
	}
	return m, nil
}

func (m *MQTTOutput) pointTopic(channelID string) string { return m.topic + "/" + channelID }
func (m *MQTTOutput) metaTopic() string                  { return m.topic + "/" + metaSuffix }

func (m *MQTTOutput) Publish(points []output.Point) error {
	for _, p := range points {
		if err := m.publishJSON(m.pointTopic(p.ChannelID), false, payloadFor(p), m.budget); err != nil {
			return fmt.Errorf("channel %s: %w", p.ChannelID, err)
		}
	}
	return nil
}

// payloadFor encodes NaN as a JSON null.
func payloadFor(p output.Point) pointPayload {
	pl := pointPayload{
		Seq:     p.Seq,
		Time:    p.Time.UTC().Format(time.RFC3339Nano),
		Elapsed: p.Elapsed.Seconds(),
		Valid:   p.Valid,
	}
	if p.Valid && !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0) {
		v := p.Value
		pl.Value = &v
	}
	return pl
}

func (m *MQTTOutput) publishJSON(topic string, retained bool, payload any, wait time.Duration) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := m.client.Publish(topic, 0, retained, b)
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	return token.Error()
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(disconnectMs)
	}
	return nil
}
