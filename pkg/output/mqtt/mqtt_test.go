package mqtt

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/labtelemetry/pkg/output"
	"github.com/ericogr/labtelemetry/pkg/sensor"
)

type fakeToken struct {
	done bool
	err  error
}

func (t *fakeToken) Wait() bool                     { return t.done }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t *fakeToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient implements only what the output uses.
type fakeClient struct {
	paho.Client
	msgs         []published
	stall        bool
	err          error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.msgs = append(c.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return &fakeToken{done: !c.stall, err: c.err}
}

func (c *fakeClient) Disconnect(quiesce uint) { c.disconnected = true }

func channels() []sensor.Channel {
	return []sensor.Channel{
		{ID: "p", Label: "Pressure", Sensor: sensor.LinearVoltage{Scale: 7.5, Offset: 0.5}, Quantity: "Pressure", Unit: "PSI"},
		{ID: "flow", Sensor: sensor.FrequencyCount{KFactor: 98}, Quantity: "Flow", Unit: "L/min"},
	}
}

func TestMetaIsRetained(t *testing.T) {
	c := &fakeClient{}
	_, err := newMQTT(c, "lab/rig1/", channels(), "run-1", 0)
	require.NoError(t, err)
	require.Len(t, c.msgs, 1)
	assert.Equal(t, "lab/rig1/meta", c.msgs[0].topic)
	assert.True(t, c.msgs[0].retained)

	var meta runMeta
	require.NoError(t, json.Unmarshal(c.msgs[0].payload, &meta))
	assert.Equal(t, "run-1", meta.RunID)
	require.Len(t, meta.Channels, 2)
	assert.Equal(t, "lab/rig1/p", meta.Channels[0].Topic)
	assert.Equal(t, "flow", meta.Channels[1].Label)
	assert.Equal(t, "frequency_count", meta.Channels[1].Sensor)
}

func TestPublishPointsPerChannel(t *testing.T) {
	c := &fakeClient{}
	m, err := newMQTT(c, "", channels(), "run-1", time.Millisecond)
	require.NoError(t, err)
	ts := time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC)
	err = m.Publish([]output.Point{
		{Seq: 1, ChannelID: "p", Time: ts, Elapsed: time.Second, Value: 12.5, Valid: true},
		{Seq: 1, ChannelID: "flow", Time: ts, Elapsed: time.Second, Value: math.NaN()},
	})
	require.NoError(t, err)
	require.Len(t, c.msgs, 3)
	assert.Equal(t, "labtelemetry/p", c.msgs[1].topic)
	assert.False(t, c.msgs[1].retained)
	assert.JSONEq(t, `{"seq":1,"time":"2025-09-19T14:41:54Z","elapsed":1,"value":12.5,"valid":true}`, string(c.msgs[1].payload))
	assert.JSONEq(t, `{"seq":1,"time":"2025-09-19T14:41:54Z","elapsed":1,"value":null,"valid":false}`, string(c.msgs[2].payload))

	require.NoError(t, m.Close())
	assert.True(t, c.disconnected)
}

func TestPublishTimeoutAndError(t *testing.T) {
	c := &fakeClient{}
	m, err := newMQTT(c, "t", channels(), "r", time.Millisecond)
	require.NoError(t, err)

	c.stall = true
	err = m.Publish([]output.Point{{ChannelID: "p", Valid: true}})
	assert.ErrorIs(t, err, ErrPublishTimeout)

	c.stall = false
	boom := errors.New("broker gone")
	c.err = boom
	assert.ErrorIs(t, m.Publish([]output.Point{{ChannelID: "p"}}), boom)

	_, err = newMQTT(&fakeClient{err: boom}, "t", channels(), "r", 0)
	assert.ErrorIs(t, err, boom)
}
