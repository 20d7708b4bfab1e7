package mqtt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemon/internal/config"
	"telemon/internal/ingest"
)

type recordingProcessor struct {
	sources  []string
	payloads []string
	err      error
}

func (p *recordingProcessor) ProcessPayload(ctx context.Context, source string, body []byte) (ingest.BatchResult, error) {
	p.sources = append(p.sources, source)
	p.payloads = append(p.payloads, string(body))
	return ingest.BatchResult{}, p.err
}

func newOfflineSubscriber(p PayloadProcessor) *Subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscriber{
		cfg:       config.MQTTConfig{Topic: "sensors/+/telemetry"},
		processor: p,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func TestHandleMessage_ForwardsPayload(t *testing.T) {
	proc := &recordingProcessor{}
	s := newOfflineSubscriber(proc)

	s.HandleMessage("sensors/sat-1/telemetry", []byte(`{"device_id":"sat-1"}`))

	require.Len(t, proc.payloads, 1)
	assert.Equal(t, "mqtt", proc.sources[0])
	assert.JSONEq(t, `{"device_id":"sat-1"}`, proc.payloads[0])
}

func TestHandleMessage_SwallowsErrors(t *testing.T) {
	proc := &recordingProcessor{err: errors.New("db down")}
	s := newOfflineSubscriber(proc)

	assert.NotPanics(t, func() {
		s.HandleMessage("sensors/sat-1/telemetry", []byte(`{}`))
	})
}

func TestNewSubscriber_RequiresBrokerAndTopic(t *testing.T) {
	_, err := NewSubscriber(config.MQTTConfig{Topic: "t"}, &recordingProcessor{})
	assert.Error(t, err)

	_, err = NewSubscriber(config.MQTTConfig{Broker: "tcp://localhost:1883"}, &recordingProcessor{})
	assert.Error(t, err)
}

func TestClose_WithoutClient(t *testing.T) {
	s := newOfflineSubscriber(&recordingProcessor{})

	s.Close()

	assert.False(t, s.IsConnected())
	assert.Error(t, s.ctx.Err())
}
