package eventstream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type fakeSink struct {
	ch      chan *streaming.Event
	acked   []*streaming.Event
	closed  bool
}

func (s *fakeSink) Subscribe() <-chan *streaming.Event { return s.ch }
func (s *fakeSink) Ack(_ context.Context, evt *streaming.Event) error {
	s.acked = append(s.acked, evt)
	return nil
}
func (s *fakeSink) Close(context.Context) { s.closed = true }

type subFakeStream struct {
	sink *fakeSink
}

func (s *subFakeStream) Add(context.Context, string, []byte) (string, error) { return "", nil }
func (s *subFakeStream) NewSink(context.Context, string, ...streamopts.Sink) (Sink, error) {
	return s.sink, nil
}
func (s *subFakeStream) Destroy(context.Context) error { return nil }

func TestSubscribeDecodesAndAcksEvents(t *testing.T) {
	sink := &fakeSink{ch: make(chan *streaming.Event, 1)}
	cli := &fakeClient{streamFn: func(name string) (Stream, error) {
		require.Equal(t, "events/user-1", name)
		return &subFakeStream{sink: sink}, nil
	}}

	sub, err := NewSubscriber(SubscriberOptions{Client: cli, Buffer: 2})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "events/user-1")
	require.NoError(t, err)
	defer cancel()

	payload, _ := json.Marshal(envelope{
		Type:       "scenario_completed",
		InstanceID: "inst-9",
		Timestamp:  time.Now().UTC(),
		Payload:    map[string]string{"status": "ok"},
	})
	sink.ch <- &streaming.Event{ID: "1-0", Payload: payload}
	close(sink.ch)

	ev := <-events
	require.Equal(t, EventScenarioCompleted, ev.Type)
	require.Equal(t, "inst-9", ev.InstanceID)

	_, open := <-errs
	require.False(t, open)
	require.Len(t, sink.acked, 1)
}

func TestNewSubscriberRequiresClient(t *testing.T) {
	_, err := NewSubscriber(SubscriberOptions{})
	require.Error(t, err)
}
