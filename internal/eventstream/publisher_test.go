package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	streamopts "goa.design/pulse/streaming/options"
)

// fakeClient, fakeStream implement Client/Stream directly for tests; no
// Redis or Pulse server involved.
type fakeClient struct {
	streamFn func(name string) (Stream, error)
}

func (c *fakeClient) Stream(name string, _ ...streamopts.Stream) (Stream, error) {
	return c.streamFn(name)
}
func (c *fakeClient) Close(context.Context) error { return nil }

type fakeStream struct {
	addFn func(ctx context.Context, event string, payload []byte) (string, error)
}

func (s *fakeStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	return s.addFn(ctx, event, payload)
}
func (s *fakeStream) NewSink(context.Context, string, ...streamopts.Sink) (Sink, error) {
	return nil, errors.New("not implemented")
}
func (s *fakeStream) Destroy(context.Context) error { return nil }

func TestPublishWritesEnvelopeToPerUserStream(t *testing.T) {
	var gotName, gotEventType string
	var gotPayload []byte
	cli := &fakeClient{streamFn: func(name string) (Stream, error) {
		gotName = name
		return &fakeStream{addFn: func(_ context.Context, event string, payload []byte) (string, error) {
			gotEventType = event
			gotPayload = payload
			return "1-0", nil
		}}, nil
	}}

	pub, err := NewPublisher(PublisherOptions{Client: cli})
	require.NoError(t, err)

	id, err := pub.Publish(context.Background(), Event{
		Type:       EventScenarioPaused,
		InstanceID: "inst-1",
		UserID:     "user-42",
		Payload:    map[string]string{"waiting_on": "user_reply"},
	})
	require.NoError(t, err)
	require.Equal(t, "1-0", id)
	require.Equal(t, "events/user-42", gotName)
	require.Equal(t, "scenario_paused", gotEventType)

	var env envelope
	require.NoError(t, json.Unmarshal(gotPayload, &env))
	require.Equal(t, "inst-1", env.InstanceID)
	require.False(t, env.Timestamp.IsZero())
}

func TestPublishDefaultsToGlobalStreamWithoutUserID(t *testing.T) {
	var gotName string
	cli := &fakeClient{streamFn: func(name string) (Stream, error) {
		gotName = name
		return &fakeStream{addFn: func(context.Context, string, []byte) (string, error) { return "1-0", nil }}, nil
	}}
	pub, err := NewPublisher(PublisherOptions{Client: cli})
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), Event{Type: EventTaskFailed, TaskID: "task-1"})
	require.NoError(t, err)
	require.Equal(t, "events/global", gotName)
}

func TestNewPublisherRequiresClient(t *testing.T) {
	_, err := NewPublisher(PublisherOptions{})
	require.Error(t, err)
}
