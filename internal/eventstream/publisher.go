package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type (
	// PublisherOptions configures a Publisher.
	PublisherOptions struct {
		// Client is the Pulse client used to publish events. Required.
		Client Client
		// StreamID derives the target Pulse stream from an event. Defaults to
		// streamID (per-user partitioning).
		StreamID func(Event) string
		// MarshalEnvelope allows overriding the envelope serialization (primarily for tests).
		MarshalEnvelope func(envelope) ([]byte, error)
	}

	// Publisher publishes lifecycle Events into Pulse streams. Thread-safe
	// for concurrent Publish calls.
	Publisher struct {
		client          Client
		streamIDFn      func(Event) string
		marshalEnvelope func(envelope) ([]byte, error)
	}

	// envelope wraps a lifecycle event for transmission over Pulse streams.
	envelope struct {
		Type       string    `json:"type"`
		InstanceID string    `json:"instance_id,omitempty"`
		TaskID     string    `json:"task_id,omitempty"`
		UserID     string    `json:"user_id,omitempty"`
		Timestamp  time.Time `json:"timestamp"`
		Payload    any       `json:"payload,omitempty"`
	}
)

// NewPublisher constructs a Publisher. The Client field in opts is required.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Client == nil {
		return nil, errors.New("eventstream: pulse client is required")
	}
	idFn := opts.StreamID
	if idFn == nil {
		idFn = streamID
	}
	marshal := opts.MarshalEnvelope
	if marshal == nil {
		marshal = defaultMarshal
	}
	return &Publisher{client: opts.Client, streamIDFn: idFn, marshalEnvelope: marshal}, nil
}

// Publish writes ev to the derived Pulse stream, returning the Redis-assigned
// entry ID. Callers that don't care about delivery confirmation (e.g., the
// executor's best-effort lifecycle notifications) may ignore the returned
// error; losing an observability event never aborts the underlying scenario
// or task operation.
func (p *Publisher) Publish(ctx context.Context, ev Event) (string, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	sid := p.streamIDFn(ev)
	handle, err := p.client.Stream(sid)
	if err != nil {
		return "", err
	}
	env := envelope{
		Type:       string(ev.Type),
		InstanceID: ev.InstanceID,
		TaskID:     ev.TaskID,
		UserID:     ev.UserID,
		Timestamp:  ev.Timestamp,
		Payload:    ev.Payload,
	}
	payload, err := p.marshalEnvelope(env)
	if err != nil {
		return "", err
	}
	return handle.Add(ctx, env.Type, payload)
}

// Close releases resources owned by the publisher's Pulse client.
func (p *Publisher) Close(ctx context.Context) error {
	return p.client.Close(ctx)
}

func defaultMarshal(env envelope) ([]byte, error) {
	return json.Marshal(env)
}
