package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"
)

type (
	// EnvelopeDecoder converts a raw payload read from Pulse into an Event.
	// Custom decoders can be provided to handle non-standard envelope formats.
	EnvelopeDecoder func([]byte) (Event, error)

	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client Client
		// SinkName identifies the Pulse consumer group. Defaults to "scenario_orchestrator".
		SinkName string
		// Buffer specifies the event channel capacity. Defaults to 64.
		Buffer int
		// Decoder deserializes event payloads. Defaults to the built-in JSON decoder.
		Decoder EnvelopeDecoder
	}

	// Subscriber consumes Pulse streams and emits lifecycle Events. It wraps
	// a Pulse sink (consumer group) and decodes incoming payloads into
	// Event values.
	Subscriber struct {
		client Client
		buffer int
		name   string
		decode EnvelopeDecoder
	}
)

// NewSubscriber constructs a Pulse-backed subscriber. The Client field in
// opts is required; SinkName, Buffer, and Decoder default to sensible
// values if not provided.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("eventstream: pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "scenario_orchestrator"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = decodeEnvelope
	}
	return &Subscriber{client: opts.Client, buffer: buffer, name: name, decode: decoder}, nil
}

// Subscribe opens a Pulse sink on the given stream ID (e.g., "events/<user_id>")
// and returns channels for events and errors. It spawns a goroutine that
// consumes from the sink, decodes payloads, and emits lifecycle events. The
// returned cancel function stops consumption, closes the sink, and closes
// both channels.
func (s *Subscriber) Subscribe(
	ctx context.Context,
	streamName string,
	opts ...streamopts.Sink,
) (<-chan Event, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamName)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan Event, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, events, errs)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return events, errs, cancelFunc, nil
}

// consume reads events from the Pulse sink channel, decodes them, and emits
// them on the out channel. It acks each event after successful emission.
// Closes both channels when ctx is canceled or when the sink channel closes.
func (s *Subscriber) consume(ctx context.Context, sink Sink, out chan<- Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			decoded, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("eventstream: decode payload: %w", err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if ackErr := sink.Ack(ctx, evt); ackErr != nil {
				errs <- fmt.Errorf("eventstream: ack: %w", ackErr)
				return
			}
		}
	}
}

// decodeEnvelope deserializes the default JSON envelope format into an Event.
func decodeEnvelope(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, err
	}
	return Event{
		Type:       EventType(env.Type),
		InstanceID: env.InstanceID,
		TaskID:     env.TaskID,
		UserID:     env.UserID,
		Timestamp:  env.Timestamp,
		Payload:    env.Payload,
	}, nil
}
