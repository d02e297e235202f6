package publish

import (
	"context"

	"github.com/loykin/streamgate/internal/history"
)

// SinkTransport archives messages into a history sink.
type SinkTransport struct {
	name string
	sink history.Sink
}

func NewSinkTransport(name string, sink history.Sink) *SinkTransport {
	if name == "" {
		name = "history"
	}
	return &SinkTransport{name: name, sink: sink}
}

func (s *SinkTransport) Name() string { return s.name }

func (s *SinkTransport) Send(ctx context.Context, m Message) error {
	return s.sink.Send(ctx, history.Event{
		ID:         m.ID,
		Domain:     m.Domain,
		Type:       m.Event,
		EntityID:   m.EntityID,
		Details:    m.Details,
		OccurredAt: m.Timestamp,
	})
}

// Close closes the underlying sink when it supports it.
func (s *SinkTransport) Close() error {
	if c, ok := s.sink.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
