package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const (
	EventsStream   = "LOBBY_EVENTS"
	EventsSubjects = "lobby.events.>"
	ResultsStream  = "LOBBY_RESULTS"
	ResultsSubject = "lobby.results.>"
)

type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamPublisher publishes events to lobby.events.{type}.{match_id}.
type JetStreamPublisher struct {
	js streamPublisher
}

func NewJetStreamPublisher(js jetstream.JetStream) *JetStreamPublisher {
	return &JetStreamPublisher{js: js}
}

func (p *JetStreamPublisher) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// Message ID lets JetStream drop duplicates inside its dedup window.
	msgID := fmt.Sprintf("%s:%s:%d", evt.Type, evt.MatchID, evt.OccurredAt.UnixNano())
	if _, err := p.js.Publish(ctx, Subject(evt), data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	return nil
}

// Subject is the outbound subject for evt.
func Subject(evt Event) string {
	return fmt.Sprintf("lobby.events.%s.%s", evt.Type, evt.MatchID)
}

// EnsureStreams creates the outbound events stream and the inbound results stream.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:       EventsStream,
			Subjects:   []string{EventsSubjects},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 2 * time.Minute,
			Replicas:   1,
		},
		{
			Name:      ResultsStream,
			Subjects:  []string{ResultsSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.WorkQueuePolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		zap.L().Info("ensured jetstream stream", zap.String("stream", cfg.Name))
	}
	return nil
}

// Connect dials NATS with unbounded reconnects and returns a JetStream handle.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("wager-lobby"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			zap.L().Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			zap.L().Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
