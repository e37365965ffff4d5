package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	subject string
	data    []byte
	opts    int
	err     error
}

func (f *fakeStream) Publish(_ context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subject = subject
	f.data = data
	f.opts = len(opts)
	return &jetstream.PubAck{Stream: EventsStream, Sequence: 1}, nil
}

func TestJetStreamPublisher_Publish(t *testing.T) {
	stream := &fakeStream{}
	p := &JetStreamPublisher{js: stream}
	matchID := uuid.New()
	evt := Event{
		Type:       MatchCompleted,
		MatchID:    matchID,
		Status:     models.MatchStatusCompleted,
		UserID:     "alice",
		Data:       map[string]any{"winner_share": 17500},
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	require.NoError(t, p.Publish(context.Background(), evt))
	assert.Equal(t, "lobby.events.match.completed."+matchID.String(), stream.subject)
	assert.Equal(t, 1, stream.opts)

	var decoded Event
	require.NoError(t, json.Unmarshal(stream.data, &decoded))
	assert.Equal(t, MatchCompleted, decoded.Type)
	assert.Equal(t, matchID, decoded.MatchID)
	assert.Equal(t, "alice", decoded.UserID)
}

func TestJetStreamPublisher_PublishError(t *testing.T) {
	p := &JetStreamPublisher{js: &fakeStream{err: errors.New("no responders")}}
	err := p.Publish(context.Background(), Event{Type: MatchLive, MatchID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "match.live")
}

func TestRecorder(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Publish(context.Background(), Event{Type: MatchCreated}))
	require.NoError(t, r.Publish(context.Background(), Event{Type: PlayerJoined}))
	assert.Equal(t, []Type{MatchCreated, PlayerJoined}, r.Types())
	assert.Len(t, r.Events(), 2)
}
