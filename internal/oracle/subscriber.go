package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/wager-lobby/internal/domain"
	"github.com/ayo6706/wager-lobby/internal/events"
	"github.com/ayo6706/wager-lobby/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const (
	SignatureHeader   = "Oracle-Signature"
	ServerTokenHeader = "Server-Token"

	consumerName = "lobby-settlement"

	// Spreads MaxDeliver attempts over the window a match needs to go LIVE.
	notStartedRetryDelay = 15 * time.Second
)

// resultMessage is the part of jetstream.Msg the subscriber uses.
type resultMessage interface {
	Subject() string
	Data() []byte
	Headers() nats.Header
	Ack() error
	Nak() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// Subscriber consumes signed result reports from lobby.results.>.
type Subscriber struct {
	js      jetstream.JetStream
	adapter *Adapter
	cc      jetstream.ConsumeContext
}

func NewSubscriber(js jetstream.JetStream, adapter *Adapter) *Subscriber {
	return &Subscriber{js: js, adapter: adapter}
}

// Start creates the durable consumer and begins delivery. Reports are
// acknowledged once settled, terminated when they can never succeed and
// nak'd for redelivery otherwise.
func (s *Subscriber) Start(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, events.ResultsStream, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: events.ResultsSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    10,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}
	s.cc = cc
	zap.L().Info("subscribed to result reports", zap.String("subject", events.ResultsSubject), zap.String("consumer", consumerName))
	return nil
}

func (s *Subscriber) Stop() {
	if s.cc != nil {
		s.cc.Stop()
	}
}

func (s *Subscriber) handle(ctx context.Context, msg resultMessage) {
	log := zap.L().With(zap.String("subject", msg.Subject()))
	creds := Credentials{}
	if h := msg.Headers(); h != nil {
		creds.Signature = h.Get(SignatureHeader)
		creds.ServerToken = h.Get(ServerTokenHeader)
	}

	res, err := s.adapter.handleReport(ctx, msg.Data(), creds, domain.SourceStream)
	switch {
	case err == nil:
		log.Info("result report settled", zap.String("match_id", res.MatchID.String()), zap.Bool("replayed", res.Replayed))
		ackOrLog(log, "ack", msg.Ack())
	case errors.Is(err, models.ErrMatchNotStarted):
		log.Info("result report arrived before match start, retrying later", zap.Error(err))
		ackOrLog(log, "nak", msg.NakWithDelay(notStartedRetryDelay))
	case Permanent(err):
		log.Warn("result report rejected", zap.Error(err))
		ackOrLog(log, "term", msg.Term())
	default:
		log.Error("result report failed, requesting redelivery", zap.Error(err))
		ackOrLog(log, "nak", msg.Nak())
	}
}

func ackOrLog(log *zap.Logger, op string, err error) {
	if err != nil {
		log.Warn("jetstream "+op+" failed", zap.Error(err))
	}
}
