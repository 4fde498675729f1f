// Package natsbus consumes account activity from a NATS JetStream stream, for
// deployments where a bridge process republishes venue activity onto a bus.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alejandrodnm/daitrader/internal/adapters/schwab"
	"github.com/alejandrodnm/daitrader/internal/ports"
)

// ActivityTypeHeader lleva el tipo de mensaje cuando el payload no trae activityType.
const ActivityTypeHeader = "Activity-Type"

// Config describe el stream y el consumer durable.
type Config struct {
	URL      string
	Stream   string
	Subject  string
	Consumer string
}

// Source implementa ports.ActivitySource sobre JetStream.
// Un mensaje se confirma solo después de que el sink lo persistió; si falla se
// hace NAK y JetStream lo reentrega.
type Source struct {
	cfg Config
}

// New crea un Source.
func New(cfg Config) *Source {
	return &Source{cfg: cfg}
}

// Run conecta, asegura stream y consumer, y consume hasta que ctx termina.
func (s *Source) Run(ctx context.Context, sink ports.EventSink) error {
	nc, err := nats.Connect(s.cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("natsbus.Run: connect: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("natsbus.Run: jetstream: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      s.cfg.Stream,
		Subjects:  []string{s.cfg.Subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
	}); err != nil {
		return fmt.Errorf("natsbus.Run: stream %s: %w", s.cfg.Stream, err)
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, s.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       s.cfg.Consumer,
		FilterSubject: s.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    -1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("natsbus.Run: consumer %s: %w", s.cfg.Consumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := Handle(ctx, msg.Headers().Get(ActivityTypeHeader), msg.Data(), time.Now(), sink); err != nil {
			slog.Warn("nats activity not recorded, will be redelivered", "subject", msg.Subject(), "err", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("natsbus.Run: consume: %w", err)
	}
	defer cc.Stop()
	slog.Info("nats activity consumer started", "stream", s.cfg.Stream, "subject", s.cfg.Subject)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-cc.Closed():
		return errors.New("natsbus.Run: consumer closed")
	}
}

// Handle decodifica un mensaje del bus y lo entrega al sink. Mensajes que no
// afectan fondos o que no se pueden decodificar se descartan sin error: una
// reentrega no los arreglaría.
func Handle(ctx context.Context, messageType string, data []byte, received time.Time, sink ports.EventSink) error {
	var a schwab.Activity
	if err := json.Unmarshal(data, &a); err != nil {
		slog.Warn("nats: dropping undecodable activity", "err", err)
		return nil
	}
	ev, ok := schwab.MapActivity(messageType, a, received)
	if !ok {
		return nil
	}
	return sink(ctx, ev)
}

var _ ports.ActivitySource = (*Source)(nil)
