package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"coralcrave-auction-service/internal/config"
	"coralcrave-auction-service/internal/ports/outbound"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	streamMaxAge    = 7 * 24 * time.Hour
	duplicateWindow = 2 * time.Hour
)

// JetStreamPublisher hands sold items to the order subsystem over a NATS
// JetStream stream. The item ID is the message ID, so a retried publish of
// the same sale is dropped by the server's duplicate window.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	stream  string
	subject string
	logger  zerolog.Logger
}

type JetStreamPublisherParams struct {
	Config config.NATSConfig
	Logger zerolog.Logger
}

func NewJetStreamPublisher(ctx context.Context, params JetStreamPublisherParams) (*JetStreamPublisher, error) {
	logger := params.Logger.With().Str("component", "order_publisher").Logger()

	nc, err := nats.Connect(params.Config.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		stream:  params.Config.Stream,
		subject: params.Config.Subject,
		logger:  logger,
	}
	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return p, nil
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	sc := streamConfig(p.stream, p.subject)

	if _, err := p.js.Stream(ctx, p.stream); err != nil {
		if _, err := p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		p.logger.Info().Str("stream", p.stream).Msg("Created JetStream stream")
		return nil
	}

	if _, err := p.js.UpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	return nil
}

// PublishAuctionSold publishes one sale and waits for the stream ack
func (p *JetStreamPublisher) PublishAuctionSold(ctx context.Context, event outbound.AuctionSold) error {
	msg, err := soldMessage(p.subject, event)
	if err != nil {
		return err
	}

	ack, err := p.js.PublishMsg(ctx, msg,
		jetstream.WithMsgID(event.ItemID.String()),
		jetstream.WithExpectStream(p.stream),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	p.logger.Info().
		Str("subject", p.subject).
		Str("item_id", event.ItemID.String()).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("Published auction sold")

	return nil
}

// Close drains pending acks and closes the connection
func (p *JetStreamPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

func streamConfig(name, subject string) jetstream.StreamConfig {
	subjects := []string{subject}
	if prefix, _, ok := strings.Cut(subject, "."); ok {
		subjects = []string{prefix + ".>"}
	}
	return jetstream.StreamConfig{
		Name:        name,
		Description: "Sold auction items awaiting order creation",
		Subjects:    subjects,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      streamMaxAge,
		MaxMsgs:     -1,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  duplicateWindow,
	}
}

func soldMessage(subject string, event outbound.AuctionSold) (*nats.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal auction sold: %w", err)
	}
	return &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{subject},
			"Item-ID":    []string{event.ItemID.String()},
			"Live-ID":    []string{event.LiveID.String()},
		},
	}, nil
}
