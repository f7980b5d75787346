package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"tableserve/internal/domain"
)

const relayExchange = "notifications_fanout"

type RelayConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
	UseTLS   bool
}

// Relay forwards every core event to a durable fanout exchange so staff and
// kitchen clients outside this process get push delivery. It is the
// at-least-once boundary: a reconnecting client reconciles against the
// authoritative HTTP state, so duplicate deliveries are harmless.
type Relay struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	acks <-chan amqp.Confirmation
	mu   sync.Mutex // serializes publish+confirm pairs
	log  *log.Entry
}

func DialRelay(cfg RelayConfig, lg *log.Entry) (*Relay, error) {
	if cfg.VHost == "" {
		cfg.VHost = "/"
	}
	scheme := "amqp"
	if cfg.UseTLS {
		scheme = "amqps"
	}
	url := fmt.Sprintf("%s://%s:%s@%s:%d/%s",
		scheme, cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.VHost)

	var (
		conn *amqp.Connection
		err  error
	)
	if cfg.UseTLS {
		conn, err = amqp.DialTLS(url, &tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		conn, err = amqp.Dial(url)
	}
	if err != nil {
		return nil, errors.Wrap(err, "rabbitmq dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "rabbitmq channel")
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "enable confirms")
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	if err := ch.ExchangeDeclare(relayExchange, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}
	return &Relay{conn: conn, ch: ch, acks: acks, log: lg}, nil
}

func (r *Relay) Close() {
	if r == nil {
		return
	}
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		_ = r.conn.Close()
	}
}

func (r *Relay) Ping() error {
	if r.conn == nil || r.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// Run consumes the bus until ctx is done. Publish failures are logged and
// the event is dropped from the broker path only; in-process subscribers
// already received it and clients reconcile over HTTP on reconnect.
func (r *Relay) Run(ctx context.Context, b *Bus) {
	sub := b.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events():
			if err := r.publish(ctx, ev); err != nil {
				r.log.WithFields(log.Fields{
					"action":   "relay_publish_failed",
					"topic":    string(ev.Topic()),
					"event_id": ev.EventID().String(),
				}).WithError(err).Error("relay publish failed")
			}
		}
	}
}

func (r *Relay) publish(ctx context.Context, ev domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.ch.PublishWithContext(ctx, relayExchange, string(ev.Topic()), false, false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    ev.EventID().String(),
			Type:         string(ev.Topic()),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		return errors.Wrap(err, "publish")
	}

	select {
	case conf := <-r.acks:
		if !conf.Ack {
			return errors.New("publish NACK from broker")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
