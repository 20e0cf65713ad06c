package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/castboard/internal/metrics"
)

// topicPrefix is the subject namespace every castboard event lives under.
const topicPrefix = "castboard."

// subscriberBuffer is how many undelivered messages a subscription holds
// before new ones are dropped.
const subscriberBuffer = 64

// ErrInvalidTopic is returned for subjects outside the castboard namespace
// and for malformed subjects.
var ErrInvalidTopic = errors.New("invalid event topic")

// Message is one event received from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Topic returns the subject without the castboard prefix, e.g.
// "session.started".
func (m Message) Topic() string {
	return strings.TrimPrefix(m.Subject, topicPrefix)
}

// checkTopic validates a castboard subject. Wildcard tokens are only allowed
// when subscribing.
func checkTopic(topic string, wildcards bool) error {
	rest, ok := strings.CutPrefix(topic, topicPrefix)
	if !ok || rest == "" {
		return fmt.Errorf("%w: %q is outside %s*", ErrInvalidTopic, topic, topicPrefix)
	}
	tokens := strings.Split(rest, ".")
	for i, tok := range tokens {
		switch {
		case tok == "" || strings.ContainsAny(tok, " \t\r\n"):
			return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
		case tok == "*" || tok == ">":
			if !wildcards {
				return fmt.Errorf("%w: cannot publish to wildcard %q", ErrInvalidTopic, topic)
			}
			if tok == ">" && i != len(tokens)-1 {
				return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
			}
		}
	}
	return nil
}

// connect dials NATS, retrying forever once connected. Extra options
// (names, disconnect handlers) are applied after the defaults.
func connect(url string, opts ...nats.Option) (*nats.Conn, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes castboard events as JSON on the subject named by
// their topic.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc}, nil
}

// Publish sends event on topic. Every call is counted in
// castboard_events_published_total by outcome.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := checkTopic(topic, false); err != nil {
		metrics.RecordEventPublish("", metrics.EventRejected)
		return err
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordEventPublish(topic, metrics.EventFailed)
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		metrics.RecordEventPublish(topic, metrics.EventFailed)
		return fmt.Errorf("marshaling %s event: %w", topic, err)
	}
	if err := p.conn.Publish(topic, data); err != nil {
		metrics.RecordEventPublish(topic, metrics.EventFailed)
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	metrics.RecordEventPublish(topic, metrics.EventOK)
	return nil
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber receives castboard events from NATS.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to NATS. Extra nats.Option values such as
// disconnect and reconnect handlers are appended to the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe delivers messages matching topic, which may use NATS wildcards
// (see AllTopics) but must stay inside the castboard namespace. Messages are
// dropped while the channel is full. cancel unsubscribes and closes the
// channel once; messages already buffered can still be read.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan Message, func(), error) {
	if err := checkTopic(topic, true); err != nil {
		return nil, nil, err
	}

	ch := make(chan Message, subscriberBuffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	sub, err := s.conn.Subscribe(topic, func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- Message{Subject: msg.Subject, Data: msg.Data}:
			metrics.EventsReceived.WithLabelValues("delivered").Inc()
		default:
			metrics.EventsReceived.WithLabelValues("dropped").Inc()
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// The subscription must reach the server before events published on
	// other connections are routed to it.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("flushing subscription to %s: %w", topic, err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
	return ch, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
