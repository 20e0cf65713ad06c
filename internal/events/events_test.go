package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/alfredjeanlab/castboard/internal/metrics"
	"github.com/alfredjeanlab/castboard/internal/model"
)

func TestNoopPublisher_Publish(t *testing.T) {
	pub := &NoopPublisher{}
	err := pub.Publish(context.Background(), TopicPersonCreated, PersonCreated{})
	if err != nil {
		t.Fatalf("NoopPublisher.Publish returned unexpected error: %v", err)
	}
}

func TestNoopPublisher_Close(t *testing.T) {
	pub := &NoopPublisher{}
	if err := pub.Close(); err != nil {
		t.Fatalf("NoopPublisher.Close returned unexpected error: %v", err)
	}
}

func TestPublishers_ImplementPublisher(t *testing.T) {
	var _ Publisher = (*NoopPublisher)(nil)
	var _ Publisher = (*NATSPublisher)(nil)
}

// rawSubscribe listens on subject with a plain NATS connection.
func rawSubscribe(t *testing.T, url, subject string) <-chan *nats.Msg {
	t.Helper()
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting listener: %v", err)
	}
	t.Cleanup(nc.Close)
	ch := make(chan *nats.Msg, 16)
	if _, err := nc.ChanSubscribe(subject, ch); err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return ch
}

func TestNATSPublisher_PublishesJSONOnTopic(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()
	ch := rawSubscribe(t, url, TopicInteractionAdded)

	ok := metrics.EventsPublished.WithLabelValues(TopicInteractionAdded, metrics.EventOK)
	before := testutil.ToFloat64(ok)

	event := InteractionAdded{Interaction: &model.Interaction{
		ID: 7, Username: "alice", Type: model.InteractionTip, Tokens: 50,
	}}
	if err := pub.Publish(context.Background(), TopicInteractionAdded, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-ch:
		var got InteractionAdded
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Interaction.Username != "alice" || got.Interaction.Tokens != 50 {
			t.Errorf("got %+v", got.Interaction)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
	if got := testutil.ToFloat64(ok) - before; got != 1 {
		t.Errorf("ok counter moved by %v, want 1", got)
	}
}

func TestNATSPublisher_RejectsForeignTopics(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()
	ch := rawSubscribe(t, url, ">")

	rejected := metrics.EventsPublished.WithLabelValues("invalid", metrics.EventRejected)
	before := testutil.ToFloat64(rejected)

	topics := []string{"orders.created", "castboard", "castboard.>", "castboard.person.*", "castboard.person created"}
	for _, topic := range topics {
		if err := pub.Publish(context.Background(), topic, PersonDeleted{PersonID: "p-1"}); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("Publish(%q): expected ErrInvalidTopic, got %v", topic, err)
		}
	}
	if got := testutil.ToFloat64(rejected) - before; got != float64(len(topics)) {
		t.Errorf("rejected counter moved by %v, want %d", got, len(topics))
	}
	select {
	case msg := <-ch:
		t.Fatalf("rejected topic reached the bus on %s", msg.Subject)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNATSPublisher_Failures(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}

	failed := metrics.EventsPublished.WithLabelValues(TopicSettingUpdated, metrics.EventFailed)
	before := testutil.ToFloat64(failed)

	if err := pub.Publish(context.Background(), TopicSettingUpdated, make(chan int)); err == nil {
		t.Error("expected marshal error for unencodable event")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.Publish(ctx, TopicSettingUpdated, SettingUpdated{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pub.Publish(context.Background(), TopicSettingUpdated, SettingUpdated{}); err == nil {
		t.Error("expected error publishing after close")
	}

	if got := testutil.ToFloat64(failed) - before; got != 3 {
		t.Errorf("failed counter moved by %v, want 3", got)
	}
}

func TestCheckTopic(t *testing.T) {
	for _, tc := range []struct {
		topic     string
		wildcards bool
		ok        bool
	}{
		{TopicPersonCreated, false, true},
		{AllTopics, true, true},
		{"castboard.*.started", true, true},
		{AllTopics, false, false},
		{"castboard.a.>.b", true, false},
		{"castboard.a..b", true, false},
		{"castboards.person", true, false},
		{"", true, false},
	} {
		err := checkTopic(tc.topic, tc.wildcards)
		if (err == nil) != tc.ok {
			t.Errorf("checkTopic(%q, %v) = %v, want ok=%v", tc.topic, tc.wildcards, err, tc.ok)
		}
	}
}
