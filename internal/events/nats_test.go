package events

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/alfredjeanlab/tablequeue/internal/metrics"
	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func newPair(t *testing.T) (*NATSPublisher, *NATSSubscriber) {
	t.Helper()
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("NewNATSPublisher: %v", err)
	}
	t.Cleanup(func() { pub.Close() })
	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("NewNATSSubscriber: %v", err)
	}
	t.Cleanup(func() { sub.Close() })
	return pub, sub
}

func TestNATS_EntryDeltaRoundTrip(t *testing.T) {
	pub, sub := newPair(t)
	ch, cancel, err := sub.Subscribe(EntryTopic("wl-1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	e := &model.WaitlistEntry{ID: "wl-1", RestaurantID: "r-1", Status: model.EntryNotified, Version: 2}
	if err := pub.Publish(context.Background(), EntryTopic("wl-1"), EntryChanged{Op: OpUpdated, Entry: e}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case data := <-ch:
		ev, err := DecodeEntryChanged(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Op != OpUpdated || ev.Entry.Status != model.EntryNotified || ev.Entry.Version != 2 {
			t.Errorf("delta = %+v / %+v", ev, ev.Entry)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delta")
	}
}

func TestNATS_RestaurantScope(t *testing.T) {
	pub, sub := newPair(t)
	ch, cancel, err := sub.Subscribe(RestaurantEntriesTopic("r-1"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	ctx := context.Background()
	other := &model.WaitlistEntry{ID: "wl-2", RestaurantID: "r-2"}
	mine := &model.WaitlistEntry{ID: "wl-1", RestaurantID: "r-1"}
	pub.Publish(ctx, RestaurantEntriesTopic("r-2"), EntryChanged{Op: OpCreated, Entry: other})
	pub.Publish(ctx, RestaurantEntriesTopic("r-1"), EntryChanged{Op: OpCreated, Entry: mine})

	select {
	case data := <-ch:
		ev, err := DecodeEntryChanged(data)
		if err != nil || ev.Entry.ID != "wl-1" {
			t.Fatalf("got %+v, %v", ev, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delta")
	}
	select {
	case data := <-ch:
		t.Fatalf("unexpected delta %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNATS_WildcardSeesEveryTopic(t *testing.T) {
	pub, sub := newPair(t)
	ch, cancel, err := sub.Subscribe(TopicAll)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	ctx := context.Background()
	r := &model.Restaurant{ID: "r-1", Name: "Noodle Bar"}
	topics := []string{EntryTopic("wl-1"), RestaurantTopic("r-1"), SessionTopic("ps-1")}
	for _, topic := range topics {
		if err := pub.Publish(ctx, topic, RestaurantChanged{Op: OpUpdated, Restaurant: r}); err != nil {
			t.Fatalf("Publish %s: %v", topic, err)
		}
	}
	for i := range topics {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delta %d", i)
		}
	}
}

func TestNATSPublisher_RejectsWildcardSubject(t *testing.T) {
	pub, _ := newPair(t)
	for _, topic := range []string{TopicAll, "tq.entries.*", "tq.entries.bad id"} {
		if err := pub.Publish(context.Background(), topic, struct{}{}); err == nil {
			t.Errorf("Publish(%q) succeeded", topic)
		}
	}
}

func TestNATSSubscriber_CancelClosesChannel(t *testing.T) {
	_, sub := newPair(t)
	ch, cancel, err := sub.Subscribe(TopicAll)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cancel")
	}
}

func TestNATSSubscriber_CancelDuringDeltas(t *testing.T) {
	pub, sub := newPair(t)
	ch, cancel, err := sub.Subscribe(TopicAll)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		e := &model.WaitlistEntry{ID: "wl-1", RestaurantID: "r-1"}
		for i := 0; i < 100; i++ {
			_ = pub.Publish(context.Background(), EntryTopic("wl-1"), EntryChanged{Op: OpUpdated, Entry: e})
		}
	}()
	cancel()
	<-done

	for range ch {
	}
}

func TestNATSSubscriber_DropsWhenFull(t *testing.T) {
	pub, sub := newPair(t)
	_, cancel, err := sub.Subscribe(TopicAll)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	before := testutil.ToFloat64(metrics.FeedDropped)
	e := &model.WaitlistEntry{ID: "wl-1", RestaurantID: "r-1"}
	for i := 0; i < 200; i++ {
		if err := pub.Publish(context.Background(), EntryTopic("wl-1"), EntryChanged{Op: OpUpdated, Entry: e}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(metrics.FeedDropped)-before < 1 {
		if time.Now().After(deadline) {
			t.Fatal("no drops recorded with an unread channel")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNATS_ImplementInterfaces(t *testing.T) {
	var _ Publisher = (*NATSPublisher)(nil)
	var _ Subscriber = (*NATSSubscriber)(nil)
}
