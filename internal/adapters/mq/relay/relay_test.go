package relay_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/jobboard/internal/adapters/mq/relay"
	"github.com/okian/jobboard/internal/domain/broadcast"
)

type member struct {
	id  string
	mu  sync.Mutex
	got []broadcast.Event
}

func (m *member) ID() string { return m.id }

func (m *member) Send(_ context.Context, v any) error {
	ev, ok := v.(broadcast.Event)
	if !ok {
		return errors.New("unexpected value")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, ev)
	return nil
}

func (m *member) events() []broadcast.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]broadcast.Event(nil), m.got...)
}

func TestDeliver(t *testing.T) {
	ctx := context.Background()

	Convey("Given a subscriber over a registry with one member", t, func() {
		reg := broadcast.NewRegistry()
		m := &member{id: "m1"}
		So(reg.Register(m), ShouldBeNil)
		sub := relay.NewSubscriber(nil, reg)

		Convey("A relayed event is broadcast locally", func() {
			n, err := sub.Deliver(ctx, []byte(`{"type":"new_bid","data":{"bidId":"b1","bidAmount":10}}`))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			got := m.events()
			So(got, ShouldHaveLength, 1)
			So(got[0].Type, ShouldEqual, broadcast.EventNewBid)
			So(got[0].Data["bidId"], ShouldEqual, "b1")
		})

		Convey("Garbage and untyped payloads are rejected", func() {
			_, err := sub.Deliver(ctx, []byte(`not json`))
			So(err, ShouldNotBeNil)
			_, err = sub.Deliver(ctx, []byte(`{"data":{}}`))
			So(err, ShouldNotBeNil)
			So(m.events(), ShouldBeEmpty)
		})
	})
}

func TestPublisherUnreachable(t *testing.T) {
	Convey("Publishing to an unreachable Redis fails", t, func() {
		client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
		defer client.Close()
		pub := relay.NewPublisher(client, relay.WithChannel("test"))
		err := pub.Publish(context.Background(), broadcast.Event{Type: broadcast.EventNewBid})
		So(err, ShouldNotBeNil)
	})

	Convey("Given an unreachable Redis and a local fallback", t, func() {
		client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
		defer client.Close()
		reg := broadcast.NewRegistry()
		m := &member{id: "m1"}
		So(reg.Register(m), ShouldBeNil)
		pub := relay.NewPublisher(client, relay.WithChannel("test"), relay.WithFallback(broadcast.NewLocalPublisher(reg)))

		Convey("Then the event still reaches local members", func() {
			err := pub.Publish(context.Background(), broadcast.Event{Type: broadcast.EventNewBid, Data: map[string]any{"bidId": "b2"}})
			So(err, ShouldBeNil)
			got := m.events()
			So(got, ShouldHaveLength, 1)
			So(got[0].Data["bidId"], ShouldEqual, "b2")
		})

		Convey("Then a failing fallback surfaces its error", func() {
			boom := errors.New("registry closed")
			failing := relay.NewPublisher(client, relay.WithFallback(broadcast.PublisherFunc(func(context.Context, broadcast.Event) error { return boom })))
			So(failing.Publish(context.Background(), broadcast.Event{Type: broadcast.EventNewBid}), ShouldEqual, boom)
		})
	})
}

func TestRelayRoundTrip(t *testing.T) {
	url := os.Getenv("JOBBOARD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("JOBBOARD_TEST_REDIS_URL not set")
	}

	Convey("Given a publisher and a subscriber on a live Redis", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		client, err := relay.Connect(ctx, url)
		So(err, ShouldBeNil)
		defer client.Close()

		channel := "jobboard:test:" + time.Now().Format("150405.000000")
		reg := broadcast.NewRegistry()
		m := &member{id: "m1"}
		So(reg.Register(m), ShouldBeNil)

		sub := relay.NewSubscriber(client, reg, relay.WithChannel(channel))
		done := make(chan error, 1)
		go func() { done <- sub.Run(ctx) }()

		pub := relay.NewPublisher(client, relay.WithChannel(channel))
		ev := broadcast.Event{Type: broadcast.EventNewBid, Data: map[string]any{"bidId": "b9"}}

		Convey("Then published events reach local members", func() {
			deadline := time.Now().Add(3 * time.Second)
			for len(m.events()) == 0 && time.Now().Before(deadline) {
				So(pub.Publish(ctx, ev), ShouldBeNil)
				time.Sleep(50 * time.Millisecond)
			}
			got := m.events()
			So(got, ShouldNotBeEmpty)
			So(got[0].Data["bidId"], ShouldEqual, "b9")

			cancel()
			So(<-done, ShouldBeNil)
		})
	})
}
