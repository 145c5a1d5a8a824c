package broadcast_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/jobboard/internal/domain/broadcast"
)

type fakeMember struct {
	id   string
	fail bool

	mu  sync.Mutex
	got []any
}

func (m *fakeMember) ID() string { return m.id }

func (m *fakeMember) Send(_ context.Context, v any) error {
	if m.fail {
		return errors.New("socket closed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, v)
	return nil
}

func (m *fakeMember) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.got)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	ev := broadcast.Event{Type: broadcast.EventNewBid, Data: map[string]any{"bidId": "b1"}}

	Convey("Given a registry with healthy and dead members", t, func() {
		r := broadcast.NewRegistry()
		a := &fakeMember{id: "a"}
		b := &fakeMember{id: "b", fail: true}
		c := &fakeMember{id: "c"}
		for _, m := range []*fakeMember{a, b, c} {
			So(r.Register(m), ShouldBeNil)
		}

		Convey("When broadcasting", func() {
			delivered := r.Broadcast(ctx, ev)

			Convey("Then healthy members get the event despite the failure", func() {
				So(delivered, ShouldEqual, 2)
				So(a.count(), ShouldEqual, 1)
				So(c.count(), ShouldEqual, 1)
			})

			Convey("And the dead member is pruned", func() {
				So(r.Len(), ShouldEqual, 2)
				So(r.Broadcast(ctx, ev), ShouldEqual, 2)
			})
		})

		Convey("When a member unregisters", func() {
			r.Unregister(a)
			r.Unregister(a)
			So(r.Len(), ShouldEqual, 2)
			r.Broadcast(ctx, ev)
			So(a.count(), ShouldEqual, 0)
		})

		Convey("When an id is re-registered, unregistering the old handle keeps the new one", func() {
			a2 := &fakeMember{id: "a"}
			So(r.Register(a2), ShouldBeNil)
			r.Unregister(a)
			So(r.Len(), ShouldEqual, 3)
		})

		Convey("Nil members are rejected", func() {
			So(errors.Is(r.Register(nil), broadcast.ErrNilMember), ShouldBeTrue)
		})
	})

	Convey("Given concurrent registration and broadcast", t, func() {
		r := broadcast.NewRegistry()
		pub := broadcast.NewLocalPublisher(r)
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			m := &fakeMember{id: fmt.Sprintf("m%d", i)}
			go func() { defer wg.Done(); _ = r.Register(m) }()
			go func() { defer wg.Done(); _ = pub.Publish(ctx, ev) }()
		}
		wg.Wait()
		So(r.Len(), ShouldEqual, 50)
	})
}
