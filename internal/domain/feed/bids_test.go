package feed_test

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/jobboard/internal/adapters/docstore"
	"github.com/okian/jobboard/internal/domain/bidding"
	"github.com/okian/jobboard/internal/domain/broadcast"
	"github.com/okian/jobboard/internal/domain/feed"
	"github.com/okian/jobboard/internal/domain/model"
)

func runBids(s *feed.BidSession) *runner {
	r := &runner{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		r.err = s.Run(context.Background())
	}()
	return r
}

func TestBidSession(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	Convey("Given a job, a registry and two connected bidders", t, func() {
		store := docstore.NewMemory(docstore.WithClock(clock))
		defer store.Close()
		So(store.Set(ctx, model.CollectionJobs, "j1", map[string]any{model.JobFieldTitle: "API"}), ShouldBeNil)

		reg := broadcast.NewRegistry()
		proc := bidding.NewProcessor(store, broadcast.NewLocalPublisher(reg))

		fid := "F1"
		alice, bob := newConn("alice"), newConn("bob")
		sa := feed.NewBidSession(reg, proc, alice, &fid, feed.WithClock(clock))
		sb := feed.NewBidSession(reg, proc, bob, nil, feed.WithClock(clock))
		ra, rb := runBids(sa), runBids(sb)

		hello := alice.next(t).(feed.Connected)
		So(bob.next(t).(feed.Connected).Type, ShouldEqual, feed.TypeConnectionEstablished)
		So(eventually(func() bool { return reg.Len() == 2 }), ShouldBeTrue)

		Convey("The greeting names the endpoint", func() {
			So(hello, ShouldResemble, feed.Connected{
				Type:      feed.TypeConnectionEstablished,
				Message:   feed.MsgBidsConnected,
				Timestamp: "2025-06-01T09:00:00.000Z",
			})
		})

		Convey("When alice submits a bid", func() {
			alice.write(`{"type":"bid_submitted","data":{"jobId":"j1","clientId":"C1","bidAmount":120,"note":"fast"}}`)

			Convey("Then she is acknowledged before everyone sees new_bid", func() {
				ack := alice.next(t).(feed.Accepted)
				So(ack.Type, ShouldEqual, feed.TypeBidAccepted)
				So(ack.BidID, ShouldNotBeEmpty)
				So(ack.Timestamp, ShouldEqual, "2025-06-01T09:00:00.000Z")

				mine := alice.next(t).(broadcast.Event)
				theirs := bob.next(t).(broadcast.Event)
				So(mine.Type, ShouldEqual, broadcast.EventNewBid)
				So(theirs.Data[model.BidFieldID], ShouldEqual, ack.BidID)
				So(theirs.Data[model.BidFieldFreelancerID], ShouldEqual, "F1")
				So(theirs.Data["note"], ShouldEqual, "fast")
			})
		})

		Convey("When a submission lacks required fields", func() {
			bob.write(`{"type":"bid_submitted","data":{"clientId":"C1"}}`)
			reply := bob.next(t).(*feed.ErrorReply)
			So(reply.Message, ShouldEqual, feed.MsgMissingFields)
			So(reply.Details.Required, ShouldResemble, model.RequiredBidFields)
			So(reply.Details.Received, ShouldResemble, []string{"clientId"})
			So(alice.quiet(50*time.Millisecond), ShouldBeTrue)
		})

		Convey("When the job does not exist", func() {
			bob.write(`{"type":"bid_submitted","data":{"jobId":"ghost","clientId":"C1","bidAmount":5}}`)
			reply := bob.next(t).(*feed.ErrorReply)
			So(reply.Message, ShouldEqual, feed.MsgBidFailed)
			So(reply.Error, ShouldEqual, bidding.MsgJobMissing)
			So(alice.quiet(50*time.Millisecond), ShouldBeTrue)
		})

		Convey("When the request is not JSON", func() {
			bob.write(`bid please`)
			reply := bob.next(t).(*feed.ErrorReply)
			So(reply.Message, ShouldEqual, feed.MsgMalformedBid)
			So(sb.State(), ShouldEqual, feed.Streaming)
		})

		Convey("When a bidder hangs up", func() {
			alice.hangUp()
			So(ra.wait(t), ShouldBeNil)

			Convey("Then it leaves the registry", func() {
				So(sa.State(), ShouldEqual, feed.Closed)
				So(reg.Len(), ShouldEqual, 1)
			})
		})

		alice.hangUp()
		bob.hangUp()
		ra.wait(t)
		rb.wait(t)
	})
}
