package docstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/jobboard/internal/adapters/docstore"
	"github.com/okian/jobboard/internal/domain/document"
	"github.com/okian/jobboard/internal/domain/errkind"
)

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%03d", n.Add(1)) }
}

func nextBatch(t *testing.T, sub docstore.Subscription) document.Batch {
	t.Helper()
	select {
	case b, ok := <-sub.Changes():
		if !ok {
			t.Fatal("changes channel closed")
		}
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
	}
	return nil
}

func TestMemoryReads(t *testing.T) {
	ctx := context.Background()

	Convey("Given a memory store with jobs for two clients", t, func() {
		s := docstore.NewMemory(docstore.WithIDGenerator(sequentialIDs()))
		defer s.Close()
		_, _ = s.Add(ctx, "jobs", map[string]any{"client_id": "C1", "n": 1})
		_, _ = s.Add(ctx, "jobs", map[string]any{"client_id": "C2", "n": 2})
		_, _ = s.Add(ctx, "jobs", map[string]any{"client_id": "C1", "n": 3})

		Convey("When querying by client", func() {
			docs, err := s.Get(ctx, document.From("jobs").Where("client_id", "C1"))

			Convey("Then only that client's documents return, in id order", func() {
				So(err, ShouldBeNil)
				So(docs, ShouldHaveLength, 2)
				So(docs[0].ID, ShouldEqual, "id-001")
				So(docs[1].ID, ShouldEqual, "id-003")
			})

			Convey("And mutating results leaves the store untouched", func() {
				docs[0].Data["client_id"] = "hacked"
				again, _ := s.GetDoc(ctx, "jobs", "id-001")
				So(again.Data["client_id"], ShouldEqual, "C1")
			})
		})

		Convey("When a document is missing", func() {
			_, err := s.GetDoc(ctx, "jobs", "nope")
			So(errors.Is(err, errkind.ErrNotFound), ShouldBeTrue)
			So(errors.Is(s.Update(ctx, "jobs", "nope", map[string]any{"n": 1}), errkind.ErrNotFound), ShouldBeTrue)
			So(errors.Is(s.Delete(ctx, "jobs", "nope"), errkind.ErrNotFound), ShouldBeTrue)
		})

		Convey("When partially updating", func() {
			So(s.Update(ctx, "jobs", "id-002", map[string]any{"n": 20, "extra": true}), ShouldBeNil)
			d, _ := s.GetDoc(ctx, "jobs", "id-002")
			So(d.Data["n"], ShouldEqual, 20)
			So(d.Data["client_id"], ShouldEqual, "C2")
			So(d.Data["extra"], ShouldBeTrue)
		})
	})
}

func TestMemoryTransactions(t *testing.T) {
	ctx := context.Background()
	commitAt := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	Convey("Given a memory store with a fixed clock", t, func() {
		s := docstore.NewMemory(docstore.WithClock(func() time.Time { return commitAt }))
		defer s.Close()
		So(s.Set(ctx, "jobs", "j1", map[string]any{"bids": []any{}}), ShouldBeNil)

		Convey("When a transaction writes server timestamps", func() {
			var ref document.Ref
			commit, err := s.RunTransaction(ctx, func(_ context.Context, tx document.Tx) error {
				ref = tx.NewRef("bids")
				return tx.Set(ref, map[string]any{"submittedAt": document.ServerTimestamp})
			})

			Convey("Then they resolve to the commit time", func() {
				So(err, ShouldBeNil)
				So(commit, ShouldEqual, commitAt)
				d, _ := s.GetDoc(ctx, "bids", ref.ID)
				So(d.Data["submittedAt"], ShouldResemble, document.FromTime(commitAt))
			})
		})

		Convey("When the body fails", func() {
			_, err := s.RunTransaction(ctx, func(_ context.Context, tx document.Tx) error {
				if err := tx.Set(document.Ref{Collection: "bids", ID: "b1"}, map[string]any{}); err != nil {
					return err
				}
				return errors.New("boom")
			})

			Convey("Then nothing is written", func() {
				So(err, ShouldNotBeNil)
				_, err := s.GetDoc(ctx, "bids", "b1")
				So(errors.Is(err, errkind.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When another writer commits after a read", func() {
			_, err := s.RunTransaction(ctx, func(ctx context.Context, tx document.Tx) error {
				if _, _, err := tx.Get(document.Ref{Collection: "jobs", ID: "j1"}); err != nil {
					return err
				}
				if err := s.Update(ctx, "jobs", "j1", map[string]any{"touched": true}); err != nil {
					return err
				}
				return tx.Update(document.Ref{Collection: "jobs", ID: "j1"}, map[string]any{"bids": []any{"x"}})
			})

			Convey("Then commit fails with a conflict and the stale write is dropped", func() {
				So(errors.Is(err, errkind.ErrConflict), ShouldBeTrue)
				d, _ := s.GetDoc(ctx, "jobs", "j1")
				So(d.Data["bids"], ShouldResemble, []any{})
				So(d.Data["touched"], ShouldBeTrue)
			})
		})

		Convey("When a conflict hook rejects a write", func() {
			hooked := docstore.NewMemory(docstore.WithConflictHook(func(_ context.Context, op string, ref document.Ref) error {
				if op == docstore.OpUpdate && ref.Collection == "jobs" {
					return errkind.New("test", errkind.ErrConflict, "forced")
				}
				return nil
			}))
			defer hooked.Close()
			So(hooked.Set(ctx, "jobs", "j1", map[string]any{}), ShouldBeNil)

			_, err := hooked.RunTransaction(ctx, func(_ context.Context, tx document.Tx) error {
				if err := tx.Set(tx.NewRef("bids"), map[string]any{"jobId": "j1"}); err != nil {
					return err
				}
				return tx.Update(document.Ref{Collection: "jobs", ID: "j1"}, map[string]any{"bids": []any{"b"}})
			})

			Convey("Then the earlier write in the same transaction is not visible", func() {
				So(errors.Is(err, errkind.ErrConflict), ShouldBeTrue)
				bids, _ := hooked.Get(ctx, document.From("bids"))
				So(bids, ShouldBeEmpty)
			})
		})
	})
}

func TestMemorySubscriptions(t *testing.T) {
	ctx := context.Background()

	Convey("Given a memory store and a subscription on one client's jobs", t, func() {
		s := docstore.NewMemory(docstore.WithIDGenerator(sequentialIDs()))
		defer s.Close()
		_ = s.Set(ctx, "jobs", "a", map[string]any{"client_id": "C1"})

		sub, err := s.Subscribe(ctx, document.From("jobs").Where("client_id", "C1"))
		So(err, ShouldBeNil)
		defer sub.Close()

		Convey("Then the first batch is the current result set as added changes", func() {
			b := nextBatch(t, sub)
			So(b, ShouldHaveLength, 1)
			So(b[0].Type, ShouldEqual, document.Added)
			So(b[0].Doc.ID, ShouldEqual, "a")

			Convey("And later changes arrive as diffs", func() {
				_ = s.Set(ctx, "jobs", "b", map[string]any{"client_id": "C1"})
				b = nextBatch(t, sub)
				So(b, ShouldHaveLength, 1)
				So(b[0].Type, ShouldEqual, document.Added)
				So(b[0].Doc.ID, ShouldEqual, "b")

				_ = s.Update(ctx, "jobs", "a", map[string]any{"job_title": "x"})
				b = nextBatch(t, sub)
				So(b[0].Type, ShouldEqual, document.Modified)

				_ = s.Delete(ctx, "jobs", "b")
				b = nextBatch(t, sub)
				So(b[0].Type, ShouldEqual, document.Removed)
				So(b[0].Doc.ID, ShouldEqual, "b")
			})

			Convey("And writes outside the query produce nothing", func() {
				_ = s.Set(ctx, "jobs", "z", map[string]any{"client_id": "C2"})
				select {
				case got := <-sub.Changes():
					So(got, ShouldBeEmpty)
				case <-time.After(50 * time.Millisecond):
				}
			})
		})

		Convey("When closed", func() {
			sub.Close()
			sub.Close()

			Convey("Then the channels close and the store forgets it", func() {
				deadline := time.After(time.Second)
				for {
					select {
					case _, ok := <-sub.Changes():
						if !ok {
							So(s.Watchers("jobs"), ShouldEqual, 0)
							return
						}
					case <-deadline:
						t.Fatal("changes channel not closed")
					}
				}
			})
		})
	})

	Convey("Closing the store closes live subscriptions", t, func() {
		s := docstore.NewMemory()
		sub, err := s.Subscribe(ctx, document.From("jobs"))
		So(err, ShouldBeNil)
		So(s.Close(), ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		closed := false
		timeout := time.After(time.Second)
		for !closed {
			select {
			case _, ok := <-sub.Errors():
				closed = !ok
			case <-timeout:
				t.Fatal("errors channel not closed")
			}
		}
		_, err = s.Subscribe(ctx, document.From("jobs"))
		So(errors.Is(err, docstore.ErrClosed), ShouldBeTrue)
	})
}

func TestWatcherFailure(t *testing.T) {
	Convey("Given a watcher whose query fails", t, func() {
		w := docstore.NewWatcher(context.Background(), document.From("jobs"),
			func(context.Context) ([]document.Document, error) { return nil, errors.New("listener gone") }, nil)
		defer w.Close()

		Convey("Then the error is delivered and refreshing stops", func() {
			select {
			case err := <-w.Errors():
				So(err, ShouldNotBeNil)
			case <-time.After(time.Second):
				t.Fatal("no error delivered")
			}
			w.Notify()
			select {
			case b := <-w.Changes():
				So(b, ShouldBeNil)
			case <-time.After(50 * time.Millisecond):
			}
		})
	})
}
