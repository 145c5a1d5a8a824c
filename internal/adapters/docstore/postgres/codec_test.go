package postgres

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/jobboard/internal/domain/document"
	"github.com/okian/jobboard/internal/domain/errkind"
)

func TestCodec(t *testing.T) {
	Convey("Given a document with nested timestamps", t, func() {
		posted := document.FromTime(time.Date(2025, 4, 30, 10, 0, 0, 123456789, time.UTC))
		data := map[string]any{
			"job_title":   "Build API",
			"budget":      500.0,
			"posted_date": posted,
			"milestones": []any{
				map[string]any{"title": "m1", "start_date": posted},
			},
		}

		Convey("When encoded", func() {
			raw, err := encode(data)
			So(err, ShouldBeNil)

			Convey("Then timestamps use the fixed width marker", func() {
				var generic map[string]any
				So(json.Unmarshal(raw, &generic), ShouldBeNil)
				So(generic["posted_date"], ShouldResemble, map[string]any{"$ts": "2025-04-30T10:00:00.123456789Z"})
			})

			Convey("And decoding restores store timestamps", func() {
				back, err := decode(raw)
				So(err, ShouldBeNil)
				So(back["posted_date"], ShouldResemble, posted)
				m := back["milestones"].([]any)[0].(map[string]any)
				So(m["start_date"], ShouldResemble, posted)
				So(back["budget"], ShouldEqual, 500.0)
			})
		})

		Convey("When a map merely contains a $ts key among others", func() {
			back, err := decode([]byte(`{"x":{"$ts":"2025-01-01T00:00:00.000000000Z","other":1}}`))
			So(err, ShouldBeNil)
			_, isTS := back["x"].(document.Timestamp)
			So(isTS, ShouldBeFalse)
		})

		Convey("When decoding an empty payload", func() {
			back, err := decode(nil)
			So(err, ShouldBeNil)
			So(back, ShouldBeEmpty)
		})
	})
}

func TestMapError(t *testing.T) {
	Convey("Given database errors", t, func() {
		Convey("Serialization failures and deadlocks are conflicts", func() {
			for _, code := range []string{pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected} {
				err := mapError("tx", &pgconn.PgError{Code: code})
				So(errors.Is(err, errkind.ErrConflict), ShouldBeTrue)
			}
		})

		Convey("Other failures are store errors", func() {
			err := mapError("tx", errors.New("connection refused"))
			So(errors.Is(err, errkind.ErrStore), ShouldBeTrue)
			So(mapError("tx", nil), ShouldBeNil)
		})
	})
}
