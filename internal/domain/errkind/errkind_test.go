package errkind_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/okian/jobboard/internal/domain/errkind"
	. "github.com/smartystreets/goconvey/convey"
)

func TestErrorKinds(t *testing.T) {
	Convey("Given errors built with the helpers", t, func() {
		cause := errors.New("connection reset")

		Convey("When wrapping a cause", func() {
			err := errkind.Wrap("store.get", errkind.ErrStore, cause)

			Convey("Then both the kind and the cause are reachable", func() {
				So(errors.Is(err, errkind.ErrStore), ShouldBeTrue)
				So(errors.Is(err, cause), ShouldBeTrue)
				So(err.Error(), ShouldEqual, "store.get: store error: connection reset")
			})

			Convey("And further wrapping keeps the kind", func() {
				outer := fmt.Errorf("submit: %w", err)
				So(errkind.KindOf(outer), ShouldEqual, errkind.ErrStore)
			})
		})

		Convey("When wrapping nil", func() {
			So(errkind.Wrap("noop", errkind.ErrStore, nil), ShouldBeNil)
		})

		Convey("When reporting missing fields", func() {
			err := errkind.Missing("bid.submit", "jobId", "bidAmount")

			Convey("Then the fields are listed", func() {
				So(errors.Is(err, errkind.ErrValidation), ShouldBeTrue)
				So(errkind.FieldsOf(err), ShouldResemble, []string{"jobId", "bidAmount"})
				So(err.Error(), ShouldContainSubstring, "jobId, bidAmount")
				So(errkind.Message(err), ShouldEqual, "missing required fields")
			})
		})

		Convey("When building a not-found error", func() {
			err := errkind.New("bid.submit", errkind.ErrNotFound, "Job does not exist")
			So(errkind.KindOf(err), ShouldEqual, errkind.ErrNotFound)
			So(errkind.Message(err), ShouldEqual, "Job does not exist")
		})

		Convey("When classifying a plain error", func() {
			So(errkind.KindOf(cause), ShouldEqual, errkind.ErrStore)
		})
	})
}
