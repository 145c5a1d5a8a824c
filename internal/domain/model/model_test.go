package model_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/okian/jobboard/internal/domain/document"
	"github.com/okian/jobboard/internal/domain/errkind"
	"github.com/okian/jobboard/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func rawUpdates(t *testing.T, s string) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return m
}

func TestParseJobUpdate(t *testing.T) {
	convey.Convey("Given edit_job update payloads", t, func() {
		convey.Convey("When the payload mixes unknown and allowed fields", func() {
			u, err := model.ParseJobUpdate(rawUpdates(t, `{"foo":"bar","budget":500}`))

			convey.Convey("Then only the allowed field is applied", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(u.Fields(), convey.ShouldResemble, map[string]any{"budget": 500.0})
			})
		})

		convey.Convey("When skills arrive as a comma-separated string", func() {
			u, err := model.ParseJobUpdate(rawUpdates(t, `{"required_skills":" go, sql ,,rust "}`))

			convey.Convey("Then they are normalized to a trimmed list", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(*u.RequiredSkills, convey.ShouldResemble, []string{"go", "sql", "rust"})
				convey.So(u.Fields()["required_skills"], convey.ShouldResemble, []any{"go", "sql", "rust"})
			})
		})

		convey.Convey("When skills arrive as a list", func() {
			u, err := model.ParseJobUpdate(rawUpdates(t, `{"required_skills":["go","k8s"],"job_title":"Backend"}`))
			convey.So(err, convey.ShouldBeNil)
			convey.So(*u.RequiredSkills, convey.ShouldResemble, []string{"go", "k8s"})
			convey.So(*u.Title, convey.ShouldEqual, "Backend")
		})

		convey.Convey("When skills are null", func() {
			u, err := model.ParseJobUpdate(rawUpdates(t, `{"required_skills":null}`))

			convey.Convey("Then the list is cleared", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(u.Fields()["required_skills"], convey.ShouldResemble, []any{})
			})
		})

		convey.Convey("When only unknown fields are supplied", func() {
			_, err := model.ParseJobUpdate(rawUpdates(t, `{"foo":"bar","status":"active"}`))

			convey.Convey("Then it is a validation error", func() {
				convey.So(errors.Is(err, errkind.ErrValidation), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When budget has the wrong type", func() {
			_, err := model.ParseJobUpdate(rawUpdates(t, `{"budget":"lots"}`))
			convey.So(errors.Is(err, errkind.ErrValidation), convey.ShouldBeTrue)
			convey.So(errkind.FieldsOf(err), convey.ShouldResemble, []string{"budget"})
		})
	})
}

func TestNewJobDocument(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	convey.Convey("Given a job creation payload", t, func() {
		payload := map[string]any{
			"job_title":    "Build API",
			"description":  "REST + sockets",
			"job_category": "dev",
			"client_id":    "C1",
			"posted_date":  "2025-04-30T10:00:00Z",
			"milestones": []any{
				map[string]any{"title": "m1", "start_date": "2025-05-01", "end_date": "2025-05-10T00:00:00.000Z"},
			},
			"status": "active",
			"job_id": "spoofed",
		}

		convey.Convey("When converted", func() {
			data, err := model.NewJobDocument(payload, now)

			convey.Convey("Then dates become store timestamps", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(data["posted_date"], convey.ShouldResemble,
					document.FromTime(time.Date(2025, 4, 30, 10, 0, 0, 0, time.UTC)))
				m := data["milestones"].([]any)[0].(map[string]any)
				convey.So(m["start_date"], convey.ShouldResemble, document.FromTime(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)))
				convey.So(m["end_date"], convey.ShouldResemble, document.FromTime(time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)))
				convey.So(m["title"], convey.ShouldEqual, "m1")
			})

			convey.Convey("And status is forced to pending and the id is not client controlled", func() {
				convey.So(data["status"], convey.ShouldEqual, "pending")
				_, hasID := data["job_id"]
				convey.So(hasID, convey.ShouldBeFalse)
				convey.So(data["client_id"], convey.ShouldEqual, "C1")
			})
		})

		convey.Convey("When required fields are missing", func() {
			_, err := model.NewJobDocument(map[string]any{"job_title": "x"}, now)
			convey.So(errors.Is(err, errkind.ErrValidation), convey.ShouldBeTrue)
			convey.So(errkind.FieldsOf(err), convey.ShouldResemble, []string{"description", "job_category"})
		})

		convey.Convey("When a milestone lacks an end date", func() {
			payload["milestones"] = []any{map[string]any{"title": "m1", "start_date": "2025-05-01"}}
			_, err := model.NewJobDocument(payload, now)
			convey.So(errors.Is(err, errkind.ErrValidation), convey.ShouldBeTrue)
		})

		convey.Convey("When posted_date is absent", func() {
			delete(payload, "posted_date")
			data, err := model.NewJobDocument(payload, now)
			convey.So(err, convey.ShouldBeNil)
			convey.So(data["posted_date"], convey.ShouldResemble, document.FromTime(now))
		})
	})
}

func TestParseSubmission(t *testing.T) {
	convey.Convey("Given bid_submitted payloads", t, func() {
		convey.Convey("When all required fields are present", func() {
			sub, err := model.ParseSubmission(map[string]any{
				"jobId": "j1", "clientId": "C1", "bidAmount": 250.0, "note": "fast", "status": "accepted",
			})

			convey.Convey("Then the submission is typed and extras are preserved", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(sub.JobID, convey.ShouldEqual, "j1")
				convey.So(sub.BidAmount, convey.ShouldEqual, 250.0)
				convey.So(sub.Extra, convey.ShouldResemble, map[string]any{"note": "fast"})
			})

			convey.Convey("And the bid document is pending with server timestamps", func() {
				fid := "F9"
				d := sub.Document(&fid)
				convey.So(d["status"], convey.ShouldEqual, "pending")
				convey.So(document.IsServerTimestamp(d["submittedAt"]), convey.ShouldBeTrue)
				convey.So(document.IsServerTimestamp(d["lastUpdated"]), convey.ShouldBeTrue)
				convey.So(d["freelancerId"], convey.ShouldEqual, "F9")
				convey.So(d["note"], convey.ShouldEqual, "fast")
			})

			convey.Convey("And the summary carries the bid id", func() {
				s := sub.Summary("b1", nil)
				convey.So(s["bidId"], convey.ShouldEqual, "b1")
				convey.So(s["amount"], convey.ShouldEqual, 250.0)
				convey.So(s["freelancerId"], convey.ShouldBeNil)
			})
		})

		convey.Convey("When fields are missing or the amount is not positive", func() {
			_, err := model.ParseSubmission(map[string]any{"clientId": "C1", "bidAmount": -3.0})

			convey.Convey("Then every offending field is named", func() {
				convey.So(errors.Is(err, errkind.ErrValidation), convey.ShouldBeTrue)
				convey.So(errkind.FieldsOf(err), convey.ShouldResemble, []string{"jobId", "bidAmount"})
			})
		})
	})

	convey.Convey("SummariesOf treats a missing list as empty", t, func() {
		convey.So(model.SummariesOf(map[string]any{}), convey.ShouldHaveLength, 0)
		list := model.SummariesOf(map[string]any{"bids": []any{map[string]any{"bidId": "b0"}}})
		convey.So(list, convey.ShouldHaveLength, 1)
	})

	convey.Convey("ReceivedKeys is sorted", t, func() {
		convey.So(model.ReceivedKeys(map[string]any{"b": 1, "a": 2}), convey.ShouldResemble, []string{"a", "b"})
	})
}
