// Package model contains the job and bid shapes passed between layers and the
// typed projections used when clients write to them.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/jobboard/internal/domain/document"
	"github.com/okian/jobboard/internal/domain/errkind"
)

// Collections.
const (
	CollectionJobs  = "jobs"
	CollectionBids  = "bids"
	CollectionUsers = "users"
)

// Job document fields.
const (
	JobFieldID             = "job_id"
	JobFieldClientID       = "client_id"
	JobFieldTitle          = "job_title"
	JobFieldDescription    = "description"
	JobFieldCategory       = "job_category"
	JobFieldBudget         = "budget"
	JobFieldRequiredSkills = "required_skills"
	JobFieldPostedDate     = "posted_date"
	JobFieldStatus         = "status"
	JobFieldMilestones     = "milestones"
	JobFieldBids           = "bids"

	MilestoneFieldStart = "start_date"
	MilestoneFieldEnd   = "end_date"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

// Job statuses.
const (
	JobPending   JobStatus = "pending"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobActive, JobCompleted, JobCancelled:
		return true
	}
	return false
}

var errInvalidDate = errors.New("invalid date")

// NewJobDocument validates a job creation payload and converts it into the
// stored form: date fields become store timestamps, status is forced to
// pending and unknown fields are kept as supplied.
func NewJobDocument(payload map[string]any, now time.Time) (map[string]any, error) {
	const op = "job.create"
	var missing []string
	for _, f := range []string{JobFieldTitle, JobFieldDescription, JobFieldCategory} {
		if s, _ := payload[f].(string); strings.TrimSpace(s) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, errkind.Missing(op, missing...)
	}

	data := document.CloneData(payload)

	posted := document.FromTime(now)
	if raw, ok := payload[JobFieldPostedDate]; ok && raw != nil {
		t, err := ParseInstant(raw)
		if err != nil {
			return nil, &errkind.Error{Op: op, Kind: errkind.ErrValidation, Err: err, Fields: []string{JobFieldPostedDate}}
		}
		posted = document.FromTime(t)
	}
	data[JobFieldPostedDate] = posted

	milestones, err := convertMilestones(payload[JobFieldMilestones])
	if err != nil {
		return nil, &errkind.Error{Op: op, Kind: errkind.ErrValidation, Err: err, Fields: []string{JobFieldMilestones}}
	}
	data[JobFieldMilestones] = milestones

	if skills, ok := payload[JobFieldRequiredSkills]; ok {
		list, err := ParseSkills(skills)
		if err != nil {
			return nil, &errkind.Error{Op: op, Kind: errkind.ErrValidation, Err: err, Fields: []string{JobFieldRequiredSkills}}
		}
		data[JobFieldRequiredSkills] = toAnySlice(list)
	}

	data[JobFieldStatus] = string(JobPending)
	delete(data, JobFieldID)
	delete(data, JobFieldBids)
	return data, nil
}

func convertMilestones(raw any) ([]any, error) {
	if raw == nil {
		return []any{}, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, errors.New("milestones must be a list")
	}
	out := make([]any, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("milestone %d must be an object", i)
		}
		converted := document.CloneData(m)
		for _, f := range []string{MilestoneFieldStart, MilestoneFieldEnd} {
			t, err := ParseInstant(m[f])
			if err != nil {
				return nil, fmt.Errorf("milestone %d %s: %w", i, f, err)
			}
			converted[f] = document.FromTime(t)
		}
		out = append(out, converted)
	}
	return out, nil
}

// ParseInstant accepts RFC 3339 strings, bare dates, epoch milliseconds and
// instants that are already typed.
func ParseInstant(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: %q", errInvalidDate, v)
	case float64:
		return time.UnixMilli(int64(v)).UTC(), nil
	case int64:
		return time.UnixMilli(v).UTC(), nil
	case int:
		return time.UnixMilli(int64(v)).UTC(), nil
	case time.Time:
		return v.UTC(), nil
	case document.Timestamp:
		return v.Time(), nil
	}
	return time.Time{}, errInvalidDate
}

// ParseSkills accepts either a list of strings or a comma-separated string.
// Entries are trimmed and empty entries dropped; nil clears the list.
func ParseSkills(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return []string{}, nil
	case string:
		return splitSkills(strings.Split(v, ",")), nil
	case []string:
		return splitSkills(v), nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, errors.New("required_skills entries must be strings")
			}
			parts = append(parts, s)
		}
		return splitSkills(parts), nil
	}
	return nil, errors.New("required_skills must be a list or a comma-separated string")
}

func splitSkills(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
