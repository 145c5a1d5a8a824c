package model

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/okian/jobboard/internal/domain/errkind"
)

// JobUpdate is the partial update a client may apply to a job. Only the
// allow-listed fields exist here; anything else in the payload is ignored.
type JobUpdate struct {
	Title          *string
	Description    *string
	Budget         *float64
	RequiredSkills *[]string
}

// ParseJobUpdate projects a raw updates object onto the allow-list. JSON null
// for a scalar field means "not supplied"; for required_skills it clears the
// list.
func ParseJobUpdate(raw map[string]json.RawMessage) (JobUpdate, error) {
	const op = "job.update"
	var u JobUpdate

	if v, ok := present(raw, JobFieldTitle); ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return JobUpdate{}, invalid(op, JobFieldTitle, err)
		}
		u.Title = &s
	}
	if v, ok := present(raw, JobFieldDescription); ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return JobUpdate{}, invalid(op, JobFieldDescription, err)
		}
		u.Description = &s
	}
	if v, ok := present(raw, JobFieldBudget); ok {
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return JobUpdate{}, invalid(op, JobFieldBudget, err)
		}
		u.Budget = &f
	}
	if v, ok := raw[JobFieldRequiredSkills]; ok {
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return JobUpdate{}, invalid(op, JobFieldRequiredSkills, err)
		}
		skills, err := ParseSkills(decoded)
		if err != nil {
			return JobUpdate{}, invalid(op, JobFieldRequiredSkills, err)
		}
		u.RequiredSkills = &skills
	}

	if u.Empty() {
		return JobUpdate{}, errkind.New(op, errkind.ErrValidation, "no updatable fields supplied")
	}
	return u, nil
}

// Empty reports whether no field is set.
func (u JobUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Budget == nil && u.RequiredSkills == nil
}

// Fields returns the store field map for the update.
func (u JobUpdate) Fields() map[string]any {
	fields := make(map[string]any, 4)
	if u.Title != nil {
		fields[JobFieldTitle] = *u.Title
	}
	if u.Description != nil {
		fields[JobFieldDescription] = *u.Description
	}
	if u.Budget != nil {
		fields[JobFieldBudget] = *u.Budget
	}
	if u.RequiredSkills != nil {
		fields[JobFieldRequiredSkills] = toAnySlice(*u.RequiredSkills)
	}
	return fields
}

var jsonNull = []byte("null")

func present(raw map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	v, ok := raw[key]
	if !ok || bytes.Equal(bytes.TrimSpace(v), jsonNull) {
		return nil, false
	}
	return v, true
}

func invalid(op, field string, err error) error {
	var syntax *json.UnmarshalTypeError
	if errors.As(err, &syntax) {
		err = errors.New("wrong type")
	}
	return &errkind.Error{Op: op, Kind: errkind.ErrValidation, Err: err, Fields: []string{field}}
}
