package feed

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/okian/jobboard/internal/domain/document"
	"github.com/okian/jobboard/internal/domain/errkind"
	"github.com/okian/jobboard/internal/domain/model"
)

// Connection parameters.
const (
	ParamClientID = "client_id"
	ParamJobID    = "job_id"
	ParamLimit    = "limit_record"

	limitAll = "all"
)

// Variant describes one change-feed endpoint: what it watches, how records
// are identified and whether clients may mutate through it.
type Variant struct {
	Route      string
	Collection string
	// IDField receives the document id on every outbound record.
	IDField string
	// Scope builds the query from the connection parameters.
	Scope func(params url.Values) (document.Query, error)
	// Mutable allows edit_job and delete_job.
	Mutable bool
}

// JobsByClient streams the jobs owned by client_id.
var JobsByClient = Variant{ //nolint:gochecknoglobals // endpoint table
	Route:      "/get/jobs",
	Collection: model.CollectionJobs,
	IDField:    model.JobFieldID,
	Mutable:    true,
	Scope: func(params url.Values) (document.Query, error) {
		clientID := params.Get(ParamClientID)
		if clientID == "" {
			return document.Query{}, errkind.New("feed.scope", errkind.ErrValidation, MsgMissingClientID)
		}
		limit, err := ParseLimit(params.Get(ParamLimit))
		if err != nil {
			return document.Query{}, err
		}
		return document.From(model.CollectionJobs).Where(model.JobFieldClientID, clientID).Limited(limit), nil
	},
}

// AllJobs streams every job.
var AllJobs = Variant{ //nolint:gochecknoglobals // endpoint table
	Route:      "/jobs",
	Collection: model.CollectionJobs,
	IDField:    model.JobFieldID,
	Mutable:    true,
	Scope: func(params url.Values) (document.Query, error) {
		limit, err := ParseLimit(params.Get(ParamLimit))
		if err != nil {
			return document.Query{}, err
		}
		return document.From(model.CollectionJobs).Limited(limit), nil
	},
}

// Bids streams bids for a client and/or a job, newest first.
var Bids = Variant{ //nolint:gochecknoglobals // endpoint table
	Route:      "/get/bids",
	Collection: model.CollectionBids,
	IDField:    model.BidFieldID,
	Scope: func(params url.Values) (document.Query, error) {
		clientID, jobID := params.Get(ParamClientID), params.Get(ParamJobID)
		if clientID == "" && jobID == "" {
			return document.Query{}, errkind.New("feed.scope", errkind.ErrValidation, MsgMissingBidScope)
		}
		limit, err := ParseLimit(params.Get(ParamLimit))
		if err != nil {
			return document.Query{}, err
		}
		q := document.From(model.CollectionBids)
		if clientID != "" {
			q = q.Where(model.BidFieldClientID, clientID)
		}
		if jobID != "" {
			q = q.Where(model.BidFieldJobID, jobID)
		}
		return q.Ordered(model.BidFieldSubmittedAt, true).Limited(limit), nil
	},
}

// ParseLimit reads limit_record. Empty and "all" (any case) mean no limit and
// yield 0; otherwise the value must be a positive integer.
func ParseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, limitAll) {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, &errkind.Error{Op: "feed.scope", Kind: errkind.ErrValidation, Msg: MsgInvalidLimit, Fields: []string{ParamLimit}}
	}
	return n, nil
}
