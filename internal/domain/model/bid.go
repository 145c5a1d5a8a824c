package model

import (
	"sort"

	"github.com/okian/jobboard/internal/domain/document"
	"github.com/okian/jobboard/internal/domain/errkind"
)

// Bid document fields.
const (
	BidFieldID                  = "bidId"
	BidFieldJobID               = "jobId"
	BidFieldClientID            = "clientId"
	BidFieldFreelancerID        = "freelancerId"
	BidFieldAmount              = "bidAmount"
	BidFieldStatus              = "status"
	BidFieldSubmittedAt         = "submittedAt"
	BidFieldLastUpdated         = "lastUpdated"
	BidFieldEstimatedCompletion = "estimatedCompletion"

	// SummaryFieldAmount is the amount key inside an embedded job summary.
	SummaryFieldAmount = "amount"
)

// BidStatus is the lifecycle state of a bid.
type BidStatus string

// Bid statuses.
const (
	BidPending   BidStatus = "pending"
	BidAccepted  BidStatus = "accepted"
	BidRejected  BidStatus = "rejected"
	BidWithdrawn BidStatus = "withdrawn"
)

// RequiredBidFields are the fields a submission must carry.
var RequiredBidFields = []string{BidFieldJobID, BidFieldClientID, BidFieldAmount} //nolint:gochecknoglobals // reported to clients

// Submission is a validated bid_submitted payload.
type Submission struct {
	JobID     string
	ClientID  string
	BidAmount float64
	// Extra holds the remaining client-supplied fields, stored as given.
	Extra map[string]any
}

// ParseSubmission validates a raw payload. Missing or non-positive required
// fields are reported together.
func ParseSubmission(raw map[string]any) (Submission, error) {
	const op = "bid.submit"
	var missing []string

	jobID, _ := raw[BidFieldJobID].(string)
	if jobID == "" {
		missing = append(missing, BidFieldJobID)
	}
	clientID, _ := raw[BidFieldClientID].(string)
	if clientID == "" {
		missing = append(missing, BidFieldClientID)
	}
	amount, ok := raw[BidFieldAmount].(float64)
	if !ok || amount <= 0 {
		missing = append(missing, BidFieldAmount)
	}
	if len(missing) > 0 {
		return Submission{}, errkind.Missing(op, missing...)
	}

	extra := document.CloneData(raw)
	for _, f := range []string{
		BidFieldID, BidFieldJobID, BidFieldClientID, BidFieldAmount, BidFieldStatus,
		BidFieldSubmittedAt, BidFieldLastUpdated, BidFieldFreelancerID,
	} {
		delete(extra, f)
	}
	if v, ok := extra[BidFieldEstimatedCompletion]; ok {
		if t, err := ParseInstant(v); err == nil {
			extra[BidFieldEstimatedCompletion] = document.FromTime(t)
		}
	}
	return Submission{JobID: jobID, ClientID: clientID, BidAmount: amount, Extra: extra}, nil
}

// ReceivedKeys lists the keys of a raw payload, sorted, for error details.
func ReceivedKeys(raw map[string]any) []string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Document returns the bid document to write. Timestamps are server
// timestamps resolved at commit.
func (s Submission) Document(freelancerID *string) map[string]any {
	data := document.CloneData(s.Extra)
	if data == nil {
		data = make(map[string]any, 8)
	}
	data[BidFieldJobID] = s.JobID
	data[BidFieldClientID] = s.ClientID
	data[BidFieldAmount] = s.BidAmount
	data[BidFieldStatus] = string(BidPending)
	data[BidFieldSubmittedAt] = document.ServerTimestamp
	data[BidFieldLastUpdated] = document.ServerTimestamp
	data[BidFieldFreelancerID] = nullable(freelancerID)
	return data
}

// Summary returns the entry appended to the job's embedded bids list.
func (s Submission) Summary(bidID string, freelancerID *string) map[string]any {
	return map[string]any{
		BidFieldID:           bidID,
		SummaryFieldAmount:   s.BidAmount,
		BidFieldStatus:       string(BidPending),
		BidFieldSubmittedAt:  document.ServerTimestamp,
		BidFieldFreelancerID: nullable(freelancerID),
	}
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// SummariesOf returns a copy of the job's embedded bids list; a missing or
// malformed list counts as empty.
func SummariesOf(job map[string]any) []any {
	switch list := job[JobFieldBids].(type) {
	case []any:
		return append(make([]any, 0, len(list)+1), list...)
	case []map[string]any:
		out := make([]any, 0, len(list)+1)
		for _, m := range list {
			out = append(out, m)
		}
		return out
	}
	return make([]any, 0, 1)
}
