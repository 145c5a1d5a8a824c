// Package bidding executes bid submission: one atomic transaction that
// creates the bid and appends its summary to the job, retried on conflict,
// followed by an acknowledgement and a broadcast once it has committed.
package bidding

import (
	"context"
	"errors"
	"time"

	"github.com/okian/jobboard/internal/domain/broadcast"
	"github.com/okian/jobboard/internal/domain/document"
	"github.com/okian/jobboard/internal/domain/errkind"
	"github.com/okian/jobboard/internal/domain/model"
	"github.com/okian/jobboard/internal/domain/timestamp"
	"github.com/okian/jobboard/pkg/logger"
	"github.com/okian/jobboard/pkg/metrics"
)

// MsgJobMissing is the message reported when the target job does not exist.
const MsgJobMissing = "Job does not exist"

// Receipt describes a committed bid.
type Receipt struct {
	BidID       string
	SubmittedAt time.Time
	// Bid is the stored bid with its id, normalized for clients.
	Bid map[string]any
}

// AckFunc answers the submitter. It runs after commit and before broadcast.
type AckFunc func(ctx context.Context, r Receipt) error

// Transactor is the part of the document store the processor needs.
type Transactor interface {
	RunTransaction(ctx context.Context, fn document.TxFunc) (time.Time, error)
}

// Processor submits bids.
type Processor struct {
	store  Transactor
	pub    broadcast.Publisher
	policy Policy
	log    logger.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithPolicy sets the conflict retry policy.
func WithPolicy(p Policy) Option {
	return func(pr *Processor) { pr.policy = p.normalized() }
}

// WithLogger sets the processor logger.
func WithLogger(l logger.Logger) Option {
	return func(pr *Processor) {
		if l != nil {
			pr.log = l
		}
	}
}

// NewProcessor returns a processor writing to store and announcing through pub.
func NewProcessor(store Transactor, pub broadcast.Publisher, opts ...Option) *Processor {
	p := &Processor{store: store, pub: pub, policy: DefaultPolicy(), log: logger.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit commits sub on behalf of freelancerID (nil when anonymous). On
// success ack runs first, then new_bid is published. Neither happens when the
// transaction fails.
func (p *Processor) Submit(ctx context.Context, sub model.Submission, freelancerID *string, ack AckFunc) (Receipt, error) {
	const op = "bid.submit"
	start := time.Now()
	defer func() { metrics.RecordBidLatency(float64(time.Since(start).Microseconds()) / 1000.0) }()

	if err := validate(sub); err != nil {
		metrics.RecordBidFailure(errkind.Label(err))
		return Receipt{}, err
	}

	var (
		bidID   string
		written map[string]any
		commit  time.Time
	)
	err := Retry(ctx, p.policy, func(ctx context.Context, attempt int) error {
		metrics.RecordBidAttempt()
		var err error
		commit, err = p.store.RunTransaction(ctx, func(_ context.Context, tx document.Tx) error {
			jobRef := document.Ref{Collection: model.CollectionJobs, ID: sub.JobID}
			job, ok, err := tx.Get(jobRef)
			if err != nil {
				return err
			}
			if !ok {
				return errkind.New(op, errkind.ErrNotFound, MsgJobMissing)
			}

			bidRef := tx.NewRef(model.CollectionBids)
			data := sub.Document(freelancerID)
			if err := tx.Set(bidRef, data); err != nil {
				return err
			}

			summaries := append(model.SummariesOf(job.Data), sub.Summary(bidRef.ID, freelancerID))
			if err := tx.Update(jobRef, map[string]any{model.JobFieldBids: summaries}); err != nil {
				return err
			}
			bidID, written = bidRef.ID, data
			return nil
		})
		if errors.Is(err, errkind.ErrConflict) {
			metrics.RecordBidConflict()
			p.log.Debug(ctx, "bid transaction conflicted", logger.String("job_id", sub.JobID), logger.Int("attempt", attempt))
		}
		return err
	})
	if err != nil {
		metrics.RecordBidFailure(errkind.Label(err))
		return Receipt{}, err
	}
	metrics.RecordBidCommit()

	bid := document.ResolveServerTimestamps(written, document.FromTime(commit))
	bid[model.BidFieldID] = bidID
	r := Receipt{BidID: bidID, SubmittedAt: commit, Bid: timestamp.Normalize(bid)}

	if ack != nil {
		if err := ack(ctx, r); err != nil {
			p.log.Warn(ctx, "bid acknowledgement failed", logger.String("bid_id", bidID), logger.Error(err))
		}
	}
	if p.pub != nil {
		ev := broadcast.Event{Type: broadcast.EventNewBid, Data: r.Bid}
		if err := p.pub.Publish(ctx, ev); err != nil {
			metrics.RecordErrorByComponent("bidding", "publish")
			p.log.Error(ctx, "publishing new bid failed", logger.String("bid_id", bidID), logger.Error(err))
		}
	}
	p.log.Info(ctx, "bid committed", logger.String("bid_id", bidID), logger.String("job_id", sub.JobID))
	return r, nil
}

func validate(sub model.Submission) error {
	var missing []string
	if sub.JobID == "" {
		missing = append(missing, model.BidFieldJobID)
	}
	if sub.ClientID == "" {
		missing = append(missing, model.BidFieldClientID)
	}
	if sub.BidAmount <= 0 {
		missing = append(missing, model.BidFieldAmount)
	}
	if len(missing) > 0 {
		return errkind.Missing("bid.submit", missing...)
	}
	return nil
}
