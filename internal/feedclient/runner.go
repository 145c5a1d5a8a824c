// Package feedclient drives a running job board end to end: it creates jobs
// over REST, watches the client's job feed, submits bids from many sockets
// and checks that every acknowledgement and broadcast arrives.
package feedclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/okian/jobboard/pkg/logger"
)

const pollInterval = 20 * time.Millisecond

// Run executes the complete feed test.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	if err := config.normalize(); err != nil {
		return nil, err
	}
	stats := &Stats{StartTime: time.Now()}

	logger.Get().Info(ctx, "starting job board feed test",
		logger.String("baseURL", config.BaseURL),
		logger.String("clientID", config.ClientID),
		logger.Int("jobs", config.Jobs),
		logger.Int("bidders", config.Bidders),
		logger.Int("bidsPerBidder", config.BidsPerBidder),
		logger.Bool("authenticated", config.Token != ""))

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, config); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Create jobs
	jobIDs, err := createJobs(ctx, config, generateJobs(config.ClientID, config.Jobs), stats)
	if err != nil {
		return stats, fmt.Errorf("job creation failed: %w", err)
	}

	// Step 3: Watch the client's jobs
	feed, err := watchJobs(ctx, config)
	if err != nil {
		return stats, err
	}
	defer feed.close()
	if feed.initial < len(jobIDs) {
		return stats, fmt.Errorf("initial batch holds %d jobs, created %d", feed.initial, len(jobIDs))
	}

	// Step 4: Connect bidders
	bidders, err := connectBidders(ctx, config)
	if err != nil {
		return stats, err
	}
	defer func() {
		for _, b := range bidders {
			b.close()
		}
	}()

	// Step 5: Submit bids concurrently, one writer per socket
	if err := submitBids(ctx, config, bidders, jobIDs, stats); err != nil {
		return stats, fmt.Errorf("bid submission failed: %w", err)
	}

	// Step 6: Wait for acknowledgements and broadcasts
	waitCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	settled := waitFor(waitCtx, func() bool { return delivered(bidders, feed, stats) })

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(stats)

	// Step 7: Verify
	if err := verifyResults(stats, len(bidders)); err != nil {
		if !settled {
			err = errors.Join(err, fmt.Errorf("deliveries still missing after %s", config.Timeout))
		}
		return stats, err
	}
	logger.Get().Info(ctx, "test completed successfully")
	return stats, nil
}

func (c *Config) normalize() error {
	if c.BaseURL == "" {
		return errors.New("base url is required")
	}
	if c.ClientID == "" {
		c.ClientID = "feedclient"
	}
	if c.Jobs <= 0 || c.Bidders <= 0 || c.BidsPerBidder <= 0 {
		return errors.New("jobs, bidders and bids per bidder must be positive")
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	logger.Get().Info(ctx, "checking service health")

	resp, err := newHTTPClient(config.Timeout).Get(ctx, config.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// The service answers with Prometheus metrics
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	logger.Get().Info(ctx, "service is healthy")
	return nil
}

func submitBids(ctx context.Context, config *Config, bidders []*bidder, jobIDs []string, stats *Stats) error {
	logger.Get().Info(ctx, "submitting bids", logger.Int("bidders", len(bidders)), logger.Int("each", config.BidsPerBidder))

	sent := make([]int, len(bidders))
	errs := make([]error, len(bidders))
	var wg sync.WaitGroup
	for i, b := range bidders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sent[i], errs[i] = b.submit(generateBids(config.ClientID, jobIDs, config.BidsPerBidder, i))
		}()
	}
	wg.Wait()

	for _, n := range sent {
		stats.BidsSubmitted += n
	}
	return errors.Join(errs...)
}

// delivered refreshes the counters in stats and reports whether every
// submitted bid has been answered and broadcast to every bidder.
func delivered(bidders []*bidder, feed *feedWatcher, stats *Stats) bool {
	stats.BidsAccepted, stats.BidsFailed, stats.NewBidsReceived = 0, 0, 0
	for _, b := range bidders {
		stats.BidsAccepted += int(b.accepted.Load())
		stats.BidsFailed += int(b.failed.Load())
		stats.NewBidsReceived += int(b.newBids.Load())
	}
	stats.FeedModified = int(feed.modified.Load())

	answered := stats.BidsAccepted+stats.BidsFailed >= stats.BidsSubmitted
	broadcast := stats.NewBidsReceived >= stats.BidsAccepted*len(bidders)
	return answered && broadcast && stats.FeedModified > 0
}

func waitFor(ctx context.Context, cond func() bool) bool {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if cond() {
			return true
		}
		select {
		case <-ctx.Done():
			return cond()
		case <-ticker.C:
		}
	}
}

// displayFinalStats logs the final statistics.
func displayFinalStats(stats *Stats) {
	var bidsPerSecond float64
	if stats.Duration > 0 {
		bidsPerSecond = float64(stats.BidsSubmitted) / stats.Duration.Seconds()
	}
	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("jobsCreated", stats.JobsCreated),
		logger.Int("bidsSubmitted", stats.BidsSubmitted),
		logger.Int("bidsAccepted", stats.BidsAccepted),
		logger.Int("bidsFailed", stats.BidsFailed),
		logger.Int("newBidsReceived", stats.NewBidsReceived),
		logger.Int("feedModified", stats.FeedModified),
		logger.Duration("duration", stats.Duration),
		logger.Float64("bidsPerSecond", bidsPerSecond))
}
