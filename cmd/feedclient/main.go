package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/jobboard/internal/feedclient"
)

// Default configuration constants.
const (
	defaultJobs          = 5
	defaultBidders       = 4
	defaultBidsPerBidder = 10
	defaultWorkers       = 4
	defaultTimeout       = 30 * time.Second
	defaultTestTimeout   = 10 * time.Minute
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:9080", "Base URL of the service")
		clientID = flag.String("client", "feedclient", "Client id owning the generated jobs")
		jobs     = flag.Int("jobs", defaultJobs, "Jobs to create")
		bidders  = flag.Int("bidders", defaultBidders, "Concurrent bid sockets")
		bids     = flag.Int("bids", defaultBidsPerBidder, "Bids per bidder")
		workers  = flag.Int("workers", defaultWorkers, "Concurrent job creators")
		timeout  = flag.Duration("timeout", defaultTimeout, "Request timeout and delivery wait")
		token    = flag.String("token", "", "Bearer token for the bid sockets")
		logFile  = flag.String("log", "", "Also write logs to this file")
		verbose  = flag.Bool("verbose", false, "Log every received event")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		feedclient.ShowHelp(os.Stdout)
		return
	}

	if err := feedclient.SetupLogging(*logFile, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultTestTimeout)
	defer cancel()

	config := &feedclient.Config{
		BaseURL:       *baseURL,
		ClientID:      *clientID,
		Jobs:          *jobs,
		Bidders:       *bidders,
		BidsPerBidder: *bids,
		Workers:       *workers,
		Timeout:       *timeout,
		Token:         *token,
		Verbose:       *verbose,
	}

	if _, err := feedclient.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Test failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}
