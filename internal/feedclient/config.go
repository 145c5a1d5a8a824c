package feedclient

import "time"

// Config holds configuration for a feed client run.
type Config struct {
	BaseURL       string        // Base URL of the service
	ClientID      string        // Client owning the generated jobs
	Jobs          int           // Number of jobs to create
	Bidders       int           // Number of concurrent bid sockets
	BidsPerBidder int           // Bids each bidder submits
	Workers       int           // Concurrent job creators
	Timeout       time.Duration // Request timeout and wait bound for deliveries
	Token         string        // Optional bearer token for the bid sockets
	Verbose       bool          // Log every received event
}

// Job is the body posted to /api/jobs.
type Job struct {
	ClientID       string   `json:"client_id"`
	Title          string   `json:"job_title"`
	Description    string   `json:"description"`
	Category       string   `json:"job_category"`
	Budget         float64  `json:"budget"`
	RequiredSkills []string `json:"required_skills"`
}

// Bid is the data of a bid_submitted message.
type Bid struct {
	JobID     string  `json:"jobId"`
	ClientID  string  `json:"clientId"`
	BidAmount float64 `json:"bidAmount"`
	Note      string  `json:"note,omitempty"`
}

// Stats holds run statistics.
type Stats struct {
	JobsCreated   int
	BidsSubmitted int
	BidsAccepted  int
	BidsFailed    int
	// NewBidsReceived sums new_bid deliveries over all bidders.
	NewBidsReceived int
	FeedModified    int
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
