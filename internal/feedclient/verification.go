package feedclient

import "fmt"

// verifyResults checks the counters gathered by a run. Every accepted bid
// must reach every bidder and show up on the job feed as a modification.
func verifyResults(stats *Stats, bidders int) error {
	if stats.BidsSubmitted == 0 {
		return fmt.Errorf("no bids submitted")
	}
	if stats.BidsFailed > 0 {
		return fmt.Errorf("%d of %d bids were rejected", stats.BidsFailed, stats.BidsSubmitted)
	}
	if stats.BidsAccepted != stats.BidsSubmitted {
		return fmt.Errorf("accepted %d of %d bids", stats.BidsAccepted, stats.BidsSubmitted)
	}
	if want := stats.BidsAccepted * bidders; stats.NewBidsReceived != want {
		return fmt.Errorf("received %d new_bid events, want %d", stats.NewBidsReceived, want)
	}
	// Bursts on one job may coalesce into fewer modifications, never more
	// than one per bid.
	if stats.FeedModified == 0 || stats.FeedModified > stats.BidsAccepted {
		return fmt.Errorf("job feed saw %d modifications for %d bids", stats.FeedModified, stats.BidsAccepted)
	}
	return nil
}
