package feedclient

import (
	"math/rand/v2"
	"strconv"

	"github.com/google/uuid"
)

var (
	categories = []string{"web", "mobile", "data", "design", "writing"}
	skills     = []string{"go", "sql", "react", "figma", "k8s", "copy", "seo", "swift"}
)

const (
	minBudget   = 100
	budgetRange = 4900
	minBid      = 10
	bidRange    = 990
)

// generateJobs creates n jobs owned by clientID.
func generateJobs(clientID string, n int) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		jobs[i] = Job{
			ClientID:       clientID,
			Title:          "Load test job " + strconv.Itoa(i+1),
			Description:    "generated " + uuid.NewString(),
			Category:       categories[rand.IntN(len(categories))],
			Budget:         float64(minBudget + rand.IntN(budgetRange)),
			RequiredSkills: pickSkills(),
		}
	}
	return jobs
}

func pickSkills() []string {
	n := 1 + rand.IntN(3)
	out := make([]string, 0, n)
	for _, i := range rand.Perm(len(skills))[:n] {
		out = append(out, skills[i])
	}
	return out
}

// generateBids spreads count bids over jobIDs round robin, starting at offset
// so concurrent bidders contend on different jobs first.
func generateBids(clientID string, jobIDs []string, count, offset int) []Bid {
	bids := make([]Bid, count)
	for i := range bids {
		bids[i] = Bid{
			JobID:     jobIDs[(offset+i)%len(jobIDs)],
			ClientID:  clientID,
			BidAmount: float64(minBid + rand.IntN(bidRange)),
			Note:      "bid " + strconv.Itoa(i+1),
		}
	}
	return bids
}
