package feedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/jobboard/pkg/logger"
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client *http.Client
}

func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with JSON body
func (c *HTTPClient) Post(ctx context.Context, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

type created struct {
	ID string `json:"id"`
}

// createJobs posts jobs with config.Workers concurrent workers and returns
// the ids of those the service accepted, in input order with gaps removed.
func createJobs(ctx context.Context, config *Config, jobs []Job, stats *Stats) ([]string, error) {
	logger.Get().Info(ctx, "creating jobs", logger.Int("jobs", len(jobs)), logger.Int("workers", config.Workers))

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/api/jobs"

	ids := make([]string, len(jobs))
	var failed int64

	work := make(chan int, config.Workers*2)
	var wg sync.WaitGroup
	for w := 0; w < config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				id, err := createJob(ctx, client, url, jobs[i])
				if err != nil {
					atomic.AddInt64(&failed, 1)
					logger.Get().Warn(ctx, "job creation failed", logger.Int("index", i), logger.Error(err))
					continue
				}
				ids[i] = id
			}
		}()
	}

	go func() {
		defer close(work)
		for i := range jobs {
			select {
			case <-ctx.Done():
				return
			case work <- i:
			}
		}
	}()
	wg.Wait()

	out := ids[:0]
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	stats.JobsCreated = len(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("no job was created (%d failures)", failed)
	}
	logger.Get().Info(ctx, "jobs created", logger.Int("created", len(out)), logger.Int64("failed", failed))
	return out, nil
}

func createJob(ctx context.Context, client *HTTPClient, url string, job Job) (string, error) {
	resp, err := client.Post(ctx, url, job)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	var c created
	if err := json.Unmarshal(body, &c); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return c.ID, nil
}
