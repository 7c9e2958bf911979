package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/snarg/insight-engine/internal/database"
)

// ErrStillProcessing is returned by WaitForInsight when the record has not
// reached a terminal state within the attempt budget.
var ErrStillProcessing = errors.New("insight still processing")

// ErrNotFound is returned when the polled insight does not exist.
var ErrNotFound = errors.New("insight not found")

// Poller is a client-side helper that polls an insight until processing
// finishes. Intended for scripts and tests talking to a running server.
type Poller struct {
	BaseURL     string
	Token       string
	HTTPClient  *http.Client
	Interval    time.Duration
	MaxAttempts int
}

func (p *Poller) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

// WaitForInsight polls GET /api/v1/insights/{id} at a fixed interval until
// processing_status is completed or failed. Both terminal states return the
// record; only exceeding the attempt budget returns ErrStillProcessing.
func (p *Poller) WaitForInsight(ctx context.Context, id string) (*database.InsightAPI, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 30
	}

	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval):
			}
		}

		in, err := p.fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		switch in.ProcessingStatus {
		case database.StatusCompleted, database.StatusFailed:
			return in, nil
		}
	}
	return nil, ErrStillProcessing
}

func (p *Poller) fetch(ctx context.Context, id string) (*database.InsightAPI, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/insights/%s", p.BaseURL, id), nil)
	if err != nil {
		return nil, err
	}
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	resp, err := p.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("unexpected status %d polling insight %s", resp.StatusCode, id)
	}

	var in database.InsightAPI
	if err := json.NewDecoder(resp.Body).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode insight: %w", err)
	}
	return &in, nil
}
